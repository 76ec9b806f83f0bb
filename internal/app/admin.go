package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"gauntletchain/internal/codec"
	"gauntletchain/internal/state"
)

// Owner administration. These stay callable under pause so the circuit
// breaker never locks out recovery configuration.

func gauntletSetKeeper(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetKeeperTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if msg.Keeper == "" {
		return nil, fmt.Errorf("missing keeper")
	}
	g.Keeper = msg.Keeper
	return okEvent("ParamsUpdated", map[string]string{"param": "keeper", "value": msg.Keeper}), nil
}

func gauntletSetOracle(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetOracleTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if msg.Oracle == "" {
		return nil, fmt.Errorf("missing oracle")
	}
	g.Oracle = msg.Oracle
	return okEvent("ParamsUpdated", map[string]string{"param": "oracle", "value": msg.Oracle}), nil
}

func gauntletSetKeeperPay(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetKeeperPayTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	g.Params.KeeperPayPerCall = msg.Amount
	return okEvent("ParamsUpdated", map[string]string{"param": "keeperPayPerCall", "value": fmt.Sprintf("%d", msg.Amount)}), nil
}

func gauntletSetCallLimit(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetCallLimitTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if msg.Limit == 0 {
		return nil, fmt.Errorf("call limit must be > 0")
	}
	g.Params.KeeperCallLimit = msg.Limit
	return okEvent("ParamsUpdated", map[string]string{"param": "keeperCallLimit", "value": fmt.Sprintf("%d", msg.Limit)}), nil
}

func gauntletSetBatchSize(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetBatchSizeTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	// Config freeze: draw boundaries must not move under a running tournament.
	if g.Phase == state.PhaseActive {
		return nil, fmt.Errorf("batchSize is frozen while a tournament is active")
	}
	if msg.Size == 0 || msg.Size > maxBatchSize {
		return nil, fmt.Errorf("batchSize must be in 1..%d, got %d", maxBatchSize, msg.Size)
	}
	g.Params.BatchSize = msg.Size
	return okEvent("ParamsUpdated", map[string]string{"param": "batchSize", "value": fmt.Sprintf("%d", msg.Size)}), nil
}

func gauntletSetRoundDuration(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetRoundDurationTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if msg.Blocks == 0 {
		return nil, fmt.Errorf("roundDurationBlocks must be > 0")
	}
	g.Params.RoundDurationBlocks = msg.Blocks
	return okEvent("ParamsUpdated", map[string]string{"param": "roundDurationBlocks", "value": fmt.Sprintf("%d", msg.Blocks)}), nil
}

func gauntletSetTokenomics(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetTokenomicsTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	// Config freeze: splitting rules must not change between eliminations of
	// the same tournament.
	if g.Phase == state.PhaseActive {
		return nil, fmt.Errorf("tokenomics are frozen while a tournament is active")
	}
	tok := state.TokenomicsParams{
		DevPercent:      msg.DevPercent,
		LpPercent:       msg.LpPercent,
		BurnPercent:     msg.BurnPercent,
		SurvivorPercent: msg.SurvivorPercent,
		PrizePercent:    msg.PrizePercent,
	}
	if err := validateTokenomics(tok); err != nil {
		return nil, err
	}
	g.Tokenomics = tok
	return okEvent("TokenomicsUpdated", map[string]string{
		"dev":      fmt.Sprintf("%d", tok.DevPercent),
		"lp":       fmt.Sprintf("%d", tok.LpPercent),
		"burn":     fmt.Sprintf("%d", tok.BurnPercent),
		"survivor": fmt.Sprintf("%d", tok.SurvivorPercent),
		"prize":    fmt.Sprintf("%d", tok.PrizePercent),
	}), nil
}

func gauntletSetWallets(st *state.State, env codec.TxEnvelope, msg codec.GauntletSetWalletsTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if msg.DevWallet == "" || msg.LpWallet == "" {
		return nil, fmt.Errorf("devWallet and lpWallet are required")
	}
	g.Params.DevWallet = msg.DevWallet
	g.Params.LpWallet = msg.LpWallet
	return okEvent("WalletsUpdated", map[string]string{
		"devWallet": msg.DevWallet,
		"lpWallet":  msg.LpWallet,
	}), nil
}

func gauntletPause(st *state.State, env codec.TxEnvelope, msg codec.GauntletPauseTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if g.Paused {
		return nil, fmt.Errorf("already paused")
	}
	g.Paused = true
	return okEvent("Paused", map[string]string{"owner": msg.Owner}), nil
}

func gauntletUnpause(st *state.State, env codec.TxEnvelope, msg codec.GauntletUnpauseTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if !g.Paused {
		return nil, fmt.Errorf("not paused")
	}
	g.Paused = false
	return okEvent("Unpaused", map[string]string{"owner": msg.Owner}), nil
}

// ---- Keeper reserve ----

func gauntletFundKeeper(st *state.State, env codec.TxEnvelope, msg codec.GauntletFundKeeperTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if msg.From == "" {
		return nil, fmt.Errorf("missing from")
	}
	if err := requireAccountAuth(st, env, msg.From); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	if msg.Amount == 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}
	if err := st.Debit(msg.From, msg.Amount); err != nil {
		return nil, err
	}
	if g.KeeperReserve, err = addU64Checked(g.KeeperReserve, msg.Amount, "keeper reserve"); err != nil {
		return nil, err
	}
	return okEvent("KeeperReserveFunded", map[string]string{
		"from":    msg.From,
		"amount":  fmt.Sprintf("%d", msg.Amount),
		"reserve": fmt.Sprintf("%d", g.KeeperReserve),
	}), nil
}

func gauntletWithdrawKeeper(st *state.State, env codec.TxEnvelope, msg codec.GauntletWithdrawKeeperTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if msg.To == "" {
		return nil, fmt.Errorf("missing to")
	}
	if msg.Amount == 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}
	if g.KeeperReserve < msg.Amount {
		return nil, fmt.Errorf("insufficient funds in keeper reserve: have=%d need=%d", g.KeeperReserve, msg.Amount)
	}
	g.KeeperReserve -= msg.Amount
	if err := st.Credit(msg.To, msg.Amount); err != nil {
		return nil, err
	}
	return okEvent("KeeperReserveWithdrawn", map[string]string{
		"to":      msg.To,
		"amount":  fmt.Sprintf("%d", msg.Amount),
		"reserve": fmt.Sprintf("%d", g.KeeperReserve),
	}), nil
}
