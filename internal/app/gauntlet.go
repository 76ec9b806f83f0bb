package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"gauntletchain/internal/codec"
	"gauntletchain/internal/state"
)

func gauntletInstance(st *state.State) (*state.GauntletState, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if st.Gauntlet == nil {
		return nil, fmt.Errorf("gauntlet not initialized")
	}
	return st.Gauntlet, nil
}

func requireNotPaused(g *state.GauntletState) error {
	if g.Paused {
		return errPaused
	}
	return nil
}

func gauntletInit(st *state.State, env codec.TxEnvelope, msg codec.GauntletInitTx) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if st.Gauntlet != nil {
		return nil, fmt.Errorf("gauntlet already initialized")
	}
	if msg.Owner == "" || msg.Keeper == "" || msg.Oracle == "" {
		return nil, fmt.Errorf("owner, keeper and oracle are required")
	}
	if err := requireAccountAuth(st, env, msg.Owner); err != nil {
		return nil, err
	}

	params := state.GauntletParams{
		RoundDurationBlocks:     msg.RoundDurationBlocks,
		BatchSize:               msg.BatchSize,
		ConfirmationDelayBlocks: msg.ConfirmationDelayBlocks,
		KeeperCallLimit:         msg.KeeperCallLimit,
		KeeperPayPerCall:        msg.KeeperPayPerCall,
		DevWallet:               msg.DevWallet,
		LpWallet:                msg.LpWallet,
	}
	if params.RoundDurationBlocks == 0 {
		params.RoundDurationBlocks = defaultRoundDurationBlocks
	}
	if params.BatchSize == 0 {
		params.BatchSize = defaultBatchSize
	}
	if params.BatchSize > maxBatchSize {
		return nil, fmt.Errorf("batchSize %d exceeds max %d", params.BatchSize, maxBatchSize)
	}
	if params.ConfirmationDelayBlocks == 0 {
		params.ConfirmationDelayBlocks = defaultConfirmationDelayBlocks
	}
	if params.KeeperCallLimit == 0 {
		params.KeeperCallLimit = defaultKeeperCallLimit
	}
	if params.DevWallet == "" {
		params.DevWallet = "gauntlet/dev"
	}
	if params.LpWallet == "" {
		params.LpWallet = "gauntlet/lp"
	}

	tok := state.TokenomicsParams{
		DevPercent:      msg.DevPercent,
		LpPercent:       msg.LpPercent,
		BurnPercent:     msg.BurnPercent,
		SurvivorPercent: msg.SurvivorPercent,
		PrizePercent:    msg.PrizePercent,
	}
	if tok.Sum() == 0 {
		tok = defaultTokenomics()
	}
	if err := validateTokenomics(tok); err != nil {
		return nil, err
	}

	st.Gauntlet = &state.GauntletState{
		Owner:         msg.Owner,
		Keeper:        msg.Keeper,
		Oracle:        msg.Oracle,
		Phase:         state.PhaseIdle,
		Params:        params,
		Tokenomics:    tok,
		PositionOf:    map[string]uint64{},
		Players:       map[string]*state.Player{},
		Rounds:        map[uint64]*state.RoundInfo{},
		RandRequests:  map[uint64]uint64{},
		NextRequestID: 1,
	}

	return okEvent("GauntletInitialized", map[string]string{
		"owner":  msg.Owner,
		"keeper": msg.Keeper,
		"oracle": msg.Oracle,
	}), nil
}

// resetTournament clears tournament-scoped state so a finished gauntlet can
// host a new one. Configuration, roles and the keeper reserve carry over.
// Rewards left unclaimed at this point are forfeited.
func resetTournament(g *state.GauntletState) {
	g.Participants = nil
	g.PositionOf = map[string]uint64{}
	g.Players = map[string]*state.Player{}
	g.Rounds = map[uint64]*state.RoundInfo{}
	g.RandRequests = map[uint64]uint64{}
	g.Cumulative = nil
	g.Round = 0
	g.RoundStartHeight = 0
	g.Cursor = 0
	g.CallsThisRound = 0
	g.PrizePool = 0
	g.PendingSurvivorPool = 0
}

func gauntletOpenStaking(st *state.State, env codec.TxEnvelope, msg codec.GauntletOpenStakingTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	if g.Phase != state.PhaseIdle && g.Phase != state.PhaseFinished {
		return nil, fmt.Errorf("cannot open staking in phase %q", g.Phase)
	}
	if g.Phase == state.PhaseFinished {
		resetTournament(g)
	}
	g.Phase = state.PhaseStaking
	return okEvent("StakingOpened", map[string]string{
		"owner": msg.Owner,
	}), nil
}

func gauntletStake(st *state.State, env codec.TxEnvelope, msg codec.GauntletStakeTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if msg.Player == "" {
		return nil, fmt.Errorf("missing player")
	}
	if err := requireAccountAuth(st, env, msg.Player); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	if g.Phase != state.PhaseStaking {
		return nil, fmt.Errorf("staking is not open (phase %q)", g.Phase)
	}
	if msg.Amount == 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}
	// The chain bank credits exactly what was debited; the check still runs
	// so deposit-path slippage is rejected uniformly.
	if msg.Amount < msg.MinReceived {
		return nil, fmt.Errorf("received %d below minReceived %d", msg.Amount, msg.MinReceived)
	}
	if err := st.Debit(msg.Player, msg.Amount); err != nil {
		return nil, err
	}

	p := g.Players[msg.Player]
	if p == nil {
		if err := g.Join(msg.Player); err != nil {
			return nil, err
		}
		p = &state.Player{}
		g.Players[msg.Player] = p
	}
	total, err := addU64Checked(p.Stake, msg.Amount, "stake")
	if err != nil {
		return nil, err
	}
	p.Stake = total

	return okEvent("ParticipantStaked", map[string]string{
		"player":       msg.Player,
		"amount":       fmt.Sprintf("%d", msg.Amount),
		"totalStake":   fmt.Sprintf("%d", p.Stake),
		"participants": fmt.Sprintf("%d", g.Size()),
	}), nil
}

func gauntletStart(st *state.State, env codec.TxEnvelope, msg codec.GauntletStartTx, height int64) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	if g.Phase != state.PhaseStaking {
		return nil, fmt.Errorf("staking is not open (phase %q)", g.Phase)
	}
	if g.Size() < 2 {
		return nil, fmt.Errorf("need at least 2 participants, have %d", g.Size())
	}

	g.Phase = state.PhaseActive
	g.Round = 1
	g.RoundStartHeight = height
	g.Rounds[1] = &state.RoundInfo{}
	g.Cumulative = []uint64{0}
	g.Cursor = 0
	g.CallsThisRound = 0

	return okEvent("GauntletStarted", map[string]string{
		"round":        "1",
		"participants": fmt.Sprintf("%d", g.Size()),
		"startHeight":  fmt.Sprintf("%d", height),
	}), nil
}

func gauntletClaim(st *state.State, env codec.TxEnvelope, msg codec.GauntletClaimTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if msg.Player == "" {
		return nil, fmt.Errorf("missing player")
	}
	if err := requireAccountAuth(st, env, msg.Player); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	p := g.Players[msg.Player]
	if p == nil {
		return nil, fmt.Errorf("unknown participant %q", msg.Player)
	}
	if len(g.Cumulative) == 0 {
		return nil, errNothingToClaim
	}

	// Last finalized round, capped at the last round an eliminated player
	// survived. The prefix sum makes this O(1) however many rounds elapsed.
	upto := uint64(len(g.Cumulative) - 1)
	if p.EliminatedInRound > 0 && p.EliminatedInRound-1 < upto {
		upto = p.EliminatedInRound - 1
	}
	if upto <= p.LastClaimedRound {
		return nil, errNothingToClaim
	}
	owed := g.Cumulative[upto] - g.Cumulative[p.LastClaimedRound]
	if owed == 0 {
		return nil, errNothingToClaim
	}

	// Effects before interactions: the claim window closes before the credit.
	p.LastClaimedRound = upto
	if err := st.Credit(msg.Player, owed); err != nil {
		return nil, err
	}

	return okEvent("RewardsClaimed", map[string]string{
		"player":    msg.Player,
		"upToRound": fmt.Sprintf("%d", upto),
		"amount":    fmt.Sprintf("%d", owed),
	}), nil
}
