package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"gauntletchain/internal/codec"
	"gauntletchain/internal/state"
)

const (
	AppVersion uint64 = 1
)

type GauntletApp struct {
	*abci.BaseApplication

	home string

	mu       sync.Mutex
	st       *state.State
	lastHash []byte

	// Call-in-progress guard for the money-moving entry points. The host
	// serializes txs, but the guard keeps the no-reentrancy invariant
	// explicit and load-bearing should a handler ever call back into the app.
	moneyCallActive bool
}

func New(home string) (*GauntletApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &GauntletApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *GauntletApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "Gauntlet (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *GauntletApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; auth runs at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *GauntletApp) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	// v0: no special genesis handling; the gauntlet is created by gauntlet/init.
	return &abci.InitChainResponse{}, nil
}

func (a *GauntletApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *GauntletApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *GauntletApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := strings.TrimSpace(req.Path)
	g := a.st.Gauntlet
	switch {
	case path == "/gauntlet":
		if g == nil {
			return &abci.QueryResponse{Code: 1, Log: "gauntlet not initialized", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(g)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case path == "/participants":
		if g == nil {
			return &abci.QueryResponse{Code: 1, Log: "gauntlet not initialized", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(map[string]any{
			"count":        len(g.Participants),
			"participants": g.Participants,
		})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/participant/"):
		if g == nil {
			return &abci.QueryResponse{Code: 1, Log: "gauntlet not initialized", Height: a.st.Height}, nil
		}
		id := strings.TrimPrefix(path, "/participant/")
		p := g.Players[id]
		if p == nil {
			return &abci.QueryResponse{Code: 1, Log: "participant not found", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(map[string]any{
			"id":                id,
			"stake":             p.Stake,
			"lastClaimedRound":  p.LastClaimedRound,
			"eliminatedInRound": p.EliminatedInRound,
			"active":            g.Contains(id),
		})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/cumulative/"):
		if g == nil {
			return &abci.QueryResponse{Code: 1, Log: "gauntlet not initialized", Height: a.st.Height}, nil
		}
		raw := strings.TrimPrefix(path, "/cumulative/")
		r, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: "invalid round", Height: a.st.Height}, nil
		}
		if r >= uint64(len(g.Cumulative)) {
			return &abci.QueryResponse{Code: 1, Log: "round not finalized", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(map[string]any{"round": r, "cumulative": g.Cumulative[r]})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// isMoneyMovingTx reports whether the tx type is one of the entry points
// serialized by the reentrancy guard.
func isMoneyMovingTx(typ string) bool {
	switch typ {
	case "gauntlet/stake", "gauntlet/run_batch", "gauntlet/claim":
		return true
	}
	return false
}

// deliverTx executes one tx against a staged copy of state. The copy is
// promoted only on success, so a failed tx has no partial effects and a
// retry is always safe.
func (a *GauntletApp) deliverTx(txBytes []byte, height int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	if isMoneyMovingTx(env.Type) {
		if a.moneyCallActive {
			return &abci.ExecTxResult{Code: 1, Log: errReentrantCall.Error()}
		}
		a.moneyCallActive = true
		defer func() { a.moneyCallActive = false }()
	}

	staged, err := a.st.Clone()
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	res, err := routeTx(staged, env, height)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	a.st = staged
	return res
}

func routeTx(st *state.State, env codec.TxEnvelope, height int64) (*abci.ExecTxResult, error) {
	switch env.Type {
	case "bank/mint":
		// Devnet faucet; unauthenticated on purpose.
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad bank/mint value")
		}
		if msg.To == "" || msg.Amount == 0 {
			return nil, fmt.Errorf("missing to/amount")
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return nil, err
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		}), nil

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad bank/send value")
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return nil, fmt.Errorf("missing from/to/amount")
		}
		if err := requireAccountAuth(st, env, msg.From); err != nil {
			return nil, err
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return nil, err
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return nil, err
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		}), nil

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad auth/register_account value")
		}
		if err := requireRegisterAccountAuth(st, env, msg); err != nil {
			return nil, err
		}
		if existing := st.AccountKeys[msg.Account]; len(existing) != 0 {
			return nil, fmt.Errorf("account %q already registered", msg.Account)
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		}), nil

	case "gauntlet/init":
		var msg codec.GauntletInitTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/init value")
		}
		return gauntletInit(st, env, msg)

	case "gauntlet/open_staking":
		var msg codec.GauntletOpenStakingTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/open_staking value")
		}
		return gauntletOpenStaking(st, env, msg)

	case "gauntlet/stake":
		var msg codec.GauntletStakeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/stake value")
		}
		return gauntletStake(st, env, msg)

	case "gauntlet/start":
		var msg codec.GauntletStartTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/start value")
		}
		return gauntletStart(st, env, msg, height)

	case "gauntlet/request_random":
		var msg codec.GauntletRequestRandomTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/request_random value")
		}
		return gauntletRequestRandom(st, env, msg, height)

	case "oracle/fulfill_random":
		var msg codec.OracleFulfillRandomTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad oracle/fulfill_random value")
		}
		return oracleFulfillRandom(st, env, msg)

	case "gauntlet/fallback_random":
		var msg codec.GauntletFallbackRandomTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/fallback_random value")
		}
		return gauntletFallbackRandom(st, env, msg, height)

	case "gauntlet/run_batch":
		var msg codec.GauntletRunBatchTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/run_batch value")
		}
		return gauntletRunBatch(st, env, msg, height)

	case "gauntlet/claim":
		var msg codec.GauntletClaimTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/claim value")
		}
		return gauntletClaim(st, env, msg)

	case "gauntlet/fund_keeper":
		var msg codec.GauntletFundKeeperTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/fund_keeper value")
		}
		return gauntletFundKeeper(st, env, msg)

	case "gauntlet/withdraw_keeper":
		var msg codec.GauntletWithdrawKeeperTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/withdraw_keeper value")
		}
		return gauntletWithdrawKeeper(st, env, msg)

	case "gauntlet/set_keeper":
		var msg codec.GauntletSetKeeperTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_keeper value")
		}
		return gauntletSetKeeper(st, env, msg)

	case "gauntlet/set_oracle":
		var msg codec.GauntletSetOracleTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_oracle value")
		}
		return gauntletSetOracle(st, env, msg)

	case "gauntlet/set_keeper_pay":
		var msg codec.GauntletSetKeeperPayTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_keeper_pay value")
		}
		return gauntletSetKeeperPay(st, env, msg)

	case "gauntlet/set_call_limit":
		var msg codec.GauntletSetCallLimitTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_call_limit value")
		}
		return gauntletSetCallLimit(st, env, msg)

	case "gauntlet/set_batch_size":
		var msg codec.GauntletSetBatchSizeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_batch_size value")
		}
		return gauntletSetBatchSize(st, env, msg)

	case "gauntlet/set_round_duration":
		var msg codec.GauntletSetRoundDurationTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_round_duration value")
		}
		return gauntletSetRoundDuration(st, env, msg)

	case "gauntlet/set_tokenomics":
		var msg codec.GauntletSetTokenomicsTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_tokenomics value")
		}
		return gauntletSetTokenomics(st, env, msg)

	case "gauntlet/set_wallets":
		var msg codec.GauntletSetWalletsTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/set_wallets value")
		}
		return gauntletSetWallets(st, env, msg)

	case "gauntlet/pause":
		var msg codec.GauntletPauseTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/pause value")
		}
		return gauntletPause(st, env, msg)

	case "gauntlet/unpause":
		var msg codec.GauntletUnpauseTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad gauntlet/unpause value")
		}
		return gauntletUnpause(st, env, msg)

	default:
		return nil, fmt.Errorf("unknown tx type: %s", env.Type)
	}
}

func evt(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{evt(typ, attrs)},
	}
}
