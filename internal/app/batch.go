package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"gauntletchain/internal/codec"
	"gauntletchain/internal/state"
)

// gauntletRunBatch executes one call's worth of eliminations. The cursor
// bounds the work per call to batchSize, so the whole field can be eliminated
// across repeated keeper calls without any unbounded loop.
func gauntletRunBatch(st *state.State, env codec.TxEnvelope, msg codec.GauntletRunBatchTx, height int64) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireKeeperAuth(st, g, env, msg.Keeper); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	if g.Phase != state.PhaseActive {
		return nil, fmt.Errorf("no active round (phase %q)", g.Phase)
	}
	if g.Size() < 2 {
		return nil, fmt.Errorf("not enough participants remaining (%d)", g.Size())
	}
	ri := g.Rounds[g.Round]
	if ri == nil {
		return nil, fmt.Errorf("missing round info for round %d", g.Round)
	}
	if !ri.Fulfilled {
		return nil, fmt.Errorf("randomness not ready for round %d", g.Round)
	}
	// Two independent anti-frontrunning guards: the marker must have strictly
	// advanced past the request, and strictly more blocks than the
	// confirmation delay must have elapsed.
	if height <= ri.RandomRequestedAt {
		return nil, fmt.Errorf("randomness requested at height %d not yet usable at %d", ri.RandomRequestedAt, height)
	}
	if uint64(height-ri.RandomRequestedAt) <= g.Params.ConfirmationDelayBlocks {
		return nil, fmt.Errorf("confirmation delay not elapsed: requested at %d, now %d, need > %d blocks",
			ri.RandomRequestedAt, height, g.Params.ConfirmationDelayBlocks)
	}
	if g.CallsThisRound >= g.Params.KeeperCallLimit {
		return nil, errCallLimitReached
	}
	g.CallsThisRound++

	round := g.Round
	sizeAtStart := g.Size()
	end := g.Cursor + g.Params.BatchSize
	if end > sizeAtStart {
		end = sizeAtStart
	}

	var events []abci.Event
	processed := uint64(0)
	for i := g.Cursor; i < end && g.Size() > 1; i++ {
		// The modulo uses the live registry size, which shrinks as the batch
		// removes participants.
		slot := drawSlot(ri.RandomSeed, i, height, g.Size())
		victim := g.Participants[slot]
		p := g.Players[victim]
		if p == nil {
			return nil, fmt.Errorf("registry entry %q has no player record", victim)
		}

		// Effects first: stake zeroed and registry repaired before any credit.
		stake := p.Stake
		p.Stake = 0
		p.EliminatedInRound = round
		if _, err := g.RemoveAt(slot); err != nil {
			return nil, err
		}

		sp := splitStake(stake, g.Tokenomics)
		if g.PendingSurvivorPool, err = addU64Checked(g.PendingSurvivorPool, sp.Survivor, "pending survivor pool"); err != nil {
			return nil, err
		}
		prizeAdd, err := addU64Checked(sp.Prize, sp.Remainder, "prize share")
		if err != nil {
			return nil, err
		}
		if g.PrizePool, err = addU64Checked(g.PrizePool, prizeAdd, "prize pool"); err != nil {
			return nil, err
		}
		if g.TotalBurned, err = addU64Checked(g.TotalBurned, sp.Burn, "total burned"); err != nil {
			return nil, err
		}
		ri.EliminationsDone++

		// Interactions last.
		if err := st.Credit(g.Params.DevWallet, sp.Dev); err != nil {
			return nil, err
		}
		if err := st.Credit(g.Params.LpWallet, sp.Lp); err != nil {
			return nil, err
		}

		events = append(events, evt("ParticipantEliminated", map[string]string{
			"round":     fmt.Sprintf("%d", round),
			"player":    victim,
			"stake":     fmt.Sprintf("%d", stake),
			"survivor":  fmt.Sprintf("%d", sp.Survivor),
			"prize":     fmt.Sprintf("%d", prizeAdd),
			"burned":    fmt.Sprintf("%d", sp.Burn),
			"remaining": fmt.Sprintf("%d", g.Size()),
		}))
		processed++
	}
	g.Cursor = end

	events = append(events, evt("BatchProcessed", map[string]string{
		"round":     fmt.Sprintf("%d", round),
		"processed": fmt.Sprintf("%d", processed),
		"cursor":    fmt.Sprintf("%d", g.Cursor),
		"remaining": fmt.Sprintf("%d", g.Size()),
	}))

	if g.Size() == 1 || g.Cursor >= g.Size() {
		finEv, err := finalizeRound(g)
		if err != nil {
			return nil, err
		}
		events = append(events, finEv)

		g.Round++
		g.Cursor = 0
		g.CallsThisRound = 0
		g.RoundStartHeight = height
		if g.Size() > 1 {
			g.Rounds[g.Round] = &state.RoundInfo{}
		}
	}

	// Keeper reimbursement after all round-state updates.
	if pay := g.Params.KeeperPayPerCall; pay > 0 && g.KeeperReserve >= pay {
		g.KeeperReserve -= pay
		if err := st.Credit(msg.Keeper, pay); err != nil {
			return nil, err
		}
		events = append(events, evt("KeeperPaid", map[string]string{
			"keeper": msg.Keeper,
			"amount": fmt.Sprintf("%d", pay),
		}))
	}

	if g.Size() == 1 {
		winner := g.Participants[0]
		p := g.Players[winner]
		prize := g.PrizePool
		stakeBack := p.Stake
		payout, err := addU64Checked(prize, stakeBack, "winner payout")
		if err != nil {
			return nil, err
		}
		g.PrizePool = 0
		p.Stake = 0
		g.Phase = state.PhaseFinished
		if err := st.Credit(winner, payout); err != nil {
			return nil, err
		}
		events = append(events,
			evt("WinnerPaid", map[string]string{
				"winner":        winner,
				"prize":         fmt.Sprintf("%d", prize),
				"stakeReturned": fmt.Sprintf("%d", stakeBack),
			}),
			evt("GauntletFinished", map[string]string{
				"winner": winner,
				"rounds": fmt.Sprintf("%d", g.Round-1),
			}),
		)
	}

	return &abci.ExecTxResult{Code: 0, Events: events}, nil
}

// finalizeRound resolves the pending survivor pool into a per-survivor reward
// and extends the cumulative prefix sum. The undistributed remainder (or the
// whole pool when nobody survived) rolls into the prize pool.
func finalizeRound(g *state.GauntletState) (abci.Event, error) {
	ri := g.Rounds[g.Round]
	survivors := g.Size()
	pool := g.PendingSurvivorPool

	var per, rem uint64
	if survivors > 0 {
		per = pool / survivors
		rem = pool - per*survivors
	} else {
		rem = pool
	}

	prize, err := addU64Checked(g.PrizePool, rem, "prize pool")
	if err != nil {
		return abci.Event{}, err
	}
	prev := g.Cumulative[len(g.Cumulative)-1]
	cum, err := addU64Checked(prev, per, "cumulative survivor reward")
	if err != nil {
		return abci.Event{}, err
	}

	g.PrizePool = prize
	g.Cumulative = append(g.Cumulative, cum)
	g.PendingSurvivorPool = 0
	ri.SurvivorRewardPerPlayer = per

	return evt("RoundFinalized", map[string]string{
		"round":       fmt.Sprintf("%d", g.Round),
		"perSurvivor": fmt.Sprintf("%d", per),
		"survivors":   fmt.Sprintf("%d", survivors),
		"remainder":   fmt.Sprintf("%d", rem),
		"cumulative":  fmt.Sprintf("%d", cum),
	}), nil
}
