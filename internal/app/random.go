package app

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"gauntletchain/internal/codec"
	"gauntletchain/internal/state"
)

const (
	drawDomainV1 = "gauntlet/v1/draw"

	randomSeedSize = 32

	// Blocks the owner must wait past an unanswered request before the
	// weaker fallback path unlocks.
	fallbackDelayBlocks uint64 = 200
)

func gauntletRequestRandom(st *state.State, env codec.TxEnvelope, msg codec.GauntletRequestRandomTx, height int64) (*abci.ExecTxResult, error) {
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
	ri := g.Rounds[g.Round]
	if ri == nil {
		return nil, fmt.Errorf("missing round info for round %d", g.Round)
	}
	due, err := addInt64AndU64Checked(g.RoundStartHeight, g.Params.RoundDurationBlocks, "round deadline")
	if err != nil {
		return nil, err
	}
	if height < due {
		return nil, fmt.Errorf("round %d still running until height %d (now %d)", g.Round, due, height)
	}
	if ri.RandomRequestedAt != 0 {
		return nil, errAlreadyRequested
	}

	reqID := g.NextRequestID
	g.NextRequestID++
	ri.RequestID = reqID
	ri.RandomRequestedAt = height
	g.RandRequests[reqID] = g.Round

	// The oracle watches for this event and answers with oracle/fulfill_random.
	return okEvent("RandomRequested", map[string]string{
		"round":     fmt.Sprintf("%d", g.Round),
		"requestId": fmt.Sprintf("%d", reqID),
		"height":    fmt.Sprintf("%d", height),
	}), nil
}

func oracleFulfillRandom(st *state.State, env codec.TxEnvelope, msg codec.OracleFulfillRandomTx) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	if err := requireOracleAuth(st, g, env, msg.Oracle); err != nil {
		return nil, err
	}
	if err := requireNotPaused(g); err != nil {
		return nil, err
	}
	round, ok := g.RandRequests[msg.RequestID]
	if !ok {
		return nil, errUnknownRequest
	}
	ri := g.Rounds[round]
	if ri == nil || ri.Fulfilled {
		return nil, errUnknownRequest
	}
	if len(msg.Seed) != randomSeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", randomSeedSize, len(msg.Seed))
	}

	ri.RandomSeed = append([]byte(nil), msg.Seed...)
	ri.Fulfilled = true
	// One request per round: retiring the id makes a second callback an
	// UnknownRequest upstream.
	delete(g.RandRequests, msg.RequestID)

	return okEvent("RandomFulfilled", map[string]string{
		"round":     fmt.Sprintf("%d", round),
		"requestId": fmt.Sprintf("%d", msg.RequestID),
	}), nil
}

func gauntletFallbackRandom(st *state.State, env codec.TxEnvelope, msg codec.GauntletFallbackRandomTx, height int64) (*abci.ExecTxResult, error) {
	g, err := gauntletInstance(st)
	if err != nil {
		return nil, err
	}
	// Owner-only emergency path; deliberately usable while paused.
	if err := requireOwnerAuth(st, g, env, msg.Owner); err != nil {
		return nil, err
	}
	if g.Phase != state.PhaseActive || msg.Round != g.Round {
		return nil, fmt.Errorf("round %d is not the active round", msg.Round)
	}
	ri := g.Rounds[msg.Round]
	if ri == nil || ri.RandomRequestedAt == 0 {
		return nil, fmt.Errorf("no randomness request outstanding for round %d", msg.Round)
	}
	if ri.Fulfilled {
		return nil, fmt.Errorf("round %d randomness already fulfilled", msg.Round)
	}
	unlockAt, err := addInt64AndU64Checked(ri.RandomRequestedAt, fallbackDelayBlocks, "fallback unlock height")
	if err != nil {
		return nil, err
	}
	if height <= unlockAt {
		return nil, fmt.Errorf("fallback locked until height %d (now %d)", unlockAt, height)
	}
	if len(msg.Seed) != randomSeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", randomSeedSize, len(msg.Seed))
	}

	ri.RandomSeed = append([]byte(nil), msg.Seed...)
	ri.Fulfilled = true
	ri.FallbackUsed = true
	delete(g.RandRequests, ri.RequestID)

	return okEvent("FallbackRandomUsed", map[string]string{
		"round":  fmt.Sprintf("%d", msg.Round),
		"height": fmt.Sprintf("%d", height),
	}), nil
}

// drawSlot derives the elimination slot for cursor index i: a domain-separated
// sha256 of (seed, i, marker) reduced modulo the live registry size. Using the
// size as it shrinks mid-batch keeps every draw well-defined.
func drawSlot(seed []byte, i uint64, height int64, size uint64) uint64 {
	buf := make([]byte, 0, len(drawDomainV1)+1+len(seed)+16)
	buf = append(buf, drawDomainV1...)
	buf = append(buf, 0)
	buf = append(buf, seed...)
	var tail [16]byte
	binary.LittleEndian.PutUint64(tail[:8], i)
	binary.LittleEndian.PutUint64(tail[8:], uint64(height))
	buf = append(buf, tail[:]...)
	h := sha256.Sum256(buf)
	return binary.LittleEndian.Uint64(h[:8]) % size
}
