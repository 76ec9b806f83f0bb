package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestRequestRandom_RequiresRoundDurationElapsed(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	// Round started at height 1 with duration 5: due at height 6.
	res := a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "keeper"}, "keeper"), 5)
	if res.Code == 0 {
		t.Fatalf("expected early request to fail")
	}
	if !strings.Contains(res.Log, "still running") {
		t.Fatalf("unexpected log: %q", res.Log)
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "keeper"}, "keeper"), 6))
}

func TestRequestRandom_SecondRequestRejected(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "keeper"}, "keeper"), 6))

	res := a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "keeper"}, "keeper"), 7)
	if res.Code == 0 {
		t.Fatalf("expected second request for the round to fail")
	}
	if !strings.Contains(res.Log, "already requested") {
		t.Fatalf("unexpected log: %q", res.Log)
	}
}

func TestRequestRandom_RequiresKeeper(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	res := a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "p1"}, "p1"), 6)
	if res.Code == 0 {
		t.Fatalf("expected non-keeper request to fail")
	}
}

func TestFulfillRandom_UnknownRequest(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	res := a.deliverTx(txBytesSigned(t, "oracle/fulfill_random", map[string]any{
		"oracle": "oracle", "requestId": 99, "seed": testSeed(),
	}, "oracle"), 6)
	if res.Code == 0 {
		t.Fatalf("expected fulfillment of unknown request to fail")
	}
	if !strings.Contains(res.Log, "unknown randomness request") {
		t.Fatalf("unexpected log: %q", res.Log)
	}
}

func TestFulfillRandom_RequiresOracleAndSeedSize(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	res := mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "keeper"}, "keeper"), 6))
	reqID := parseU64(t, attr(findEvent(res.Events, "RandomRequested"), "requestId"))

	// Keeper cannot fulfill its own request.
	bad := a.deliverTx(txBytesSigned(t, "oracle/fulfill_random", map[string]any{
		"oracle": "keeper", "requestId": reqID, "seed": testSeed(),
	}, "keeper"), 6)
	if bad.Code == 0 {
		t.Fatalf("expected non-oracle fulfillment to fail")
	}

	// Short seed rejected.
	bad = a.deliverTx(txBytesSigned(t, "oracle/fulfill_random", map[string]any{
		"oracle": "oracle", "requestId": reqID, "seed": []byte{1, 2, 3},
	}, "oracle"), 6)
	if bad.Code == 0 {
		t.Fatalf("expected short seed to fail")
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "oracle/fulfill_random", map[string]any{
		"oracle": "oracle", "requestId": reqID, "seed": testSeed(),
	}, "oracle"), 6))

	g := a.st.Gauntlet
	ri := g.Rounds[1]
	if !ri.Fulfilled || !bytes.Equal(ri.RandomSeed, testSeed()) {
		t.Fatalf("seed not stored: fulfilled=%v", ri.Fulfilled)
	}
	if len(g.RandRequests) != 0 {
		t.Fatalf("request id not retired: %v", g.RandRequests)
	}

	// The retired id cannot be answered again.
	bad = a.deliverTx(txBytesSigned(t, "oracle/fulfill_random", map[string]any{
		"oracle": "oracle", "requestId": reqID, "seed": testSeed(),
	}, "oracle"), 7)
	if bad.Code == 0 {
		t.Fatalf("expected second callback to fail")
	}
}

func TestFallbackRandom_GatedByLongDelay(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{"keeper": "keeper"}, "keeper"), 6))

	// Requested at 6; fallback unlocks strictly after 6+fallbackDelayBlocks.
	locked := int64(6) + int64(fallbackDelayBlocks)
	res := a.deliverTx(txBytesSigned(t, "gauntlet/fallback_random", map[string]any{
		"owner": "owner", "round": 1, "seed": testSeed(),
	}, "owner"), locked)
	if res.Code == 0 {
		t.Fatalf("expected fallback before the delay to fail")
	}
	if !strings.Contains(res.Log, "fallback locked") {
		t.Fatalf("unexpected log: %q", res.Log)
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/fallback_random", map[string]any{
		"owner": "owner", "round": 1, "seed": testSeed(),
	}, "owner"), locked+1))

	g := a.st.Gauntlet
	ri := g.Rounds[1]
	if !ri.Fulfilled || !ri.FallbackUsed {
		t.Fatalf("fallback not recorded: fulfilled=%v fallback=%v", ri.Fulfilled, ri.FallbackUsed)
	}

	// The batch engine accepts fallback randomness like any other seed.
	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/run_batch", map[string]any{"keeper": "keeper"}, "keeper"), locked+3))
}

func TestFallbackRandom_RequiresOutstandingUnfulfilledRequest(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	// No request yet.
	res := a.deliverTx(txBytesSigned(t, "gauntlet/fallback_random", map[string]any{
		"owner": "owner", "round": 1, "seed": testSeed(),
	}, "owner"), 500)
	if res.Code == 0 {
		t.Fatalf("expected fallback without a request to fail")
	}

	// Fulfilled request cannot be overridden.
	requestAndFulfill(t, a, 6)
	res = a.deliverTx(txBytesSigned(t, "gauntlet/fallback_random", map[string]any{
		"owner": "owner", "round": 1, "seed": testSeed(),
	}, "owner"), 500)
	if res.Code == 0 {
		t.Fatalf("expected fallback on fulfilled round to fail")
	}
	if !strings.Contains(res.Log, "already fulfilled") {
		t.Fatalf("unexpected log: %q", res.Log)
	}
}

func TestDrawSlot_DeterministicAndInRange(t *testing.T) {
	seed := testSeed()
	for size := uint64(1); size <= 7; size++ {
		for i := uint64(0); i < 10; i++ {
			a := drawSlot(seed, i, 42, size)
			b := drawSlot(seed, i, 42, size)
			if a != b {
				t.Fatalf("draw not deterministic: %d vs %d", a, b)
			}
			if a >= size {
				t.Fatalf("draw %d out of range for size %d", a, size)
			}
		}
	}

	// Different cursor positions must not all collapse to one slot.
	seen := map[uint64]bool{}
	for i := uint64(0); i < 64; i++ {
		seen[drawSlot(seed, i, 42, 8)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("draws show no variation: %v", seen)
	}
}
