package app

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"

	"gauntletchain/internal/codec"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func txBytes(t *testing.T, typ string, value any) []byte {
	t.Helper()
	return mustMarshal(t, map[string]any{
		"type":  typ,
		"value": value,
	})
}

// testEd25519Key derives a deterministic keypair from a test identity so
// every test file can sign for the same logical accounts.
func testEd25519Key(id string) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("gauntlet-test-key:" + id))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

// Nonces must strictly increase per signer; a process-wide counter is the
// simplest way to guarantee that across helpers.
var testNonceCounter uint64

func txBytesSigned(t *testing.T, typ string, value any, signer string) []byte {
	t.Helper()
	valueBytes := mustMarshal(t, value)
	nonce := strconv.FormatUint(atomic.AddUint64(&testNonceCounter, 1), 10)
	_, priv := testEd25519Key(signer)
	msg := txAuthSignBytesV0(typ, valueBytes, nonce, signer)
	sig := ed25519.Sign(priv, msg)
	return mustMarshal(t, codec.TxEnvelope{
		Type:   typ,
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: signer,
		Sig:    sig,
	})
}

func findEvent(events []abci.Event, typ string) *abci.Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func attr(ev *abci.Event, key string) string {
	if ev == nil {
		return ""
	}
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseU64(t *testing.T, s string) uint64 {
	t.Helper()
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.Fatalf("parse uint64 %q: %v", s, err)
	}
	return n
}

func newTestApp(t *testing.T) *GauntletApp {
	t.Helper()
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func mustOk(t *testing.T, res *abci.ExecTxResult) *abci.ExecTxResult {
	t.Helper()
	if res.Code != 0 {
		t.Fatalf("expected ok, got code=%d log=%q", res.Code, res.Log)
	}
	return res
}

func mintTestTokens(t *testing.T, a *GauntletApp, height int64, to string, amount uint64) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytes(t, "bank/mint", map[string]any{"to": to, "amount": amount}), height))
}

func registerTestAccount(t *testing.T, a *GauntletApp, height int64, id string) {
	t.Helper()
	pub, _ := testEd25519Key(id)
	mustOk(t, a.deliverTx(txBytesSigned(t, "auth/register_account", map[string]any{
		"account": id,
		"pubKey":  []byte(pub),
	}, id), height))
}

func testSeed() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

// setupGauntlet registers owner/keeper/oracle plus the given players, funds
// each player with 1000, stakes stakeAmt for each, and starts round 1 at
// height 1. Overrides are merged into the gauntlet/init value.
func setupGauntlet(t *testing.T, players []string, stakeAmt uint64, overrides map[string]any) *GauntletApp {
	t.Helper()

	const height = int64(1)
	a := newTestApp(t)

	for _, id := range []string{"owner", "keeper", "oracle"} {
		registerTestAccount(t, a, height, id)
	}

	initValue := map[string]any{
		"owner":                   "owner",
		"keeper":                  "keeper",
		"oracle":                  "oracle",
		"roundDurationBlocks":     uint64(5),
		"batchSize":               uint64(2),
		"confirmationDelayBlocks": uint64(1),
		"keeperCallLimit":         uint32(10),
	}
	for k, v := range overrides {
		initValue[k] = v
	}
	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/init", initValue, "owner"), height))
	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/open_staking", map[string]any{"owner": "owner"}, "owner"), height))

	for _, p := range players {
		mintTestTokens(t, a, height, p, 1000)
		registerTestAccount(t, a, height, p)
		mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/stake", map[string]any{
			"player": p,
			"amount": stakeAmt,
		}, p), height))
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/start", map[string]any{"owner": "owner"}, "owner"), height))
	return a
}

// requestAndFulfill drives one round's randomness: the keeper requests at
// reqHeight, the oracle answers in the same block.
func requestAndFulfill(t *testing.T, a *GauntletApp, reqHeight int64) {
	t.Helper()
	res := mustOk(t, a.deliverTx(txBytesSigned(t, "gauntlet/request_random", map[string]any{
		"keeper": "keeper",
	}, "keeper"), reqHeight))
	reqID := parseU64(t, attr(findEvent(res.Events, "RandomRequested"), "requestId"))
	mustOk(t, a.deliverTx(txBytesSigned(t, "oracle/fulfill_random", map[string]any{
		"oracle":    "oracle",
		"requestId": reqID,
		"seed":      testSeed(),
	}, "oracle"), reqHeight))
}

func TestBankMintAndSend(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)

	mintTestTokens(t, a, height, "alice", 1000)
	registerTestAccount(t, a, height, "alice")

	mustOk(t, a.deliverTx(txBytesSigned(t, "bank/send", map[string]any{
		"from": "alice", "to": "bob", "amount": 250,
	}, "alice"), height))

	if got := a.st.Balance("alice"); got != 750 {
		t.Fatalf("alice balance: got %d want 750", got)
	}
	if got := a.st.Balance("bob"); got != 250 {
		t.Fatalf("bob balance: got %d want 250", got)
	}
}

func TestBankSend_RequiresSignature(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	mintTestTokens(t, a, height, "alice", 1000)

	res := a.deliverTx(txBytes(t, "bank/send", map[string]any{
		"from": "alice", "to": "bob", "amount": 1,
	}), height)
	if res.Code == 0 {
		t.Fatalf("expected unsigned send to be rejected")
	}
}

func TestBankSend_WrongSignerRejected(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	mintTestTokens(t, a, height, "alice", 1000)
	registerTestAccount(t, a, height, "alice")
	registerTestAccount(t, a, height, "mallory")

	res := a.deliverTx(txBytesSigned(t, "bank/send", map[string]any{
		"from": "alice", "to": "mallory", "amount": 100,
	}, "mallory"), height)
	if res.Code == 0 {
		t.Fatalf("expected send signed by non-owner of funds to be rejected")
	}
	if got := a.st.Balance("alice"); got != 1000 {
		t.Fatalf("alice balance changed: %d", got)
	}
}

func TestUnknownTxTypeRejected(t *testing.T) {
	a := newTestApp(t)
	res := a.deliverTx(txBytes(t, "gauntlet/does_not_exist", map[string]any{}), 1)
	if res.Code == 0 {
		t.Fatalf("expected unknown tx type to be rejected")
	}
	if !strings.Contains(res.Log, "unknown tx type") {
		t.Fatalf("unexpected log: %q", res.Log)
	}
}

func TestRegisterAccount_RejectsDuplicate(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	registerTestAccount(t, a, height, "alice")

	pub, _ := testEd25519Key("alice")
	res := a.deliverTx(txBytesSigned(t, "auth/register_account", map[string]any{
		"account": "alice",
		"pubKey":  []byte(pub),
	}, "alice"), height)
	if res.Code == 0 {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestDeterminism_SameTxSequenceSameAppHash(t *testing.T) {
	const height = int64(1)

	// Build the tx bytes once so both apps consume identical input.
	a := newTestApp(t)
	b := newTestApp(t)

	var txs [][]byte
	for _, id := range []string{"owner", "keeper", "oracle", "p1", "p2", "p3"} {
		pub, _ := testEd25519Key(id)
		txs = append(txs, txBytesSigned(t, "auth/register_account", map[string]any{
			"account": id, "pubKey": []byte(pub),
		}, id))
	}
	for _, p := range []string{"p1", "p2", "p3"} {
		txs = append(txs, txBytes(t, "bank/mint", map[string]any{"to": p, "amount": 1000}))
	}
	txs = append(txs, txBytesSigned(t, "gauntlet/init", map[string]any{
		"owner": "owner", "keeper": "keeper", "oracle": "oracle",
		"roundDurationBlocks": uint64(5), "batchSize": uint64(2),
	}, "owner"))
	txs = append(txs, txBytesSigned(t, "gauntlet/open_staking", map[string]any{"owner": "owner"}, "owner"))
	for _, p := range []string{"p1", "p2", "p3"} {
		txs = append(txs, txBytesSigned(t, "gauntlet/stake", map[string]any{"player": p, "amount": 100}, p))
	}
	txs = append(txs, txBytesSigned(t, "gauntlet/start", map[string]any{"owner": "owner"}, "owner"))

	for _, tx := range txs {
		mustOk(t, a.deliverTx(tx, height))
		mustOk(t, b.deliverTx(tx, height))
	}

	ha := a.st.AppHash()
	hb := b.st.AppHash()
	if !bytes.Equal(ha, hb) {
		t.Fatalf("app hashes diverged:\n  a=%x\n  b=%x", ha, hb)
	}
}

func TestQuery_Paths(t *testing.T) {
	ctx := context.Background()
	a := setupGauntlet(t, []string{"p1", "p2", "p3"}, 100, nil)

	res, err := a.Query(ctx, &abci.QueryRequest{Path: "/participants"})
	if err != nil || res.Code != 0 {
		t.Fatalf("participants query: err=%v code=%d log=%q", err, res.Code, res.Log)
	}
	var parts struct {
		Count        int      `json:"count"`
		Participants []string `json:"participants"`
	}
	if err := json.Unmarshal(res.Value, &parts); err != nil {
		t.Fatalf("decode participants: %v", err)
	}
	if parts.Count != 3 || len(parts.Participants) != 3 {
		t.Fatalf("participants: %+v", parts)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/participant/p1"})
	if err != nil || res.Code != 0 {
		t.Fatalf("participant query: err=%v code=%d", err, res.Code)
	}
	var p struct {
		ID     string `json:"id"`
		Stake  uint64 `json:"stake"`
		Active bool   `json:"active"`
	}
	if err := json.Unmarshal(res.Value, &p); err != nil {
		t.Fatalf("decode participant: %v", err)
	}
	if p.ID != "p1" || p.Stake != 100 || !p.Active {
		t.Fatalf("participant: %+v", p)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/participant/nobody"})
	if err != nil || res.Code == 0 {
		t.Fatalf("expected unknown participant to fail, err=%v", err)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/cumulative/0"})
	if err != nil || res.Code != 0 {
		t.Fatalf("cumulative query: err=%v code=%d log=%q", err, res.Code, res.Log)
	}
	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/cumulative/1"})
	if err != nil || res.Code == 0 {
		t.Fatalf("expected unfinalized round query to fail, err=%v", err)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/account/p1"})
	if err != nil || res.Code != 0 {
		t.Fatalf("account query: err=%v code=%d", err, res.Code)
	}
	var acct struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(res.Value, &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Balance != 900 {
		t.Fatalf("account balance: got %d want 900", acct.Balance)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/gauntlet"})
	if err != nil || res.Code != 0 {
		t.Fatalf("gauntlet query: err=%v code=%d", err, res.Code)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/bogus"})
	if err != nil || res.Code == 0 {
		t.Fatalf("expected unknown path to fail, err=%v", err)
	}
}

func TestReentrancyGuard_RejectsNestedMoneyCall(t *testing.T) {
	a := setupGauntlet(t, []string{"p1", "p2"}, 100, nil)

	a.moneyCallActive = true
	res := a.deliverTx(txBytesSigned(t, "gauntlet/claim", map[string]any{"player": "p1"}, "p1"), 1)
	if res.Code == 0 {
		t.Fatalf("expected nested money-moving call to be rejected")
	}
	if !strings.Contains(res.Log, "reentrant") {
		t.Fatalf("unexpected log: %q", res.Log)
	}
	a.moneyCallActive = false
}
