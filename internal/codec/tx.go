package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 localnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth (optional on unauthenticated txs):
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer account id.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Gauntlet lifecycle ----

// GauntletInitTx bootstraps the single gauntlet instance. The signer becomes
// the owner. Fails if an instance already exists.
type GauntletInitTx struct {
	Owner  string `json:"owner"`
	Keeper string `json:"keeper"`
	Oracle string `json:"oracle"`

	// Optional overrides; zero values fall back to defaults.
	RoundDurationBlocks     uint64 `json:"roundDurationBlocks,omitempty"`
	BatchSize               uint64 `json:"batchSize,omitempty"`
	ConfirmationDelayBlocks uint64 `json:"confirmationDelayBlocks,omitempty"`
	KeeperCallLimit         uint32 `json:"keeperCallLimit,omitempty"`
	KeeperPayPerCall        uint64 `json:"keeperPayPerCall,omitempty"`

	DevWallet string `json:"devWallet,omitempty"`
	LpWallet  string `json:"lpWallet,omitempty"`

	DevPercent      uint32 `json:"devPercent,omitempty"`
	LpPercent       uint32 `json:"lpPercent,omitempty"`
	BurnPercent     uint32 `json:"burnPercent,omitempty"`
	SurvivorPercent uint32 `json:"survivorPercent,omitempty"`
	PrizePercent    uint32 `json:"prizePercent,omitempty"`
}

type GauntletOpenStakingTx struct {
	Owner string `json:"owner"`
}

type GauntletStakeTx struct {
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
	// MinReceived guards against the deposit path crediting less than the
	// caller expects (fee-on-transfer style deposits). With the chain bank
	// the received amount always equals Amount.
	MinReceived uint64 `json:"minReceived,omitempty"`
}

type GauntletStartTx struct {
	Owner string `json:"owner"`
}

type GauntletClaimTx struct {
	Player string `json:"player"`
}

// ---- Randomness ----

type GauntletRequestRandomTx struct {
	Keeper string `json:"keeper"`
}

// OracleFulfillRandomTx is the oracle's asynchronous callback, delivered as a
// tx signed by the configured oracle account.
type OracleFulfillRandomTx struct {
	Oracle    string `json:"oracle"`
	RequestID uint64 `json:"requestId"`
	Seed      []byte `json:"seed"` // base64 (32 bytes)
}

// GauntletFallbackRandomTx is the owner-only escape hatch after a long
// oracle outage. The resulting seed is flagged as weaker randomness.
type GauntletFallbackRandomTx struct {
	Owner string `json:"owner"`
	Round uint64 `json:"round"`
	Seed  []byte `json:"seed"` // base64 (32 bytes)
}

// ---- Batch engine ----

type GauntletRunBatchTx struct {
	Keeper string `json:"keeper"`
}

// ---- Keeper reserve ----

type GauntletFundKeeperTx struct {
	From   string `json:"from"`
	Amount uint64 `json:"amount"`
}

type GauntletWithdrawKeeperTx struct {
	Owner  string `json:"owner"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Admin ----

type GauntletSetKeeperTx struct {
	Owner  string `json:"owner"`
	Keeper string `json:"keeper"`
}

type GauntletSetOracleTx struct {
	Owner  string `json:"owner"`
	Oracle string `json:"oracle"`
}

type GauntletSetKeeperPayTx struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

type GauntletSetCallLimitTx struct {
	Owner string `json:"owner"`
	Limit uint32 `json:"limit"`
}

type GauntletSetBatchSizeTx struct {
	Owner string `json:"owner"`
	Size  uint64 `json:"size"`
}

type GauntletSetRoundDurationTx struct {
	Owner  string `json:"owner"`
	Blocks uint64 `json:"blocks"`
}

type GauntletSetTokenomicsTx struct {
	Owner           string `json:"owner"`
	DevPercent      uint32 `json:"devPercent"`
	LpPercent       uint32 `json:"lpPercent"`
	BurnPercent     uint32 `json:"burnPercent"`
	SurvivorPercent uint32 `json:"survivorPercent"`
	PrizePercent    uint32 `json:"prizePercent"`
}

type GauntletSetWalletsTx struct {
	Owner     string `json:"owner"`
	DevWallet string `json:"devWallet"`
	LpWallet  string `json:"lpWallet"`
}

type GauntletPauseTx struct {
	Owner string `json:"owner"`
}

type GauntletUnpauseTx struct {
	Owner string `json:"owner"`
}
