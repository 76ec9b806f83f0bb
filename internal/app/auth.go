package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"strconv"

	"gauntletchain/internal/codec"
	"gauntletchain/internal/state"
)

const txAuthDomainV0 = "gauntlet/tx/v0"

func txAuthSignBytesV0(typ string, value []byte, nonce string, signer string) []byte {
	// signBytes = DOMAIN || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || sha256(value)
	sum := sha256.Sum256(value)
	out := make([]byte, 0, len(txAuthDomainV0)+1+len(typ)+1+len(nonce)+1+len(signer)+1+sha256.Size)
	out = append(out, []byte(txAuthDomainV0)...)
	out = append(out, 0)
	out = append(out, []byte(typ)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	out = append(out, 0)
	out = append(out, []byte(signer)...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return out
}

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return fmt.Errorf("missing tx.nonce")
	}
	if env.Signer == "" {
		return fmt.Errorf("missing tx.signer")
	}
	if len(env.Sig) == 0 {
		return fmt.Errorf("missing tx.sig")
	}
	if len(env.Sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid tx.sig length: got %d want %d", len(env.Sig), ed25519.SignatureSize)
	}
	return nil
}

// consumeNonce enforces strictly-increasing numeric nonces per signer. Runs
// against the staged state, so a failed tx does not burn the nonce.
func consumeNonce(st *state.State, env codec.TxEnvelope) error {
	n, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tx.nonce %q: must be a uint64", env.Nonce)
	}
	if n <= st.NonceMax[env.Signer] {
		return fmt.Errorf("replayed tx.nonce %d for signer %q", n, env.Signer)
	}
	st.NonceMax[env.Signer] = n
	return nil
}

func requireRegisterAccountAuth(st *state.State, env codec.TxEnvelope, msg codec.AuthRegisterAccountTx) error {
	if msg.Account == "" {
		return fmt.Errorf("missing account")
	}
	if len(msg.PubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("pubKey must be %d bytes", ed25519.PublicKeySize)
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != msg.Account {
		return fmt.Errorf("tx signer mismatch: signer=%q want=%q", env.Signer, msg.Account)
	}
	pub := ed25519.PublicKey(msg.PubKey)
	msgBytes := txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(pub, msgBytes, env.Sig) {
		return fmt.Errorf("invalid signature")
	}
	return consumeNonce(st, env)
}

func requireAccountAuth(st *state.State, env codec.TxEnvelope, account string) error {
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	if account == "" {
		return fmt.Errorf("missing account")
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != account {
		return fmt.Errorf("tx signer mismatch: signer=%q want=%q", env.Signer, account)
	}
	pub := st.AccountKeys[account]
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("account %q missing pubKey (auth/register_account required)", account)
	}
	msg := txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, env.Sig) {
		return fmt.Errorf("invalid signature")
	}
	return consumeNonce(st, env)
}

// Role gates. Owner, keeper and oracle are ordinary accounts held in the
// gauntlet state; the gated txs must carry that account's signature.

func requireOwnerAuth(st *state.State, g *state.GauntletState, env codec.TxEnvelope, claimed string) error {
	if g == nil {
		return fmt.Errorf("gauntlet not initialized")
	}
	if claimed != g.Owner {
		return fmt.Errorf("caller %q is not the owner", claimed)
	}
	return requireAccountAuth(st, env, g.Owner)
}

func requireKeeperAuth(st *state.State, g *state.GauntletState, env codec.TxEnvelope, claimed string) error {
	if g == nil {
		return fmt.Errorf("gauntlet not initialized")
	}
	if claimed != g.Keeper {
		return fmt.Errorf("caller %q is not the keeper", claimed)
	}
	return requireAccountAuth(st, env, g.Keeper)
}

func requireOracleAuth(st *state.State, g *state.GauntletState, env codec.TxEnvelope, claimed string) error {
	if g == nil {
		return fmt.Errorf("gauntlet not initialized")
	}
	if claimed != g.Oracle {
		return fmt.Errorf("caller %q is not the oracle", claimed)
	}
	return requireAccountAuth(st, env, g.Oracle)
}
