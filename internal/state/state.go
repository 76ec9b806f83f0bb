package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type State struct {
	Height int64 `json:"height"`

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection

	Gauntlet *GauntletState `json:"gauntlet,omitempty"`
}

func NewState() *State {
	return &State{
		Height:      0,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if g := s.Gauntlet; g != nil {
		if g.PositionOf == nil {
			g.PositionOf = map[string]uint64{}
		}
		if g.Players == nil {
			g.Players = map[string]*Player{}
		}
		if g.Rounds == nil {
			g.Rounds = map[uint64]*RoundInfo{}
		}
		if g.RandRequests == nil {
			g.RandRequests = map[uint64]uint64{}
		}
		if g.NextRequestID == 0 {
			g.NextRequestID = 1
		}
	}
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	normalized := struct {
		Height      int64               `json:"height"`
		Accounts    []accountKV         `json:"accounts"`
		AccountKeys []accountKeyKV      `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV           `json:"nonceMax,omitempty"`
		Gauntlet    *normalizedGauntlet `json:"gauntlet,omitempty"`
	}{
		Height:      s.Height,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Gauntlet:    normalizeGauntlet(s.Gauntlet),
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Gauntlet ----

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStaking  Phase = "staking"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// TokenomicsParams are the five split percentages. They must sum to exactly
// 100 at all times.
type TokenomicsParams struct {
	DevPercent      uint32 `json:"devPercent"`
	LpPercent       uint32 `json:"lpPercent"`
	BurnPercent     uint32 `json:"burnPercent"`
	SurvivorPercent uint32 `json:"survivorPercent"`
	PrizePercent    uint32 `json:"prizePercent"`
}

func (p TokenomicsParams) Sum() uint32 {
	return p.DevPercent + p.LpPercent + p.BurnPercent + p.SurvivorPercent + p.PrizePercent
}

type GauntletParams struct {
	RoundDurationBlocks     uint64 `json:"roundDurationBlocks"`
	BatchSize               uint64 `json:"batchSize"`
	ConfirmationDelayBlocks uint64 `json:"confirmationDelayBlocks"`
	KeeperCallLimit         uint32 `json:"keeperCallLimit"`
	KeeperPayPerCall        uint64 `json:"keeperPayPerCall"`

	DevWallet string `json:"devWallet"`
	LpWallet  string `json:"lpWallet"`
}

// Player is created on first stake and never physically deleted; elimination
// zeroes the stake and stamps EliminatedInRound so claim history survives.
type Player struct {
	Stake             uint64 `json:"stake"`
	LastClaimedRound  uint64 `json:"lastClaimedRound"`
	EliminatedInRound uint64 `json:"eliminatedInRound,omitempty"` // 0 = still active
}

// RoundInfo is append-only once a round starts and frozen once finalized.
type RoundInfo struct {
	SurvivorRewardPerPlayer uint64 `json:"survivorRewardPerPlayer"`
	EliminationsDone        uint64 `json:"eliminationsDone"`

	RandomSeed        []byte `json:"randomSeed,omitempty"`
	RandomRequestedAt int64  `json:"randomRequestedAt,omitempty"` // block height of the request; 0 = no request
	RequestID         uint64 `json:"requestId,omitempty"`
	Fulfilled         bool   `json:"fulfilled,omitempty"`
	FallbackUsed      bool   `json:"fallbackUsed,omitempty"`
}

type GauntletState struct {
	Owner  string `json:"owner"`
	Keeper string `json:"keeper"`
	Oracle string `json:"oracle"`

	Phase  Phase `json:"phase"`
	Paused bool  `json:"paused"`

	Params     GauntletParams   `json:"params"`
	Tokenomics TokenomicsParams `json:"tokenomics"`

	// Registry: dense array of active participant ids plus a 1-based reverse
	// index (0 = absent). Broken only transiently inside one swap-pop removal.
	Participants []string           `json:"participants"`
	PositionOf   map[string]uint64  `json:"positionOf"`
	Players      map[string]*Player `json:"players"`

	Round            uint64                `json:"round"` // current round; 0 before start
	RoundStartHeight int64                 `json:"roundStartHeight,omitempty"`
	Rounds           map[uint64]*RoundInfo `json:"rounds,omitempty"`
	Cursor           uint64                `json:"cursor,omitempty"` // elimination cursor within the current round

	// Cumulative[r] = per-survivor reward accumulated over rounds 1..r.
	// Cumulative[0] = 0; one entry appended per finalized round.
	Cumulative []uint64 `json:"cumulative"`

	PrizePool           uint64 `json:"prizePool"`
	PendingSurvivorPool uint64 `json:"pendingSurvivorPool"`
	TotalBurned         uint64 `json:"totalBurned,omitempty"`

	KeeperReserve  uint64 `json:"keeperReserve"`
	CallsThisRound uint32 `json:"callsThisRound,omitempty"`

	NextRequestID uint64            `json:"nextRequestId"`
	RandRequests  map[uint64]uint64 `json:"randRequests,omitempty"` // requestId -> round
}

// ---- Registry operations ----

// Size returns the number of active participants.
func (g *GauntletState) Size() uint64 {
	return uint64(len(g.Participants))
}

// Contains reports whether id is an active participant.
func (g *GauntletState) Contains(id string) bool {
	return g.PositionOf[id] != 0
}

// Join appends id to the registry. The caller checks phase and duplicates.
func (g *GauntletState) Join(id string) error {
	if id == "" {
		return fmt.Errorf("empty participant id")
	}
	if g.PositionOf[id] != 0 {
		return fmt.Errorf("participant %q already registered", id)
	}
	g.Participants = append(g.Participants, id)
	g.PositionOf[id] = uint64(len(g.Participants)) // 1-based
	return nil
}

// RemoveAt removes the participant at 0-based slot pos0 in O(1) by moving the
// last element into its place (swap-pop), then clears the removed identity's
// reverse index. Slot numbers held across calls are invalidated by this.
func (g *GauntletState) RemoveAt(pos0 uint64) (string, error) {
	n := uint64(len(g.Participants))
	if pos0 >= n {
		return "", fmt.Errorf("registry slot %d out of range (size %d)", pos0, n)
	}
	removed := g.Participants[pos0]
	last := n - 1
	if pos0 != last {
		moved := g.Participants[last]
		g.Participants[pos0] = moved
		g.PositionOf[moved] = pos0 + 1
	}
	g.Participants = g.Participants[:last]
	delete(g.PositionOf, removed)
	return removed, nil
}

// ---- AppHash normalization ----

type playerKV struct {
	ID     string  `json:"id"`
	Player *Player `json:"player"`
}

type roundKV struct {
	Round uint64     `json:"round"`
	Info  *RoundInfo `json:"info"`
}

type requestKV struct {
	RequestID uint64 `json:"requestId"`
	Round     uint64 `json:"round"`
}

type normalizedGauntlet struct {
	GauntletState
	PositionOf   []playerPosKV `json:"positionOfNorm"`
	Players      []playerKV    `json:"playersNorm"`
	Rounds       []roundKV     `json:"roundsNorm"`
	RandRequests []requestKV   `json:"randRequestsNorm"`
}

type playerPosKV struct {
	ID  string `json:"id"`
	Pos uint64 `json:"pos"`
}

func normalizeGauntlet(g *GauntletState) *normalizedGauntlet {
	if g == nil {
		return nil
	}
	out := &normalizedGauntlet{GauntletState: *g}
	// Shadow the map fields so json sees only the sorted projections.
	out.GauntletState.PositionOf = nil
	out.GauntletState.Players = nil
	out.GauntletState.Rounds = nil
	out.GauntletState.RandRequests = nil

	for id, pos := range g.PositionOf {
		out.PositionOf = append(out.PositionOf, playerPosKV{ID: id, Pos: pos})
	}
	sort.Slice(out.PositionOf, func(i, j int) bool { return out.PositionOf[i].ID < out.PositionOf[j].ID })

	for id, p := range g.Players {
		out.Players = append(out.Players, playerKV{ID: id, Player: p})
	}
	sort.Slice(out.Players, func(i, j int) bool { return out.Players[i].ID < out.Players[j].ID })

	for r, info := range g.Rounds {
		out.Rounds = append(out.Rounds, roundKV{Round: r, Info: info})
	}
	sort.Slice(out.Rounds, func(i, j int) bool { return out.Rounds[i].Round < out.Rounds[j].Round })

	for id, r := range g.RandRequests {
		out.RandRequests = append(out.RandRequests, requestKV{RequestID: id, Round: r})
	}
	sort.Slice(out.RandRequests, func(i, j int) bool { return out.RandRequests[i].RequestID < out.RandRequests[j].RequestID })

	return out
}
