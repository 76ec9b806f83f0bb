package app

import (
	"fmt"

	"gauntletchain/internal/state"
)

const (
	// Prize share may never be configured below this floor.
	minPrizePoolPercent uint32 = 10

	maxBatchSize uint64 = 500

	// Defaults applied at gauntlet/init when the tx leaves fields zero.
	defaultRoundDurationBlocks     uint64 = 10
	defaultBatchSize               uint64 = 50
	defaultConfirmationDelayBlocks uint64 = 1
	defaultKeeperCallLimit         uint32 = 100
)

func defaultTokenomics() state.TokenomicsParams {
	return state.TokenomicsParams{
		DevPercent:      5,
		LpPercent:       5,
		BurnPercent:     10,
		SurvivorPercent: 30,
		PrizePercent:    50,
	}
}

func validateTokenomics(p state.TokenomicsParams) error {
	if p.Sum() != 100 {
		return fmt.Errorf("tokenomics percentages must sum to 100, got %d", p.Sum())
	}
	if p.PrizePercent < minPrizePoolPercent {
		return fmt.Errorf("prizePercent %d below floor %d", p.PrizePercent, minPrizePoolPercent)
	}
	return nil
}

// stakeSplit is the full accounting of one eliminated stake. The five shares
// plus Remainder always sum to exactly the input amount.
type stakeSplit struct {
	Dev       uint64
	Lp        uint64
	Burn      uint64
	Survivor  uint64
	Prize     uint64
	Remainder uint64
}

// splitStake computes the five truncating integer shares independently.
// Because the percentages sum to 100, the share total never exceeds the
// input; the truncation shortfall is routed to the prize pool by the caller
// via Remainder.
func splitStake(amount uint64, p state.TokenomicsParams) stakeSplit {
	s := stakeSplit{
		Dev:      mulDiv64(amount, uint64(p.DevPercent), 100),
		Lp:       mulDiv64(amount, uint64(p.LpPercent), 100),
		Burn:     mulDiv64(amount, uint64(p.BurnPercent), 100),
		Survivor: mulDiv64(amount, uint64(p.SurvivorPercent), 100),
		Prize:    mulDiv64(amount, uint64(p.PrizePercent), 100),
	}
	s.Remainder = amount - s.Dev - s.Lp - s.Burn - s.Survivor - s.Prize
	return s
}
