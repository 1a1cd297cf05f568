package core

import (
	"math/big"
	"testing"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

func powParent(number uint64, timestamp uint64, difficulty int64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Time:       timestamp,
		Difficulty: big.NewInt(difficulty),
	}
}

func TestByzantiumDifficultyFastBlock(t *testing.T) {
	parent := powParent(1_000_000, 1000, 2_000_000_000)

	// A block 5 seconds after the parent (bucket 0) raises difficulty by
	// parent/2048.
	got := CalcEthashDifficulty(Byzantium, parent, 1005, false, nil)
	want := big.NewInt(2_000_000_000 + 2_000_000_000/2048)
	if got.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestByzantiumDifficultySlowBlock(t *testing.T) {
	parent := powParent(1_000_000, 1000, 2_000_000_000)

	// 20 seconds: bucket 2, adjustment (1 - 2) = -1.
	got := CalcEthashDifficulty(Byzantium, parent, 1020, false, nil)
	want := big.NewInt(2_000_000_000 - 2_000_000_000/2048)
	if got.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestByzantiumDifficultyUncleBonus(t *testing.T) {
	parent := powParent(1_000_000, 1000, 2_000_000_000)

	without := CalcEthashDifficulty(Byzantium, parent, 1010, false, nil)
	with := CalcEthashDifficulty(Byzantium, parent, 1010, true, nil)
	diff := new(big.Int).Sub(with, without)
	if diff.Cmp(big.NewInt(2_000_000_000/2048)) != 0 {
		t.Fatalf("uncle bonus = %v, want %v", diff, 2_000_000_000/2048)
	}
}

func TestByzantiumDifficultyAdjustmentFloor(t *testing.T) {
	parent := powParent(1_000_000, 1000, 2_000_000_000)

	// A huge gap bottoms out the adjustment at -99.
	got := CalcEthashDifficulty(Byzantium, parent, 1000+9*1000, false, nil)
	want := big.NewInt(2_000_000_000 - 99*(2_000_000_000/2048))
	if got.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDifficultyMinimumClamp(t *testing.T) {
	parent := powParent(100, 1000, 135_000)
	min := big.NewInt(131072)

	got := CalcEthashDifficulty(Byzantium, parent, 1000+9*1000, false, min)
	if got.Cmp(min) != 0 {
		t.Fatalf("difficulty %v not clamped to minimum %v", got, min)
	}
}

func TestBombDelays(t *testing.T) {
	tests := []struct {
		fork  Hardfork
		delay uint64
	}{
		{Homestead, 0},
		{Byzantium, 3_000_000},
		{Constantinople, 5_000_000},
		{Istanbul, 5_000_000},
		{MuirGlacier, 9_000_000},
		{Berlin, 9_000_000},
		{London, 9_000_000},
		{ArrowGlacier, 10_700_000},
		{GrayGlacier, 11_400_000},
	}
	for _, tt := range tests {
		if got := bombDelayFor(tt.fork); got != tt.delay {
			t.Errorf("%s: delay = %d, want %d", tt.fork, got, tt.delay)
		}
	}
}

func TestBombDelayChangesDifficulty(t *testing.T) {
	// Deep into the bomb era the Arrow Glacier delay must yield a lower
	// difficulty than the Muir Glacier one for the same parent.
	parent := powParent(13_000_000, 1000, 10_000_000_000_000)

	muir := CalcEthashDifficulty(MuirGlacier, parent, 1013, false, nil)
	arrow := CalcEthashDifficulty(ArrowGlacier, parent, 1013, false, nil)
	if arrow.Cmp(muir) >= 0 {
		t.Fatalf("arrow glacier difficulty %v not below muir glacier %v", arrow, muir)
	}
}

func TestHomesteadDifficulty(t *testing.T) {
	parent := powParent(500_000, 1000, 2_000_000_000)

	// 5 seconds: bucket 0, adjustment +1.
	got := CalcEthashDifficulty(Homestead, parent, 1005, false, nil)
	want := big.NewInt(2_000_000_000 + 2_000_000_000/2048)
	if got.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", got, want)
	}
}
