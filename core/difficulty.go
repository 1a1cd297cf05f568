package core

import (
	"math/big"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// Ethash difficulty bomb delays per fork, in blocks.
var bombDelays = []struct {
	fork  Hardfork
	delay uint64
}{
	{GrayGlacier, 11_400_000},
	{ArrowGlacier, 10_700_000},
	{MuirGlacier, 9_000_000},
	{Constantinople, 5_000_000},
	{Byzantium, 3_000_000},
}

var (
	big1        = big.NewInt(1)
	big2        = big.NewInt(2)
	big9        = big.NewInt(9)
	big10       = big.NewInt(10)
	bigNeg99    = big.NewInt(-99)
	diffDivisor = big.NewInt(2048)
)

// CalcEthashDifficulty computes the canonical proof-of-work difficulty of a
// child of parent at the given timestamp. Post-merge difficulty is always
// zero and is handled by the header builder, not here. The result is clamped
// below by minDifficulty.
func CalcEthashDifficulty(fork Hardfork, parent *types.Header, timestamp uint64, hasUncles bool, minDifficulty *big.Int) *big.Int {
	var diff *big.Int
	if fork.AtLeast(Byzantium) {
		diff = byzantiumDifficulty(fork, parent, timestamp, hasUncles)
	} else {
		diff = homesteadDifficulty(parent, timestamp)
	}
	if minDifficulty != nil && diff.Cmp(minDifficulty) < 0 {
		diff.Set(minDifficulty)
	}
	return diff
}

// byzantiumDifficulty implements the EIP-100 rule with the fork's bomb delay.
func byzantiumDifficulty(fork Hardfork, parent *types.Header, timestamp uint64, hasUncles bool) *big.Int {
	parentDiff := parent.Difficulty
	if parentDiff == nil {
		parentDiff = new(big.Int)
	}

	// adjustment = (2 if uncles else 1) - (time - parent.time) / 9,
	// floored at -99.
	x := new(big.Int).SetUint64(timestamp - parent.Time)
	x.Div(x, big9)
	if hasUncles {
		x.Sub(big2, x)
	} else {
		x.Sub(big1, x)
	}
	if x.Cmp(bigNeg99) < 0 {
		x.Set(bigNeg99)
	}

	y := new(big.Int).Div(parentDiff, diffDivisor)
	x.Mul(y, x)
	diff := new(big.Int).Add(parentDiff, x)
	if diff.Sign() < 0 {
		diff.SetInt64(0)
	}

	// Difficulty bomb on the delayed block number.
	fakeNumber := uint64(0)
	childNumber := parent.NumberU64() + 1
	if delay := bombDelayFor(fork); childNumber > delay {
		fakeNumber = childNumber - delay
	}
	if period := fakeNumber / 100_000; period >= 2 {
		bomb := new(big.Int).Lsh(big1, uint(period-2))
		diff.Add(diff, bomb)
	}
	return diff
}

// homesteadDifficulty is the pre-EIP-100 rule with an undelayed bomb.
func homesteadDifficulty(parent *types.Header, timestamp uint64) *big.Int {
	parentDiff := parent.Difficulty
	if parentDiff == nil {
		parentDiff = new(big.Int)
	}

	x := new(big.Int).SetUint64(timestamp - parent.Time)
	x.Div(x, big10)
	x.Sub(big1, x)
	if x.Cmp(bigNeg99) < 0 {
		x.Set(bigNeg99)
	}

	y := new(big.Int).Div(parentDiff, diffDivisor)
	x.Mul(y, x)
	diff := new(big.Int).Add(parentDiff, x)
	if diff.Sign() < 0 {
		diff.SetInt64(0)
	}

	if period := (parent.NumberU64() + 1) / 100_000; period >= 2 {
		bomb := new(big.Int).Lsh(big1, uint(period-2))
		diff.Add(diff, bomb)
	}
	return diff
}

func bombDelayFor(fork Hardfork) uint64 {
	for _, bd := range bombDelays {
		if fork.AtLeast(bd.fork) {
			return bd.delay
		}
	}
	return 0
}
