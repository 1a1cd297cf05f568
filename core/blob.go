package core

import (
	"math/big"
)

// Blob gas constants (EIP-4844 / EIP-7918).
const (
	// GasPerBlob is the blob gas consumed by one blob.
	GasPerBlob = 131072

	// MinBlobBaseFee is the floor of the blob fee market.
	MinBlobBaseFee = 1

	// BlobBaseCost is the execution-gas reserve price constant of EIP-7918,
	// active from Osaka.
	BlobBaseCost = 1 << 13
)

// BlobParams describe the blob market of a fork or schedule entry.
type BlobParams struct {
	Target         uint64
	Max            uint64
	UpdateFraction uint64
}

// Per-fork default blob parameters.
var (
	CancunBlobParams = BlobParams{Target: 3, Max: 6, UpdateFraction: 3_338_477}
	PragueBlobParams = BlobParams{Target: 6, Max: 9, UpdateFraction: 5_007_716}
	OsakaBlobParams  = BlobParams{Target: 6, Max: 9, UpdateFraction: 5_007_716}
)

// ScheduledBlobParams is an EIP-7892 schedule entry: the params take effect
// for blocks whose timestamp is at or after the activation timestamp.
type ScheduledBlobParams struct {
	ActivationTimestamp uint64
	Params              BlobParams
}

// BlobParamsForHardfork resolves the blob params active for a block at the
// given timestamp. Pre-Osaka forks never consult the schedule; from Osaka the
// entry with the greatest activation timestamp at or before the block
// timestamp wins, falling back to the fork default.
func BlobParamsForHardfork(fork Hardfork, timestamp uint64, schedule []ScheduledBlobParams) BlobParams {
	def := defaultBlobParams(fork)
	if !fork.AtLeast(Osaka) {
		return def
	}
	best := def
	bestActivation := int64(-1)
	for _, entry := range schedule {
		if entry.ActivationTimestamp <= timestamp && int64(entry.ActivationTimestamp) > bestActivation {
			best = entry.Params
			bestActivation = int64(entry.ActivationTimestamp)
		}
	}
	return best
}

func defaultBlobParams(fork Hardfork) BlobParams {
	switch {
	case fork.AtLeast(Osaka):
		return OsakaBlobParams
	case fork.AtLeast(Prague):
		return PragueBlobParams
	default:
		return CancunBlobParams
	}
}

// NextBlockExcessBlobGas computes the child block's excess blob gas under
// the plain EIP-4844 rule:
//
//	max(0, parent.excess + parent.used - target*GasPerBlob)
func NextBlockExcessBlobGas(parentExcess, parentUsed uint64, params BlobParams) uint64 {
	target := params.Target * GasPerBlob
	if parentExcess+parentUsed < target {
		return 0
	}
	return parentExcess + parentUsed - target
}

// NextBlockExcessBlobGasOsaka computes the child block's excess blob gas
// under the EIP-7918 reserve-price rule active from Osaka. When execution
// gas is the binding cost (BlobBaseCost * baseFee exceeds the blob market
// price of a full blob), excess grows proportionally to usage above target
// instead of by the plain formula.
func NextBlockExcessBlobGasOsaka(parentExcess, parentUsed uint64, parentBaseFee *big.Int, params BlobParams) uint64 {
	target := params.Target * GasPerBlob
	if parentExcess+parentUsed < target {
		return 0
	}

	reserve := new(big.Int).Mul(big.NewInt(BlobBaseCost), parentBaseFee)
	blobPrice := new(big.Int).Mul(
		new(big.Int).SetUint64(GasPerBlob),
		CalcBlobFee(parentExcess, params),
	)
	if reserve.Cmp(blobPrice) > 0 {
		if params.Max == 0 {
			return parentExcess
		}
		return parentExcess + parentUsed*(params.Max-params.Target)/params.Max
	}
	return parentExcess + parentUsed - target
}

// CalcBlobFee derives the blob base fee from excess blob gas using the
// canonical fake exponential with the params' update fraction.
func CalcBlobFee(excessBlobGas uint64, params BlobParams) *big.Int {
	return fakeExponential(
		big.NewInt(MinBlobBaseFee),
		new(big.Int).SetUint64(excessBlobGas),
		new(big.Int).SetUint64(params.UpdateFraction),
	)
}

// fakeExponential approximates factor * e^(numerator/denominator) using
// Taylor expansion with integer arithmetic, per EIP-4844.
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	output := new(big.Int)
	accum := new(big.Int).Mul(factor, denominator)
	for i := int64(1); accum.Sign() > 0; i++ {
		output.Add(output, accum)
		accum.Mul(accum, numerator)
		accum.Div(accum, denominator)
		accum.Div(accum, big.NewInt(i))
	}
	return output.Div(output, denominator)
}
