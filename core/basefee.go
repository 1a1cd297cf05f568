package core

import (
	"math/big"

	"github.com/NomicFoundation/edr-sub001/core/types"
)

// CalcBaseFee applies the EIP-1559 update rule to the parent header under the
// given market params. Parents without a base fee (the fork boundary) yield
// the network initial base fee.
func CalcBaseFee(parent *types.Header, params BaseFeeParams) *big.Int {
	if parent.BaseFee == nil {
		return new(big.Int).Set(InitialBaseFee)
	}

	target := parent.GasLimit / params.ElasticityMultiplier
	parentBaseFee := parent.BaseFee

	switch {
	case parent.GasUsed == target:
		return new(big.Int).Set(parentBaseFee)

	case parent.GasUsed > target:
		// delta = max(1, baseFee * (used - target) / (target * denominator))
		delta := new(big.Int).SetUint64(parent.GasUsed - target)
		delta.Mul(delta, parentBaseFee)
		delta.Div(delta, new(big.Int).SetUint64(target))
		delta.Div(delta, new(big.Int).SetUint64(params.MaxChangeDenominator))
		if delta.Sign() == 0 {
			delta.SetUint64(1)
		}
		return new(big.Int).Add(parentBaseFee, delta)

	default:
		// delta = baseFee * (target - used) / (target * denominator),
		// saturating at zero.
		delta := new(big.Int).SetUint64(target - parent.GasUsed)
		delta.Mul(delta, parentBaseFee)
		delta.Div(delta, new(big.Int).SetUint64(target))
		delta.Div(delta, new(big.Int).SetUint64(params.MaxChangeDenominator))
		next := new(big.Int).Sub(parentBaseFee, delta)
		if next.Sign() < 0 {
			next.SetInt64(0)
		}
		return next
	}
}
