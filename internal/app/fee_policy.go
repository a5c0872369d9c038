package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	FeeModeFlat    = "flat"
	FeeModePercent = "percent"

	DefaultTransferFee = int64(5000) // 50 NGN in kobo
)

// FeePolicy prices a transfer. It is consulted before the atomic section so fee
// changes never touch the concurrency-critical code.
type FeePolicy interface {
	FeeFor(amount int64) int64
}

// FlatFee charges the same fee on every transfer.
type FlatFee struct {
	Fee int64
}

func (f FlatFee) FeeFor(amount int64) int64 {
	if f.Fee < 0 {
		return 0
	}
	return f.Fee
}

// PercentageFee charges Percent of the amount, rounded half-up to the kobo and
// clamped to [Min, Cap]. A zero Cap means uncapped.
type PercentageFee struct {
	Percent decimal.Decimal
	Min     int64
	Cap     int64
}

func (p PercentageFee) FeeFor(amount int64) int64 {
	fee := decimal.NewFromInt(amount).Mul(p.Percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	if fee < p.Min {
		fee = p.Min
	}
	if p.Cap > 0 && fee > p.Cap {
		fee = p.Cap
	}
	if fee < 0 {
		return 0
	}
	return fee
}

// NewFeePolicy builds the policy named by mode. For percent mode flatFee acts as the
// minimum charge.
func NewFeePolicy(mode string, flatFee int64, percent float64, capFee int64) (FeePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", FeeModeFlat:
		return FlatFee{Fee: flatFee}, nil
	case FeeModePercent:
		if percent <= 0 || percent >= 100 {
			return nil, fmt.Errorf("transfer fee percent must be between 0 and 100, got %v", percent)
		}
		return PercentageFee{Percent: decimal.NewFromFloat(percent), Min: flatFee, Cap: capFee}, nil
	default:
		return nil, fmt.Errorf("unknown transfer fee mode %q", mode)
	}
}
