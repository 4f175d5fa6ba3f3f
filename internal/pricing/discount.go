package pricing

import (
	"fmt"
	"time"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
	"github.com/shopspring/decimal"
)

// Discount computes how much to take off a base amount. Implementations never
// return a value outside [0, base].
type Discount interface {
	Apply(base int64) int64
}

type Percentage struct {
	Value int64
	Max   *int64
}

func (p Percentage) Apply(base int64) int64 {
	if base <= 0 || p.Value <= 0 {
		return 0
	}

	d := decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(p.Value)).
		Div(decimal.NewFromInt(100)).
		Truncate(0).
		IntPart()

	if p.Max != nil && d > *p.Max {
		d = *p.Max
	}

	return clamp(d, base)
}

type Fixed struct {
	Value int64
}

func (f Fixed) Apply(base int64) int64 {
	if base <= 0 {
		return 0
	}
	return clamp(f.Value, base)
}

func clamp(d, base int64) int64 {
	if d < 0 {
		return 0
	}
	if d > base {
		return base
	}
	return d
}

func FromPromotion(p *models.Promotion) (Discount, error) {
	switch p.DiscountType {
	case models.DiscountPercentage:
		return Percentage{Value: p.DiscountValue, Max: p.MaxValue}, nil
	case models.DiscountFixed:
		return Fixed{Value: p.DiscountValue}, nil
	default:
		return nil, fmt.Errorf("promotion %s: unknown discount type %q: %w", p.ID, p.DiscountType, database.ErrPromotionInvalid)
	}
}

// Validate checks that p can be used right now against referencePrice.
// joined reports whether the scope's join row (user or product) exists.
func Validate(p *models.Promotion, referencePrice int64, now time.Time, joined bool) error {
	if !joined {
		return fmt.Errorf("promotion %s not granted for this scope: %w", p.ID, database.ErrPromotionInvalid)
	}
	if now.Before(p.StartAt) || now.After(p.EndAt) {
		return fmt.Errorf("promotion %s outside validity window: %w", p.ID, database.ErrPromotionInvalid)
	}
	if referencePrice < p.MinOrderValue {
		return fmt.Errorf("promotion %s requires minimum %d, got %d: %w", p.ID, p.MinOrderValue, referencePrice, database.ErrPromotionInvalid)
	}
	if p.UsageLimit != nil && (p.RemainingUsage == nil || *p.RemainingUsage <= 0) {
		return fmt.Errorf("promotion %s: %w", p.ID, database.ErrPromotionExhausted)
	}
	return nil
}

// SettledPrice is the unit price after a line-level discount.
func SettledPrice(unitPrice int64, d Discount) int64 {
	if d == nil {
		return unitPrice
	}
	return unitPrice - d.Apply(unitPrice)
}
