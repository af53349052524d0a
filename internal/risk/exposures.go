package risk

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ExposureBook holds caller-registered portfolio exposures keyed by
// currency. It only feeds the factory's portfolio context; alert state
// never lives here.
type ExposureBook struct {
	mu        sync.RWMutex
	exposures map[string]Exposure
}

// NewExposureBook constructs an empty book.
func NewExposureBook() *ExposureBook {
	return &ExposureBook{exposures: make(map[string]Exposure)}
}

// Register stores or replaces the exposure for a currency.
func (b *ExposureBook) Register(exp Exposure) error {
	if exp.Amount.IsZero() {
		return ErrInvalidThreshold
	}
	if exp.Direction != "long" && exp.Direction != "short" {
		return ErrInvalidThreshold
	}

	exp.Currency = strings.ToUpper(exp.Currency)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.exposures[exp.Currency] = exp
	return nil
}

// Lookup returns the exposure registered for a currency, if any.
func (b *ExposureBook) Lookup(currency string) (Exposure, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	exp, ok := b.exposures[strings.ToUpper(currency)]
	return exp, ok
}

// Negligible reports whether the registered exposure is too small to act
// on; the factory caps urgency at this_week for such currencies.
func (b *ExposureBook) Negligible(currency string, floor decimal.Decimal) bool {
	exp, ok := b.Lookup(currency)
	if !ok {
		return false
	}
	return exp.Amount.Abs().LessThan(floor)
}
