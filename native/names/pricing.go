package names

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

const (
	// DefaultMaxQuoteAge bounds how old a quote may be at payment time.
	DefaultMaxQuoteAge = 60 * time.Second
	// MaxQuoteFutureSkew tolerates publishers whose clocks run slightly ahead.
	MaxQuoteFutureSkew = 5 * time.Second
	// DefaultNativeBaseUnits is the number of base units per native unit.
	DefaultNativeBaseUnits uint64 = 1_000_000_000
	// DefaultFeedID is the SOL/USD price feed.
	DefaultFeedID = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

	// maxExponent keeps 10^|e| comfortably inside 256 bits.
	maxExponent = 64
)

// PriceQuote is an exchange-rate observation: price * 10^Exponent USD per
// native unit, published at PublishedAt (unix seconds).
type PriceQuote struct {
	Price       int64  `json:"price"`
	Exponent    int32  `json:"exponent"`
	PublishedAt int64  `json:"publishedAt"`
	FeedID      string `json:"feedId"`
}

// Pricer converts USD-cent prices into native base units.
type Pricer struct {
	MaxQuoteAge     time.Duration
	NativeBaseUnits uint64
	FeedID          string
}

// DefaultPricer returns the pricing policy used when none is configured.
func DefaultPricer() Pricer {
	return Pricer{
		MaxQuoteAge:     DefaultMaxQuoteAge,
		NativeBaseUnits: DefaultNativeBaseUnits,
		FeedID:          DefaultFeedID,
	}
}

// Normalise fills zero fields with defaults.
func (p Pricer) Normalise() Pricer {
	if p.MaxQuoteAge <= 0 {
		p.MaxQuoteAge = DefaultMaxQuoteAge
	}
	if p.NativeBaseUnits == 0 {
		p.NativeBaseUnits = DefaultNativeBaseUnits
	}
	p.FeedID = normaliseFeedID(p.FeedID)
	return p
}

func normaliseFeedID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}

// CheckQuote validates freshness and sanity of a quote observed at now.
func CheckQuote(q PriceQuote, now int64, maxAge time.Duration) error {
	if q.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %d", ErrInvalidPriceFeed, q.Price)
	}
	if q.PublishedAt > now {
		if q.PublishedAt-now > int64(MaxQuoteFutureSkew/time.Second) {
			return fmt.Errorf("%w: quote published %ds in the future", ErrInvalidPriceFeed, q.PublishedAt-now)
		}
		return nil
	}
	if maxAge > 0 {
		if age := now - q.PublishedAt; age > int64(maxAge/time.Second) {
			return fmt.Errorf("%w: quote is stale (%ds old, max %s)", ErrInvalidPriceFeed, age, maxAge)
		}
	}
	return nil
}

// ComputeFee returns the native base units owed for years of registration at
// basePriceCents per year. Truncation is floor, applied once to the per-year
// amount, so the fee is exactly linear in years.
func (p Pricer) ComputeFee(basePriceCents, years uint64, q PriceQuote, now int64) (uint64, error) {
	if err := ValidateYears(years); err != nil {
		return 0, err
	}
	p = p.Normalise()
	if p.FeedID != "" && normaliseFeedID(q.FeedID) != p.FeedID {
		return 0, fmt.Errorf("%w: unexpected feed %q", ErrInvalidPriceFeed, q.FeedID)
	}
	if err := CheckQuote(q, now, p.MaxQuoteAge); err != nil {
		return 0, err
	}
	perYear, err := perYearFee(basePriceCents, p.NativeBaseUnits, q.Price, q.Exponent)
	if err != nil {
		return 0, err
	}
	total, overflow := new(uint256.Int).MulOverflow(perYear, uint256.NewInt(years))
	if overflow || !total.IsUint64() {
		return 0, ErrMathOverflow
	}
	return total.Uint64(), nil
}

// perYearFee computes floor(cents * baseUnits / (price * 10^expo * 100)),
// moving the power of ten to the numerator when expo is negative.
func perYearFee(cents, baseUnits uint64, price int64, expo int32) (*uint256.Int, error) {
	if expo > maxExponent || expo < -maxExponent {
		return nil, fmt.Errorf("%w: exponent %d out of range", ErrMathOverflow, expo)
	}
	scale, err := pow10(uint(abs32(expo)))
	if err != nil {
		return nil, err
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(cents), uint256.NewInt(baseUnits))
	if overflow {
		return nil, ErrMathOverflow
	}
	den, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(price)), uint256.NewInt(100))
	if overflow {
		return nil, ErrMathOverflow
	}
	if expo <= 0 {
		if num, overflow = new(uint256.Int).MulOverflow(num, scale); overflow {
			return nil, ErrMathOverflow
		}
	} else {
		if den, overflow = new(uint256.Int).MulOverflow(den, scale); overflow {
			return nil, ErrMathOverflow
		}
	}
	perYear := new(uint256.Int).Div(num, den)
	if !perYear.IsUint64() {
		return nil, ErrMathOverflow
	}
	return perYear, nil
}

func pow10(n uint) (*uint256.Int, error) {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint(0); i < n; i++ {
		var overflow bool
		if out, overflow = new(uint256.Int).MulOverflow(out, ten); overflow {
			return nil, ErrMathOverflow
		}
	}
	return out, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
