package billing

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/egaugemx/tarifador/pkg/types"
)

// ScheduleError reports an unusable rate schedule.
type ScheduleError struct {
	Err error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid rate schedule: %v", e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// DefaultRateSchedule returns the GDMTH prices used when no schedule is
// configured.
func DefaultRateSchedule() types.RateSchedule {
	return types.RateSchedule{
		PriceBase:         decimal.RequireFromString("1.20"),
		PriceIntermedio:   decimal.RequireFromString("1.98"),
		PricePunta:        decimal.RequireFromString("2.32"),
		PriceCapacity:     decimal.RequireFromString("367.15"),
		PriceDistribution: decimal.RequireFromString("100.00"),
		FixedCharge:       decimal.RequireFromString("563.57"),
		LightingPct:       decimal.Zero,
		VATRate:           decimal.RequireFromString("0.16"),
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func scheduleValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
			d, ok := v.Interface().(decimal.Decimal)
			if !ok {
				return nil
			}
			f, _ := d.Float64()
			return f
		}, decimal.Decimal{})
	})
	return validate
}

// ValidateSchedule checks that every price is non-negative, the lighting
// percentage is within [0, 100] and the VAT rate within [0, 1].
func ValidateSchedule(s types.RateSchedule) error {
	if err := scheduleValidator().Struct(s); err != nil {
		return &ScheduleError{Err: err}
	}
	return nil
}

// ParseRateSchedule decodes a YAML schedule. Fields that are absent keep the
// DefaultRateSchedule value.
func ParseRateSchedule(b []byte) (types.RateSchedule, error) {
	s := DefaultRateSchedule()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return types.RateSchedule{}, &ScheduleError{Err: err}
	}
	if err := ValidateSchedule(s); err != nil {
		return types.RateSchedule{}, err
	}
	return s, nil
}

// LoadRateSchedule reads a YAML schedule from path.
func LoadRateSchedule(path string) (types.RateSchedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.RateSchedule{}, fmt.Errorf("failed to read rate schedule: %w", err)
	}
	return ParseRateSchedule(b)
}
