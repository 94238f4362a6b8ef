package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/egaugemx/tarifador/pkg/types"
)

var (
	loadFactor  = decimal.RequireFromString("0.57")
	hundred     = decimal.NewFromInt(100)
	hoursPerDay = decimal.NewFromInt(24)
)

// LoadFactor returns the CFE load factor used by the distribution demand
// ceiling.
func LoadFactor() decimal.Decimal {
	return loadFactor
}

// InvalidPeriodError is returned for a billing period without days.
type InvalidPeriodError struct {
	Days int
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid billing period: %d days", e.Days)
}

// PeriodDays returns the number of calendar days in [start, end], or zero
// when end is before start.
func PeriodDays(start, end types.Date) int {
	if end.Before(start) {
		return 0
	}
	return int(end.In(time.UTC).Sub(start.In(time.UTC)).Hours()/24) + 1
}

// RecordsFor extracts column from readings. A reading without the column
// yields a null value.
func RecordsFor(readings []types.Reading, column string) []types.ReadingRecord {
	out := make([]types.ReadingRecord, len(readings))
	for i, r := range readings {
		rec := types.ReadingRecord{Timestamp: r.Timestamp, Period: r.Period}
		if v, ok := r.Values[column]; ok {
			rec.Value = decimal.NewNullDecimal(decimal.NewFromFloat(v))
		}
		out[i] = rec
	}
	return out
}

// ComputeInvoice aggregates readings per period and applies schedule. Records
// without a period or value are counted as excluded.
func ComputeInvoice(readings []types.ReadingRecord, schedule types.RateSchedule, periodDays int) (types.Invoice, error) {
	if periodDays <= 0 {
		return types.Invoice{}, &InvalidPeriodError{Days: periodDays}
	}
	if err := ValidateSchedule(schedule); err != nil {
		return types.Invoice{}, err
	}

	inv := types.Invoice{
		PeriodDays: periodDays,
		Schedule:   schedule,
	}
	sums := map[types.Period]decimal.Decimal{}
	peaks := map[types.Period]decimal.Decimal{}
	for _, r := range readings {
		if !r.Period.Valid() || !r.Value.Valid {
			inv.Excluded++
			continue
		}
		inv.Readings++
		sums[r.Period] = sums[r.Period].Add(r.Value.Decimal)
		if peak, ok := peaks[r.Period]; !ok || r.Value.Decimal.GreaterThan(peak) {
			peaks[r.Period] = r.Value.Decimal
		}
	}

	inv.KWhBase = sums[types.PeriodBase]
	inv.KWhIntermedio = sums[types.PeriodIntermedio]
	inv.KWhPunta = sums[types.PeriodPunta]
	inv.MaxBase = peaks[types.PeriodBase]
	inv.MaxIntermedio = peaks[types.PeriodIntermedio]
	inv.MaxPunta = peaks[types.PeriodPunta]

	inv.TotalKWh = inv.KWhBase.Add(inv.KWhIntermedio).Add(inv.KWhPunta)
	hours := hoursPerDay.Mul(decimal.NewFromInt(int64(periodDays))).Mul(loadFactor)
	inv.DistributionCeiling = inv.TotalKWh.Div(hours)
	inv.BillableDemand = decimal.Min(inv.MaxPunta, inv.DistributionCeiling)
	inv.CapacityDemand = decimal.Max(inv.MaxBase, inv.MaxIntermedio, inv.MaxPunta)

	inv.CostBase = inv.KWhBase.Mul(schedule.PriceBase)
	inv.CostIntermedio = inv.KWhIntermedio.Mul(schedule.PriceIntermedio)
	inv.CostPunta = inv.KWhPunta.Mul(schedule.PricePunta)
	inv.CostCapacity = inv.CapacityDemand.Mul(schedule.PriceCapacity)
	inv.CostDistribution = inv.BillableDemand.Mul(schedule.PriceDistribution)

	inv.Energy = inv.CostBase.
		Add(inv.CostIntermedio).
		Add(inv.CostPunta).
		Add(inv.CostCapacity).
		Add(inv.CostDistribution)
	inv.FixedCharge = schedule.FixedCharge
	inv.Subtotal = inv.Energy.Add(inv.FixedCharge)
	inv.Lighting = inv.Subtotal.Mul(schedule.LightingPct).Div(hundred)
	inv.SubtotalWithLighting = inv.Subtotal.Add(inv.Lighting)
	inv.VAT = inv.SubtotalWithLighting.Mul(schedule.VATRate)
	inv.Total = inv.SubtotalWithLighting.Add(inv.VAT)
	return inv, nil
}
