package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaugemx/tarifador/pkg/types"
)

func record(p types.Period, v string) types.ReadingRecord {
	return types.ReadingRecord{Period: p, Value: decimal.NewNullDecimal(decimal.RequireFromString(v))}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "%s: want %s got %s", msg, want, got)
}

func TestComputeInvoice(t *testing.T) {
	readings := []types.ReadingRecord{
		record(types.PeriodBase, "600"),
		record(types.PeriodBase, "400"),
		record(types.PeriodIntermedio, "1000"),
		record(types.PeriodIntermedio, "1000"),
		record(types.PeriodPunta, "300"),
		record(types.PeriodPunta, "200"),
		record(types.PeriodNone, "999"),
		{Period: types.PeriodPunta},
	}
	schedule := DefaultRateSchedule()

	inv, err := ComputeInvoice(readings, schedule, 30)
	require.NoError(t, err)

	assertDecimal(t, "1000", inv.KWhBase, "kwh base")
	assertDecimal(t, "2000", inv.KWhIntermedio, "kwh intermedio")
	assertDecimal(t, "500", inv.KWhPunta, "kwh punta")
	assertDecimal(t, "600", inv.MaxBase, "max base")
	assertDecimal(t, "1000", inv.MaxIntermedio, "max intermedio")
	assertDecimal(t, "300", inv.MaxPunta, "max punta")
	assertDecimal(t, "3500", inv.TotalKWh, "total kwh")
	assert.Equal(t, 6, inv.Readings)
	assert.Equal(t, 2, inv.Excluded)

	// 3500 / (24 * 30 * 0.57) is well below the Punta peak
	ceiling := decimal.NewFromInt(3500).Div(decimal.RequireFromString("410.4"))
	assert.True(t, ceiling.Equal(inv.DistributionCeiling))
	assert.True(t, ceiling.Equal(inv.BillableDemand))
	assertDecimal(t, "1000", inv.CapacityDemand, "capacity demand")

	assertDecimal(t, "1200", inv.CostBase, "cost base")
	assertDecimal(t, "3960", inv.CostIntermedio, "cost intermedio")
	assertDecimal(t, "1160", inv.CostPunta, "cost punta")
	assertDecimal(t, "367150", inv.CostCapacity, "cost capacity")
	assert.True(t, ceiling.Mul(decimal.NewFromInt(100)).Equal(inv.CostDistribution))

	energy := decimal.NewFromInt(1200 + 3960 + 1160 + 367150).Add(inv.CostDistribution)
	assert.True(t, energy.Equal(inv.Energy))
	assert.True(t, energy.Add(decimal.RequireFromString("563.57")).Equal(inv.Subtotal))
	assert.True(t, inv.Lighting.IsZero())
	assert.True(t, inv.Subtotal.Equal(inv.SubtotalWithLighting))
	assert.True(t, inv.SubtotalWithLighting.Mul(decimal.RequireFromString("1.16")).Equal(inv.Total))
	assert.True(t, inv.Total.Equal(inv.SubtotalWithLighting.Add(inv.VAT)))
}

func TestComputeInvoicePuntaCapsDemand(t *testing.T) {
	inv, err := ComputeInvoice([]types.ReadingRecord{
		record(types.PeriodBase, "5000"),
		record(types.PeriodPunta, "2"),
	}, DefaultRateSchedule(), 1)
	require.NoError(t, err)

	assert.True(t, inv.DistributionCeiling.GreaterThan(inv.MaxPunta))
	assertDecimal(t, "2", inv.BillableDemand, "billable demand")
	assertDecimal(t, "5000", inv.CapacityDemand, "capacity demand")
}

func TestComputeInvoiceZeroPunta(t *testing.T) {
	inv, err := ComputeInvoice([]types.ReadingRecord{
		record(types.PeriodBase, "10"),
		record(types.PeriodIntermedio, "20"),
	}, DefaultRateSchedule(), 31)
	require.NoError(t, err)

	assert.True(t, inv.KWhPunta.IsZero())
	assert.True(t, inv.MaxPunta.IsZero())
	assert.True(t, inv.CostPunta.IsZero())
	assert.True(t, inv.BillableDemand.IsZero())
	assert.True(t, inv.CostDistribution.IsZero())
}

func TestComputeInvoiceEmpty(t *testing.T) {
	inv, err := ComputeInvoice(nil, DefaultRateSchedule(), 30)
	require.NoError(t, err)
	assert.True(t, inv.Energy.IsZero())
	assertDecimal(t, "563.57", inv.Subtotal, "subtotal")
	assertDecimal(t, "653.7412", inv.Total, "total")
}

func TestComputeInvoiceLighting(t *testing.T) {
	schedule := DefaultRateSchedule()
	schedule.LightingPct = decimal.NewFromInt(2)
	schedule.FixedCharge = decimal.NewFromInt(100)

	inv, err := ComputeInvoice([]types.ReadingRecord{record(types.PeriodBase, "100")}, schedule, 30)
	require.NoError(t, err)

	// capacity 100 * 367.15 + base 100 * 1.20, no Punta so no distribution
	assertDecimal(t, "36835", inv.Energy, "energy")
	assertDecimal(t, "36935", inv.Subtotal, "subtotal")
	assertDecimal(t, "738.7", inv.Lighting, "lighting")
	assertDecimal(t, "37673.7", inv.SubtotalWithLighting, "subtotal with lighting")
	assertDecimal(t, "6027.792", inv.VAT, "vat")
	assertDecimal(t, "43701.492", inv.Total, "total")
}

func TestComputeInvoiceErrors(t *testing.T) {
	for _, days := range []int{0, -3} {
		_, err := ComputeInvoice(nil, DefaultRateSchedule(), days)
		var perr *InvalidPeriodError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, days, perr.Days)
	}

	schedule := DefaultRateSchedule()
	schedule.PricePunta = decimal.NewFromInt(-1)
	_, err := ComputeInvoice(nil, schedule, 30)
	var serr *ScheduleError
	assert.True(t, errors.As(err, &serr))
}

func TestPeriodDays(t *testing.T) {
	d := func(y int, m time.Month, day int) types.Date { return types.Date{Year: y, Month: m, Day: day} }
	assert.Equal(t, 1, PeriodDays(d(2024, time.July, 1), d(2024, time.July, 1)))
	assert.Equal(t, 31, PeriodDays(d(2024, time.July, 1), d(2024, time.July, 31)))
	assert.Equal(t, 29, PeriodDays(d(2024, time.February, 1), d(2024, time.February, 29)))
	assert.Equal(t, 2, PeriodDays(d(2024, time.December, 31), d(2025, time.January, 1)))
	assert.Equal(t, 0, PeriodDays(d(2024, time.July, 2), d(2024, time.July, 1)))
}

func TestRecordsFor(t *testing.T) {
	ts := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	recs := RecordsFor([]types.Reading{
		{Timestamp: ts, Period: types.PeriodBase, Values: map[string]float64{"use_kw": 1.5}},
		{Timestamp: ts.Add(time.Hour), Period: types.PeriodBase, Values: map[string]float64{"gen_kw": 2}},
	}, "use_kw")
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Value.Valid)
	assertDecimal(t, "1.5", recs[0].Value.Decimal, "value")
	assert.Equal(t, types.PeriodBase, recs[0].Period)
	assert.False(t, recs[1].Value.Valid)
}

func TestLoadFactor(t *testing.T) {
	assertDecimal(t, "0.57", LoadFactor(), "load factor")

	inv, err := ComputeInvoice([]types.ReadingRecord{record(types.PeriodPunta, "100")}, DefaultRateSchedule(), 1)
	require.NoError(t, err)
	assert.False(t, inv.BillableDemand.IsZero())
}
