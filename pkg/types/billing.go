package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSchedule holds the unit prices of one billing run. LightingPct is a
// percentage (2 means 2%) and VATRate a fraction (0.16 means 16%).
type RateSchedule struct {
	PriceBase         decimal.Decimal `json:"price_base" yaml:"price_base" validate:"gte=0"`
	PriceIntermedio   decimal.Decimal `json:"price_intermedio" yaml:"price_intermedio" validate:"gte=0"`
	PricePunta        decimal.Decimal `json:"price_punta" yaml:"price_punta" validate:"gte=0"`
	PriceCapacity     decimal.Decimal `json:"price_capacity" yaml:"price_capacity" validate:"gte=0"`
	PriceDistribution decimal.Decimal `json:"price_distribution" yaml:"price_distribution" validate:"gte=0"`
	FixedCharge       decimal.Decimal `json:"fixed_charge" yaml:"fixed_charge" validate:"gte=0"`
	LightingPct       decimal.Decimal `json:"lighting_pct" yaml:"lighting_pct" validate:"gte=0,lte=100"`
	VATRate           decimal.Decimal `json:"vat_rate" yaml:"vat_rate" validate:"gte=0,lte=1"`
}

// PeriodSummary holds the energy and peak demand of a single period.
type PeriodSummary struct {
	Period Period          `json:"period"`
	KWh    decimal.Decimal `json:"kwh"`
	Peak   decimal.Decimal `json:"peak"`
}

// Invoice is a GDMTH bill with every intermediate component so a receipt can
// show the full breakdown.
type Invoice struct {
	ID        string    `json:"id"`
	ClientIDs []string  `json:"clientIDs,omitempty"`
	Column    string    `json:"column,omitempty"`
	Start     Date      `json:"start"`
	End       Date      `json:"end"`
	CreatedAt time.Time `json:"createdAt"`

	PeriodDays int          `json:"dias_periodo"`
	Schedule   RateSchedule `json:"schedule"`

	KWhBase       decimal.Decimal `json:"kwh_base"`
	KWhIntermedio decimal.Decimal `json:"kwh_intermedio"`
	KWhPunta      decimal.Decimal `json:"kwh_punta"`
	MaxBase       decimal.Decimal `json:"max_base"`
	MaxIntermedio decimal.Decimal `json:"max_intermedio"`
	MaxPunta      decimal.Decimal `json:"max_punta"`

	TotalKWh            decimal.Decimal `json:"consumo_total"`
	DistributionCeiling decimal.Decimal `json:"formula_distribucion"`
	BillableDemand      decimal.Decimal `json:"demanda_facturable"`
	CapacityDemand      decimal.Decimal `json:"demanda_capacidad"`

	CostBase         decimal.Decimal `json:"costo_base"`
	CostIntermedio   decimal.Decimal `json:"costo_intermedio"`
	CostPunta        decimal.Decimal `json:"costo_punta"`
	CostCapacity     decimal.Decimal `json:"costo_capacidad"`
	CostDistribution decimal.Decimal `json:"costo_distribucion"`

	Energy               decimal.Decimal `json:"energia"`
	FixedCharge          decimal.Decimal `json:"cargo_fijo"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Lighting             decimal.Decimal `json:"dap"`
	SubtotalWithLighting decimal.Decimal `json:"subtotal_con_dap"`
	VAT                  decimal.Decimal `json:"iva"`
	Total                decimal.Decimal `json:"total"`

	// Readings is the number of records billed and Excluded the number
	// skipped for a missing period or value.
	Readings int `json:"lecturas"`
	Excluded int `json:"excluidas"`
}

// Summary returns the per-period energy and peaks in receipt order.
func (inv Invoice) Summary() []PeriodSummary {
	return []PeriodSummary{
		{Period: PeriodBase, KWh: inv.KWhBase, Peak: inv.MaxBase},
		{Period: PeriodIntermedio, KWh: inv.KWhIntermedio, Peak: inv.MaxIntermedio},
		{Period: PeriodPunta, KWh: inv.KWhPunta, Peak: inv.MaxPunta},
	}
}
