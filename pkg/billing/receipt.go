package billing

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/egaugemx/tarifador/pkg/types"
)

// Tariff is the rate name printed on receipts.
const Tariff = "GDMTH"

var months = [...]string{"ENE", "FEB", "MAR", "ABR", "MAY", "JUN", "JUL", "AGO", "SEP", "OCT", "NOV", "DIC"}

func receiptDate(d types.Date) string {
	return fmt.Sprintf("%02d %s %02d", d.Day, months[d.Month-1], d.Year%100)
}

// Money formats d as pesos with thousands separators and two decimals.
func Money(d decimal.Decimal) string {
	return "$" + grouped(d.StringFixed(2))
}

// Quantity formats d with thousands separators and places decimals.
func Quantity(d decimal.Decimal, places int32) string {
	return grouped(d.StringFixed(places))
}

func grouped(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}

type line struct {
	label  string
	amount decimal.Decimal
	strong bool
}

func breakdown(inv types.Invoice) []line {
	lines := []line{
		{label: "Energía Base", amount: inv.CostBase},
		{label: "Energía Intermedia", amount: inv.CostIntermedio},
		{label: "Energía Punta", amount: inv.CostPunta},
		{label: "Capacidad", amount: inv.CostCapacity},
		{label: "Distribución", amount: inv.CostDistribution},
		{label: "Energía Total", amount: inv.Energy, strong: true},
		{label: "Cargo Fijo", amount: inv.FixedCharge},
		{label: "Subtotal", amount: inv.Subtotal, strong: true},
	}
	if inv.Lighting.IsPositive() {
		lines = append(lines,
			line{label: fmt.Sprintf("DAP %s%%", inv.Schedule.LightingPct.String()), amount: inv.Lighting},
			line{label: "Subtotal + DAP", amount: inv.SubtotalWithLighting, strong: true},
		)
	}
	return append(lines,
		line{label: fmt.Sprintf("IVA %s%%", inv.Schedule.VATRate.Mul(hundred).String()), amount: inv.VAT},
		line{label: "TOTAL", amount: inv.Total, strong: true},
	)
}

// RenderPDF renders inv as a CFE style receipt for the named customer.
func RenderPDF(inv types.Invoice, name string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetTextColor(11, 122, 75)
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, tr("COMISIÓN FEDERAL DE ELECTRICIDAD"), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr("SUMINISTRADOR DE SERVICIOS BÁSICOS"), "B", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 6, tr(name))
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Período: %s - %s | Tarifa: %s | Días: %d",
		receiptDate(inv.Start), receiptDate(inv.End), Tariff, inv.PeriodDays)))
	pdf.Ln(10)

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 7, "TOTAL A PAGAR:", "LTR", 1, "C", true, 0, "")
	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(11, 122, 75)
	pdf.CellFormat(0, 10, Money(inv.Total), "LBR", 1, "C", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "CONSUMOS Y DEMANDAS")
	pdf.Ln(7)
	for i, h := range []string{"Concepto", "Base", "Intermedio", "Punta"} {
		w := 40.0
		if i == 0 {
			w = 60
		}
		pdf.CellFormat(w, 6, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(60, 6, "Consumo (kWh)", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, Quantity(inv.KWhBase, 0), "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, Quantity(inv.KWhIntermedio, 0), "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, Quantity(inv.KWhPunta, 0), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.CellFormat(60, 6, "Demanda (kW)", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, Quantity(inv.MaxBase, 0), "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, Quantity(inv.MaxIntermedio, 0), "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, Quantity(inv.MaxPunta, 0), "1", 0, "R", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "DESGLOSE DE COSTOS")
	pdf.Ln(7)
	pdf.CellFormat(120, 6, "Concepto", "1", 0, "C", true, 0, "")
	pdf.CellFormat(60, 6, "Importe", "1", 1, "C", true, 0, "")
	for _, l := range breakdown(inv) {
		style := ""
		if l.strong {
			style = "B"
		}
		pdf.SetFont("Arial", style, 10)
		pdf.CellFormat(120, 6, tr(l.label), "1", 0, "L", l.strong, 0, "")
		pdf.CellFormat(60, 6, Money(l.amount), "1", 1, "R", l.strong, 0, "")
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(102, 102, 102)
	pdf.CellFormat(0, 5, fmt.Sprintf("Demanda facturable: %s kW | Lecturas: %d | Excluidas: %d",
		Quantity(inv.BillableDemand, 2), inv.Readings, inv.Excluded), "", 1, "C", false, 0, "")
	if !inv.CreatedAt.IsZero() {
		pdf.CellFormat(0, 5, "Generado: "+inv.CreatedAt.Format(time.RFC3339), "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderXLSX renders inv as a workbook with a summary sheet and a breakdown
// sheet.
func RenderXLSX(inv types.Invoice, name string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary := "resumen"
	detail := "desglose"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(detail); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Recibo CFE", name},
		{"Tarifa", Tariff},
		{"Inicio", inv.Start.String()},
		{"Fin", inv.End.String()},
		{"Días", inv.PeriodDays},
		{},
		{"Concepto", "Base", "Intermedio", "Punta"},
		{"Consumo (kWh)", inv.KWhBase.InexactFloat64(), inv.KWhIntermedio.InexactFloat64(), inv.KWhPunta.InexactFloat64()},
		{"Demanda (kW)", inv.MaxBase.InexactFloat64(), inv.MaxIntermedio.InexactFloat64(), inv.MaxPunta.InexactFloat64()},
		{},
		{"Consumo total (kWh)", inv.TotalKWh.InexactFloat64()},
		{"Demanda facturable (kW)", inv.BillableDemand.InexactFloat64()},
		{"Demanda capacidad (kW)", inv.CapacityDemand.InexactFloat64()},
		{"Total", inv.Total.Round(2).InexactFloat64()},
	}
	if err := writeRows(f, summary, rows); err != nil {
		return nil, err
	}

	detailRows := [][]interface{}{{"Concepto", "Importe"}}
	for _, l := range breakdown(inv) {
		detailRows = append(detailRows, []interface{}{l.label, l.amount.Round(2).InexactFloat64()})
	}
	if err := writeRows(f, detail, detailRows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportReadings writes readings as one row per timestamp with the period and
// the given columns. Timestamps are written in loc.
func ExportReadings(readings []types.Reading, columns []string, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "lecturas"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	header := []interface{}{"timestamp", "tarifa"}
	for _, c := range columns {
		header = append(header, c)
	}
	rows := [][]interface{}{header}
	for _, r := range readings {
		row := []interface{}{r.Timestamp.In(loc).Format("2006-01-02 15:04:05"), r.Period.String()}
		for _, c := range columns {
			if v, ok := r.Values[c]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		rows = append(rows, row)
	}
	if err := writeRows(f, sheet, rows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render readings xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
