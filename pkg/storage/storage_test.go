package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaugemx/tarifador/pkg/types"
)

// testDatabase exercises a freshly created, empty Database.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()
	suffix := fmt.Sprint(time.Now().UnixNano())
	planta := "planta_norte_" + suffix
	oficina := "oficina_" + suffix

	t.Run("EmptyClientID", func(t *testing.T) {
		_, err := db.GetClient(ctx, "")
		assert.ErrorContains(t, err, "clientID cannot be empty")
	})

	t.Run("UpsertClients", func(t *testing.T) {
		created, updated, err := db.UpsertClients(ctx, []types.Client{
			{ID: planta, Name: "Planta Norte", URL: "https://egauge1.egaug.es", Hostname: "egauge1"},
			{ID: oficina, Name: "Oficina", URL: "https://egauge2.egaug.es", Hostname: "egauge2"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.Equal(t, 0, updated)

		created, updated, err = db.UpsertClients(ctx, []types.Client{
			{ID: planta, Name: "Planta Norte", URL: "https://egauge9.egaug.es", Hostname: "egauge9"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, created)
		assert.Equal(t, 1, updated)

		c, err := db.GetClient(ctx, planta)
		require.NoError(t, err)
		assert.Equal(t, "egauge9", c.Hostname)
		assert.True(t, c.Active)
		assert.False(t, c.CreatedAt.IsZero())
	})

	t.Run("ClientNotFound", func(t *testing.T) {
		_, err := db.GetClient(ctx, "missing_"+suffix)
		assert.ErrorIs(t, err, ErrClientNotFound)
		assert.ErrorIs(t, db.SetClientActive(ctx, "missing_"+suffix, true), ErrClientNotFound)
		assert.ErrorIs(t, db.DeleteClient(ctx, "missing_"+suffix), ErrClientNotFound)
		err = db.UpsertReadings(ctx, "missing_"+suffix, []types.Reading{{Timestamp: time.Now(), Values: map[string]float64{"a": 1}}})
		assert.ErrorIs(t, err, ErrClientNotFound)
	})

	t.Run("Active", func(t *testing.T) {
		require.NoError(t, db.SetClientActive(ctx, oficina, false))

		active, err := db.ListClients(ctx, true)
		require.NoError(t, err)
		assert.True(t, hasClient(active, planta))
		assert.False(t, hasClient(active, oficina))

		all, err := db.ListClients(ctx, false)
		require.NoError(t, err)
		assert.True(t, hasClient(all, oficina))
	})

	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	t.Run("Readings", func(t *testing.T) {
		readings := []types.Reading{
			{Timestamp: base, Period: types.PeriodBase, Values: map[string]float64{"usage_kwh": 10}},
			{Timestamp: base.Add(time.Hour), Period: types.PeriodBase, Values: map[string]float64{"usage_kwh": 11, "grid": 3}},
			{Timestamp: base.Add(2 * time.Hour), Period: types.PeriodNone, Values: map[string]float64{"usage_kwh": 12}},
		}
		require.NoError(t, db.UpsertReadings(ctx, planta, readings))

		// replaces the reading at the same timestamp
		require.NoError(t, db.UpsertReadings(ctx, planta, []types.Reading{
			{Timestamp: base, Period: types.PeriodBase, Values: map[string]float64{"usage_kwh": 20}},
		}))

		got, err := db.GetReadings(ctx, planta, base, base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Timestamp.Equal(base))
		assert.Equal(t, 20.0, got[0].Values["usage_kwh"])
		assert.Equal(t, types.PeriodBase, got[1].Period)

		columns, err := db.ReadingColumns(ctx, planta)
		require.NoError(t, err)
		assert.Equal(t, []string{"grid", "usage_kwh"}, columns)

		stats, err := db.ReadingStats(ctx, planta)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Count)
		assert.True(t, stats.First.Equal(base))
		assert.True(t, stats.Last.Equal(base.Add(2*time.Hour)))

		stats, err = db.ReadingStats(ctx, oficina)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
	})

	t.Run("Invoices", func(t *testing.T) {
		inv := types.Invoice{
			ID:        "inv-" + suffix,
			ClientIDs: []string{planta},
			Column:    "usage_kwh",
			Start:     types.Date{Year: 2024, Month: time.July, Day: 1},
			End:       types.Date{Year: 2024, Month: time.July, Day: 31},
			CreatedAt: base,
			KWhBase:   decimal.RequireFromString("1000.5"),
			Total:     decimal.RequireFromString("2345.67"),
		}
		require.NoError(t, db.SaveInvoice(ctx, inv))

		got, err := db.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, inv.Start, got.Start)
		assert.True(t, inv.KWhBase.Equal(got.KWhBase))
		assert.True(t, inv.Total.Equal(got.Total))

		_, err = db.GetInvoice(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("BulkActions", func(t *testing.T) {
		n, err := db.BulkClientAction(ctx, types.ClientBulkDeleteInactive)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)
		_, err = db.GetClient(ctx, oficina)
		assert.ErrorIs(t, err, ErrClientNotFound)

		n, err = db.BulkClientAction(ctx, types.ClientBulkDeactivateAll)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)
		active, err := db.ListClients(ctx, true)
		require.NoError(t, err)
		assert.False(t, hasClient(active, planta))

		_, err = db.BulkClientAction(ctx, types.ClientBulkActivateAll)
		require.NoError(t, err)
		c, err := db.GetClient(ctx, planta)
		require.NoError(t, err)
		assert.True(t, c.Active)

		_, err = db.BulkClientAction(ctx, "explode")
		assert.ErrorContains(t, err, "unknown bulk action")
	})

	t.Run("DeleteClient", func(t *testing.T) {
		require.NoError(t, db.DeleteClient(ctx, planta))
		_, err := db.GetClient(ctx, planta)
		assert.ErrorIs(t, err, ErrClientNotFound)

		stats, err := db.ReadingStats(ctx, planta)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
	})
}

func hasClient(clients []types.Client, id string) bool {
	for _, c := range clients {
		if c.ID == id {
			return true
		}
	}
	return false
}
