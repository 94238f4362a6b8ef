package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/egaugemx/tarifador/pkg/billing"
	"github.com/egaugemx/tarifador/pkg/egauge"
	"github.com/egaugemx/tarifador/pkg/storage/storagemock"
	"github.com/egaugemx/tarifador/pkg/tariff"
	"github.com/egaugemx/tarifador/pkg/types"
)

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, c *tariff.Classifier, client types.Client, start, end time.Time) (egauge.Result, error) {
	args := m.Called(ctx, c, client, start, end)
	if len(args) > 0 {
		return args.Get(0).(egauge.Result), args.Error(1)
	}
	return egauge.Result{}, nil
}

func (m *mockDownloader) Step() int {
	return 3600
}

var testNow = time.Date(2024, time.August, 15, 12, 0, 0, 0, time.UTC)

// newTestServer returns a server with auth disabled, billing in Mexico City.
func newTestServer(t *testing.T) (*Server, *storagemock.MockDatabase, *mockDownloader) {
	t.Helper()
	c, err := tariff.NewClassifier("America/Mexico_City", tariff.MexicanHolidays(2024))
	require.NoError(t, err)

	db := new(storagemock.MockDatabase)
	dl := new(mockDownloader)
	srv := &Server{
		storage:    db,
		downloader: dl,
		classifier: c,
		schedule:   billing.DefaultRateSchedule(),
		bypassAuth: true,
		now:        func() time.Time { return testNow },
		newID:      func() string { return "inv-1" },
	}
	return srv, db, dl
}

var anyCtx = mock.Anything

func newRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, bytes.NewReader(body))
}
