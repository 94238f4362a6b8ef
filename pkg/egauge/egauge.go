package egauge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/egaugemx/tarifador/pkg/common"
	"github.com/egaugemx/tarifador/pkg/log"
)

// ErrEmptyResponse is returned when a meter answers with an empty body.
var ErrEmptyResponse = errors.New("egauge returned an empty response")

// URL returns the CSV export URL of the step-second interval starting at ts
// on hostname. hostname may be a full URL.
func URL(hostname string, ts int64, step int) string {
	return fmt.Sprintf(
		"https://%s/cgi-bin/egauge-show?E&c&S&s=%d&n=1&f=%d&F=data.csv&C&Z=LST6",
		Hostname(hostname), step, ts,
	)
}

// Hostname returns the host of raw when it is a URL and raw trimmed
// otherwise.
func Hostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimRight(raw, "/")
}

// Client downloads CSV exports from eGauge meters.
type Client struct {
	client *http.Client
}

// NewClient returns a Client using httpClient.
func NewClient(httpClient *http.Client) *Client {
	return &Client{client: httpClient}
}

// Fetch downloads the export of the interval starting at ts.
func (c *Client) Fetch(ctx context.Context, hostname string, ts int64, step int) ([]byte, error) {
	u := URL(hostname, ts, step)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv,application/csv")

	log.Ctx(ctx).DebugContext(ctx, "fetching egauge csv", slog.String("url", u))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch egauge csv: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("egauge returned status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read egauge csv: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}
	return body, nil
}

// Configured registers the eGauge flags and returns the Downloader they
// configure.
func Configured() *Downloader {
	d := &Downloader{}
	timeout := lflag.Duration("egauge-timeout", 30*time.Second, "Timeout of a single eGauge CSV download")
	workers := lflag.Int("egauge-workers", 10, "Number of concurrent eGauge downloads per client")
	step := lflag.Int("egauge-step", 3600, "Seconds covered by each eGauge CSV download")

	lflag.Do(func() {
		if *workers < 1 {
			panic(fmt.Errorf("egauge-workers must be positive: %d", *workers))
		}
		if *step < 1 {
			panic(fmt.Errorf("egauge-step must be positive: %d", *step))
		}
		d.client = NewClient(common.HTTPClient(*timeout))
		d.workers = *workers
		d.step = *step
	})
	return d
}
