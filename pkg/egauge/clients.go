package egauge

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/egaugemx/tarifador/pkg/types"
)

// DefaultSlug is used for names with no usable characters.
const DefaultSlug = "cliente_sin_nombre"

var slugReplacer = strings.NewReplacer(
	" ", "_", "-", "_", ".", "_", "(", "_", ")", "_", "[", "_", "]", "_",
	"&", "_", "@", "_", "#", "_", "$", "_", "%", "_", "^", "_", "*", "_",
	"+", "_", "=", "_", "|", "_",
)

// Slug turns a client name into an identifier: lower-case, special
// characters replaced by underscores, runs of underscores collapsed.
func Slug(name string) string {
	s := slugReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return DefaultSlug
	}
	return s
}

func newClient(name, rawURL string) (types.Client, bool) {
	name = strings.TrimSpace(name)
	rawURL = strings.TrimSpace(rawURL)
	if name == "" || rawURL == "" {
		return types.Client{}, false
	}
	return types.Client{
		ID:       Slug(name),
		Name:     name,
		Hostname: Hostname(rawURL),
		URL:      rawURL,
		Active:   true,
	}, true
}

// ParseClientList parses one "Nombre | URL" client per line. Lines without a
// separator or with an empty side are skipped.
func ParseClientList(text string) []types.Client {
	var out []types.Client
	for _, line := range strings.Split(text, "\n") {
		name, rawURL, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		if c, ok := newClient(name, rawURL); ok {
			out = append(out, c)
		}
	}
	return out
}

// ParseClientCSV parses a CSV with "nombre" and "url" columns.
func ParseClientCSV(r io.Reader) ([]types.Client, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read clients csv header: %w", err)
	}
	nameIdx, urlIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "nombre":
			nameIdx = i
		case "url":
			urlIdx = i
		}
	}
	if nameIdx < 0 || urlIdx < 0 {
		return nil, fmt.Errorf("clients csv needs nombre and url columns")
	}

	var out []types.Client
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read clients csv: %w", err)
		}
		if nameIdx >= len(record) || urlIdx >= len(record) {
			continue
		}
		if c, ok := newClient(record[nameIdx], record[urlIdx]); ok {
			out = append(out, c)
		}
	}
	return out, nil
}
