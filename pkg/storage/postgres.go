package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/levenlabs/go-lflag"

	"github.com/egaugemx/tarifador/pkg/types"
)

const (
	tableClients  = "clients"
	tableReadings = "readings"
	tableInvoices = "invoices"

	pgForeignKeyViolation = "23503"
)

var clientColumns = []string{"id", "name", "hostname", "url", "active", "created_at", "updated_at"}

//go:embed schema.sql
var schema string

// PostgresProvider implements Database on PostgreSQL. Reading values are kept
// in a JSONB column and invoices as a JSONB document.
type PostgresProvider struct {
	dsn  string
	pool *pgxpool.Pool
	now  func() time.Time
}

func configuredPostgres() *PostgresProvider {
	dsn := lflag.String("postgres-dsn", "", "PostgreSQL connection string")

	p := &PostgresProvider{now: time.Now}
	lflag.Do(func() {
		p.dsn = *dsn
	})
	return p
}

// Validate checks if the provider is properly configured.
func (p *PostgresProvider) Validate() error {
	if p.dsn == "" {
		return errors.New("postgres-dsn is required")
	}
	return nil
}

// Init connects and creates the tables if they don't exist.
func (p *PostgresProvider) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	p.pool = pool
	if p.now == nil {
		p.now = time.Now
	}
	return nil
}

// Close closes the pool.
func (p *PostgresProvider) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func wrapErr(err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrClientNotFound
	}
	return err
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func exec(ctx context.Context, q queryer, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func queryRow(ctx context.Context, q queryer, b sq.Sqlizer, dest ...any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return q.QueryRow(ctx, query, args...).Scan(dest...)
}

func scanClient(row pgx.Row) (types.Client, error) {
	var c types.Client
	err := row.Scan(&c.ID, &c.Name, &c.Hostname, &c.URL, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

// UpsertClients inserts or updates all clients in one transaction.
func (p *PostgresProvider) UpsertClients(ctx context.Context, clients []types.Client) (int, int, error) {
	var created, updated int
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		now := p.now().UTC()
		for _, c := range clients {
			if err := validateClientID(c.ID); err != nil {
				return err
			}
			query := builder().Insert(tableClients).
				Columns(clientColumns...).
				Values(c.ID, c.Name, c.Hostname, c.URL, true, now, now).
				Suffix(`ON CONFLICT (id) DO UPDATE SET name = excluded.name, hostname = excluded.hostname, url = excluded.url, active = TRUE, updated_at = excluded.updated_at RETURNING (xmax = 0)`)
			var inserted bool
			if err := queryRow(ctx, tx, query, &inserted); err != nil {
				return fmt.Errorf("failed to upsert client %s: %w", c.ID, err)
			}
			if inserted {
				created++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

// ListClients returns clients ordered by name.
func (p *PostgresProvider) ListClients(ctx context.Context, activeOnly bool) ([]types.Client, error) {
	q := builder().Select(clientColumns...).From(tableClients).OrderBy("name", "id")
	if activeOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []types.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// GetClient returns a single client.
func (p *PostgresProvider) GetClient(ctx context.Context, clientID string) (types.Client, error) {
	if err := validateClientID(clientID); err != nil {
		return types.Client{}, err
	}
	query, args, err := builder().Select(clientColumns...).From(tableClients).Where(sq.Eq{"id": clientID}).ToSql()
	if err != nil {
		return types.Client{}, fmt.Errorf("failed to build query: %w", err)
	}
	c, err := scanClient(p.pool.QueryRow(ctx, query, args...))
	if err != nil {
		err = wrapErr(err, ErrClientNotFound)
		if errors.Is(err, ErrClientNotFound) {
			return types.Client{}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return types.Client{}, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	return c, nil
}

// SetClientActive activates or deactivates a client.
func (p *PostgresProvider) SetClientActive(ctx context.Context, clientID string, active bool) error {
	if err := validateClientID(clientID); err != nil {
		return err
	}
	n, err := exec(ctx, p.pool, builder().Update(tableClients).
		Set("active", active).
		Set("updated_at", p.now().UTC()).
		Where(sq.Eq{"id": clientID}))
	if err != nil {
		return fmt.Errorf("failed to update client %s: %w", clientID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return nil
}

// DeleteClient deletes the client. Readings go with it through the
// foreign key.
func (p *PostgresProvider) DeleteClient(ctx context.Context, clientID string) error {
	if err := validateClientID(clientID); err != nil {
		return err
	}
	n, err := exec(ctx, p.pool, builder().Delete(tableClients).Where(sq.Eq{"id": clientID}))
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return nil
}

// BulkClientAction applies action to every matching client and returns the
// number of clients affected.
func (p *PostgresProvider) BulkClientAction(ctx context.Context, action types.ClientBulkAction) (int, error) {
	var b sq.Sqlizer
	switch action {
	case types.ClientBulkActivateAll:
		b = builder().Update(tableClients).Set("active", true).Set("updated_at", p.now().UTC()).Where(sq.Eq{"active": false})
	case types.ClientBulkDeactivateAll:
		b = builder().Update(tableClients).Set("active", false).Set("updated_at", p.now().UTC()).Where(sq.Eq{"active": true})
	case types.ClientBulkDeleteInactive:
		b = builder().Delete(tableClients).Where(sq.Eq{"active": false})
	default:
		return 0, fmt.Errorf("unknown bulk action: %q", action)
	}
	n, err := exec(ctx, p.pool, b)
	if err != nil {
		return 0, fmt.Errorf("bulk action %s failed: %w", action, err)
	}
	return int(n), nil
}

// UpsertReadings sends all readings in a single batch.
func (p *PostgresProvider) UpsertReadings(ctx context.Context, clientID string, readings []types.Reading) error {
	if err := validateClientID(clientID); err != nil {
		return err
	}
	if len(readings) == 0 {
		if _, err := p.GetClient(ctx, clientID); err != nil {
			return err
		}
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		vals, err := json.Marshal(r.Values)
		if err != nil {
			return fmt.Errorf("failed to marshal reading values: %w", err)
		}
		query, args, err := builder().Insert(tableReadings).
			Columns("client_id", "ts", "period", "degraded", "vals").
			Values(clientID, r.Timestamp.UTC(), r.Period.String(), r.Degraded, string(vals)).
			Suffix(`ON CONFLICT (client_id, ts) DO UPDATE SET period = excluded.period, degraded = excluded.degraded, vals = excluded.vals`).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}
		batch.Queue(query, args...)
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		err = wrapErr(err, ErrClientNotFound)
		if errors.Is(err, ErrClientNotFound) {
			return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return fmt.Errorf("failed to upsert readings: %w", err)
	}
	return nil
}

// GetReadings returns readings in [start, end) ordered by timestamp.
func (p *PostgresProvider) GetReadings(ctx context.Context, clientID string, start, end time.Time) ([]types.Reading, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	query, args, err := builder().Select("ts", "period", "degraded", "vals").
		From(tableReadings).
		Where(sq.Eq{"client_id": clientID}).
		Where(sq.GtOrEq{"ts": start.UTC()}).
		Where(sq.Lt{"ts": end.UTC()}).
		OrderBy("ts").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}
	defer rows.Close()

	var readings []types.Reading
	for rows.Next() {
		var (
			r      types.Reading
			period string
			vals   []byte
		)
		if err := rows.Scan(&r.Timestamp, &period, &r.Degraded, &vals); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		if r.Period, err = types.ParsePeriod(period); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(vals, &r.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reading values: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// ReadingColumns returns the sorted set of value keys across all readings.
func (p *PostgresProvider) ReadingColumns(ctx context.Context, clientID string) ([]string, error) {
	if _, err := p.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT jsonb_object_keys(vals) AS col FROM `+tableReadings+` WHERE client_id = $1 ORDER BY col`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get reading columns: %w", err)
	}
	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan reading columns: %w", err)
	}
	return columns, nil
}

// ReadingStats counts the client's readings and finds the first and last.
func (p *PostgresProvider) ReadingStats(ctx context.Context, clientID string) (types.ReadingStats, error) {
	if err := validateClientID(clientID); err != nil {
		return types.ReadingStats{}, err
	}
	var (
		stats       types.ReadingStats
		first, last *time.Time
	)
	err := queryRow(ctx, p.pool, builder().Select("count(*)", "min(ts)", "max(ts)").
		From(tableReadings).
		Where(sq.Eq{"client_id": clientID}), &stats.Count, &first, &last)
	if err != nil {
		return types.ReadingStats{}, fmt.Errorf("failed to get reading stats: %w", err)
	}
	if first != nil {
		stats.First = first.UTC()
	}
	if last != nil {
		stats.Last = last.UTC()
	}
	return stats, nil
}

// SaveInvoice stores the invoice document under its ID.
func (p *PostgresProvider) SaveInvoice(ctx context.Context, invoice types.Invoice) error {
	if invoice.ID == "" {
		return fmt.Errorf("invoice ID cannot be empty")
	}
	doc, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice %s: %w", invoice.ID, err)
	}
	_, err = exec(ctx, p.pool, builder().Insert(tableInvoices).
		Columns("id", "created_at", "doc").
		Values(invoice.ID, invoice.CreatedAt.UTC(), string(doc)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET created_at = excluded.created_at, doc = excluded.doc`))
	if err != nil {
		return fmt.Errorf("failed to save invoice %s: %w", invoice.ID, err)
	}
	return nil
}

// GetInvoice returns a stored invoice.
func (p *PostgresProvider) GetInvoice(ctx context.Context, invoiceID string) (types.Invoice, error) {
	if invoiceID == "" {
		return types.Invoice{}, fmt.Errorf("%w: empty id", ErrInvoiceNotFound)
	}
	var doc []byte
	err := queryRow(ctx, p.pool, builder().Select("doc").From(tableInvoices).Where(sq.Eq{"id": invoiceID}), &doc)
	if err != nil {
		err = wrapErr(err, ErrInvoiceNotFound)
		if errors.Is(err, ErrInvoiceNotFound) {
			return types.Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return types.Invoice{}, fmt.Errorf("failed to get invoice %s: %w", invoiceID, err)
	}
	var inv types.Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return types.Invoice{}, fmt.Errorf("failed to unmarshal invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}
