package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/egaugemx/tarifador/pkg/types"
)

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// Database defines the interface for persisting clients, readings and
// invoices.
type Database interface {
	// Clients
	// UpsertClients inserts new clients and updates the name and address of
	// existing ones, reactivating them.
	UpsertClients(ctx context.Context, clients []types.Client) (created int, updated int, err error)
	ListClients(ctx context.Context, activeOnly bool) ([]types.Client, error)
	GetClient(ctx context.Context, clientID string) (types.Client, error)
	SetClientActive(ctx context.Context, clientID string, active bool) error
	// DeleteClient removes the client and its readings.
	DeleteClient(ctx context.Context, clientID string) error
	BulkClientAction(ctx context.Context, action types.ClientBulkAction) (int, error)

	// Readings
	// UpsertReadings stores readings keyed by timestamp, replacing any
	// reading already stored at the same timestamp.
	UpsertReadings(ctx context.Context, clientID string, readings []types.Reading) error
	// GetReadings returns readings in [start, end) ordered by timestamp.
	GetReadings(ctx context.Context, clientID string, start, end time.Time) ([]types.Reading, error)
	ReadingColumns(ctx context.Context, clientID string) ([]string, error)
	ReadingStats(ctx context.Context, clientID string) (types.ReadingStats, error)

	// Invoices
	SaveInvoice(ctx context.Context, invoice types.Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (types.Invoice, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres)")

	var p struct{ Database }

	fs := configuredFirestore()
	pg := configuredPostgres()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "postgres":
			if err := pg.Validate(); err != nil {
				panic(fmt.Sprintf("postgres validation failed: %v", err))
			}
			p.Database = pg
			if err := pg.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("postgres init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

func validateClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("clientID cannot be empty")
	}
	return nil
}
