package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/types"
)

const (
	collClients  = "clients"
	collReadings = "readings"
	collInvoices = "invoices"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Every
// document stores its value as a JSON string in the "json" field next to the
// fields used by queries.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	now       func() time.Time
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{now: time.Now}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	if f.now == nil {
		f.now = time.Now
	}
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func decodeDoc(doc *firestore.DocumentSnapshot, v interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func clientFields(c types.Client) (map[string]interface{}, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client %s: %w", c.ID, err)
	}
	return map[string]interface{}{
		"json":   string(b),
		"name":   c.Name,
		"active": c.Active,
	}, nil
}

func readingDocID(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

// UpsertClients creates or updates each client in its own transaction.
func (f *FirestoreProvider) UpsertClients(ctx context.Context, clients []types.Client) (int, int, error) {
	var created, updated int
	for _, c := range clients {
		if err := validateClientID(c.ID); err != nil {
			return created, updated, err
		}
		ref := f.client.Collection(collClients).Doc(c.ID)
		var isNew bool
		err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			now := f.now().UTC()
			next := c
			next.Active = true
			next.UpdatedAt = now
			next.CreatedAt = now

			snap, err := tx.Get(ref)
			switch {
			case status.Code(err) == codes.NotFound:
				isNew = true
			case err != nil:
				return err
			default:
				isNew = false
				var existing types.Client
				if err := decodeDoc(snap, &existing); err != nil {
					return err
				}
				next.CreatedAt = existing.CreatedAt
			}

			fields, err := clientFields(next)
			if err != nil {
				return err
			}
			return tx.Set(ref, fields, firestore.MergeAll)
		})
		if err != nil {
			return created, updated, fmt.Errorf("failed to upsert client %s: %w", c.ID, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

// ListClients returns clients ordered by name.
func (f *FirestoreProvider) ListClients(ctx context.Context, activeOnly bool) ([]types.Client, error) {
	q := f.client.Collection(collClients).Query
	if activeOnly {
		q = q.Where("active", "==", true)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var clients []types.Client
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating clients: %w", err)
		}
		var c types.Client
		if err := decodeDoc(doc, &c); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed client", slog.String("clientID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	return clients, nil
}

// GetClient returns a single client.
func (f *FirestoreProvider) GetClient(ctx context.Context, clientID string) (types.Client, error) {
	if err := validateClientID(clientID); err != nil {
		return types.Client{}, err
	}
	doc, err := f.client.Collection(collClients).Doc(clientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Client{}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return types.Client{}, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	var c types.Client
	if err := decodeDoc(doc, &c); err != nil {
		return types.Client{}, err
	}
	return c, nil
}

func (f *FirestoreProvider) setActive(ctx context.Context, tx *firestore.Transaction, ref *firestore.DocumentRef, active bool) error {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrClientNotFound, ref.ID)
		}
		return err
	}
	var c types.Client
	if err := decodeDoc(snap, &c); err != nil {
		return err
	}
	c.Active = active
	c.UpdatedAt = f.now().UTC()
	fields, err := clientFields(c)
	if err != nil {
		return err
	}
	return tx.Set(ref, fields, firestore.MergeAll)
}

// SetClientActive activates or deactivates a client.
func (f *FirestoreProvider) SetClientActive(ctx context.Context, clientID string, active bool) error {
	if err := validateClientID(clientID); err != nil {
		return err
	}
	ref := f.client.Collection(collClients).Doc(clientID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return f.setActive(ctx, tx, ref, active)
	})
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return err
		}
		return fmt.Errorf("failed to update client %s: %w", clientID, err)
	}
	return nil
}

// DeleteClient deletes the client document and its readings.
func (f *FirestoreProvider) DeleteClient(ctx context.Context, clientID string) error {
	if err := validateClientID(clientID); err != nil {
		return err
	}
	ref := f.client.Collection(collClients).Doc(clientID)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	return f.deleteClient(ctx, ref)
}

func (f *FirestoreProvider) deleteClient(ctx context.Context, ref *firestore.DocumentRef) error {
	iter := ref.Collection(collReadings).Select().Documents(ctx)
	defer iter.Stop()

	bw := f.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("error iterating readings of %s: %w", ref.ID, err)
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue reading delete: %w", err)
		}
		jobs = append(jobs, job)
	}
	job, err := bw.Delete(ref)
	if err != nil {
		bw.End()
		return fmt.Errorf("failed to queue client delete: %w", err)
	}
	jobs = append(jobs, job)
	bw.End()

	for _, j := range jobs {
		if _, err := j.Results(); err != nil {
			return fmt.Errorf("failed to delete client %s: %w", ref.ID, err)
		}
	}
	return nil
}

// BulkClientAction applies action to every matching client and returns the
// number of clients affected.
func (f *FirestoreProvider) BulkClientAction(ctx context.Context, action types.ClientBulkAction) (int, error) {
	var (
		match  bool
		active bool
		remove bool
	)
	switch action {
	case types.ClientBulkActivateAll:
		match, active = false, true
	case types.ClientBulkDeactivateAll:
		match, active = true, false
	case types.ClientBulkDeleteInactive:
		match, remove = false, true
	default:
		return 0, fmt.Errorf("unknown bulk action: %q", action)
	}

	iter := f.client.Collection(collClients).Where("active", "==", match).Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("error iterating clients: %w", err)
		}
		refs = append(refs, doc.Ref)
	}

	for i, ref := range refs {
		var err error
		if remove {
			err = f.deleteClient(ctx, ref)
		} else {
			err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
				return f.setActive(ctx, tx, ref, active)
			})
		}
		if err != nil {
			return i, fmt.Errorf("bulk action %s failed on %s: %w", action, ref.ID, err)
		}
	}
	return len(refs), nil
}

// UpsertReadings writes readings under the client with the RFC3339
// timestamp as document ID and records their columns on the client.
func (f *FirestoreProvider) UpsertReadings(ctx context.Context, clientID string, readings []types.Reading) error {
	if err := validateClientID(clientID); err != nil {
		return err
	}
	if len(readings) == 0 {
		return nil
	}
	ref := f.client.Collection(collClients).Doc(clientID)

	seen := map[string]struct{}{}
	var columns []interface{}
	for _, r := range readings {
		for col := range r.Values {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				columns = append(columns, col)
			}
		}
	}
	if len(columns) > 0 {
		_, err := ref.Update(ctx, []firestore.Update{{Path: "columns", Value: firestore.ArrayUnion(columns...)}})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
			}
			return fmt.Errorf("failed to update columns of %s: %w", clientID, err)
		}
	} else if _, err := ref.Get(ctx); status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	coll := ref.Collection(collReadings)
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(readings))
	for _, r := range readings {
		b, err := json.Marshal(r)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to marshal reading: %w", err)
		}
		job, err := bw.Set(coll.Doc(readingDocID(r.Timestamp)), map[string]interface{}{
			"json":      string(b),
			"timestamp": r.Timestamp,
		})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue reading: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, j := range jobs {
		if _, err := j.Results(); err != nil {
			return fmt.Errorf("failed to upsert reading: %w", err)
		}
	}
	return nil
}

// GetReadings uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) GetReadings(ctx context.Context, clientID string, start, end time.Time) ([]types.Reading, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	coll := f.client.Collection(collClients).Doc(clientID).Collection(collReadings)
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(readingDocID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(readingDocID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.Reading
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating readings: %w", err)
		}
		var r types.Reading
		if err := decodeDoc(doc, &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode reading", slog.String("clientID", clientID), slog.String("docID", doc.Ref.ID), slog.Any("error", err))
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// ReadingColumns returns the sorted columns recorded by UpsertReadings.
func (f *FirestoreProvider) ReadingColumns(ctx context.Context, clientID string) ([]string, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	doc, err := f.client.Collection(collClients).Doc(clientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	var columns []string
	if v, err := doc.DataAt("columns"); err == nil {
		if list, ok := v.([]interface{}); ok {
			for _, c := range list {
				if s, ok := c.(string); ok {
					columns = append(columns, s)
				}
			}
		}
	}
	sort.Strings(columns)
	return columns, nil
}

// ReadingStats counts the reading documents and reads the first and last
// document IDs.
func (f *FirestoreProvider) ReadingStats(ctx context.Context, clientID string) (types.ReadingStats, error) {
	if err := validateClientID(clientID); err != nil {
		return types.ReadingStats{}, err
	}
	coll := f.client.Collection(collClients).Doc(clientID).Collection(collReadings)

	var stats types.ReadingStats
	iter := coll.Select().Documents(ctx)
	defer iter.Stop()
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return types.ReadingStats{}, fmt.Errorf("error counting readings: %w", err)
		}
		stats.Count++
	}
	if stats.Count == 0 {
		return stats, nil
	}

	edge := func(dir firestore.Direction) (time.Time, error) {
		it := coll.OrderBy(firestore.DocumentID, dir).Limit(1).Select().Documents(ctx)
		defer it.Stop()
		doc, err := it.Next()
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to get edge reading: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid reading doc id %s: %w", doc.Ref.ID, err)
		}
		return ts, nil
	}
	var err error
	if stats.First, err = edge(firestore.Asc); err != nil {
		return types.ReadingStats{}, err
	}
	if stats.Last, err = edge(firestore.Desc); err != nil {
		return types.ReadingStats{}, err
	}
	return stats, nil
}

// SaveInvoice stores the invoice under its ID.
func (f *FirestoreProvider) SaveInvoice(ctx context.Context, invoice types.Invoice) error {
	if invoice.ID == "" {
		return fmt.Errorf("invoice ID cannot be empty")
	}
	b, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice %s: %w", invoice.ID, err)
	}
	_, err = f.client.Collection(collInvoices).Doc(invoice.ID).Set(ctx, map[string]interface{}{
		"json":      string(b),
		"createdAt": invoice.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save invoice %s: %w", invoice.ID, err)
	}
	return nil
}

// GetInvoice returns a stored invoice.
func (f *FirestoreProvider) GetInvoice(ctx context.Context, invoiceID string) (types.Invoice, error) {
	if invoiceID == "" {
		return types.Invoice{}, fmt.Errorf("%w: empty id", ErrInvoiceNotFound)
	}
	doc, err := f.client.Collection(collInvoices).Doc(invoiceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return types.Invoice{}, fmt.Errorf("failed to get invoice %s: %w", invoiceID, err)
	}
	var inv types.Invoice
	if err := decodeDoc(doc, &inv); err != nil {
		return types.Invoice{}, err
	}
	return inv, nil
}
