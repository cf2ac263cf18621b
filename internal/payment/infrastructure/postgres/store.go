// Package postgres persists payment records with optimistic concurrency
// and writes lifecycle events to a transactional outbox in the same
// transaction as the payment row.
package postgres

import (
	_ "embed"

	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/pkg/outbox"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// Migrate applies the schema. Statements are idempotent, so running it on
// every boot is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.queryOne(ctx, `WHERE order_id = $1`, orderID)
}

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*domain.Payment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, order_id, amount, provider, provider_reference, status,
		       created_at, expires_at, completed_at, version
		FROM payments `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, application.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// Create inserts a fresh record at version 0 together with its outbox
// rows. A second record for the same order surfaces as ErrDuplicateOrder.
func (s *Store) Create(ctx context.Context, p *domain.Payment, events ...application.EventRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	p.Version = 0
	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, provider, provider_reference, status,
		                      created_at, expires_at, completed_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.OrderID, p.Amount.StringFixed(2), string(p.Provider), p.ProviderReference,
		string(p.Status), p.CreatedAt, p.ExpiresAt, p.CompletedAt, p.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return application.ErrDuplicateOrder
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	if err := appendOutbox(ctx, tx, p.ID, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Put is a compare-and-swap on the record version. A zero-row update means
// either the record vanished or another writer got there first; the caller
// re-reads and decides.
func (s *Store) Put(ctx context.Context, p *domain.Payment, expectedVersion int64, events ...application.EventRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		UPDATE payments
		SET amount=$3, provider=$4, provider_reference=$5, status=$6,
		    expires_at=$7, completed_at=$8, version=$9
		WHERE id=$1 AND version=$2`,
		p.ID, expectedVersion,
		p.Amount.StringFixed(2), string(p.Provider), p.ProviderReference, string(p.Status),
		p.ExpiresAt, p.CompletedAt, expectedVersion+1)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id=$1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check payment: %w", err)
		}
		if !exists {
			return application.ErrNotFound
		}
		return application.ErrVersionConflict
	}

	if err := appendOutbox(ctx, tx, p.ID, events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.Version = expectedVersion + 1
	return nil
}

// sortColumns is the whitelist of ORDER BY targets; anything else falls
// back to created_at.
var sortColumns = map[application.SortField]string{
	application.SortByAmount:      "amount",
	application.SortByStatus:      "status",
	application.SortByProvider:    "provider",
	application.SortByCreatedAt:   "created_at",
	application.SortByExpiresAt:   "expires_at",
	application.SortByCompletedAt: "completed_at",
}

func (s *Store) List(ctx context.Context, q application.ListQuery) (*application.Page, error) {
	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Page < 0 {
		q.Page = 0
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM payments`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, order_id, amount, provider, provider_reference, status,
		       created_at, expires_at, completed_at, version
		FROM payments
		ORDER BY %s %s, id ASC
		LIMIT $1 OFFSET $2`, column, direction),
		q.Size, q.Page*q.Size)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	page := &application.Page{Page: q.Page, Size: q.Size, Total: total}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		page.Items = append(page.Items, *p)
	}
	return page, rows.Err()
}

func appendOutbox(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, events []application.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
			"payment", paymentID.String(), ev.Type, ev.Payload,
			map[string]string{"event_type": ev.Type}, ev.Traceparent)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p           domain.Payment
		amountStr   string
		providerStr string
		statusStr   string
	)
	err := row.Scan(&p.ID, &p.OrderID, &amountStr, &providerStr, &p.ProviderReference,
		&statusStr, &p.CreatedAt, &p.ExpiresAt, &p.CompletedAt, &p.Version)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("amount column: %w", err)
	}
	p.Amount = amount
	p.Provider = domain.Provider(providerStr)
	p.Status = domain.Status(statusStr)
	return &p, nil
}

// OutboxStore hands pending lifecycle events to the relay in leased
// batches so concurrent relays never double-dispatch.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type,
			&event.Payload, &event.Headers, &event.Traceparent, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	_, err = tx.Exec(ctx, `UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2::interval WHERE id = ANY($3)`,
		relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no outbox rows updated")
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1`, id, errMsg)
	return err
}

// Reclaim flips expired leases back to pending so another relay can pick
// the rows up after a crash.
func (s *OutboxStore) Reclaim(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status='pending', relay_id=NULL, lease_until=NULL WHERE status='in_progress' AND lease_until < now()`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
