// Package db persists terminal monitor outcomes to Postgres.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// schema is applied at startup. CREATE IF NOT EXISTS keeps restarts cheap.
const schema = `
CREATE TABLE IF NOT EXISTS monitor_outcomes (
	id                UUID PRIMARY KEY,
	user_id           TEXT NOT NULL,
	currency          TEXT NOT NULL,
	address           TEXT NOT NULL,
	status            TEXT NOT NULL,
	reason            TEXT,
	tx_id             TEXT,
	tx_from_address   TEXT,
	tx_amount         BIGINT,
	tx_memo           TEXT,
	tx_confirmations  BIGINT,
	tx_block_time     TIMESTAMPTZ,
	fiat_value        DOUBLE PRECISION,
	completed_at      TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_monitor_outcomes_user
	ON monitor_outcomes (user_id, completed_at DESC);

CREATE INDEX IF NOT EXISTS idx_monitor_outcomes_address
	ON monitor_outcomes (currency, address, completed_at DESC);
`

// Store provides database operations for monitor outcomes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. Call once at startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// OutcomeRecord is one persisted terminal outcome.
type OutcomeRecord struct {
	ID              uuid.UUID
	UserID          string
	Currency        string
	Address         string
	Status          string
	Reason          *string
	TxID            *string
	TxFromAddress   *string
	TxAmount        *int64
	TxMemo          *string
	TxConfirmations *int64
	TxBlockTime     *time.Time
	FiatValue       *float64
	CompletedAt     time.Time
	CreatedAt       time.Time
}

// RecordOutcomeParams contains the parameters for persisting an outcome.
type RecordOutcomeParams struct {
	UserID          string
	Currency        string
	Address         string
	Status          string
	Reason          *string
	TxID            *string
	TxFromAddress   *string
	TxAmount        *int64
	TxMemo          *string
	TxConfirmations *int64
	TxBlockTime     *time.Time
	FiatValue       *float64
	CompletedAt     time.Time
}

// RecordOutcome inserts a terminal outcome and returns the stored record.
func (s *Store) RecordOutcome(ctx context.Context, params RecordOutcomeParams) (*OutcomeRecord, error) {
	id := uuid.New()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO monitor_outcomes (
			id, user_id, currency, address, status, reason,
			tx_id, tx_from_address, tx_amount, tx_memo, tx_confirmations, tx_block_time,
			fiat_value, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`,
		id, params.UserID, params.Currency, params.Address, params.Status,
		pgtextFromStringPtr(params.Reason),
		pgtextFromStringPtr(params.TxID),
		pgtextFromStringPtr(params.TxFromAddress),
		pgint8FromInt64Ptr(params.TxAmount),
		pgtextFromStringPtr(params.TxMemo),
		pgint8FromInt64Ptr(params.TxConfirmations),
		pgtimestamptzFromTimePtr(params.TxBlockTime),
		pgfloat8FromFloat64Ptr(params.FiatValue),
		params.CompletedAt,
	)

	var createdAt time.Time
	if err := row.Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("failed to record outcome: %w", err)
	}

	rec := &OutcomeRecord{
		ID:              id,
		UserID:          params.UserID,
		Currency:        params.Currency,
		Address:         params.Address,
		Status:          params.Status,
		Reason:          params.Reason,
		TxID:            params.TxID,
		TxFromAddress:   params.TxFromAddress,
		TxAmount:        params.TxAmount,
		TxMemo:          params.TxMemo,
		TxConfirmations: params.TxConfirmations,
		TxBlockTime:     params.TxBlockTime,
		FiatValue:       params.FiatValue,
		CompletedAt:     params.CompletedAt,
		CreatedAt:       createdAt,
	}
	return rec, nil
}

// GetOutcome retrieves an outcome by id.
func (s *Store) GetOutcome(ctx context.Context, id uuid.UUID) (*OutcomeRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, currency, address, status, reason,
			tx_id, tx_from_address, tx_amount, tx_memo, tx_confirmations, tx_block_time,
			fiat_value, completed_at, created_at
		FROM monitor_outcomes
		WHERE id = $1`, id)
	return scanOutcome(row)
}

// ListOutcomesByUserParams contains pagination parameters.
type ListOutcomesByUserParams struct {
	UserID string
	Limit  int32
	Offset int32
}

// ListOutcomesByUser retrieves outcomes for a user, most recent first.
func (s *Store) ListOutcomesByUser(ctx context.Context, params ListOutcomesByUserParams) ([]*OutcomeRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, currency, address, status, reason,
			tx_id, tx_from_address, tx_amount, tx_memo, tx_confirmations, tx_block_time,
			fiat_value, completed_at, created_at
		FROM monitor_outcomes
		WHERE user_id = $1
		ORDER BY completed_at DESC
		LIMIT $2 OFFSET $3`, params.UserID, limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListOutcomesByAddress retrieves outcomes for a currency/address pair,
// most recent first.
func (s *Store) ListOutcomesByAddress(ctx context.Context, currency, address string, limit int32) ([]*OutcomeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, currency, address, status, reason,
			tx_id, tx_from_address, tx_amount, tx_memo, tx_confirmations, tx_block_time,
			fiat_value, completed_at, created_at
		FROM monitor_outcomes
		WHERE currency = $1 AND address = $2
		ORDER BY completed_at DESC
		LIMIT $3`, currency, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanOutcome(row pgx.Row) (*OutcomeRecord, error) {
	var (
		rec             OutcomeRecord
		reason          pgtype.Text
		txID            pgtype.Text
		txFromAddress   pgtype.Text
		txAmount        pgtype.Int8
		txMemo          pgtype.Text
		txConfirmations pgtype.Int8
		txBlockTime     pgtype.Timestamptz
		fiatValue       pgtype.Float8
	)

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Currency, &rec.Address, &rec.Status, &reason,
		&txID, &txFromAddress, &txAmount, &txMemo, &txConfirmations, &txBlockTime,
		&fiatValue, &rec.CompletedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan outcome: %w", err)
	}

	rec.Reason = stringPtrFromPgtext(reason)
	rec.TxID = stringPtrFromPgtext(txID)
	rec.TxFromAddress = stringPtrFromPgtext(txFromAddress)
	rec.TxAmount = int64PtrFromPgint8(txAmount)
	rec.TxMemo = stringPtrFromPgtext(txMemo)
	rec.TxConfirmations = int64PtrFromPgint8(txConfirmations)
	if txBlockTime.Valid {
		t := txBlockTime.Time
		rec.TxBlockTime = &t
	}
	if fiatValue.Valid {
		v := fiatValue.Float64
		rec.FiatValue = &v
	}
	return &rec, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func pgint8FromInt64Ptr(n *int64) pgtype.Int8 {
	if n == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *n, Valid: true}
}

func int64PtrFromPgint8(n pgtype.Int8) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func pgtimestamptzFromTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func pgfloat8FromFloat64Ptr(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: *f, Valid: true}
}
