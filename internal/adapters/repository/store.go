// Package repository persists users, run records, point balances and the
// wager and purchase audit trail, and keeps the in-memory leaderboard.
package repository

import (
	"context"
	"time"

	"github.com/okian/runac/internal/domain/model"
)

// Users manages community members.
type Users interface {
	// CreateUser assigns the next sequence number.
	CreateUser(ctx context.Context, name string, isAdmin bool) (model.User, error)
	// GetUser returns ErrNotFound for unknown users.
	GetUser(ctx context.Context, seq int64) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	// UpdateProfile changes name and intro. An empty name keeps the old one.
	UpdateProfile(ctx context.Context, seq int64, name, intro string) (model.User, error)
}

// Records manages run records and their moderation status.
type Records interface {
	// CreateRecord stores r as pending, assigning ID and CreatedAt when empty.
	CreateRecord(ctx context.Context, r model.RunRecord) (model.RunRecord, error)
	GetRecord(ctx context.Context, id string) (model.RunRecord, error)
	// TransitionRecord moves a record from one status to another only if it
	// is still in from, and fails with ErrStatusConflict otherwise.
	TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (model.RunRecord, error)
	// ListRecordsByUser returns a user's records, newest date first. An empty
	// status matches all.
	ListRecordsByUser(ctx context.Context, seq int64, status model.RecordStatus) ([]model.RunRecord, error)
	// ListRecordsByStatus returns records in one status, oldest first.
	ListRecordsByStatus(ctx context.Context, status model.RecordStatus) ([]model.RunRecord, error)
	// ListUngranted returns approved records whose points were never
	// granted, oldest first.
	ListUngranted(ctx context.Context) ([]model.RunRecord, error)
}

// Ledger mutates point balances atomically.
type Ledger interface {
	Balance(ctx context.Context, seq int64) (float64, error)
	// Debit subtracts amount only if the balance covers it, otherwise it
	// fails with model.ErrInsufficientBalance and changes nothing.
	Debit(ctx context.Context, seq int64, amount int64) (float64, error)
	Credit(ctx context.Context, seq int64, amount int64) (float64, error)
	// GrantPoints applies fn to the record owner's balance and marks the
	// record granted in one step. The record must be approved
	// (ErrStatusConflict) and not yet granted (ErrAlreadyGranted).
	GrantPoints(ctx context.Context, recordID string, fn func(old float64) float64) (before, after float64, err error)
	// Purchase debits p.Price and records p in one step. It fails with
	// market.ErrAlreadyPurchased when the user owns the item.
	Purchase(ctx context.Context, p model.Purchase) (float64, error)
}

// Audit is the append-only wager and purchase trail.
type Audit interface {
	AppendWager(ctx context.Context, o model.WagerOutcome) error
	// ListWagers returns a user's wagers, newest first.
	ListWagers(ctx context.Context, seq int64) ([]model.WagerOutcome, error)
	// ListAllWagers returns every wager, newest first.
	ListAllWagers(ctx context.Context) ([]model.WagerOutcome, error)
	// ListPurchases returns every purchase, newest first.
	ListPurchases(ctx context.Context) ([]model.Purchase, error)
}

// Store is the full persistence contract.
type Store interface {
	Users
	Records
	Ledger
	Audit

	// Driver names the backend for logs and metrics.
	Driver() string
	Close() error
}

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides time.Now for created timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDFunc overrides the record and purchase id generator.
func WithIDFunc(id func() string) Option {
	return func(o *options) {
		if id != nil {
			o.newID = id
		}
	}
}
