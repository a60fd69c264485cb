// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"time"
)

// User is a community member. Seq is the public, stable identifier.
type User struct {
	Seq       int64     `json:"seq"`
	Name      string    `json:"name"`
	Intro     string    `json:"intro"`
	IsAdmin   bool      `json:"is_admin"`
	Points    float64   `json:"points"`    // point balance
	Purchases []string  `json:"purchases"` // purchased market item ids
	CreatedAt time.Time `json:"created_at"`
}

// Owns reports whether the user already bought itemID.
func (u User) Owns(itemID string) bool {
	return slices.Contains(u.Purchases, itemID)
}

// RecordStatus is the moderation state of a run record.
type RecordStatus string

// Record statuses.
const (
	StatusPending  RecordStatus = "pending"
	StatusApproved RecordStatus = "approved"
	StatusRejected RecordStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// RunRecord is a submitted run awaiting or past moderation.
type RunRecord struct {
	ID         string       `json:"id"`
	UserSeq    int64        `json:"user_seq"`
	TimeSec    float64      `json:"time_sec"`
	DistanceKm float64      `json:"distance_km"`
	Date       time.Time    `json:"date"`
	ImageURL   string       `json:"image_url,omitempty"`
	Status     RecordStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// PaceSecPerKm returns the run's average pace, or 0 for a zero distance.
func (r RunRecord) PaceSecPerKm() float64 {
	if r.DistanceKm <= 0 {
		return 0
	}
	return r.TimeSec / r.DistanceKm
}

// WagerOutcome is the immutable audit record of a settled bet.
type WagerOutcome struct {
	ID           string    `json:"id"`
	UserSeq      int64     `json:"user_seq"`
	SlotID       string    `json:"slot_id"`
	Stake        int64     `json:"stake"`
	Multiplier   float64   `json:"multiplier"`
	Payout       int64     `json:"payout"`
	BalanceAfter float64   `json:"balance_after"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Purchase is the immutable audit record of a market purchase.
type Purchase struct {
	ID        string    `json:"id"`
	UserSeq   int64     `json:"user_seq"`
	ItemID    string    `json:"item_id"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalEvent is queued when a record is approved.
type ApprovalEvent struct {
	RecordID   string
	UserSeq    int64
	TimeSec    float64
	DistanceKm float64
	ApprovedAt time.Time
}
