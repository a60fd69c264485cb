package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
)

const driverMemory = "memory"

// MemoryStore keeps everything in process memory behind one mutex. It is
// the default for development and tests.
type MemoryStore struct {
	opts options

	mu        sync.Mutex
	nextSeq   int64
	users     map[int64]*model.User
	records   map[string]model.RunRecord
	granted   map[string]bool
	wagers    []model.WagerOutcome
	purchases []model.Purchase
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:    defaultOptions(opts),
		users:   make(map[int64]*model.User),
		records: make(map[string]model.RunRecord),
		granted: make(map[string]bool),
	}
}

// Driver implements Store.
func (s *MemoryStore) Driver() string { return driverMemory }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func cloneUser(u *model.User) model.User {
	out := *u
	out.Purchases = slices.Clone(u.Purchases)
	return out
}

func (s *MemoryStore) CreateUser(_ context.Context, name string, isAdmin bool) (_ model.User, err error) {
	defer observe(driverMemory, "create_user", time.Now(), &err)
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	u := &model.User{Seq: s.nextSeq, Name: name, IsAdmin: isAdmin, CreatedAt: s.opts.now().UTC()}
	s.users[u.Seq] = u
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUser(_ context.Context, seq int64) (_ model.User, err error) {
	defer observe(driverMemory, "get_user", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[seq]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	slices.SortFunc(out, func(a, b model.User) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, seq int64, name, intro string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[seq]
	if !ok {
		return model.User{}, ErrNotFound
	}
	if name = strings.TrimSpace(name); name != "" {
		u.Name = name
	}
	u.Intro = intro
	return cloneUser(u), nil
}

func (s *MemoryStore) CreateRecord(_ context.Context, r model.RunRecord) (_ model.RunRecord, err error) {
	defer observe(driverMemory, "create_record", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[r.UserSeq]; !ok {
		return model.RunRecord{}, ErrNotFound
	}
	r = s.opts.fillRecord(r)
	s.records[r.ID] = r
	return r, nil
}

func (s *MemoryStore) GetRecord(_ context.Context, id string) (model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return model.RunRecord{}, ErrRecordNotFound
	}
	return r, nil
}

func (s *MemoryStore) TransitionRecord(_ context.Context, id string, from, to model.RecordStatus) (_ model.RunRecord, err error) {
	defer observe(driverMemory, "transition_record", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return model.RunRecord{}, ErrRecordNotFound
	}
	if r.Status != from {
		return r, fmt.Errorf("%w: record %s is %s", ErrStatusConflict, id, r.Status)
	}
	r.Status = to
	s.records[id] = r
	return r, nil
}

func (s *MemoryStore) ListRecordsByUser(_ context.Context, seq int64, status model.RecordStatus) ([]model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RunRecord
	for _, r := range s.records {
		if r.UserSeq == seq && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, newestDateFirst)
	return out, nil
}

func (s *MemoryStore) ListRecordsByStatus(_ context.Context, status model.RecordStatus) ([]model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RunRecord
	for _, r := range s.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, oldestCreatedFirst)
	return out, nil
}

func (s *MemoryStore) ListUngranted(_ context.Context) ([]model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RunRecord
	for _, r := range s.records {
		if r.Status == model.StatusApproved && !s.granted[r.ID] {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, oldestCreatedFirst)
	return out, nil
}

func (s *MemoryStore) Balance(_ context.Context, seq int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[seq]
	if !ok {
		return 0, ErrNotFound
	}
	return u.Points, nil
}

func (s *MemoryStore) Debit(_ context.Context, seq int64, amount int64) (_ float64, err error) {
	defer observe(driverMemory, "debit", time.Now(), &err)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[seq]
	if !ok {
		return 0, ErrNotFound
	}
	if u.Points < float64(amount) {
		return u.Points, fmt.Errorf("%w: balance %.2f, need %d", model.ErrInsufficientBalance, u.Points, amount)
	}
	u.Points -= float64(amount)
	return u.Points, nil
}

func (s *MemoryStore) Credit(_ context.Context, seq int64, amount int64) (_ float64, err error) {
	defer observe(driverMemory, "credit", time.Now(), &err)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[seq]
	if !ok {
		return 0, ErrNotFound
	}
	u.Points += float64(amount)
	return u.Points, nil
}

func (s *MemoryStore) GrantPoints(_ context.Context, recordID string, fn func(float64) float64) (before, after float64, err error) {
	defer observe(driverMemory, "grant_points", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return 0, 0, ErrRecordNotFound
	}
	if r.Status != model.StatusApproved {
		return 0, 0, fmt.Errorf("%w: record %s is %s", ErrStatusConflict, recordID, r.Status)
	}
	if s.granted[recordID] {
		return 0, 0, ErrAlreadyGranted
	}
	u, ok := s.users[r.UserSeq]
	if !ok {
		return 0, 0, ErrNotFound
	}
	before = u.Points
	u.Points = fn(before)
	s.granted[recordID] = true
	return before, u.Points, nil
}

func (s *MemoryStore) Purchase(_ context.Context, p model.Purchase) (_ float64, err error) {
	defer observe(driverMemory, "purchase", time.Now(), &err)
	if p.Price <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[p.UserSeq]
	if !ok {
		return 0, ErrNotFound
	}
	if u.Owns(p.ItemID) {
		return u.Points, market.ErrAlreadyPurchased
	}
	if u.Points < float64(p.Price) {
		return u.Points, fmt.Errorf("%w: balance %.2f, price %d", model.ErrInsufficientBalance, u.Points, p.Price)
	}
	u.Points -= float64(p.Price)
	u.Purchases = append(u.Purchases, p.ItemID)
	s.purchases = append(s.purchases, s.opts.fillPurchase(p))
	return u.Points, nil
}

func (s *MemoryStore) AppendWager(_ context.Context, o model.WagerOutcome) (err error) {
	defer observe(driverMemory, "append_wager", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wagers = append(s.wagers, s.opts.fillWager(o))
	return nil
}

func (s *MemoryStore) ListWagers(_ context.Context, seq int64) ([]model.WagerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WagerOutcome
	for i := len(s.wagers) - 1; i >= 0; i-- {
		if s.wagers[i].UserSeq == seq {
			out = append(out, s.wagers[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllWagers(_ context.Context) ([]model.WagerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.wagers)
	slices.Reverse(out)
	return out, nil
}

func (s *MemoryStore) ListPurchases(_ context.Context) ([]model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.purchases)
	slices.Reverse(out)
	return out, nil
}

func (o options) fillRecord(r model.RunRecord) model.RunRecord {
	if r.ID == "" {
		r.ID = o.newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = o.now().UTC()
	}
	r.Status = model.StatusPending
	return r
}

func (o options) fillPurchase(p model.Purchase) model.Purchase {
	if p.ID == "" {
		p.ID = o.newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = o.now().UTC()
	}
	return p
}

func (o options) fillWager(w model.WagerOutcome) model.WagerOutcome {
	if w.ID == "" {
		w.ID = o.newID()
	}
	if w.ResolvedAt.IsZero() {
		w.ResolvedAt = o.now().UTC()
	}
	return w
}

func newestDateFirst(a, b model.RunRecord) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

func oldestCreatedFirst(a, b model.RunRecord) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
