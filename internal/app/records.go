package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/runac/internal/adapters/mq/queue"
	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/rating"
	"github.com/okian/runac/internal/domain/record"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

const dateLayout = "2006-01-02"

// CreateUser registers a member.
func (s *Service) CreateUser(ctx context.Context, name string) (model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	u, err := s.store.CreateUser(ctx, name, false)
	if err != nil {
		return model.User{}, err
	}
	return s.decorate(u), nil
}

// GetUser returns one member.
func (s *Service) GetUser(ctx context.Context, seq int64) (model.User, error) {
	u, err := s.store.GetUser(ctx, seq)
	if err != nil {
		return model.User{}, err
	}
	return s.decorate(u), nil
}

// ListUsers returns every member in sequence order.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = s.decorate(users[i])
	}
	return users, nil
}

// UpdateProfile changes a member's name and intro. Members edit themselves,
// admins edit anyone.
func (s *Service) UpdateProfile(ctx context.Context, actor, seq int64, name, intro string) (model.User, error) {
	if actor != seq {
		if err := s.requireAdmin(ctx, actor); err != nil {
			return model.User{}, err
		}
	}
	u, err := s.store.UpdateProfile(ctx, seq, name, intro)
	if err != nil {
		return model.User{}, err
	}
	if strings.TrimSpace(name) != "" {
		// The display name is part of every ranking row.
		if err := s.refreshRating(ctx, seq); err != nil {
			s.logger.Warn(ctx, "rating refresh after rename failed", logger.Int64("userSeq", seq), logger.Error(err))
		}
		s.invalidateRankings()
	}
	return s.decorate(u), nil
}

func (s *Service) decorate(u model.User) model.User {
	u.IsAdmin = u.IsAdmin || s.cfg.IsAdmin(u.Seq)
	return u
}

// SubmitRecordInput is a run as entered by a member.
type SubmitRecordInput struct {
	UserSeq    int64
	Time       string // HH:MM:SS, MM:SS or seconds
	DistanceKm float64
	Date       string // YYYY-MM-DD
	ImageURL   string
}

// SubmitRecord validates a run and stores it as pending.
func (s *Service) SubmitRecord(ctx context.Context, in SubmitRecordInput) (model.RunRecord, error) {
	timeSec, err := record.ParseHMS(in.Time)
	if err != nil {
		return model.RunRecord{}, err
	}
	if err := s.band.Validate(timeSec, in.DistanceKm); err != nil {
		return model.RunRecord{}, err
	}
	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(in.Date), time.UTC)
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}

	r, err := s.store.CreateRecord(ctx, model.RunRecord{
		UserSeq:    in.UserSeq,
		TimeSec:    timeSec,
		DistanceKm: in.DistanceKm,
		Date:       date,
		ImageURL:   strings.TrimSpace(in.ImageURL),
	})
	if err != nil {
		return model.RunRecord{}, err
	}
	metrics.RecordRecordSubmitted()
	s.logger.Info(ctx, "record submitted",
		logger.String("recordID", r.ID),
		logger.Int64("userSeq", r.UserSeq),
		logger.Float64("timeSec", r.TimeSec),
		logger.Float64("distanceKm", r.DistanceKm),
	)
	return r, nil
}

// ScoredRecord is an approved run with its runbility.
type ScoredRecord struct {
	model.RunRecord
	Pace      string  `json:"pace"`
	Runbility float64 `json:"runbility"`
	Tier      string  `json:"tier"`
}

// UserRecords lists a member's approved runs, newest first, with the rating
// they add up to.
func (s *Service) UserRecords(ctx context.Context, seq int64) ([]ScoredRecord, rating.UserRating, error) {
	u, err := s.store.GetUser(ctx, seq)
	if err != nil {
		return nil, rating.UserRating{}, err
	}
	recs, err := s.store.ListRecordsByUser(ctx, seq, model.StatusApproved)
	if err != nil {
		return nil, rating.UserRating{}, err
	}
	out := make([]ScoredRecord, len(recs))
	for i, r := range recs {
		v := s.table.Lookup(r.TimeSec, r.DistanceKm)
		out[i] = ScoredRecord{RunRecord: r, Pace: record.FormatPace(r.PaceSecPerKm()), Runbility: v, Tier: rating.Tier(v)}
	}
	return out, rating.ForUser(s.table, rating.UserRuns{User: u, Records: recs}), nil
}

// PendingRecords lists runs awaiting moderation, oldest first.
func (s *Service) PendingRecords(ctx context.Context, actor int64) ([]model.RunRecord, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.store.ListRecordsByStatus(ctx, model.StatusPending)
}

// ApproveRecord approves a pending run and hands it to the approval workers.
func (s *Service) ApproveRecord(ctx context.Context, actor int64, id string) (model.RunRecord, error) {
	r, err := s.decide(ctx, actor, id, model.StatusApproved)
	if err != nil {
		return model.RunRecord{}, err
	}

	e := queue.Event{RecordID: r.ID, UserSeq: r.UserSeq, TimeSec: r.TimeSec, DistanceKm: r.DistanceKm, ApprovedAt: s.now()}
	if err := s.enqueue(ctx, e); err != nil {
		s.logger.Warn(ctx, "approval queue unavailable, processing inline",
			logger.String("recordID", r.ID), logger.Error(err))
		if err := s.processInline(ctx, e); err != nil {
			// The approval stands; the next rebuild picks the record up.
			s.logger.Error(ctx, "inline approval failed", logger.String("recordID", r.ID), logger.Error(err))
		}
	}
	return r, nil
}

// RejectRecord rejects a pending run.
func (s *Service) RejectRecord(ctx context.Context, actor int64, id string) (model.RunRecord, error) {
	return s.decide(ctx, actor, id, model.StatusRejected)
}

func (s *Service) decide(ctx context.Context, actor int64, id string, to model.RecordStatus) (model.RunRecord, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return model.RunRecord{}, err
	}
	cur, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return model.RunRecord{}, err
	}
	if err := record.Transition(cur.Status, to); err != nil {
		return model.RunRecord{}, err
	}
	r, err := s.store.TransitionRecord(ctx, id, model.StatusPending, to)
	if err != nil {
		return model.RunRecord{}, err
	}
	metrics.RecordRecordTransition(string(to))
	s.logger.Info(ctx, "record decided",
		logger.String("recordID", id),
		logger.String("status", string(to)),
		logger.Int64("actor", actor),
	)
	return r, nil
}

func (s *Service) enqueue(ctx context.Context, e queue.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.queue.IsClosed() {
		return queue.ErrClosed
	}
	return s.queue.Enqueue(ctx, e)
}

// processInline runs one approval through the same dedupe, score and apply
// steps the workers use.
func (s *Service) processInline(ctx context.Context, e queue.Event) error {
	if s.deduper.SeenAndRecord(ctx, e.RecordID) {
		metrics.RecordApprovalDuplicate()
		return nil
	}
	score, err := s.Score(ctx, e)
	if err == nil {
		err = s.Apply(ctx, e, score)
	}
	if err != nil {
		s.deduper.Unrecord(ctx, e.RecordID)
		return fmt.Errorf("process record %s: %w", e.RecordID, err)
	}
	metrics.RecordApprovalProcessed()
	return nil
}
