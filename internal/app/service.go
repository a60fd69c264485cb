// Package service composes storage, the runbility table, the wager engine and
// the approval pipeline into the operations served by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"

	eventqueue "github.com/okian/runac/internal/adapters/mq/queue"
	workerpool "github.com/okian/runac/internal/adapters/mq/worker"
	"github.com/okian/runac/internal/adapters/repository"
	"github.com/okian/runac/internal/config"
	"github.com/okian/runac/internal/domain/dedupe"
	"github.com/okian/runac/internal/domain/event"
	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/rating"
	"github.com/okian/runac/internal/domain/record"
	"github.com/okian/runac/internal/domain/runbility"
	"github.com/okian/runac/internal/domain/types"
	"github.com/okian/runac/internal/domain/wager"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

// Service implements the API dependencies for run.ac.
type Service struct {
	cfg      *config.Config
	store    repository.Store
	table    *runbility.Table
	engine   *wager.Engine
	calendar *event.Calendar
	catalog  *market.Catalog
	band     record.Band
	board    *repository.Leaderboard
	deduper  dedupe.Deduper
	rankings *cache.Cache // nil when ranking_cache_ttl_seconds is 0
	logger   logger.Logger
	now      func() time.Time

	wagerOpts []wager.Option

	mu      sync.RWMutex
	started bool
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// New builds a service from cfg. A nil cfg uses config defaults. Nothing runs
// in the background until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.New(ctx)
	}
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if s.table == nil {
		t, err := loadTable(cfg.GridPath)
		if err != nil {
			return nil, err
		}
		s.table = t
	}

	if s.calendar == nil {
		start, end, err := cfg.EventBounds()
		if err != nil {
			return nil, fmt.Errorf("event period: %w", err)
		}
		s.calendar = event.NewCalendar(
			event.WithPeriod(start, end),
			event.WithClock(s.now),
			event.WithEnforcement(cfg.EnforceEventWindow, cfg.EnforceBettingWindow),
		)
	}

	if s.catalog == nil {
		s.catalog = market.DefaultCatalog()
	}

	dist, err := wager.ByName(cfg.WagerTable)
	if err != nil {
		return nil, err
	}

	if s.store == nil {
		store, err := OpenStore(ctx, cfg, repository.WithClock(s.now))
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	wopts := []wager.Option{
		wager.WithDistribution(dist),
		wager.WithClock(s.now),
		wager.WithSlotFunc(event.SlotID),
		wager.WithLogger(s.logger.Named("wager")),
	}
	s.engine = wager.NewEngine(s.store, append(wopts, s.wagerOpts...)...)

	s.band = record.Band{
		MinDistanceKm:   cfg.MinDistanceKm,
		MaxDistanceKm:   cfg.MaxDistanceKm,
		MinPaceSecPerKm: cfg.MinPaceSecPerKm,
		MaxPaceSecPerKm: cfg.MaxPaceSecPerKm,
	}
	s.board = repository.NewLeaderboard()
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithTTL(cfg.DedupeTTL()))
	if ttl := cfg.RankingCacheTTL(); ttl > 0 {
		s.rankings = cache.New(ttl, 2*ttl)
	}
	return s, nil
}

func loadTable(gridPath string) (*runbility.Table, error) {
	g := runbility.DefaultGrid()
	if gridPath != "" {
		var err error
		if g, err = runbility.LoadGridFile(gridPath); err != nil {
			return nil, fmt.Errorf("load grid %s: %w", gridPath, err)
		}
	}
	t, err := runbility.NewTable(g)
	if err != nil {
		return nil, fmt.Errorf("build runbility table: %w", err)
	}
	return t, nil
}

// Start builds the leaderboard from storage and starts the approval workers
// and the rebuild schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting run.ac service...")

	if err := s.RebuildLeaderboard(ctx); err != nil {
		return err
	}

	// Workers outlive the caller's ctx so Stop can drain the queue.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var c *cron.Cron
	if s.cfg.RebuildSchedule != "" {
		c = cron.New(cron.WithLocation(event.KST))
		if _, err := c.AddFunc(s.cfg.RebuildSchedule, func() { s.scheduledRebuild(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule leaderboard rebuild %q: %w", s.cfg.RebuildSchedule, err)
		}
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.cfg.EventQueueSize))
	s.pool = workerpool.NewPool(s.cfg.WorkerCount, s.queue, s, s,
		workerpool.WithDeduper(s.deduper),
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(runCtx)
	if c != nil {
		c.Start()
	}
	s.cron = c
	s.cancel = cancel

	s.started = true
	s.logger.Info(ctx, "run.ac service started",
		logger.String("store", s.store.Driver()),
		logger.String("wagerTable", s.engine.Distribution().Name()),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.cfg.EventQueueSize),
		logger.Int("users", s.board.Count(ctx)),
	)
	return nil
}

// Stop halts the schedule, drains queued approvals up to ctx and closes the
// store. It is safe to call on a service that never started.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.started {
		s.logger.Info(ctx, "stopping run.ac service...")
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.cancel()
		s.started = false
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	s.logger.Info(ctx, "run.ac service stopped")
	return errors.Join(errs...)
}

func (s *Service) scheduledRebuild(ctx context.Context) {
	if err := s.RebuildLeaderboard(ctx); err != nil {
		s.logger.Error(ctx, "scheduled leaderboard rebuild failed", logger.Error(err))
	}
}

// Score implements the worker scorer: the runbility of the approved run.
func (s *Service) Score(_ context.Context, e model.ApprovalEvent) (float64, error) {
	return s.table.Lookup(e.TimeSec, e.DistanceKm), nil
}

// Apply implements the worker applier. It merges the run's runbility into the
// user's points when enabled and refreshes the user's leaderboard entry. The
// grant happens at most once per record, so Apply may be retried.
func (s *Service) Apply(ctx context.Context, e model.ApprovalEvent, score float64) error {
	if s.cfg.GrantPointsOnApproval {
		if err := s.grant(ctx, e.RecordID, score); err != nil {
			return err
		}
	}

	if err := s.refreshRating(ctx, e.UserSeq); err != nil {
		return err
	}
	s.invalidateRankings()
	return nil
}

// grant merges score into the record owner's points. An already granted
// record is not an error.
func (s *Service) grant(ctx context.Context, recordID string, score float64) error {
	before, after, err := s.store.GrantPoints(ctx, recordID, func(old float64) float64 {
		return wager.Merge(old, score)
	})
	if errors.Is(err, repository.ErrAlreadyGranted) {
		metrics.RecordApprovalDuplicate()
		return nil
	}
	if err != nil {
		return fmt.Errorf("grant points for record %s: %w", recordID, err)
	}
	metrics.RecordPointsGranted(after - before)
	s.logger.Debug(ctx, "points granted",
		logger.String("recordID", recordID),
		logger.Float64("before", before),
		logger.Float64("after", after),
	)
	return nil
}

// grantMissing grants points for approved records whose grant never
// committed. Failures are logged and left for the next sweep.
func (s *Service) grantMissing(ctx context.Context) int {
	recs, err := s.store.ListUngranted(ctx)
	if err != nil {
		s.logger.Error(ctx, "list ungranted records failed", logger.Error(err))
		return 0
	}
	granted := 0
	for _, r := range recs {
		if err := s.grant(ctx, r.ID, s.table.Lookup(r.TimeSec, r.DistanceKm)); err != nil {
			s.logger.Warn(ctx, "regrant failed", logger.String("recordID", r.ID), logger.Error(err))
			continue
		}
		granted++
	}
	if granted > 0 {
		s.logger.Info(ctx, "granted missing approval points", logger.Int("records", granted))
	}
	return granted
}

// refreshRating recomputes one user's rating from their approved records.
func (s *Service) refreshRating(ctx context.Context, seq int64) error {
	u, err := s.store.GetUser(ctx, seq)
	if err != nil {
		return fmt.Errorf("load user %d: %w", seq, err)
	}
	recs, err := s.store.ListRecordsByUser(ctx, seq, model.StatusApproved)
	if err != nil {
		return fmt.Errorf("load records of user %d: %w", seq, err)
	}
	if len(recs) == 0 {
		s.board.Remove(ctx, seq)
		return nil
	}
	r := rating.ForUser(s.table, rating.UserRuns{User: u, Records: recs})
	s.board.Upsert(ctx, types.Entry{UserSeq: seq, Name: u.Name, Score: r.Rating, Tier: r.Tier})
	metrics.UpdateLeaderboardUsers(s.board.Count(ctx))
	return nil
}

// RebuildLeaderboard grants any approval points still owed, then recomputes
// every rating from storage and swaps the leaderboard contents in one step.
func (s *Service) RebuildLeaderboard(ctx context.Context) error {
	start := time.Now()
	if s.cfg.GrantPointsOnApproval {
		s.grantMissing(ctx)
	}
	runs, err := s.approvedRuns(ctx)
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	ratings := rating.Ratings(s.table, runs)
	entries := make([]types.Entry, len(ratings))
	for i, r := range ratings {
		entries[i] = types.Entry{UserSeq: r.UserSeq, Name: r.Name, Score: r.Rating, Tier: r.Tier}
	}
	s.board.Replace(ctx, entries)
	s.invalidateRankings()

	metrics.RecordLeaderboardRebuild(float64(time.Since(start).Microseconds()) / 1000)
	metrics.UpdateLeaderboardUsers(len(entries))
	s.logger.Debug(ctx, "leaderboard rebuilt", logger.Int("users", len(entries)))
	return nil
}

// approvedRuns groups every user's approved records.
func (s *Service) approvedRuns(ctx context.Context) ([]rating.UserRuns, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rating.UserRuns, 0, len(users))
	for _, u := range users {
		recs, err := s.store.ListRecordsByUser(ctx, u.Seq, model.StatusApproved)
		if err != nil {
			return nil, err
		}
		out = append(out, rating.UserRuns{User: u, Records: recs})
	}
	return out, nil
}

// Lookup is the runbility of a single run. Bad input scores 0.
func (s *Service) Lookup(timeSec, distanceKm float64) LookupResult {
	v := s.table.Lookup(timeSec, distanceKm)
	res := LookupResult{TimeSec: timeSec, DistanceKm: distanceKm, Runbility: v, Tier: rating.Tier(v)}
	if distanceKm > 0 {
		res.Pace = record.FormatPace(timeSec / distanceKm)
	}
	metrics.RecordLookup(v == 0)
	return res
}

// LookupResult is the answer to a runbility query.
type LookupResult struct {
	TimeSec    float64 `json:"time_sec"`
	DistanceKm float64 `json:"distance_km"`
	Pace       string  `json:"pace,omitempty"`
	Runbility  float64 `json:"runbility"`
	Tier       string  `json:"tier"`
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":          s.started,
		"store":            s.store.Driver(),
		"wagerTable":       s.engine.Distribution().Name(),
		"leaderboardUsers": s.board.Count(ctx),
		"dedupeSize":       s.deduper.Size(),
		"workerCount":      0,
		"queueLength":      0,
	}
	if s.started {
		stats["workerCount"] = s.pool.Size()
		stats["queueLength"] = s.queue.Len(ctx)
		metrics.UpdateQueueSize(s.queue.Len(ctx))
	}
	return stats
}

// IsAdmin reports whether seq may moderate. Configured admins and users
// stored as admins both qualify.
func (s *Service) IsAdmin(ctx context.Context, seq int64) bool {
	if s.cfg.IsAdmin(seq) {
		return true
	}
	u, err := s.store.GetUser(ctx, seq)
	return err == nil && u.IsAdmin
}

func (s *Service) requireAdmin(ctx context.Context, actor int64) error {
	if !s.IsAdmin(ctx, actor) {
		return fmt.Errorf("%w: user %d is not an admin", ErrForbidden, actor)
	}
	return nil
}
