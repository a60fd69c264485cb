package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
)

const (
	driverPostgres = "postgres"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists to PostgreSQL through a pgx pool. Balance changes
// are single conditional UPDATE statements or row-locked transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresStore connects, pings and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, opts: defaultOptions(opts)}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			seq        BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			intro      TEXT NOT NULL DEFAULT '',
			is_admin   BOOLEAN NOT NULL DEFAULT FALSE,
			points     DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			user_seq    BIGINT NOT NULL REFERENCES users(seq),
			time_sec    DOUBLE PRECISION NOT NULL,
			distance_km DOUBLE PRECISION NOT NULL,
			run_date    TIMESTAMPTZ NOT NULL,
			image_url   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_seq, run_date)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON records(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS point_grants (
			record_id     TEXT PRIMARY KEY REFERENCES records(id),
			user_seq      BIGINT NOT NULL,
			points_before DOUBLE PRECISION NOT NULL,
			points_after  DOUBLE PRECISION NOT NULL,
			granted_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wagers (
			id            TEXT PRIMARY KEY,
			user_seq      BIGINT NOT NULL,
			slot_id       TEXT NOT NULL,
			stake         BIGINT NOT NULL,
			multiplier    DOUBLE PRECISION NOT NULL,
			payout        BIGINT NOT NULL,
			balance_after DOUBLE PRECISION NOT NULL,
			resolved_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wagers_user ON wagers(user_seq, resolved_at)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id         TEXT PRIMARY KEY,
			user_seq   BIGINT NOT NULL REFERENCES users(seq),
			item_id    TEXT NOT NULL,
			price      BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_seq, item_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// Driver implements Store.
func (s *PostgresStore) Driver() string { return driverPostgres }

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

const (
	pgUserCols   = `seq, name, intro, is_admin, points, created_at`
	pgRecordCols = `id, user_seq, time_sec, distance_km, run_date, image_url, status, created_at`
	pgWagerCols  = `id, user_seq, slot_id, stake, multiplier, payout, balance_after, resolved_at`
)

func scanPGUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.Seq, &u.Name, &u.Intro, &u.IsAdmin, &u.Points, &u.CreatedAt)
	return u, err
}

func scanPGRecord(row pgx.Row) (model.RunRecord, error) {
	var (
		r      model.RunRecord
		status string
	)
	err := row.Scan(&r.ID, &r.UserSeq, &r.TimeSec, &r.DistanceKm, &r.Date, &r.ImageURL, &status, &r.CreatedAt)
	r.Status = model.RecordStatus(status)
	return r, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, name string, isAdmin bool) (_ model.User, err error) {
	defer observe(driverPostgres, "create_user", time.Now(), &err)
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, ErrInvalidName
	}
	return scanPGUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (name, is_admin, created_at) VALUES ($1, $2, $3) RETURNING `+pgUserCols,
		name, isAdmin, s.opts.now().UTC()))
}

func (s *PostgresStore) GetUser(ctx context.Context, seq int64) (_ model.User, err error) {
	defer observe(driverPostgres, "get_user", time.Now(), &err)
	u, err := scanPGUser(s.pool.QueryRow(ctx, `SELECT `+pgUserCols+` FROM users WHERE seq = $1`, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	rows, err := s.pool.Query(ctx, `SELECT item_id FROM purchases WHERE user_seq = $1 ORDER BY created_at`, seq)
	if err != nil {
		return model.User{}, err
	}
	u.Purchases, err = pgx.CollectRows(rows, pgx.RowTo[string])
	return u, err
}

func (s *PostgresStore) ListUsers(ctx context.Context) (_ []model.User, err error) {
	defer observe(driverPostgres, "list_users", time.Now(), &err)
	rows, err := s.pool.Query(ctx, `SELECT `+pgUserCols+` FROM users ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) { return scanPGUser(row) })
	if err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT user_seq, item_id FROM purchases ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	owned := make(map[int64][]string)
	var (
		seq    int64
		itemID string
	)
	_, err = pgx.ForEachRow(rows, []any{&seq, &itemID}, func() error {
		owned[seq] = append(owned[seq], itemID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Purchases = owned[users[i].Seq]
	}
	return users, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, seq int64, name, intro string) (_ model.User, err error) {
	defer observe(driverPostgres, "update_profile", time.Now(), &err)
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET name = COALESCE(NULLIF($1, ''), name), intro = $2 WHERE seq = $3`,
		strings.TrimSpace(name), intro, seq)
	if err != nil {
		return model.User{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.User{}, ErrNotFound
	}
	return s.GetUser(ctx, seq)
}

func (s *PostgresStore) CreateRecord(ctx context.Context, r model.RunRecord) (_ model.RunRecord, err error) {
	defer observe(driverPostgres, "create_record", time.Now(), &err)
	r = s.opts.fillRecord(r)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (`+pgRecordCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.UserSeq, r.TimeSec, r.DistanceKm, r.Date.UTC(), r.ImageURL, string(r.Status), r.CreatedAt)
	if hasPGCode(err, pgForeignKeyViolation) {
		return model.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return model.RunRecord{}, err
	}
	return r, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (model.RunRecord, error) {
	r, err := scanPGRecord(s.pool.QueryRow(ctx, `SELECT `+pgRecordCols+` FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RunRecord{}, ErrRecordNotFound
	}
	return r, err
}

func (s *PostgresStore) TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (_ model.RunRecord, err error) {
	defer observe(driverPostgres, "transition_record", time.Now(), &err)
	r, err := scanPGRecord(s.pool.QueryRow(ctx,
		`UPDATE records SET status = $1 WHERE id = $2 AND status = $3 RETURNING `+pgRecordCols,
		string(to), id, string(from)))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := s.GetRecord(ctx, id)
		if gerr != nil {
			return model.RunRecord{}, gerr
		}
		return cur, fmt.Errorf("%w: record %s is %s", ErrStatusConflict, id, cur.Status)
	}
	return r, err
}

func (s *PostgresStore) listRecords(ctx context.Context, query string, args ...any) ([]model.RunRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RunRecord, error) { return scanPGRecord(row) })
}

func (s *PostgresStore) ListRecordsByUser(ctx context.Context, seq int64, status model.RecordStatus) ([]model.RunRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+pgRecordCols+` FROM records WHERE user_seq = $1 AND ($2::text = '' OR status = $2::text)
		 ORDER BY run_date DESC, created_at DESC`, seq, string(status))
}

func (s *PostgresStore) ListRecordsByStatus(ctx context.Context, status model.RecordStatus) ([]model.RunRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+pgRecordCols+` FROM records WHERE status = $1 ORDER BY created_at, id`, string(status))
}

func (s *PostgresStore) ListUngranted(ctx context.Context) ([]model.RunRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+pgRecordCols+` FROM records
		 WHERE status = $1 AND NOT EXISTS (SELECT 1 FROM point_grants g WHERE g.record_id = records.id)
		 ORDER BY created_at, id`, string(model.StatusApproved))
}

func (s *PostgresStore) Balance(ctx context.Context, seq int64) (float64, error) {
	var points float64
	err := s.pool.QueryRow(ctx, `SELECT points FROM users WHERE seq = $1`, seq).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return points, err
}

func (s *PostgresStore) Debit(ctx context.Context, seq int64, amount int64) (_ float64, err error) {
	defer observe(driverPostgres, "debit", time.Now(), &err)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var points float64
	err = s.pool.QueryRow(ctx,
		`UPDATE users SET points = points - $1 WHERE seq = $2 AND points >= $1 RETURNING points`,
		float64(amount), seq).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		bal, berr := s.Balance(ctx, seq)
		if berr != nil {
			return 0, berr
		}
		return bal, fmt.Errorf("%w: balance %.2f, need %d", model.ErrInsufficientBalance, bal, amount)
	}
	return points, err
}

func (s *PostgresStore) Credit(ctx context.Context, seq int64, amount int64) (_ float64, err error) {
	defer observe(driverPostgres, "credit", time.Now(), &err)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var points float64
	err = s.pool.QueryRow(ctx,
		`UPDATE users SET points = points + $1 WHERE seq = $2 RETURNING points`, float64(amount), seq).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return points, err
}

func (s *PostgresStore) GrantPoints(ctx context.Context, recordID string, fn func(float64) float64) (before, after float64, err error) {
	defer observe(driverPostgres, "grant_points", time.Now(), &err)
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			seq    int64
			status string
		)
		// Locking the record row serializes concurrent grants for it.
		err := tx.QueryRow(ctx, `SELECT user_seq, status FROM records WHERE id = $1 FOR UPDATE`, recordID).Scan(&seq, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		if model.RecordStatus(status) != model.StatusApproved {
			return fmt.Errorf("%w: record %s is %s", ErrStatusConflict, recordID, status)
		}
		err = tx.QueryRow(ctx, `SELECT points FROM users WHERE seq = $1 FOR UPDATE`, seq).Scan(&before)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		after = fn(before)
		_, err = tx.Exec(ctx,
			`INSERT INTO point_grants (record_id, user_seq, points_before, points_after, granted_at) VALUES ($1, $2, $3, $4, $5)`,
			recordID, seq, before, after, s.opts.now().UTC())
		if hasPGCode(err, pgUniqueViolation) {
			return ErrAlreadyGranted
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE users SET points = $1 WHERE seq = $2`, after, seq)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func (s *PostgresStore) Purchase(ctx context.Context, p model.Purchase) (balance float64, err error) {
	defer observe(driverPostgres, "purchase", time.Now(), &err)
	if p.Price <= 0 {
		return 0, ErrInvalidAmount
	}
	p = s.opts.fillPurchase(p)

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT points FROM users WHERE seq = $1 FOR UPDATE`, p.UserSeq).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO purchases (id, user_seq, item_id, price, created_at) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.UserSeq, p.ItemID, p.Price, p.CreatedAt)
		if hasPGCode(err, pgUniqueViolation) {
			return market.ErrAlreadyPurchased
		}
		if err != nil {
			return err
		}
		if balance < float64(p.Price) {
			return fmt.Errorf("%w: balance %.2f, price %d", model.ErrInsufficientBalance, balance, p.Price)
		}
		return tx.QueryRow(ctx,
			`UPDATE users SET points = points - $1 WHERE seq = $2 RETURNING points`,
			float64(p.Price), p.UserSeq).Scan(&balance)
	})
	return balance, err
}

func (s *PostgresStore) AppendWager(ctx context.Context, o model.WagerOutcome) (err error) {
	defer observe(driverPostgres, "append_wager", time.Now(), &err)
	o = s.opts.fillWager(o)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO wagers (`+pgWagerCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserSeq, o.SlotID, o.Stake, o.Multiplier, o.Payout, o.BalanceAfter, o.ResolvedAt)
	return err
}

func (s *PostgresStore) listWagers(ctx context.Context, query string, args ...any) ([]model.WagerOutcome, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WagerOutcome, error) {
		var o model.WagerOutcome
		err := row.Scan(&o.ID, &o.UserSeq, &o.SlotID, &o.Stake, &o.Multiplier, &o.Payout, &o.BalanceAfter, &o.ResolvedAt)
		return o, err
	})
}

func (s *PostgresStore) ListWagers(ctx context.Context, seq int64) ([]model.WagerOutcome, error) {
	return s.listWagers(ctx, `SELECT `+pgWagerCols+` FROM wagers WHERE user_seq = $1 ORDER BY resolved_at DESC`, seq)
}

func (s *PostgresStore) ListAllWagers(ctx context.Context) ([]model.WagerOutcome, error) {
	return s.listWagers(ctx, `SELECT `+pgWagerCols+` FROM wagers ORDER BY resolved_at DESC`)
}

func (s *PostgresStore) ListPurchases(ctx context.Context) ([]model.Purchase, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_seq, item_id, price, created_at FROM purchases ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Purchase, error) {
		var p model.Purchase
		err := row.Scan(&p.ID, &p.UserSeq, &p.ItemID, &p.Price, &p.CreatedAt)
		return p, err
	})
}
