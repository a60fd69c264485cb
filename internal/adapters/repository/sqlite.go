package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
)

const driverSQLite = "sqlite"

// SQLiteStore persists to a single SQLite file. Writes are serialized
// through one connection, so conditional updates are atomic.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStore opens path, enables WAL and applies the schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	// Pragmas in the DSN are applied to every new connection.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, opts: defaultOptions(opts)}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			intro      TEXT NOT NULL DEFAULT '',
			is_admin   INTEGER NOT NULL DEFAULT 0,
			points     REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			user_seq    INTEGER NOT NULL REFERENCES users(seq),
			time_sec    REAL NOT NULL,
			distance_km REAL NOT NULL,
			run_date    TEXT NOT NULL,
			image_url   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_seq, run_date)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON records(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS point_grants (
			record_id     TEXT PRIMARY KEY REFERENCES records(id),
			user_seq      INTEGER NOT NULL,
			points_before REAL NOT NULL,
			points_after  REAL NOT NULL,
			granted_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wagers (
			id            TEXT PRIMARY KEY,
			user_seq      INTEGER NOT NULL,
			slot_id       TEXT NOT NULL,
			stake         INTEGER NOT NULL,
			multiplier    REAL NOT NULL,
			payout        INTEGER NOT NULL,
			balance_after REAL NOT NULL,
			resolved_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wagers_user ON wagers(user_seq)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id         TEXT PRIMARY KEY,
			user_seq   INTEGER NOT NULL REFERENCES users(seq),
			item_id    TEXT NOT NULL,
			price      INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(user_seq, item_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Driver implements Store.
func (s *SQLiteStore) Driver() string { return driverSQLite }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// storedTimeLayout is fixed width so TEXT columns sort chronologically.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(storedTimeLayout) }

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", v, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (model.User, error) {
	var (
		u       model.User
		admin   int
		created string
	)
	if err := row.Scan(&u.Seq, &u.Name, &u.Intro, &admin, &u.Points, &created); err != nil {
		return model.User{}, err
	}
	u.IsAdmin = admin != 0
	var err error
	u.CreatedAt, err = parseTime(created)
	return u, err
}

func scanSQLiteRecord(row rowScanner) (model.RunRecord, error) {
	var (
		r             model.RunRecord
		date, created string
	)
	if err := row.Scan(&r.ID, &r.UserSeq, &r.TimeSec, &r.DistanceKm, &date, &r.ImageURL, &r.Status, &created); err != nil {
		return model.RunRecord{}, err
	}
	var err error
	if r.Date, err = parseTime(date); err != nil {
		return model.RunRecord{}, err
	}
	r.CreatedAt, err = parseTime(created)
	return r, err
}

const (
	sqliteUserCols   = `seq, name, intro, is_admin, points, created_at`
	sqliteRecordCols = `id, user_seq, time_sec, distance_km, run_date, image_url, status, created_at`
)

func (s *SQLiteStore) CreateUser(ctx context.Context, name string, isAdmin bool) (_ model.User, err error) {
	defer observe(driverSQLite, "create_user", time.Now(), &err)
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, ErrInvalidName
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name, is_admin, created_at) VALUES (?, ?, ?) RETURNING `+sqliteUserCols,
		name, boolInt(isAdmin), formatTime(s.opts.now()))
	return scanSQLiteUser(row)
}

func (s *SQLiteStore) GetUser(ctx context.Context, seq int64) (_ model.User, err error) {
	defer observe(driverSQLite, "get_user", time.Now(), &err)
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `SELECT `+sqliteUserCols+` FROM users WHERE seq = ?`, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Purchases, err = s.purchasedItems(ctx, seq)
	return u, err
}

func (s *SQLiteStore) purchasedItems(ctx context.Context, seq int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM purchases WHERE user_seq = ? ORDER BY created_at`, seq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ListUsers(ctx context.Context) (_ []model.User, err error) {
	defer observe(driverSQLite, "list_users", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteUserCols+` FROM users ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	owned, err := s.allPurchasedItems(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Purchases = owned[out[i].Seq]
	}
	return out, nil
}

func (s *SQLiteStore) allPurchasedItems(ctx context.Context) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_seq, item_id FROM purchases ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	owned := make(map[int64][]string)
	for rows.Next() {
		var (
			seq int64
			id  string
		)
		if err := rows.Scan(&seq, &id); err != nil {
			return nil, err
		}
		owned[seq] = append(owned[seq], id)
	}
	return owned, rows.Err()
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, seq int64, name, intro string) (_ model.User, err error) {
	defer observe(driverSQLite, "update_profile", time.Now(), &err)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = COALESCE(NULLIF(?, ''), name), intro = ? WHERE seq = ?`,
		strings.TrimSpace(name), intro, seq)
	if err != nil {
		return model.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.User{}, ErrNotFound
	}
	return s.GetUser(ctx, seq)
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, r model.RunRecord) (_ model.RunRecord, err error) {
	defer observe(driverSQLite, "create_record", time.Now(), &err)
	if err := s.requireUser(ctx, r.UserSeq); err != nil {
		return model.RunRecord{}, err
	}
	r = s.opts.fillRecord(r)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (`+sqliteRecordCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserSeq, r.TimeSec, r.DistanceKm, formatTime(r.Date), r.ImageURL, r.Status, formatTime(r.CreatedAt))
	if err != nil {
		return model.RunRecord{}, err
	}
	return r, nil
}

func (s *SQLiteStore) requireUser(ctx context.Context, seq int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE seq = ?`, seq).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (model.RunRecord, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, `SELECT `+sqliteRecordCols+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunRecord{}, ErrRecordNotFound
	}
	return r, err
}

func (s *SQLiteStore) TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (_ model.RunRecord, err error) {
	defer observe(driverSQLite, "transition_record", time.Now(), &err)
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`UPDATE records SET status = ? WHERE id = ? AND status = ? RETURNING `+sqliteRecordCols, to, id, from))
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := s.GetRecord(ctx, id)
		if gerr != nil {
			return model.RunRecord{}, gerr
		}
		return cur, fmt.Errorf("%w: record %s is %s", ErrStatusConflict, id, cur.Status)
	}
	return r, err
}

func (s *SQLiteStore) listRecords(ctx context.Context, query string, args ...any) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.RunRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRecordsByUser(ctx context.Context, seq int64, status model.RecordStatus) ([]model.RunRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+sqliteRecordCols+` FROM records WHERE user_seq = ? AND (? = '' OR status = ?)
		 ORDER BY run_date DESC, created_at DESC`, seq, status, status)
}

func (s *SQLiteStore) ListRecordsByStatus(ctx context.Context, status model.RecordStatus) ([]model.RunRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+sqliteRecordCols+` FROM records WHERE status = ? ORDER BY created_at, id`, status)
}

func (s *SQLiteStore) ListUngranted(ctx context.Context) ([]model.RunRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+sqliteRecordCols+` FROM records
		 WHERE status = ? AND NOT EXISTS (SELECT 1 FROM point_grants g WHERE g.record_id = records.id)
		 ORDER BY created_at, id`, model.StatusApproved)
}

func (s *SQLiteStore) Balance(ctx context.Context, seq int64) (float64, error) {
	var points float64
	err := s.db.QueryRowContext(ctx, `SELECT points FROM users WHERE seq = ?`, seq).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return points, err
}

func (s *SQLiteStore) Debit(ctx context.Context, seq int64, amount int64) (_ float64, err error) {
	defer observe(driverSQLite, "debit", time.Now(), &err)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var points float64
	err = s.db.QueryRowContext(ctx,
		`UPDATE users SET points = points - ? WHERE seq = ? AND points >= ? RETURNING points`,
		amount, seq, amount).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		bal, berr := s.Balance(ctx, seq)
		if berr != nil {
			return 0, berr
		}
		return bal, fmt.Errorf("%w: balance %.2f, need %d", model.ErrInsufficientBalance, bal, amount)
	}
	return points, err
}

func (s *SQLiteStore) Credit(ctx context.Context, seq int64, amount int64) (_ float64, err error) {
	defer observe(driverSQLite, "credit", time.Now(), &err)
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var points float64
	err = s.db.QueryRowContext(ctx,
		`UPDATE users SET points = points + ? WHERE seq = ? RETURNING points`, amount, seq).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return points, err
}

func (s *SQLiteStore) GrantPoints(ctx context.Context, recordID string, fn func(float64) float64) (before, after float64, err error) {
	defer observe(driverSQLite, "grant_points", time.Now(), &err)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq     int64
		status  string
		granted int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT r.user_seq, r.status, EXISTS (SELECT 1 FROM point_grants g WHERE g.record_id = r.id)
		 FROM records r WHERE r.id = ?`, recordID).Scan(&seq, &status, &granted)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	if model.RecordStatus(status) != model.StatusApproved {
		return 0, 0, fmt.Errorf("%w: record %s is %s", ErrStatusConflict, recordID, status)
	}
	if granted != 0 {
		return 0, 0, ErrAlreadyGranted
	}

	err = tx.QueryRowContext(ctx, `SELECT points FROM users WHERE seq = ?`, seq).Scan(&before)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	after = fn(before)
	if _, err = tx.ExecContext(ctx, `UPDATE users SET points = ? WHERE seq = ?`, after, seq); err != nil {
		return 0, 0, err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO point_grants (record_id, user_seq, points_before, points_after, granted_at) VALUES (?, ?, ?, ?, ?)`,
		recordID, seq, before, after, formatTime(s.opts.now())); err != nil {
		return 0, 0, err
	}
	return before, after, tx.Commit()
}

func (s *SQLiteStore) Purchase(ctx context.Context, p model.Purchase) (_ float64, err error) {
	defer observe(driverSQLite, "purchase", time.Now(), &err)
	if p.Price <= 0 {
		return 0, ErrInvalidAmount
	}
	p = s.opts.fillPurchase(p)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var points float64
	err = tx.QueryRowContext(ctx, `SELECT points FROM users WHERE seq = ?`, p.UserSeq).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var owned int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchases WHERE user_seq = ? AND item_id = ?`, p.UserSeq, p.ItemID).Scan(&owned); err != nil {
		return 0, err
	}
	if owned > 0 {
		return points, market.ErrAlreadyPurchased
	}
	if points < float64(p.Price) {
		return points, fmt.Errorf("%w: balance %.2f, price %d", model.ErrInsufficientBalance, points, p.Price)
	}

	if err = tx.QueryRowContext(ctx,
		`UPDATE users SET points = points - ? WHERE seq = ? RETURNING points`, p.Price, p.UserSeq).Scan(&points); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO purchases (id, user_seq, item_id, price, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserSeq, p.ItemID, p.Price, formatTime(p.CreatedAt)); err != nil {
		return 0, err
	}
	return points, tx.Commit()
}

func (s *SQLiteStore) AppendWager(ctx context.Context, o model.WagerOutcome) (err error) {
	defer observe(driverSQLite, "append_wager", time.Now(), &err)
	o = s.opts.fillWager(o)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wagers (id, user_seq, slot_id, stake, multiplier, payout, balance_after, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserSeq, o.SlotID, o.Stake, o.Multiplier, o.Payout, o.BalanceAfter, formatTime(o.ResolvedAt))
	return err
}

func (s *SQLiteStore) listWagers(ctx context.Context, query string, args ...any) ([]model.WagerOutcome, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.WagerOutcome
	for rows.Next() {
		var (
			o        model.WagerOutcome
			resolved string
		)
		if err := rows.Scan(&o.ID, &o.UserSeq, &o.SlotID, &o.Stake, &o.Multiplier, &o.Payout, &o.BalanceAfter, &resolved); err != nil {
			return nil, err
		}
		if o.ResolvedAt, err = parseTime(resolved); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const sqliteWagerSelect = `SELECT id, user_seq, slot_id, stake, multiplier, payout, balance_after, resolved_at FROM wagers`

func (s *SQLiteStore) ListWagers(ctx context.Context, seq int64) ([]model.WagerOutcome, error) {
	return s.listWagers(ctx, sqliteWagerSelect+` WHERE user_seq = ? ORDER BY resolved_at DESC, rowid DESC`, seq)
}

func (s *SQLiteStore) ListAllWagers(ctx context.Context) ([]model.WagerOutcome, error) {
	return s.listWagers(ctx, sqliteWagerSelect+` ORDER BY resolved_at DESC, rowid DESC`)
}

func (s *SQLiteStore) ListPurchases(ctx context.Context) ([]model.Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_seq, item_id, price, created_at FROM purchases ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Purchase
	for rows.Next() {
		var (
			p       model.Purchase
			created string
		)
		if err := rows.Scan(&p.ID, &p.UserSeq, &p.ItemID, &p.Price, &created); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
