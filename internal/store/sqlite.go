package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/archive.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/archive.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		room_id INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		uid INTEGER DEFAULT 0,
		username TEXT DEFAULT '',
		body TEXT DEFAULT '',
		gift_name TEXT DEFAULT '',
		num INTEGER DEFAULT 0,
		guard_level INTEGER DEFAULT 0,
		price REAL DEFAULT 0,
		test INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS deductions (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS guard_purchases (
		id TEXT PRIMARY KEY,
		room_id INTEGER DEFAULT 0,
		username TEXT NOT NULL,
		guard_level INTEGER NOT NULL,
		months INTEGER DEFAULT 1,
		reward INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS lottery_draws (
		id TEXT PRIMARY KEY,
		winners TEXT NOT NULL,
		pool_size INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_room_kind ON events(room_id, kind);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_deductions_username ON deductions(username);
	CREATE INDEX IF NOT EXISTS idx_guard_purchases_created ON guard_purchases(created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveEvent archives a live-room event. A missing ID is filled with a fresh
// ULID so callers may pass bare messages.
func (s *SQLiteStore) SaveEvent(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	testInt := 0
	if msg.Test {
		testInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, room_id, kind, uid, username, body, gift_name, num, guard_level, price, test, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, string(msg.Kind), msg.UID, msg.Username, msg.Body,
		msg.GiftName, msg.Num, msg.GuardLevel, msg.Price, testInt, msg.Time)
	return err
}

// ListEvents retrieves archived events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]models.Message, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := `
		SELECT id, room_id, kind, uid, username, body, gift_name, num, guard_level, price, test, created_at
		FROM events WHERE 1=1`
	args := []any{}

	if q.RoomID > 0 {
		query += ` AND room_id = ?`
		args = append(args, q.RoomID)
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	if q.Username != "" {
		query += ` AND username = ?`
		args = append(args, q.Username)
	}
	if q.Contains != "" {
		query += ` AND body LIKE ?`
		args = append(args, "%"+q.Contains+"%")
	}
	if q.BeforeID != "" {
		query += ` AND id < ?`
		args = append(args, q.BeforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var kind string
		var testInt int

		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&kind,
			&msg.UID,
			&msg.Username,
			&msg.Body,
			&msg.GiftName,
			&msg.Num,
			&msg.GuardLevel,
			&msg.Price,
			&testInt,
			&msg.Time,
		)
		if err != nil {
			return nil, err
		}

		msg.Kind = models.MessageKind(kind)
		msg.Test = testInt == 1
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

// CountEvents returns the total number of archived events.
func (s *SQLiteStore) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// CountEventsByKind returns archived event counts grouped by kind.
func (s *SQLiteStore) CountEventsByKind(ctx context.Context) (map[models.MessageKind]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.MessageKind]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[models.MessageKind(kind)] = count
	}

	return counts, rows.Err()
}

// MostRecentEventTime returns the timestamp of the newest archived event,
// or nil when the archive is empty. The newest row is found by ID; ULIDs
// sort chronologically, and selecting the column directly keeps its
// declared type so the driver parses the time.
func (s *SQLiteStore) MostRecentEventTime(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM events ORDER BY id DESC LIMIT 1
	`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveDeduction records a count deduction.
func (s *SQLiteStore) SaveDeduction(ctx context.Context, d *models.Deduction) error {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deductions (id, username, amount, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.Username, d.Amount, d.Reason, d.CreatedAt)
	return err
}

// ListDeductions retrieves deduction records, newest first. An empty
// username matches everyone.
func (s *SQLiteStore) ListDeductions(ctx context.Context, username string, limit int) ([]models.Deduction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, username, amount, reason, created_at
		FROM deductions`
	args := []any{}

	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []models.Deduction
	for rows.Next() {
		var d models.Deduction
		err := rows.Scan(&d.ID, &d.Username, &d.Amount, &d.Reason, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}

	return ds, rows.Err()
}

// SaveGuardPurchase records a guard subscription and its reward.
func (s *SQLiteStore) SaveGuardPurchase(ctx context.Context, p *models.GuardPurchase) error {
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guard_purchases (id, room_id, username, guard_level, months, reward, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.RoomID, p.Username, p.GuardLevel, p.Months, p.Reward, p.CreatedAt)
	return err
}

// ListGuardPurchases retrieves guard purchase records, newest first. A
// non-zero since restricts results to purchases at or after that time.
func (s *SQLiteStore) ListGuardPurchases(ctx context.Context, since time.Time, limit int) ([]models.GuardPurchase, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, room_id, username, guard_level, months, reward, created_at
		FROM guard_purchases
	`
	args := []any{}
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []models.GuardPurchase
	for rows.Next() {
		var p models.GuardPurchase
		err := rows.Scan(&p.ID, &p.RoomID, &p.Username, &p.GuardLevel, &p.Months, &p.Reward, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}

	return ps, rows.Err()
}

// SaveLotteryDraw records a random selection round.
func (s *SQLiteStore) SaveLotteryDraw(ctx context.Context, d *models.LotteryDraw) error {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	winners, err := json.Marshal(d.Winners)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lottery_draws (id, winners, pool_size, created_at)
		VALUES (?, ?, ?, ?)
	`, d.ID, string(winners), d.PoolSize, d.CreatedAt)
	return err
}

// ListLotteryDraws retrieves lottery rounds, newest first.
func (s *SQLiteStore) ListLotteryDraws(ctx context.Context, limit int) ([]models.LotteryDraw, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, winners, pool_size, created_at
		FROM lottery_draws
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []models.LotteryDraw
	for rows.Next() {
		var d models.LotteryDraw
		var winners string
		err := rows.Scan(&d.ID, &winners, &d.PoolSize, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(winners), &d.Winners); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}

	return ds, rows.Err()
}

// GetEvent retrieves a single archived event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	var kind string
	var testInt int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, kind, uid, username, body, gift_name, num, guard_level, price, test, created_at
		FROM events WHERE id = ?
	`, id).Scan(
		&msg.ID,
		&msg.RoomID,
		&kind,
		&msg.UID,
		&msg.Username,
		&msg.Body,
		&msg.GiftName,
		&msg.Num,
		&msg.GuardLevel,
		&msg.Price,
		&testInt,
		&msg.Time,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	msg.Kind = models.MessageKind(kind)
	msg.Test = testInt == 1
	return &msg, nil
}
