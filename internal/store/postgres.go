package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		room_id BIGINT NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		uid BIGINT DEFAULT 0,
		username TEXT DEFAULT '',
		body TEXT DEFAULT '',
		gift_name TEXT DEFAULT '',
		num INTEGER DEFAULT 0,
		guard_level INTEGER DEFAULT 0,
		price DOUBLE PRECISION DEFAULT 0,
		test BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS deductions (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS guard_purchases (
		id TEXT PRIMARY KEY,
		room_id BIGINT DEFAULT 0,
		username TEXT NOT NULL,
		guard_level INTEGER NOT NULL,
		months INTEGER DEFAULT 1,
		reward INTEGER DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS lottery_draws (
		id TEXT PRIMARY KEY,
		winners TEXT NOT NULL,
		pool_size INTEGER DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_events_room_kind ON events(room_id, kind);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_deductions_username ON deductions(username);
	CREATE INDEX IF NOT EXISTS idx_guard_purchases_created ON guard_purchases(created_at);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveEvent archives a live-room event.
func (s *PostgresStore) SaveEvent(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, room_id, kind, uid, username, body, gift_name, num, guard_level, price, test, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, msg.ID, msg.RoomID, string(msg.Kind), msg.UID, msg.Username, msg.Body,
		msg.GiftName, msg.Num, msg.GuardLevel, msg.Price, msg.Test, msg.Time)
	return err
}

// ListEvents retrieves archived events, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, q EventQuery) ([]models.Message, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := `
		SELECT id, room_id, kind, uid, username, body, gift_name, num, guard_level, price, test, created_at
		FROM events WHERE 1=1`
	args := []any{}

	if q.RoomID > 0 {
		args = append(args, q.RoomID)
		query += ` AND room_id = $` + strconv.Itoa(len(args))
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if q.Username != "" {
		args = append(args, q.Username)
		query += ` AND username = $` + strconv.Itoa(len(args))
	}
	if q.Contains != "" {
		args = append(args, "%"+q.Contains+"%")
		query += ` AND body LIKE $` + strconv.Itoa(len(args))
	}
	if q.BeforeID != "" {
		args = append(args, q.BeforeID)
		query += ` AND id < $` + strconv.Itoa(len(args))
	}
	args = append(args, q.Limit)
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var kind string

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
			&msg.Test,
			&msg.Time,
		)
		if err != nil {
			return nil, err
		}

		msg.Kind = models.MessageKind(kind)
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

// CountEvents returns the total number of archived events.
func (s *PostgresStore) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// CountEventsByKind returns archived event counts grouped by kind.
func (s *PostgresStore) CountEventsByKind(ctx context.Context) (map[models.MessageKind]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
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

// MostRecentEventTime returns the timestamp of the newest archived event.
func (s *PostgresStore) MostRecentEventTime(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM events`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SaveDeduction records a count deduction.
func (s *PostgresStore) SaveDeduction(ctx context.Context, d *models.Deduction) error {
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO deductions (id, username, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.Username, d.Amount, d.Reason, d.CreatedAt)
	return err
}

// ListDeductions retrieves deduction records, newest first.
func (s *PostgresStore) ListDeductions(ctx context.Context, username string, limit int) ([]models.Deduction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, username, amount, reason, created_at
		FROM deductions`
	args := []any{}

	if username != "" {
		args = append(args, username)
		query += ` WHERE username = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgresStore) SaveGuardPurchase(ctx context.Context, p *models.GuardPurchase) error {
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO guard_purchases (id, room_id, username, guard_level, months, reward, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.RoomID, p.Username, p.GuardLevel, p.Months, p.Reward, p.CreatedAt)
	return err
}

// ListGuardPurchases retrieves guard purchase records, newest first. A
// non-zero since restricts results to purchases at or after that time.
func (s *PostgresStore) ListGuardPurchases(ctx context.Context, since time.Time, limit int) ([]models.GuardPurchase, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, room_id, username, guard_level, months, reward, created_at
		FROM guard_purchases
	`
	args := []any{}
	if !since.IsZero() {
		query += ` WHERE created_at >= $1`
		args = append(args, since)
	}
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgresStore) SaveLotteryDraw(ctx context.Context, d *models.LotteryDraw) error {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO lottery_draws (id, winners, pool_size, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.ID, string(winners), d.PoolSize, d.CreatedAt)
	return err
}

// ListLotteryDraws retrieves lottery rounds, newest first.
func (s *PostgresStore) ListLotteryDraws(ctx context.Context, limit int) ([]models.LotteryDraw, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, winners, pool_size, created_at
		FROM lottery_draws
		ORDER BY id DESC
		LIMIT $1
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
