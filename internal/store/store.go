package store

import (
	"context"
	"time"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// EventQuery narrows an event listing. Zero values mean "any".
// BeforeID is a ULID cursor: only events with a smaller ID (older) are
// returned, so pages walk backwards in time. Contains matches a substring
// of the body, which also works for CJK text where word tokenizing does not.
type EventQuery struct {
	RoomID   int64
	Kind     models.MessageKind
	Username string
	Contains string
	Limit    int
	BeforeID string
}

// ArchiveStore defines the interface for persistent storage of live-room
// events and queue bookkeeping records. Both PostgresStore and SQLiteStore
// implement this interface.
type ArchiveStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Event archive
	SaveEvent(ctx context.Context, msg *models.Message) error
	ListEvents(ctx context.Context, q EventQuery) ([]models.Message, error)
	CountEvents(ctx context.Context) (int64, error)
	CountEventsByKind(ctx context.Context) (map[models.MessageKind]int64, error)
	MostRecentEventTime(ctx context.Context) (*time.Time, error)

	// Deduction ledger
	SaveDeduction(ctx context.Context, d *models.Deduction) error
	ListDeductions(ctx context.Context, username string, limit int) ([]models.Deduction, error)

	// Guard purchases
	SaveGuardPurchase(ctx context.Context, p *models.GuardPurchase) error
	ListGuardPurchases(ctx context.Context, since time.Time, limit int) ([]models.GuardPurchase, error)

	// Lottery history
	SaveLotteryDraw(ctx context.Context, d *models.LotteryDraw) error
	ListLotteryDraws(ctx context.Context, limit int) ([]models.LotteryDraw, error)
}
