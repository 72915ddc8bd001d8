// Package relay routes normalized live-room messages into the queue, the
// vote tally, the archive and the event hub. It is the only place that
// knows which danmaku text triggers which action.
package relay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/notify"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
	"github.com/bilibili-xiayun/bililive-queue/internal/store"
	"github.com/bilibili-xiayun/bililive-queue/internal/vote"
)

// Danmaku trigger words, matched as substrings. While a vote is running
// every danmaku also feeds the ballot box and the cutline/boarding keywords
// are suppressed until the vote ends; queue requests keep working.
const (
	cmdQueue    = "排队"
	cmdCutline  = "插队"
	cmdBoarding = "上车"
)

const archiveTimeout = 5 * time.Second

// Options wires a Relay. Archive and Cache may be nil.
type Options struct {
	Queue    *queue.Manager
	Votes    *vote.Manager
	Archive  store.ArchiveStore
	Cache    *store.RedisStore
	Hub      *events.Hub
	Notifier *notify.Notifier
	Settings *settings.Settings
	Logger   zerolog.Logger
}

// Relay consumes monitor messages and applies them.
type Relay struct {
	queue    *queue.Manager
	votes    *vote.Manager
	archive  store.ArchiveStore
	cache    *store.RedisStore
	hub      *events.Hub
	notifier *notify.Notifier
	settings *settings.Settings
	logger   zerolog.Logger
}

// New creates a relay.
func New(opts Options) *Relay {
	return &Relay{
		queue:    opts.Queue,
		votes:    opts.Votes,
		archive:  opts.Archive,
		cache:    opts.Cache,
		hub:      opts.Hub,
		notifier: opts.Notifier,
		settings: opts.Settings,
		logger:   opts.Logger.With().Str("component", "relay").Logger(),
	}
}

// Run consumes messages until the context is cancelled.
func (r *Relay) Run(ctx context.Context, messages <-chan models.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-messages:
			r.Handle(msg)
		}
	}
}

// Handle applies a single message: archive, fan out, then route by kind.
func (r *Relay) Handle(msg models.Message) {
	metrics.LiveMessages.WithLabelValues(string(msg.Kind)).Inc()

	r.persist(&msg)
	r.hub.Publish(events.TypeMessage, msg)

	switch msg.Kind {
	case models.KindDanmaku:
		r.handleDanmaku(msg)
	case models.KindGuard:
		r.handleGuard(msg)
	case models.KindSuperChat:
		r.notifier.SuperChat(msg.Username, msg.Body, msg.Price)
	case models.KindGift:
		if r.settings.LogGiftEvents() {
			r.logger.Info().
				Str("username", msg.Username).
				Str("gift", msg.GiftName).
				Int("num", msg.Num).
				Msg("gift received")
		}
	}
}

func (r *Relay) handleDanmaku(msg models.Message) {
	text := strings.TrimSpace(msg.Body)

	// Queue requests are keyword matches anywhere in the text and are
	// evaluated unconditionally, vote or no vote.
	if strings.Contains(text, cmdQueue) {
		r.joinQueue("queue", msg.Username, r.queue.ProcessQueueRequest)
	}

	switch {
	case r.votes.Running():
		r.handleBallot(msg.UID, text)
	case strings.Contains(text, cmdCutline):
		r.joinQueue("cutline", msg.Username, r.queue.ProcessCutlineRequest)
	case strings.Contains(text, cmdBoarding):
		r.joinQueue("boarding", msg.Username, func(name string) error {
			return r.queue.ProcessBoardingRequest(name, false)
		})
	}
}

func (r *Relay) joinQueue(kind, username string, join func(string) error) {
	outcome := "ok"
	if err := join(username); err != nil {
		outcome = "rejected"
		r.logger.Debug().Str("kind", kind).Str("username", username).Err(err).Msg("request rejected")
	} else {
		r.logger.Info().Str("kind", kind).Str("username", username).Msg("request accepted")
	}
	metrics.QueueRequests.WithLabelValues(kind, outcome).Inc()
}

func (r *Relay) handleBallot(uid int64, text string) {
	counted, option := r.votes.HandleDanmaku(uid, text)
	if counted {
		metrics.VoteBallots.WithLabelValues("counted").Inc()
		r.logger.Debug().Int64("uid", uid).Int("option", option).Msg("ballot counted")
		return
	}
	// Ordinary chat during a vote is not a rejected ballot; only count
	// texts that were at least numeric.
	if _, err := strconv.Atoi(text); err == nil {
		metrics.VoteBallots.WithLabelValues("rejected").Inc()
	}
}

func (r *Relay) handleGuard(msg models.Message) {
	if msg.GuardLevel <= 0 {
		return
	}
	months := msg.Num
	reward, err := r.queue.ProcessGuardGift(msg.Username, msg.GuardLevel, months)
	if err != nil {
		r.logger.Error().Str("username", msg.Username).Err(err).Msg("guard reward failed")
		return
	}
	if reward > 0 {
		metrics.GuardRewards.Add(float64(reward))
	}

	r.notifier.GuardPurchase(msg.Username, msg.GuardLevel, months, reward)

	if r.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		purchase := &models.GuardPurchase{
			RoomID:     msg.RoomID,
			Username:   msg.Username,
			GuardLevel: msg.GuardLevel,
			Months:     months,
			Reward:     reward,
		}
		if err := r.archive.SaveGuardPurchase(ctx, purchase); err != nil {
			r.logger.Warn().Err(err).Msg("guard purchase archive failed")
		}
	}
}

// persist archives the message and feeds the recent-message cache.
// Both are best-effort: an unreachable store must never stall the
// danmaku stream.
func (r *Relay) persist(msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if r.archive != nil {
		start := time.Now()
		if err := r.archive.SaveEvent(ctx, msg); err != nil {
			r.logger.Warn().Err(err).Msg("event archive failed")
		}
		metrics.ArchiveLatency.Observe(time.Since(start).Seconds())
	}
	if r.cache != nil {
		start := time.Now()
		if err := r.cache.CacheMessage(ctx, msg); err != nil {
			r.logger.Warn().Err(err).Msg("event cache failed")
		}
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}
}
