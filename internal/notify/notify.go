// Package notify shows desktop notifications for live events worth the
// streamer's attention while the overlay is out of view.
package notify

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

const appTitle = "子轩专属排队工具"

// Notifier sends desktop notifications. Disabled instances are no-ops so
// call sites never need to check.
type Notifier struct {
	enabled bool
	logger  zerolog.Logger
}

// New creates a notifier.
func New(enabled bool, logger zerolog.Logger) *Notifier {
	return &Notifier{
		enabled: enabled,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Enabled reports whether notifications are turned on.
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// GuardPurchase announces a new guard subscription and its queue reward.
func (n *Notifier) GuardPurchase(username string, level, months, reward int) {
	body := guardBody(username, level, months, reward)
	n.send("guard", "新舰长", body)
}

// SuperChat announces a paid message.
func (n *Notifier) SuperChat(username, message string, price float64) {
	body := fmt.Sprintf("%s（¥%.0f）: %s", username, price, message)
	n.send("super_chat", "醒目留言", body)
}

// LotteryResult announces the winners of a draw.
func (n *Notifier) LotteryResult(winners []string) {
	if len(winners) == 0 {
		return
	}
	n.send("lottery", "抽奖结果", "恭喜 "+strings.Join(winners, "、"))
}

func guardBody(username string, level, months, reward int) string {
	name := models.GuardLevelName(level)
	if reward > 0 {
		return fmt.Sprintf("感谢 %s 开通%d个月%s！排队次数 +%d", username, months, name, reward)
	}
	return fmt.Sprintf("感谢 %s 开通%d个月%s！", username, months, name)
}

func (n *Notifier) send(kind, title, body string) {
	if !n.enabled {
		return
	}
	if err := beeep.Notify(appTitle+" · "+title, body, ""); err != nil {
		n.logger.Warn().Err(err).Str("title", title).Msg("desktop notification failed")
		return
	}
	metrics.NotificationsSent.WithLabelValues(kind).Inc()
}
