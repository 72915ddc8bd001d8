package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ledger file names are part of the tool's history; operators grep them.
const (
	countLogFile     = "count_changes.txt"
	deductionLogFile = "次数扣除日志.txt"
)

// Ledger appends human-readable audit lines for every count change and
// deduction. Lines are UTF-8 and append-only so the files survive crashes
// and stay diffable.
type Ledger struct {
	mu     sync.Mutex
	dir    string
	logger zerolog.Logger

	onDeduction func(name string, amount int, reason string)
}

// NewLedger writes ledgers under dir, creating it if needed.
func NewLedger(dir string, logger zerolog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &Ledger{
		dir:    dir,
		logger: logger.With().Str("component", "ledger").Logger(),
	}, nil
}

// OnDeduction registers a hook that fires after each deduction line is
// written. The archive store subscribes here.
func (l *Ledger) OnDeduction(fn func(name string, amount int, reason string)) {
	l.mu.Lock()
	l.onDeduction = fn
	l.mu.Unlock()
}

// CountChange records a play-count change on a roster name.
func (l *Ledger) CountChange(name string, oldCount, newCount int, reason string) {
	line := fmt.Sprintf("[%s] %s: %d -> %d (%+d) | 原因: %s\n",
		time.Now().Format("2006-01-02 15:04:05"), name, oldCount, newCount, newCount-oldCount, reason)
	l.append(countLogFile, line)
	l.logger.Info().
		Str("name", name).
		Int("old", oldCount).
		Int("new", newCount).
		Str("reason", reason).
		Msg("count changed")
}

// Deduction records plays consumed (or awarded, for guard rewards).
func (l *Ledger) Deduction(name string, amount int, reason string) {
	line := fmt.Sprintf("[%s] %s - 扣除 %d 次 - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), name, amount, reason)
	l.append(deductionLogFile, line)
	l.logger.Info().
		Str("name", name).
		Int("amount", amount).
		Str("reason", reason).
		Msg("deduction recorded")

	l.mu.Lock()
	fn := l.onDeduction
	l.mu.Unlock()
	if fn != nil {
		fn(name, amount, reason)
	}
}

func (l *Ledger) append(file, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error().Err(err).Str("file", file).Msg("ledger open failed")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		l.logger.Error().Err(err).Str("file", file).Msg("ledger write failed")
	}
}
