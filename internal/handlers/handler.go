package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/bilibili"
	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/notify"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
	"github.com/bilibili-xiayun/bililive-queue/internal/store"
	"github.com/bilibili-xiayun/bililive-queue/internal/vote"
)

// Options carries the dependencies handlers share. Archive is required;
// Cache and Notifier may be nil.
type Options struct {
	Settings *settings.Settings
	Queue    *queue.Manager
	Votes    *vote.Manager
	Monitor  *bilibili.Monitor
	API      *bilibili.Client
	Creds    *bilibili.CredentialStore
	Archive  store.ArchiveStore
	Cache    *store.RedisStore
	Hub      *events.Hub
	Notifier *notify.Notifier
	Logger   zerolog.Logger
	DataDir  string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	settings *settings.Settings
	queue    *queue.Manager
	votes    *vote.Manager
	monitor  *bilibili.Monitor
	api      *bilibili.Client
	creds    *bilibili.CredentialStore
	archive  store.ArchiveStore
	cache    *store.RedisStore
	hub      *events.Hub
	notifier *notify.Notifier
	logger   zerolog.Logger
	dataDir  string
	started  time.Time

	loginMu sync.Mutex
	logins  map[string]*loginSession
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(opts Options) *Handler {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	return &Handler{
		settings: opts.Settings,
		queue:    opts.Queue,
		votes:    opts.Votes,
		monitor:  opts.Monitor,
		api:      opts.API,
		creds:    opts.Creds,
		archive:  opts.Archive,
		cache:    opts.Cache,
		hub:      opts.Hub,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		dataDir:  opts.DataDir,
		started:  time.Now(),
		logins:   make(map[string]*loginSession),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into dst. An empty body is allowed so
// action endpoints can be called without one.
func (h *Handler) decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// sanitizeName trims and limits a viewer name to 100 bytes, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
