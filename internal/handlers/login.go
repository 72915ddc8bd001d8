package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/bilibili-xiayun/bililive-queue/internal/bilibili"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// Login sessions mirror the Bilibili QR flow: the QR itself expires after
// about three minutes, and we keep the session record a while longer so a
// late poll sees "expired" instead of 404.
const (
	qrLifetime      = 180 * time.Second
	sessionLifetime = 10 * time.Minute
)

type loginSession struct {
	id        string
	key       string // qrcode_key, polled against Bilibili
	url       string // content encoded into the QR image
	state     string // pending, scanned, confirmed, expired
	user      *models.UserInfo
	createdAt time.Time
}

// LoginQRCreate starts a new QR login session.
func (h *Handler) LoginQRCreate(w http.ResponseWriter, r *http.Request) {
	qr, err := h.api.QRGenerate(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to generate login QR")
		h.Error(w, http.StatusBadGateway, "failed to generate QR code")
		return
	}

	sess := &loginSession{
		id:        uuid.NewString(),
		key:       qr.Key,
		url:       qr.URL,
		state:     "pending",
		createdAt: time.Now(),
	}

	h.loginMu.Lock()
	h.pruneLoginsLocked()
	h.logins[sess.id] = sess
	h.loginMu.Unlock()

	h.logger.Info().Str("session_id", sess.id).Msg("Login QR session created")

	h.JSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.id,
		"url":        sess.url,
		"expires_in": int(qrLifetime.Seconds()),
	})
}

// LoginQRPoll reports the session state, advancing it by polling Bilibili.
// On confirmation the credential is saved and the client starts sending
// authenticated requests.
func (h *Handler) LoginQRPoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")

	h.loginMu.Lock()
	sess, ok := h.logins[id]
	if !ok {
		h.loginMu.Unlock()
		h.Error(w, http.StatusNotFound, "unknown login session")
		return
	}
	state := sess.state
	user := sess.user
	key := sess.key
	age := time.Since(sess.createdAt)
	h.loginMu.Unlock()

	// Terminal states need no further polling.
	if state == "confirmed" || state == "expired" {
		h.loginSessionJSON(w, state, user)
		return
	}
	if age > qrLifetime {
		h.setLoginState(id, "expired", nil)
		h.loginSessionJSON(w, "expired", nil)
		return
	}

	result, err := h.api.QRPoll(r.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", id).Msg("Login QR poll failed")
		h.Error(w, http.StatusBadGateway, "failed to poll QR state")
		return
	}

	switch result.Code {
	case bilibili.QRSuccess:
		cred := &bilibili.Credential{Cookies: result.Cookies}
		h.api.SetCookies(cred.Cookies)

		info, err := h.api.Nav(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to fetch account after login")
			h.Error(w, http.StatusBadGateway, "login confirmed but account lookup failed")
			return
		}
		cred.UserInfo = info

		if err := h.creds.Save(cred); err != nil {
			h.logger.Error().Err(err).Msg("Failed to save credential")
			h.Error(w, http.StatusInternalServerError, "failed to save credential")
			return
		}

		h.setLoginState(id, "confirmed", info)
		h.logger.Info().Str("uname", info.Uname).Int64("uid", info.UID).Msg("Login confirmed")
		h.loginSessionJSON(w, "confirmed", info)

	case bilibili.QRExpired:
		h.setLoginState(id, "expired", nil)
		h.loginSessionJSON(w, "expired", nil)

	case bilibili.QRScanned:
		h.setLoginState(id, "scanned", nil)
		h.loginSessionJSON(w, "scanned", nil)

	default:
		h.loginSessionJSON(w, "pending", nil)
	}
}

// LoginQRImage serves the QR code as a PNG for the session.
func (h *Handler) LoginQRImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")

	h.loginMu.Lock()
	sess, ok := h.logins[id]
	h.loginMu.Unlock()
	if !ok {
		h.Error(w, http.StatusNotFound, "unknown login session")
		return
	}

	png, err := qrcode.Encode(sess.url, qrcode.Medium, 256)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode QR image")
		h.Error(w, http.StatusInternalServerError, "failed to encode QR image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// LoginSession reports the stored credential, if any.
func (h *Handler) LoginSession(w http.ResponseWriter, r *http.Request) {
	cred, err := h.creds.Load()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load credential")
		h.Error(w, http.StatusInternalServerError, "failed to read credential")
		return
	}
	if !cred.Valid() {
		h.JSON(w, http.StatusOK, map[string]any{"logged_in": false})
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"logged_in": true,
		"user":      cred.UserInfo,
	})
}

// Logout clears the stored credential and the client's cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.Clear(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear credential")
		h.Error(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}
	h.api.SetCookies(nil)
	h.logger.Info().Msg("Logged out")
	h.JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) setLoginState(id, state string, user *models.UserInfo) {
	h.loginMu.Lock()
	if sess, ok := h.logins[id]; ok {
		sess.state = state
		if user != nil {
			sess.user = user
		}
	}
	h.loginMu.Unlock()
}

func (h *Handler) loginSessionJSON(w http.ResponseWriter, state string, user *models.UserInfo) {
	resp := map[string]any{"state": state}
	if user != nil {
		resp["user"] = user
	}
	h.JSON(w, http.StatusOK, resp)
}

// pruneLoginsLocked drops sessions past their keep-around window. Caller
// holds loginMu.
func (h *Handler) pruneLoginsLocked() {
	cutoff := time.Now().Add(-sessionLifetime)
	for id, sess := range h.logins {
		if sess.createdAt.Before(cutoff) {
			delete(h.logins, id)
		}
	}
}
