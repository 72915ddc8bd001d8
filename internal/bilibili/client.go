// Package bilibili talks to the Bilibili web API and live danmaku
// servers: QR login, account lookup, room resolution, and the websocket
// protocol the live rooms speak.
package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

const (
	qrGenerateURL = "https://passport.bilibili.com/x/passport-login/web/qrcode/generate"
	qrPollURL     = "https://passport.bilibili.com/x/passport-login/web/qrcode/poll"
	navURL        = "https://api.bilibili.com/x/web-interface/nav"
	roomInitURL   = "https://api.live.bilibili.com/room/v1/Room/room_init"
	danmuInfoURL  = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// QR poll result codes from the passport API.
const (
	QRSuccess = 0
	QRExpired = 86038
	QRScanned = 86090
	QRWaiting = 86101
)

// Client is a Bilibili web API client. Cookies attach to every request
// once set; all calls honor their context.
type Client struct {
	http    *http.Client
	cookies map[string]string
	logger  zerolog.Logger
}

// NewClient builds a client with the browser headers the API expects.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		cookies: map[string]string{},
		logger:  logger.With().Str("component", "bilibili").Logger(),
	}
}

// SetCookies replaces the cookie set sent with requests.
func (c *Client) SetCookies(cookies map[string]string) {
	merged := make(map[string]string, len(cookies))
	for k, v := range cookies {
		merged[k] = v
	}
	c.cookies = merged
}

// apiEnvelope is the {code, message, data} wrapper every endpoint uses.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doGet performs a GET and returns the raw response plus the decoded
// envelope. A non-zero envelope code is an API error.
func (c *Client) doGet(ctx context.Context, rawURL string) (*http.Response, *apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")
	req.Header.Set("Origin", "https://www.bilibili.com")
	if len(c.cookies) > 0 {
		pairs := make([]string, 0, len(c.cookies))
		for k, v := range c.cookies {
			pairs = append(pairs, k+"="+v)
		}
		req.Header.Set("Cookie", strings.Join(pairs, "; "))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("bilibili API %d: %s", resp.StatusCode, resp.Status)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, &env, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	_, env, err := c.doGet(ctx, rawURL)
	if err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("bilibili API code %d: %s", env.Code, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// QRCode is a fresh login QR: the URL to encode and the key to poll with.
type QRCode struct {
	URL string `json:"url"`
	Key string `json:"qrcode_key"`
}

// QRGenerate requests a login QR code.
func (c *Client) QRGenerate(ctx context.Context) (*QRCode, error) {
	var qr QRCode
	if err := c.get(ctx, qrGenerateURL, &qr); err != nil {
		return nil, fmt.Errorf("generate qr: %w", err)
	}
	if qr.URL == "" || qr.Key == "" {
		return nil, fmt.Errorf("generate qr: empty response")
	}
	return &qr, nil
}

// QRPollResult is one poll of a login QR. Cookies are only present on
// QRSuccess.
type QRPollResult struct {
	Code    int
	Message string
	Cookies map[string]string
}

// QRPoll checks whether the QR was scanned and confirmed. The login
// cookies ride in on Set-Cookie headers when the inner code is QRSuccess.
func (c *Client) QRPoll(ctx context.Context, key string) (*QRPollResult, error) {
	resp, env, err := c.doGet(ctx, qrPollURL+"?qrcode_key="+url.QueryEscape(key))
	if err != nil {
		return nil, fmt.Errorf("poll qr: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("poll qr: code %d: %s", env.Code, env.Message)
	}

	var data struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("poll qr: decode data: %w", err)
	}

	result := &QRPollResult{Code: data.Code, Message: data.Message}
	if data.Code == QRSuccess {
		result.Cookies = map[string]string{}
		for _, ck := range resp.Cookies() {
			if ck.Value != "" {
				result.Cookies[ck.Name] = ck.Value
			}
		}
	}
	return result, nil
}

// Nav fetches the logged-in account's identity. Fails when the cookies do
// not carry a session.
func (c *Client) Nav(ctx context.Context) (*models.UserInfo, error) {
	var data struct {
		IsLogin   bool   `json:"isLogin"`
		Uname     string `json:"uname"`
		Mid       int64  `json:"mid"`
		Face      string `json:"face"`
		LevelInfo struct {
			CurrentLevel int `json:"current_level"`
		} `json:"level_info"`
	}
	if err := c.get(ctx, navURL, &data); err != nil {
		return nil, fmt.Errorf("nav: %w", err)
	}
	if !data.IsLogin {
		return nil, fmt.Errorf("nav: not logged in")
	}
	return &models.UserInfo{
		Uname: data.Uname,
		UID:   data.Mid,
		Face:  data.Face,
		Level: data.LevelInfo.CurrentLevel,
	}, nil
}

// RoomInfo is the resolved live room: short IDs map to the real ID the
// danmaku server wants.
type RoomInfo struct {
	RoomID     int64 `json:"room_id"`
	UID        int64 `json:"uid"`
	LiveStatus int   `json:"live_status"`
}

// RoomInit resolves a room ID (short or real) to its RoomInfo.
func (c *Client) RoomInit(ctx context.Context, roomID int64) (*RoomInfo, error) {
	var info RoomInfo
	if err := c.get(ctx, fmt.Sprintf("%s?id=%d", roomInitURL, roomID), &info); err != nil {
		return nil, fmt.Errorf("room init %d: %w", roomID, err)
	}
	return &info, nil
}

// DanmuHost is one danmaku server endpoint.
type DanmuHost struct {
	Host    string `json:"host"`
	WSSPort int    `json:"wss_port"`
}

// DanmuInfo carries the danmaku auth token and server list for a room.
type DanmuInfo struct {
	Token string      `json:"token"`
	Hosts []DanmuHost `json:"host_list"`
}

// DanmuInfo fetches the danmaku connection info for a real room ID.
func (c *Client) DanmuInfo(ctx context.Context, roomID int64) (*DanmuInfo, error) {
	var info DanmuInfo
	if err := c.get(ctx, fmt.Sprintf("%s?id=%d&type=0", danmuInfoURL, roomID), &info); err != nil {
		return nil, fmt.Errorf("danmu info %d: %w", roomID, err)
	}
	return &info, nil
}
