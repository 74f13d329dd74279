// Package cdp is a minimal Chrome DevTools Protocol client for driving one
// browser page: navigation, screenshots, and synthetic keyboard/mouse input.
// It speaks the JSON-RPC flavor of the protocol over a websocket and exposes
// only the handful of commands the game driver needs.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	// Screenshots of a full viewport arrive base64-encoded in one frame.
	maxMessageBytes = 32 << 20

	textPollInterval = 250 * time.Millisecond

	// releaseTimeout bounds the keyUp that HoldKey sends after a canceled
	// hold. A stuck key would keep the camera spinning.
	releaseTimeout = 2 * time.Second
)

// Key identifies a keyboard key in protocol terms.
type Key struct {
	Key     string
	Code    string
	KeyCode int
}

var (
	KeyA = Key{Key: "a", Code: "KeyA", KeyCode: 65}
	KeyD = Key{Key: "d", Code: "KeyD", KeyCode: 68}
	KeyR = Key{Key: "r", Code: "KeyR", KeyCode: 82}
)

// CookieParam is one cookie in protocol form, for Network.setCookies.
type CookieParam struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
}

type rpcRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
	// Method is set on protocol events, which carry no id.
	Method string `json:"method,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Session is a DevTools connection to a single page target. Commands are
// safe for concurrent use; the driver issues them sequentially anyway.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse

	done    chan struct{}
	readErr error
}

// Dial discovers the first page target behind devtoolsURL (the browser's
// --remote-debugging-port HTTP endpoint) and attaches to it.
func Dial(ctx context.Context, devtoolsURL string) (*Session, error) {
	wsURL, err := pageTarget(ctx, devtoolsURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	s := &Session{
		conn:    conn,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// pageTarget asks the debugging endpoint for its open targets and returns
// the websocket URL of the first page.
func pageTarget(ctx context.Context, devtoolsURL string) (string, error) {
	listURL := strings.TrimRight(devtoolsURL, "/") + "/json/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return "", fmt.Errorf("build target list request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list devtools targets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("list devtools targets: status %d: %s", resp.StatusCode, detail)
	}

	var targets []struct {
		Type                 string `json:"type"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode devtools targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no page target at %s", devtoolsURL)
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			s.readErr = err
			close(s.done)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.ID == 0 {
			// Protocol event, not a command reply.
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (s *Session) call(ctx context.Context, method string, params, out any) error {
	id := s.nextID.Add(1)
	ch := make(chan rpcResponse, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	body, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	s.writeMu.Lock()
	err = s.conn.Write(ctx, websocket.MessageText, body)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("%s: devtools connection lost: %w", method, s.readErr)
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Navigate loads url in the attached page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.call(ctx, "Page.navigate", map[string]any{"url": url}, nil)
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	return s.call(ctx, "Page.reload", nil, nil)
}

// WaitForText polls the page body until it contains want or ctx expires.
// Evaluation errors while the page is mid-load are treated as "not yet".
func (s *Session) WaitForText(ctx context.Context, want string) error {
	expr := fmt.Sprintf("document.body !== null && document.body.innerText.includes(%q)", want)
	for {
		var found bool
		if err := s.evaluate(ctx, expr, &found); err == nil && found {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(textPollInterval):
		}
	}
}

func (s *Session) evaluate(ctx context.Context, expr string, out any) error {
	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	params := map[string]any{"expression": expr, "returnByValue": true}
	if err := s.call(ctx, "Runtime.evaluate", params, &res); err != nil {
		return err
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

// CaptureJPEG takes a screenshot of the page at the given JPEG quality.
func (s *Session) CaptureJPEG(ctx context.Context, quality int) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	params := map[string]any{"format": "jpeg", "quality": quality}
	if err := s.call(ctx, "Page.captureScreenshot", params, &res); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return data, nil
}

// Click presses and releases the left mouse button at (x, y).
func (s *Session) Click(ctx context.Context, x, y float64) error {
	press := map[string]any{
		"type": "mousePressed", "x": x, "y": y,
		"button": "left", "clickCount": 1,
	}
	if err := s.call(ctx, "Input.dispatchMouseEvent", press, nil); err != nil {
		return err
	}
	release := map[string]any{
		"type": "mouseReleased", "x": x, "y": y,
		"button": "left", "clickCount": 1,
	}
	return s.call(ctx, "Input.dispatchMouseEvent", release, nil)
}

// MoveMouse places the cursor at (x, y).
func (s *Session) MoveMouse(ctx context.Context, x, y float64) error {
	params := map[string]any{"type": "mouseMoved", "x": x, "y": y}
	return s.call(ctx, "Input.dispatchMouseEvent", params, nil)
}

// ScrollWheel dispatches one wheel tick at (x, y). Negative deltaY scrolls
// away from the user, which the game maps to zooming in.
func (s *Session) ScrollWheel(ctx context.Context, x, y, deltaY float64) error {
	params := map[string]any{
		"type": "mouseWheel", "x": x, "y": y,
		"deltaX": 0, "deltaY": deltaY,
	}
	return s.call(ctx, "Input.dispatchMouseEvent", params, nil)
}

// PressKey taps k once.
func (s *Session) PressKey(ctx context.Context, k Key) error {
	if err := s.keyEvent(ctx, "keyDown", k); err != nil {
		return err
	}
	return s.keyEvent(ctx, "keyUp", k)
}

// HoldKey keeps k pressed for d. The release is sent even when the wait is
// cut short, so a canceled hold never leaves the camera spinning.
func (s *Session) HoldKey(ctx context.Context, k Key, d time.Duration) error {
	if err := s.keyEvent(ctx, "keyDown", k); err != nil {
		return err
	}

	var waitErr error
	select {
	case <-time.After(d):
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	upCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.keyEvent(upCtx, "keyUp", k); err != nil && waitErr == nil {
		return err
	}
	return waitErr
}

func (s *Session) keyEvent(ctx context.Context, typ string, k Key) error {
	params := map[string]any{
		"type":                  typ,
		"key":                   k.Key,
		"code":                  k.Code,
		"windowsVirtualKeyCode": k.KeyCode,
		"nativeVirtualKeyCode":  k.KeyCode,
	}
	if typ == "keyDown" {
		params["text"] = k.Key
	}
	return s.call(ctx, "Input.dispatchKeyEvent", params, nil)
}

// SetViewport fixes the page to width x height CSS pixels.
func (s *Session) SetViewport(ctx context.Context, width, height int) error {
	params := map[string]any{
		"width": width, "height": height,
		"deviceScaleFactor": 1, "mobile": false,
	}
	return s.call(ctx, "Emulation.setDeviceMetricsOverride", params, nil)
}

// SetCookies installs cookies into the browser so the page loads logged in.
func (s *Session) SetCookies(ctx context.Context, cookies []CookieParam) error {
	return s.call(ctx, "Network.setCookies", map[string]any{"cookies": cookies}, nil)
}

// Close tears down the websocket.
func (s *Session) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}
