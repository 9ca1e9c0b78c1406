package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/taxi-dispatch/internal/chat"
)

// WSPrefix marks channel ids served by the WebSocket transport.
const WSPrefix = "ws:"

var ErrNoSession = errors.New("no ws session")

const wsWriteTimeout = 5 * time.Second

// wsFrame is what a WebSocket client sends.
type wsFrame struct {
	Type     string `json:"type"` // text, contact or image
	Text     string `json:"text,omitempty"`
	Phone    string `json:"phone,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// wsSession represents a connected driver client.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

// WSRegistry holds live WebSocket sessions keyed by channel id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*wsSession), logger: logger.With("component", "ws")}
}

// Serve registers conn under channelID and feeds its frames to h until the
// connection drops or ctx ends. A newer connection for the same channel
// replaces the older one.
func (r *WSRegistry) Serve(ctx context.Context, channelID string, conn *websocket.Conn, h chat.Handler) {
	s := &wsSession{conn: conn}
	r.mu.Lock()
	if old, ok := r.sessions[channelID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[channelID] = s
	r.mu.Unlock()
	r.logger.Info("ws connected", "channel_id", channelID)

	defer func() {
		r.mu.Lock()
		if r.sessions[channelID] == s {
			delete(r.sessions, channelID)
		}
		r.mu.Unlock()
		_ = conn.Close()
		r.logger.Info("ws disconnected", "channel_id", channelID)
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				r.logger.Warn("ws read", "channel_id", channelID, "error", err)
			}
			return
		}
		ev, ok := f.event(channelID)
		if !ok {
			r.logger.Debug("ws frame ignored", "channel_id", channelID, "type", f.Type)
			continue
		}
		h.Handle(ctx, ev)
	}
}

func (f wsFrame) event(ch string) (chat.Event, bool) {
	switch f.Type {
	case "text":
		if strings.TrimSpace(f.Text) == "" {
			return chat.Event{}, false
		}
		return chat.TextEvent(ch, f.Text), true
	case "contact":
		return chat.ContactEvent(ch, f.Phone), true
	case "image":
		if f.ImageURL == "" {
			return chat.Event{}, false
		}
		return chat.ImageEvent(ch, f.ImageURL), true
	}
	return chat.Event{}, false
}

func (r *WSRegistry) Send(_ context.Context, msg chat.Message) error {
	r.mu.RLock()
	s, ok := r.sessions[msg.ChannelID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(msg); err != nil {
		return fmt.Errorf("ws send: %w", err)
	}
	return nil
}

// ResolveImage accepts only absolute http(s) URLs; WebSocket clients upload
// elsewhere and send the link.
func (r *WSRegistry) ResolveImage(_ context.Context, _, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("ws image: %q is not an http url", ref)
	}
	return u.String(), nil
}

// Connected reports the number of live sessions.
func (r *WSRegistry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
