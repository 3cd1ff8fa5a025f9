// Package feed connects to the post relay WebSocket and emits one Post per
// new post from the watched accounts. It owns reconnection, the warmup window
// that drops relay backlog, and the per-author gate that suppresses replays
// of already-seen posts.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kolstream/kolbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// subscribeCommand is the relay's per-account subscription frame.
type subscribeCommand struct {
	Type            string `json:"type"` // subscribe | unsubscribe
	TwitterUsername string `json:"twitterUsername"`
}

// postMessage is the relay's post frame.
type postMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	URL      string `json:"url"`
}

// Status is a point-in-time snapshot of the feed for the status server.
type Status struct {
	Connected     bool      `json:"connected"`
	Handles       []string  `json:"handles"`
	PostsEmitted  int64     `json:"posts_emitted"`
	PostsDropped  int64     `json:"posts_dropped"`
	Reconnects    int64     `json:"reconnects"`
	LastPostAt    time.Time `json:"last_post_at,omitzero"`
	LastConnectAt time.Time `json:"last_connect_at,omitzero"`
}

// Config tunes the feed.
type Config struct {
	WsURL     string
	Handles   []string
	Warmup    time.Duration // posts arriving this soon after (re)connect are backlog, dropped
	Reconnect Reconnect
	QueueSize int
}

// Reconnect is the backoff applied between connection attempts.
type Reconnect struct {
	Initial time.Duration
	Max     time.Duration
}

// Feed reads posts from the relay and delivers them on Posts(). Duplicate
// suppression is two-layered: a per-author last-ID gate in this process and
// an optional cross-replica SeenCache.
type Feed struct {
	cfg    Config
	seen   domain.SeenCache // optional
	posts  chan domain.Post
	logger *slog.Logger

	mu         sync.Mutex
	connected  bool
	lastSeen   map[string]string // author -> last post ID delivered
	emitted    int64
	dropped    int64
	reconnects int64
	lastPostAt time.Time
	connectAt  time.Time
}

// New creates a Feed. seen may be nil.
func New(cfg Config, seen domain.SeenCache, logger *slog.Logger) *Feed {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	return &Feed{
		cfg:      cfg,
		seen:     seen,
		posts:    make(chan domain.Post, cfg.QueueSize),
		lastSeen: make(map[string]string),
		logger:   logger.With(slog.String("component", "feed")),
	}
}

// Posts returns the channel new posts are delivered on. It is closed when
// Run returns.
func (f *Feed) Posts() <-chan domain.Post {
	return f.posts
}

// Run connects to the relay and re-dials with backoff until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.posts)

	if len(f.cfg.Handles) == 0 {
		f.logger.Info("no handles to watch, feed exiting")
		return nil
	}

	delay := f.cfg.Reconnect.Initial
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if f.noteDisconnect() {
			// The connection outlived the warmup window before dropping, so a
			// transient blip after long uptime starts the backoff over instead
			// of waiting the accumulated maximum.
			delay = f.cfg.Reconnect.Initial
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > f.cfg.Reconnect.Max {
			delay = f.cfg.Reconnect.Max
		}
	}
}

// noteDisconnect folds one disconnect into the feed state and reports whether
// the dropped connection had survived past the warmup window.
func (f *Feed) noteDisconnect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	healthy := f.connected && time.Since(f.connectAt) >= f.cfg.Warmup
	f.connected = false
	f.reconnects++
	return healthy
}

// runConnection dials, subscribes all handles, and reads frames until the
// connection fails or ctx is cancelled.
func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.WsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, handle := range f.cfg.Handles {
		cmd := subscribeCommand{Type: "subscribe", TwitterUsername: handle}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", handle, err)
		}
	}

	connectedAt := time.Now()
	f.mu.Lock()
	f.connected = true
	f.connectAt = connectedAt
	f.mu.Unlock()
	f.logger.Info("feed connected", slog.Int("handles", len(f.cfg.Handles)))

	// Close the connection when ctx ends so ReadMessage unblocks; ping to
	// keep the relay from idling us out.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				// Best-effort unsubscribe so the relay stops queueing for us.
				for _, handle := range f.cfg.Handles {
					cmd := subscribeCommand{Type: "unsubscribe", TwitterUsername: handle}
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteJSON(cmd); err != nil {
						break
					}
				}
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleFrame(ctx, data, connectedAt)
	}
}

// handleFrame parses one relay frame and emits the post if it passes the
// warmup window and the duplicate gates.
func (f *Feed) handleFrame(ctx context.Context, data []byte, connectedAt time.Time) {
	var msg postMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("unparseable frame", slog.Int("len", len(data)))
		return
	}
	if msg.Type != "post" && msg.Type != "tweet" {
		return
	}
	if msg.ID == "" || msg.Username == "" {
		return
	}

	now := time.Now()

	// The relay replays recent history on subscribe. Acting on backlog would
	// trade on stale signals, so everything inside the warmup window is
	// dropped; the per-author gate still records the IDs so the same posts
	// are not emitted when they recur after warmup.
	warm := now.Sub(connectedAt) < f.cfg.Warmup

	f.mu.Lock()
	last, known := f.lastSeen[msg.Username]
	if known && last == msg.ID {
		f.dropped++
		f.mu.Unlock()
		return
	}
	f.lastSeen[msg.Username] = msg.ID
	if warm {
		f.dropped++
		f.mu.Unlock()
		f.logger.Debug("dropped backlog post",
			slog.String("post_id", msg.ID),
			slog.String("author", msg.Username),
		)
		return
	}
	f.mu.Unlock()

	if f.seen != nil {
		first, err := f.seen.MarkSeen(ctx, msg.ID, 24*time.Hour)
		if err != nil {
			// Fail open: the coordinator's dedup store still guarantees
			// exactly-once execution.
			f.logger.Warn("seen cache unavailable", slog.String("error", err.Error()))
		} else if !first {
			f.mu.Lock()
			f.dropped++
			f.mu.Unlock()
			return
		}
	}

	post := domain.Post{
		ID:         msg.ID,
		Author:     msg.Username,
		Text:       msg.Text,
		URL:        msg.URL,
		ObservedAt: now,
	}

	select {
	case f.posts <- post:
		f.mu.Lock()
		f.emitted++
		f.lastPostAt = now
		f.mu.Unlock()
		f.logger.Info("post observed",
			slog.String("post_id", post.ID),
			slog.String("author", post.Author),
		)
	case <-ctx.Done():
	}
}

// Status returns a snapshot for the status server.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		Connected:     f.connected,
		Handles:       f.cfg.Handles,
		PostsEmitted:  f.emitted,
		PostsDropped:  f.dropped,
		Reconnects:    f.reconnects,
		LastPostAt:    f.lastPostAt,
		LastConnectAt: f.connectAt,
	}
}
