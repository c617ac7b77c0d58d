// Package ws carries live sessions over websockets.
//
// One goroutine reads (and discards) client frames so that pongs and abrupt
// disconnects are noticed; the serving goroutine owns all writes. The live
// session is released when either side ends.
package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grievd/internal/live"
	logx "grievd/pkg/logx"
)

type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	SendBuffer     int
	MaxMessageSize int64
	// AllowedOrigins lists accepted Origin hosts. Empty allows same-host only.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 << 10
	}
	return c
}

// Connector is the live registry side.
type Connector interface {
	Connect(ctx context.Context, actor live.Actor, sink live.Sink) (*live.Session, error)
}

// NewUpgrader returns an upgrader honouring cfg.AllowedOrigins.
func NewUpgrader(cfg Config) *websocket.Upgrader {
	allowed := map[string]bool{}
	for _, o := range cfg.AllowedOrigins {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			allowed[o] = true
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			host := strings.ToLower(u.Host)
			if allowed["*"] || allowed[host] {
				return true
			}
			return strings.EqualFold(host, r.Host)
		},
	}
}

// sink queues frames for the write loop. It never blocks the registry.
type sink struct {
	out  chan live.Notification
	done chan struct{}
	once sync.Once
}

func newSink(n int) *sink {
	return &sink{out: make(chan live.Notification, n), done: make(chan struct{})}
}

func (s *sink) Send(n live.Notification) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- n:
		return true
	default:
		return false
	}
}

func (s *sink) close() { s.once.Do(func() { close(s.done) }) }

// Serve registers a session for actor and pumps frames to conn until the
// client goes away, ctx ends or the session is released. It always closes
// conn and releases the session before returning.
func Serve(ctx context.Context, conn *websocket.Conn, reg Connector, actor live.Actor, cfg Config, log logx.Logger) error {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snk := newSink(cfg.SendBuffer)
	defer snk.close()

	sess, err := reg.Connect(ctx, actor, snk)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session refused"),
			time.Now().Add(cfg.WriteWait))
		return err
	}
	defer sess.Close()
	log = log.With(logx.String("session", sess.ID), logx.String("actor", actor.ID))

	readErr := make(chan error, 1)
	go func() {
		defer cancel()
		readErr <- readLoop(conn, cfg)
	}()

	err = writeLoop(ctx, conn, sess, snk, cfg)
	cancel()
	select {
	case rerr := <-readErr:
		if err == nil && rerr != nil && !isNormalClose(rerr) {
			err = rerr
		}
	case <-time.After(cfg.WriteWait):
	}
	if err != nil {
		log.Debug("live socket ended", logx.Err(err))
	}
	return err
}

func readLoop(conn *websocket.Conn, cfg Config) error {
	conn.SetReadLimit(cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, sess *live.Session, snk *sink, cfg Config) error {
	ticker := time.NewTicker(cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return writeClose(conn, cfg, websocket.CloseGoingAway)
		case <-sess.Done():
			return writeClose(conn, cfg, websocket.CloseNormalClosure)
		case n := <-snk.out:
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				return err
			}
		}
	}
}

// writeClose is best effort: the peer may already be gone.
func writeClose(conn *websocket.Conn, cfg Config, code int) error {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(cfg.WriteWait))
	return nil
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
