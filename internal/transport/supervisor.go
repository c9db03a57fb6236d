package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/error2913/QQ-add-group-verification/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrURLRequired      = errors.New("transport: websocket url required")
	ErrInvalidURL       = errors.New("transport: invalid websocket url")
	ErrHandlerRequired  = errors.New("transport: frame handler required")
	ErrDial             = errors.New("transport: dial failed")
	ErrConnectionLost   = errors.New("transport: connection lost")
	ErrNotLive          = errors.New("transport: connection not live")
	ErrRetriesExhausted = errors.New("transport: reconnect attempts exhausted")
)

// Handler consumes one inbound text frame.
type Handler interface {
	HandleFrame(ctx context.Context, payload []byte)
}

type HandlerFunc func(ctx context.Context, payload []byte)

func (f HandlerFunc) HandleFrame(ctx context.Context, payload []byte) {
	f(ctx, payload)
}

// Supervisor keeps one websocket to the gateway alive.
type Supervisor struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	clock   clock.Clock
	rng     *rand.Rand

	state    atomic.Int32
	failures atomic.Int32

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewSupervisor(cfg Config, handler Handler, clk clock.Clock) (*Supervisor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &Supervisor{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		clock: clk,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.setState(StateDisconnected)
	return s, nil
}

// Run connects and reconnects until ctx ends (nil) or the consecutive failure
// budget is spent (ErrRetriesExhausted).
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting)
		log.Info().
			Str("url", s.cfg.URL).
			Int("attempt", failures+1).
			Int("max", s.cfg.MaxConsecutiveFailures).
			Msg("transport.Supervisor.Run connecting")

		conn, err := s.dial(ctx)
		if err == nil {
			failures = 0
			s.failures.Store(0)
			s.setConn(conn)
			log.Info().Str("url", s.cfg.URL).Msg("transport.Supervisor.Run connected")

			err = s.readLoop(ctx, conn)
			s.clearConn(conn)
			if ctx.Err() != nil {
				return nil
			}
		}

		failures++
		s.failures.Store(int32(failures))
		observability.RecordConnectFailure()
		if s.cfg.MaxConsecutiveFailures > 0 && failures >= s.cfg.MaxConsecutiveFailures {
			log.Error().Err(err).Int("failures", failures).Msg("transport.Supervisor.Run giving up")
			return fmt.Errorf("%w: failures=%d last=%v", ErrRetriesExhausted, failures, err)
		}

		s.setState(StateBackoff)
		delay := s.cfg.Backoff.Delay(failures, s.rng)
		log.Warn().Err(err).Int("failures", failures).Dur("retry_in", delay).Msg("transport.Supervisor.Run connection error")
		if err := s.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// State reports the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// ConsecutiveFailures reports failures since the last successful connect.
func (s *Supervisor) ConsecutiveFailures() int {
	return int(s.failures.Load())
}

// WriteText sends one text frame on the live connection. Writes are serialized.
func (s *Supervisor) WriteText(ctx context.Context, payload []byte) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil || s.State() != StateLive {
		return ErrNotLive
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// the read loop observes the close and moves to backoff
		_ = conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

func (s *Supervisor) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if token := strings.TrimSpace(s.cfg.AccessToken); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := s.dialer.DialContext(dialCtx, s.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, s.cfg.URL, err)
	}
	return conn, nil
}

func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		go s.handler.HandleFrame(ctx, payload)
	}
}

func (s *Supervisor) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := s.clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Supervisor) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.setState(StateLive)
}

func (s *Supervisor) clearConn(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	_ = conn.Close()
	s.setState(StateDisconnected)
}

func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	observability.RecordConnectionState(next.String(), stateNames())
	if prev != next {
		log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("transport.Supervisor state")
	}
}
