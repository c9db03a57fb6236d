package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/error2913/QQ-add-group-verification/internal/rpc"
	"github.com/error2913/QQ-add-group-verification/internal/store"
	"github.com/error2913/QQ-add-group-verification/internal/transport"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidHeartbeatInterval = errors.New("gatekeeper: invalid heartbeat interval")

// ServiceConfig configures the gatekeeper runtime.
type ServiceConfig struct {
	Transport transport.Config
	RPC       rpc.ClientConfig
	Verify    VerifyConfig
	Store     store.Config

	// StatusAddr enables the status HTTP server when non-empty.
	StatusAddr        string
	StatusToken       string
	CorsOrigins       []string
	HeartbeatInterval time.Duration

	// Clock drives pacing, backoff, deadlines and the heartbeat. Nil means wall clock.
	Clock clock.Clock
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Transport:         transport.DefaultConfig(),
		RPC:               rpc.DefaultClientConfig(),
		Verify:            DefaultVerifyConfig(),
		Store:             store.Config{Dir: "data", Defaults: store.DefaultDefaults()},
		StatusAddr:        "",
		HeartbeatInterval: time.Minute,
	}
}

// Service owns every runtime component for one gateway connection.
type Service struct {
	cfg        ServiceConfig
	clock      clock.Clock
	store      *store.Store
	corr       *rpc.Correlator
	supervisor *transport.Supervisor
	client     *rpc.Client
	verifier   *Verifier
	dispatcher *Dispatcher
	status     *StatusServer
}

// NewService opens the policy store and wires the runtime. Call Close when done.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.HeartbeatInterval <= 0 {
		return nil, ErrInvalidHeartbeatInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, clock: clk, store: st, corr: rpc.NewCorrelator()}
	s.supervisor, err = transport.NewSupervisor(cfg.Transport, transport.HandlerFunc(s.handleFrame), clk)
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}
	s.client = rpc.NewClient(s.supervisor, s.corr, cfg.RPC, clk)
	s.verifier, err = NewVerifier(st, s.client, cfg.Verify, clk)
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}
	s.dispatcher = NewDispatcher(s.corr, s.verifier)
	s.status = NewStatusServer(s, cfg.CorsOrigins, cfg.StatusToken)
	return s, nil
}

// Run blocks until ctx ends or the supervisor gives up. Only the latter
// returns an error.
func (s *Service) Run(ctx context.Context) error {
	groups, err := s.store.ListMonitoredGroups(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("gatekeeper.Service.Run whitelist unavailable")
	}
	log.Info().
		Str("url", s.cfg.Transport.URL).
		Int("monitored_groups", len(groups)).
		Int("admins", len(s.cfg.Verify.Admins)).
		Str("status_addr", s.cfg.StatusAddr).
		Msg("gatekeeper.Service.Run starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.supervisor.Run(gctx)
	})
	if strings.TrimSpace(s.cfg.StatusAddr) != "" {
		g.Go(func() error {
			return s.status.Serve(gctx, s.cfg.StatusAddr)
		})
	}
	g.Go(func() error {
		return s.heartbeat(gctx)
	})

	err = g.Wait()
	s.dispatcher.Wait()
	if err != nil {
		return fmt.Errorf("gatekeeper: run: %w", err)
	}
	log.Info().Msg("gatekeeper.Service.Run shutdown")
	return nil
}

// Close cancels pending deadlines and closes the store.
func (s *Service) Close() error {
	s.verifier.Close()
	return multierr.Combine(s.store.Close())
}

func (s *Service) Status() *StatusServer {
	return s.status
}

func (s *Service) Verifier() *Verifier {
	return s.verifier
}

func (s *Service) Store() *store.Store {
	return s.store
}

func (s *Service) handleFrame(ctx context.Context, payload []byte) {
	s.dispatcher.HandleFrame(ctx, payload)
}

func (s *Service) heartbeat(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			log.Info().
				Str("state", s.ConnectionState()).
				Int("failures", s.supervisor.ConsecutiveFailures()).
				Int("sessions", s.verifier.Sessions().Len()).
				Int("pending_calls", s.PendingCalls()).
				Msg("gatekeeper.Service.heartbeat")
		}
	}
}

func (s *Service) ConnectionState() string {
	return s.supervisor.State().String()
}

func (s *Service) ConnectionLive() bool {
	return s.supervisor.State() == transport.StateLive
}

func (s *Service) PendingCalls() int {
	return s.corr.Pending()
}

func (s *Service) ActiveSessions() []SessionView {
	return s.verifier.Sessions().Snapshot()
}

func (s *Service) MonitoredGroups(ctx context.Context) ([]GroupView, error) {
	ids, err := s.store.ListMonitoredGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GroupView, 0, len(ids))
	for _, id := range ids {
		threshold, err := s.store.Threshold(ctx, id)
		if err != nil {
			return nil, err
		}
		timeout, err := s.store.TimeoutSeconds(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupView{GroupID: id, Threshold: threshold, TimeoutSeconds: timeout})
	}
	return out, nil
}
