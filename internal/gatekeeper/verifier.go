package gatekeeper

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/error2913/QQ-add-group-verification/internal/observability"
	"github.com/rs/zerolog/log"
)

const CodeLength = 6

var (
	ErrStoreRequired   = errors.New("gatekeeper: policy store required")
	ErrGatewayRequired = errors.New("gatekeeper: gateway required")
	ErrReputation      = errors.New("gatekeeper: reputation lookup failed")
	ErrEviction        = errors.New("gatekeeper: eviction failed")
	ErrNotify          = errors.New("gatekeeper: notification failed")
)

// VerifyConfig configures challenge behavior.
type VerifyConfig struct {
	Admins          []int64
	CommandKeywords []string
	// NotifyOnFailedKick sends the timeout notice even when the kick RPC failed.
	NotifyOnFailedKick bool
}

func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{
		Admins:             []int64{},
		CommandKeywords:    DefaultCommandKeywords(),
		NotifyOnFailedKick: true,
	}
}

// Verifier runs the member-joined, group-message, and deadline flows.
type Verifier struct {
	store    PolicyStore
	gateway  Gateway
	sessions *SessionTable
	commands *Commander
	admins   map[int64]struct{}
	cfg      VerifyConfig
	clock    clock.Clock
	newCode  func() string

	// deadline flows run detached from any inbound frame
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewVerifier(store PolicyStore, gateway Gateway, cfg VerifyConfig, clk clock.Clock) (*Verifier, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if gateway == nil {
		return nil, ErrGatewayRequired
	}
	if clk == nil {
		clk = clock.New()
	}
	if len(cfg.CommandKeywords) == 0 {
		cfg.CommandKeywords = DefaultCommandKeywords()
	}
	admins := make(map[int64]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Verifier{
		store:    store,
		gateway:  gateway,
		sessions: NewSessionTable(),
		commands: NewCommander(store, cfg.CommandKeywords),
		admins:   admins,
		cfg:      cfg,
		clock:    clk,
		newCode:  generateCode,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Sessions exposes the live session table.
func (v *Verifier) Sessions() *SessionTable {
	return v.sessions
}

// Close cancels every pending deadline. Deadline flows already running see a
// cancelled context and abandon their RPCs.
func (v *Verifier) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		for _, s := range v.sessions.Drain() {
			s.cancel()
		}
		observability.SetActiveSessions(0)
	})
}

// IsAdmin reports whether memberID may issue whitelist commands.
func (v *Verifier) IsAdmin(memberID int64) bool {
	_, ok := v.admins[memberID]
	return ok
}

// OnMemberJoined challenges memberID when groupID is monitored and the
// member's reputation is below the group threshold. Reputation lookup failures
// leave the member unchallenged.
func (v *Verifier) OnMemberJoined(ctx context.Context, memberID, groupID int64) error {
	log.Info().Int64("user_id", memberID).Int64("group_id", groupID).Msg("gatekeeper.Verifier.OnMemberJoined")

	monitored, err := v.store.IsMonitored(ctx, groupID)
	if err != nil {
		return fmt.Errorf("gatekeeper: whitelist lookup group=%d: %w", groupID, err)
	}
	if !monitored {
		return nil
	}

	info, err := v.gateway.GetStrangerInfo(ctx, memberID)
	if err != nil {
		observability.RecordVerification(observability.OutcomeSkipped)
		return fmt.Errorf("%w: user=%d: %w", ErrReputation, memberID, err)
	}
	level := info.Level()

	threshold, err := v.store.Threshold(ctx, groupID)
	if err != nil {
		log.Warn().Err(err).Int64("group_id", groupID).Int("threshold", threshold).Msg("gatekeeper.Verifier.OnMemberJoined threshold fallback")
	}
	if level >= threshold {
		log.Debug().Int64("user_id", memberID).Int("level", level).Int("threshold", threshold).Msg("gatekeeper.Verifier.OnMemberJoined reputation ok")
		return nil
	}

	timeoutSeconds, err := v.store.TimeoutSeconds(ctx, groupID)
	if err != nil {
		log.Warn().Err(err).Int64("group_id", groupID).Int("timeout", timeoutSeconds).Msg("gatekeeper.Verifier.OnMemberJoined timeout fallback")
	}

	sess := v.startSession(SessionKey{MemberID: memberID, GroupID: groupID}, time.Duration(timeoutSeconds)*time.Second)
	log.Info().
		Int64("user_id", memberID).
		Int64("group_id", groupID).
		Int("level", level).
		Int("threshold", threshold).
		Time("deadline", sess.Deadline).
		Msg("gatekeeper.Verifier.OnMemberJoined challenged")

	if err := v.gateway.SendGroupMsg(ctx, groupID, challengeMessage(memberID, level, sess.Code, timeoutSeconds)); err != nil {
		return fmt.Errorf("%w: challenge user=%d group=%d: %w", ErrNotify, memberID, groupID, err)
	}
	return nil
}

// startSession registers a fresh session and arms its deadline. A session
// already present for the key is replaced and its deadline cancelled.
func (v *Verifier) startSession(key SessionKey, timeout time.Duration) *Session {
	if timeout < time.Second {
		timeout = time.Second
	}
	now := v.clock.Now()
	sess := &Session{
		Key:       key,
		Code:      v.newCode(),
		CreatedAt: now,
		Deadline:  now.Add(timeout),
	}
	sess.timer = v.clock.AfterFunc(timeout, func() {
		v.onDeadline(sess)
	})
	if prev := v.sessions.Put(sess); prev != nil {
		prev.cancel()
		observability.RecordVerification(observability.OutcomeReplaced)
	}
	observability.RecordVerification(observability.OutcomeChallenged)
	observability.SetActiveSessions(v.sessions.Len())
	return sess
}

// onDeadline evicts the member if the session is still current. A session
// already removed by a correct code or a newer join is left alone.
func (v *Verifier) onDeadline(sess *Session) {
	if !v.sessions.Take(sess) {
		return
	}
	observability.SetActiveSessions(v.sessions.Len())
	if v.ctx.Err() != nil {
		return
	}

	member, group := sess.Key.MemberID, sess.Key.GroupID
	kickErr := v.gateway.SetGroupKick(v.ctx, group, member)
	if kickErr != nil {
		observability.RecordVerification(observability.OutcomeKickFailed)
		log.Error().Err(fmt.Errorf("%w: %w", ErrEviction, kickErr)).Int64("user_id", member).Int64("group_id", group).Msg("gatekeeper.Verifier.onDeadline")
		if !v.cfg.NotifyOnFailedKick {
			return
		}
	} else {
		observability.RecordVerification(observability.OutcomeEvicted)
		log.Info().Int64("user_id", member).Int64("group_id", group).Msg("gatekeeper.Verifier.onDeadline evicted")
	}

	if err := v.gateway.SendGroupMsg(v.ctx, group, timedOutMessage(member)); err != nil {
		log.Error().Err(err).Int64("group_id", group).Msg("gatekeeper.Verifier.onDeadline notify")
	}
}

// OnGroupMessage handles admin commands and code replies. Any text other than
// the exact code leaves the session in place.
func (v *Verifier) OnGroupMessage(ctx context.Context, memberID, groupID int64, text string) error {
	if text == "" {
		return nil
	}

	if v.IsAdmin(memberID) && v.commands.Matches(text) {
		reply := v.commands.Execute(ctx, groupID, text)
		if err := v.gateway.SendGroupMsg(ctx, groupID, reply); err != nil {
			return fmt.Errorf("%w: command reply group=%d: %w", ErrNotify, groupID, err)
		}
		return nil
	}

	monitored, err := v.store.IsMonitored(ctx, groupID)
	if err != nil {
		return fmt.Errorf("gatekeeper: whitelist lookup group=%d: %w", groupID, err)
	}
	if !monitored {
		return nil
	}

	sess, ok := v.sessions.TakeIfCode(SessionKey{MemberID: memberID, GroupID: groupID}, text)
	if !ok {
		return nil
	}
	sess.cancel()
	observability.RecordVerification(observability.OutcomePassed)
	observability.SetActiveSessions(v.sessions.Len())
	log.Info().Int64("user_id", memberID).Int64("group_id", groupID).Msg("gatekeeper.Verifier.OnGroupMessage passed")

	if err := v.gateway.SendGroupMsg(ctx, groupID, passedMessage(memberID)); err != nil {
		return fmt.Errorf("%w: passed user=%d group=%d: %w", ErrNotify, memberID, groupID, err)
	}
	return nil
}

// generateCode returns CodeLength uniformly random decimal digits.
func generateCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	ten := big.NewInt(10)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(fmt.Sprintf("gatekeeper: entropy source failed: %v", err))
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}
