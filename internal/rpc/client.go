package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/error2913/QQ-add-group-verification/internal/observability"
	"github.com/error2913/QQ-add-group-verification/internal/onebot"
	"github.com/rs/zerolog/log"
)

var ErrRPCFailed = errors.New("rpc: call failed")

// Conn is the outbound half of the live transport.
type Conn interface {
	WriteText(ctx context.Context, payload []byte) error
}

// ClientConfig bounds the random pacing delay applied before every call.
type ClientConfig struct {
	PacingMin time.Duration
	PacingMax time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PacingMin: 500 * time.Millisecond,
		PacingMax: 1500 * time.Millisecond,
	}
}

// Client issues paced, correlated requests over Conn.
type Client struct {
	conn  Conn
	corr  *Correlator
	cfg   ClientConfig
	clock clock.Clock

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewClient(conn Conn, corr *Correlator, cfg ClientConfig, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		conn:  conn,
		corr:  corr,
		cfg:   cfg,
		clock: clk,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Call paces, sends one request, and waits for its reply. A non-zero retcode
// returns the reply together with ErrRPCFailed.
func (c *Client) Call(ctx context.Context, action string, params any) (onebot.Reply, error) {
	start := c.clock.Now()
	reply, err := c.call(ctx, action, params)
	observability.RecordRPC(action, c.clock.Since(start), err == nil)
	return reply, err
}

func (c *Client) call(ctx context.Context, action string, params any) (onebot.Reply, error) {
	if err := c.pace(ctx); err != nil {
		return onebot.Reply{}, err
	}

	pending := c.corr.Register()
	payload, err := onebot.EncodeRequest(onebot.Request{
		Action: action,
		Params: params,
		Echo:   pending.ID,
	})
	if err != nil {
		c.corr.Forget(pending.ID)
		return onebot.Reply{}, err
	}
	if err := c.conn.WriteText(ctx, payload); err != nil {
		c.corr.Forget(pending.ID)
		return onebot.Reply{}, fmt.Errorf("rpc: send %s: %w", action, err)
	}
	log.Debug().Str("action", action).Str("echo", pending.ID).Msg("rpc.Client.Call sent")

	reply, err := c.corr.Await(ctx, pending)
	if err != nil {
		return onebot.Reply{}, fmt.Errorf("rpc: await %s: %w", action, err)
	}
	if !reply.OK() {
		return reply, fmt.Errorf("%w: action=%s retcode=%d msg=%q", ErrRPCFailed, action, reply.RetCode, reply.Msg)
	}
	return reply, nil
}

func (c *Client) pace(ctx context.Context) error {
	delay := c.pacingDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := c.clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) pacingDelay() time.Duration {
	span := c.cfg.PacingMax - c.cfg.PacingMin
	if span <= 0 {
		return c.cfg.PacingMin
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.cfg.PacingMin + time.Duration(c.rng.Int63n(int64(span)))
}

// GetStrangerInfo queries a member's profile, including reputation.
func (c *Client) GetStrangerInfo(ctx context.Context, userID int64) (onebot.StrangerInfo, error) {
	reply, err := c.Call(ctx, onebot.ActionGetStrangerInfo, onebot.GetStrangerInfoParams{UserID: userID})
	if err != nil {
		return onebot.StrangerInfo{}, err
	}
	var info onebot.StrangerInfo
	if err := reply.DecodeData(&info); err != nil {
		return onebot.StrangerInfo{}, err
	}
	return info, nil
}

// SetGroupKick evicts userID from groupID.
func (c *Client) SetGroupKick(ctx context.Context, groupID, userID int64) error {
	_, err := c.Call(ctx, onebot.ActionSetGroupKick, onebot.SetGroupKickParams{GroupID: groupID, UserID: userID})
	return err
}

// SendGroupMsg posts message to groupID.
func (c *Client) SendGroupMsg(ctx context.Context, groupID int64, message string) error {
	log.Info().Int64("group_id", groupID).Str("message", message).Msg("rpc.Client.SendGroupMsg")
	_, err := c.Call(ctx, onebot.ActionSendGroupMsg, onebot.SendGroupMsgParams{GroupID: groupID, Message: message})
	return err
}
