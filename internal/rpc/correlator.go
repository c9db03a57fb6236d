package rpc

import (
	"context"
	"errors"
	"sync"

	"github.com/error2913/QQ-add-group-verification/internal/onebot"
	"github.com/google/uuid"
)

var ErrCallAbandoned = errors.New("rpc: call abandoned")

// PendingCall is one outstanding request awaiting its reply.
type PendingCall struct {
	ID     string
	result chan onebot.Reply
}

// Correlator maps echo tokens to pending calls.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
	newID   func() string
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]*PendingCall),
		newID:   uuid.NewString,
	}
}

// Register allocates a fresh echo and an empty result slot.
func (c *Correlator) Register() *PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID()
	for {
		if _, taken := c.pending[id]; !taken {
			break
		}
		id = c.newID()
	}
	call := &PendingCall{ID: id, result: make(chan onebot.Reply, 1)}
	c.pending[id] = call
	return call
}

// Resolve fulfills and unregisters the call for id. Unknown, late, or
// duplicate replies return false and change nothing.
func (c *Correlator) Resolve(id string, reply onebot.Reply) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	call.result <- reply
	return true
}

// Await blocks until the call is resolved or ctx ends. On ctx end the call is
// forgotten so a late reply is dropped.
func (c *Correlator) Await(ctx context.Context, call *PendingCall) (onebot.Reply, error) {
	select {
	case reply := <-call.result:
		return reply, nil
	case <-ctx.Done():
		c.Forget(call.ID)
		return onebot.Reply{}, errors.Join(ErrCallAbandoned, ctx.Err())
	}
}

// Forget unregisters id without fulfilling it.
func (c *Correlator) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Pending reports the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
