package gatekeeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/error2913/QQ-add-group-verification/internal/observability"
	"github.com/error2913/QQ-add-group-verification/internal/onebot"
	"github.com/rs/zerolog/log"
)

// ReplyResolver receives correlated replies.
type ReplyResolver interface {
	Resolve(id string, reply onebot.Reply) bool
}

// EventHandler runs the event flows.
type EventHandler interface {
	OnMemberJoined(ctx context.Context, memberID, groupID int64) error
	OnGroupMessage(ctx context.Context, memberID, groupID int64, text string) error
}

// Dispatcher classifies inbound frames. It holds no state of its own beyond
// the flow counter; each event runs on its own goroutine.
type Dispatcher struct {
	replies ReplyResolver
	events  EventHandler
	flows   sync.WaitGroup
}

func NewDispatcher(replies ReplyResolver, events EventHandler) *Dispatcher {
	return &Dispatcher{replies: replies, events: events}
}

// HandleFrame implements transport.Handler. Malformed frames and replies for
// unknown echoes are dropped.
func (d *Dispatcher) HandleFrame(ctx context.Context, payload []byte) {
	fr, err := onebot.Decode(payload)
	if err != nil {
		observability.RecordFrame("malformed")
		log.Warn().Err(err).Int("bytes", len(payload)).Msg("gatekeeper.Dispatcher.HandleFrame dropped")
		return
	}
	observability.RecordFrame(fr.Kind.String())

	switch fr.Kind {
	case onebot.FrameReply:
		if !d.replies.Resolve(fr.Reply.Echo, fr.Reply) {
			log.Debug().Str("echo", fr.Reply.Echo).Msg("gatekeeper.Dispatcher.HandleFrame unknown echo")
		}
	case onebot.FrameMemberJoined:
		ev := fr.Event
		d.spawn("member_joined", func() error {
			return d.events.OnMemberJoined(ctx, ev.UserID, ev.GroupID)
		})
	case onebot.FrameGroupMessage:
		ev := fr.Event
		text := ev.Message.Text()
		if text == "" {
			return
		}
		log.Info().Int64("user_id", ev.UserID).Int64("group_id", ev.GroupID).Str("text", text).Msg("gatekeeper.Dispatcher.HandleFrame group message")
		d.spawn("group_message", func() error {
			return d.events.OnGroupMessage(ctx, ev.UserID, ev.GroupID, text)
		})
	}
}

// Wait blocks until every spawned flow has returned.
func (d *Dispatcher) Wait() {
	d.flows.Wait()
}

// spawn runs one flow; its error or panic is logged here and goes no further.
func (d *Dispatcher) spawn(flow string, fn func() error) {
	d.flows.Add(1)
	go func() {
		defer d.flows.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("flow", flow).Err(fmt.Errorf("panic: %v", r)).Msg("gatekeeper.Dispatcher flow panicked")
			}
		}()
		if err := fn(); err != nil {
			log.Warn().Str("flow", flow).Err(err).Msg("gatekeeper.Dispatcher flow failed")
		}
	}()
}
