package onebot

import (
	"encoding/json"
	"fmt"
)

// FrameKind classifies one inbound text frame.
type FrameKind int

const (
	FrameIgnored FrameKind = iota
	FrameReply
	FrameMemberJoined
	FrameGroupMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameReply:
		return "reply"
	case FrameMemberJoined:
		return "member_joined"
	case FrameGroupMessage:
		return "group_message"
	default:
		return "ignored"
	}
}

// Frame is a decoded inbound unit; exactly one of Reply or Event is set unless ignored.
type Frame struct {
	Kind  FrameKind
	Reply Reply
	Event Event
}

type inbound struct {
	Echo json.RawMessage `json:"echo"`
	Event
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
}

// Decode parses raw and classifies it. Any object carrying an echo field is a reply.
func Decode(raw []byte) (Frame, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if len(in.Echo) > 0 {
		return Frame{
			Kind: FrameReply,
			Reply: Reply{
				Echo:    echoString(in.Echo),
				Status:  in.Status,
				RetCode: in.RetCode,
				Data:    in.Data,
				Msg:     in.Msg,
				Wording: in.Wording,
			},
		}, nil
	}

	out := Frame{Kind: FrameIgnored, Event: in.Event}
	switch in.PostType {
	case PostTypeNotice:
		if in.NoticeType == NoticeGroupIncrease {
			out.Kind = FrameMemberJoined
		}
	case PostTypeMessage:
		if in.MessageType == MessageTypeGroup {
			out.Kind = FrameGroupMessage
		}
	}
	return out, nil
}

func echoString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
