package onebot

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	PostTypeNotice  = "notice"
	PostTypeMessage = "message"

	NoticeGroupIncrease = "group_increase"
	MessageTypeGroup    = "group"

	ActionGetStrangerInfo = "get_stranger_info"
	ActionSetGroupKick    = "set_group_kick"
	ActionSendGroupMsg    = "send_group_msg"
)

// Request is one outbound RPC envelope.
type Request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Action) == "" {
		return ErrMissingAction
	}
	if strings.TrimSpace(r.Echo) == "" {
		return ErrMissingEcho
	}
	return nil
}

// EncodeRequest validates and marshals one request envelope.
func EncodeRequest(r Request) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Params == nil {
		r.Params = struct{}{}
	}
	return json.Marshal(r)
}

// Reply is a correlated response; RetCode 0 signals success.
type Reply struct {
	Echo    string          `json:"-"`
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
}

func (r Reply) OK() bool {
	return r.RetCode == 0
}

// DecodeData unmarshals the reply data payload into out.
func (r Reply) DecodeData(out any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("%w: reply echo=%q has no data", ErrParse, r.Echo)
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("%w: reply echo=%q data: %v", ErrParse, r.Echo, err)
	}
	return nil
}

// Event is the subset of a pushed event the gatekeeper reads.
type Event struct {
	PostType    string  `json:"post_type"`
	NoticeType  string  `json:"notice_type"`
	MessageType string  `json:"message_type"`
	SubType     string  `json:"sub_type"`
	SelfID      int64   `json:"self_id"`
	UserID      int64   `json:"user_id"`
	GroupID     int64   `json:"group_id"`
	Message     Message `json:"message"`
}

// StrangerInfo is the data payload of get_stranger_info.
type StrangerInfo struct {
	UserID     int64  `json:"user_id"`
	Nickname   string `json:"nickname"`
	QQLevel    *int   `json:"qqLevel"`
	Reputation *int   `json:"reputation"`
}

// Level reports the member reputation, 0 when the gateway omits it.
func (s StrangerInfo) Level() int {
	if s.QQLevel != nil {
		return *s.QQLevel
	}
	if s.Reputation != nil {
		return *s.Reputation
	}
	return 0
}

type GetStrangerInfoParams struct {
	UserID int64 `json:"user_id"`
}

type SetGroupKickParams struct {
	GroupID int64 `json:"group_id"`
	UserID  int64 `json:"user_id"`
}

type SendGroupMsgParams struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

// At renders a CQ-code mention of userID.
func At(userID int64) string {
	return fmt.Sprintf("[CQ:at,qq=%d]", userID)
}
