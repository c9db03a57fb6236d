package onebot

import (
	"bytes"
	"encoding/json"
	"strings"
)

const SegmentText = "text"

// Segment is one typed element of an array-form message.
type Segment struct {
	Type string      `json:"type"`
	Data SegmentData `json:"data"`
}

type SegmentData struct {
	Text string `json:"text"`
}

// Message holds a message body that arrives either as a plain string or as segments.
type Message struct {
	Plain    string
	Segments []Segment
	IsArray  bool
}

func PlainMessage(s string) Message {
	return Message{Plain: s}
}

func SegmentMessage(segs ...Segment) Message {
	return Message{Segments: segs, IsArray: true}
}

func TextSegment(text string) Segment {
	return Segment{Type: SegmentText, Data: SegmentData{Text: text}}
}

// UnmarshalJSON accepts a string, a segment array, or anything else as empty.
func (m *Message) UnmarshalJSON(b []byte) error {
	*m = Message{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		return json.Unmarshal(b, &m.Plain)
	case '[':
		var segs []Segment
		if err := json.Unmarshal(b, &segs); err != nil {
			return err
		}
		m.Segments = segs
		m.IsArray = true
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.IsArray {
		segs := m.Segments
		if segs == nil {
			segs = []Segment{}
		}
		return json.Marshal(segs)
	}
	return json.Marshal(m.Plain)
}

// Text returns the effective text: the trimmed plain string, or the
// concatenation of every trimmed text segment.
func (m Message) Text() string {
	if !m.IsArray {
		return strings.TrimSpace(m.Plain)
	}
	var b strings.Builder
	for _, seg := range m.Segments {
		if seg.Type != SegmentText {
			continue
		}
		b.WriteString(strings.TrimSpace(seg.Data.Text))
	}
	return b.String()
}
