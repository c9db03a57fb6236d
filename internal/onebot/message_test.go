package onebot

import (
	"encoding/json"
	"testing"

	"github.com/error2913/QQ-add-group-verification/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTextPlainTrimmed(t *testing.T) {
	testlog.Start(t)

	var m Message
	require.NoError(t, json.Unmarshal([]byte(`"  hello  "`), &m))
	assert.False(t, m.IsArray)
	assert.Equal(t, "hello", m.Text())
}

func TestMessageTextSegmentsConcatenatesTextOnly(t *testing.T) {
	testlog.Start(t)

	raw := `[{"type":"text","data":{"text":" a "}},{"type":"image","data":{}},{"type":"text","data":{"text":"b"}}]`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.True(t, m.IsArray)
	assert.Len(t, m.Segments, 3)
	assert.Equal(t, "ab", m.Text())
}

func TestMessageTextEmptyShapes(t *testing.T) {
	testlog.Start(t)

	for _, raw := range []string{`""`, `"   "`, `[]`, `null`, `42`, `[{"type":"face","data":{}}]`} {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(raw), &m), raw)
		assert.Empty(t, m.Text(), raw)
	}
}

func TestMessageKeepsInnerWhitespace(t *testing.T) {
	testlog.Start(t)

	m := PlainMessage(" 12 34 ")
	assert.Equal(t, "12 34", m.Text())

	seg := SegmentMessage(TextSegment(" 12"), TextSegment("34 "))
	assert.Equal(t, "1234", seg.Text())
}

func TestMessageMarshalPreservesForm(t *testing.T) {
	testlog.Start(t)

	b, err := json.Marshal(PlainMessage("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(b))

	b, err = json.Marshal(SegmentMessage(TextSegment("hi")))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"text","data":{"text":"hi"}}]`, string(b))
}
