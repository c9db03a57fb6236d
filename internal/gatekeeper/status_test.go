package gatekeeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/error2913/QQ-add-group-verification/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusSource struct {
	live     bool
	pending  int
	sessions []SessionView
	groups   []GroupView
	err      error
}

func (f *fakeStatusSource) ConnectionState() string {
	if f.live {
		return "live"
	}
	return "backoff"
}

func (f *fakeStatusSource) ConnectionLive() bool          { return f.live }
func (f *fakeStatusSource) PendingCalls() int             { return f.pending }
func (f *fakeStatusSource) ActiveSessions() []SessionView { return f.sessions }

func (f *fakeStatusSource) MonitoredGroups(context.Context) ([]GroupView, error) {
	return f.groups, f.err
}

func serveStatus(t *testing.T, s *StatusServer, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) > 0 {
		req.Header.Set("Authorization", header[0])
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestStatusHealth(t *testing.T) {
	testlog.Start(t)

	s := NewStatusServer(&fakeStatusSource{}, nil, "")
	rr := serveStatus(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestStatusReadyFollowsConnection(t *testing.T) {
	testlog.Start(t)

	src := &fakeStatusSource{}
	s := NewStatusServer(src, nil, "")

	rr := serveStatus(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"connection":"backoff"`)

	src.live = true
	rr = serveStatus(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ready":true`)
}

func TestStatusSessionsAndGroups(t *testing.T) {
	testlog.Start(t)

	deadline := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeStatusSource{
		pending:  2,
		sessions: []SessionView{{MemberID: 100, GroupID: 9000, CreatedAt: deadline.Add(-time.Minute), Deadline: deadline}},
		groups:   []GroupView{{GroupID: 9000, Threshold: 5, TimeoutSeconds: 60}},
	}
	s := NewStatusServer(src, []string{"http://example.test"}, "")

	rr := serveStatus(t, s, "/sessions")
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions struct {
		Sessions     []SessionView `json:"sessions"`
		PendingCalls int           `json:"pending_calls"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	assert.Equal(t, 2, sessions.PendingCalls)
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, int64(100), sessions.Sessions[0].MemberID)
	assert.True(t, deadline.Equal(sessions.Sessions[0].Deadline))

	rr = serveStatus(t, s, "/groups")
	require.Equal(t, http.StatusOK, rr.Code)
	var groups struct {
		Groups []GroupView `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &groups))
	assert.Equal(t, src.groups, groups.Groups)

	src.err = errFake
	rr = serveStatus(t, s, "/groups")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestStatusMetrics(t *testing.T) {
	testlog.Start(t)

	s := NewStatusServer(&fakeStatusSource{}, nil, "")
	_ = serveStatus(t, s, "/health")

	rr := serveStatus(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "gatekeeper_http_requests_total"))
}

func TestStatusTokenGuardsSnapshots(t *testing.T) {
	testlog.Start(t)

	s := NewStatusServer(&fakeStatusSource{live: true}, nil, "s3cret")

	assert.Equal(t, http.StatusOK, serveStatus(t, s, "/health").Code)
	assert.Equal(t, http.StatusOK, serveStatus(t, s, "/ready").Code)
	assert.Equal(t, http.StatusUnauthorized, serveStatus(t, s, "/sessions").Code)
	assert.Equal(t, http.StatusUnauthorized, serveStatus(t, s, "/groups", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, serveStatus(t, s, "/sessions", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, serveStatus(t, s, "/groups", "Bearer s3cret").Code)
}
