package gatekeeper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/error2913/QQ-add-group-verification/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGroup  int64 = 9000
	testMember int64 = 100
	testAdmin  int64 = 1
)

func newTestVerifier(t *testing.T, st PolicyStore, gw Gateway, cfg VerifyConfig) (*Verifier, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	v, err := NewVerifier(st, gw, cfg, mock)
	require.NoError(t, err)
	v.newCode = func() string { return "123456" }
	t.Cleanup(v.Close)
	return v, mock
}

func waitForKicks(t *testing.T, gw *fakeGateway, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(gw.kickCalls()) == n }, time.Second, 5*time.Millisecond)
}

func assertNoKick(t *testing.T, gw *fakeGateway) {
	t.Helper()
	assert.Never(t, func() bool { return len(gw.kickCalls()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestNewVerifierRequiresCollaborators(t *testing.T) {
	testlog.Start(t)

	_, err := NewVerifier(nil, newFakeGateway(), DefaultVerifyConfig(), nil)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewVerifier(newMemStore(), nil, DefaultVerifyConfig(), nil)
	assert.ErrorIs(t, err, ErrGatewayRequired)
}

func TestMemberJoinedIssuesChallenge(t *testing.T) {
	testlog.Start(t)

	gw := newFakeGateway()
	gw.levels[testMember] = 1
	v, mock := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(context.Background(), testMember, testGroup))

	sess, ok := v.Sessions().Get(SessionKey{MemberID: testMember, GroupID: testGroup})
	require.True(t, ok)
	assert.Equal(t, "123456", sess.Code)
	assert.Equal(t, mock.Now().Add(60*time.Second), sess.Deadline)

	msgs := gw.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, testGroup, msgs[0].GroupID)
	assert.Contains(t, msgs[0].Text, "[CQ:at,qq=100]")
	assert.Contains(t, msgs[0].Text, "123456")
	assert.Contains(t, msgs[0].Text, "60 seconds")
}

func TestCorrectCodeBeforeDeadlineCancelsEviction(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	gw := newFakeGateway()
	gw.levels[testMember] = 1
	v, mock := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(ctx, testMember, testGroup))
	mock.Add(59 * time.Second)
	require.NoError(t, v.OnGroupMessage(ctx, testMember, testGroup, "123456"))

	assert.Equal(t, 0, v.Sessions().Len())
	msgs := gw.sent()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "Verification passed")

	mock.Add(10 * time.Second)
	assertNoKick(t, gw)
	assert.Len(t, gw.sent(), 2)
}

func TestDeadlineEvictsExactlyOnce(t *testing.T) {
	testlog.Start(t)

	gw := newFakeGateway()
	gw.levels[testMember] = 1
	v, mock := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(context.Background(), testMember, testGroup))
	mock.Add(59 * time.Second)
	assertNoKick(t, gw)

	mock.Add(time.Second)
	waitForKicks(t, gw, 1)
	assert.Equal(t, kickCall{GroupID: testGroup, UserID: testMember}, gw.kickCalls()[0])
	require.Eventually(t, func() bool { return len(gw.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, gw.sent()[1].Text, "did not verify in time")
	assert.Equal(t, 0, v.Sessions().Len())

	// a late code reply finds nothing
	require.NoError(t, v.OnGroupMessage(context.Background(), testMember, testGroup, "123456"))
	mock.Add(time.Hour)
	assert.Never(t, func() bool { return len(gw.kickCalls()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Len(t, gw.sent(), 2)
}

func TestWrongCodeKeepsSession(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	gw := newFakeGateway()
	gw.levels[testMember] = 1
	v, mock := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(ctx, testMember, testGroup))
	require.NoError(t, v.OnGroupMessage(ctx, testMember, testGroup, "654321"))
	require.NoError(t, v.OnGroupMessage(ctx, testMember, testGroup, "123456 please"))
	require.NoError(t, v.OnGroupMessage(ctx, testMember+1, testGroup, "123456"))

	_, ok := v.Sessions().Get(SessionKey{MemberID: testMember, GroupID: testGroup})
	assert.True(t, ok)
	assert.Len(t, gw.sent(), 1)

	mock.Add(60 * time.Second)
	waitForKicks(t, gw, 1)
}

func TestUnmonitoredGroupIsIgnored(t *testing.T) {
	testlog.Start(t)

	gw := newFakeGateway()
	v, _ := newTestVerifier(t, newMemStore(), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(context.Background(), testMember, testGroup))
	assert.Equal(t, 0, gw.lookupCount())
	assert.Equal(t, 0, v.Sessions().Len())
	assert.Empty(t, gw.sent())
}

func TestReputationAtThresholdSkipsChallenge(t *testing.T) {
	testlog.Start(t)

	gw := newFakeGateway()
	gw.levels[testMember] = 5
	v, _ := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(context.Background(), testMember, testGroup))
	assert.Equal(t, 1, gw.lookupCount())
	assert.Equal(t, 0, v.Sessions().Len())
	assert.Empty(t, gw.sent())
}

func TestGroupPolicyOverridesDefaults(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	st := newMemStore(testGroup)
	_, err := st.SetThreshold(ctx, testGroup, 10)
	require.NoError(t, err)
	_, err = st.SetTimeout(ctx, testGroup, 30)
	require.NoError(t, err)

	gw := newFakeGateway()
	gw.levels[testMember] = 7
	v, mock := newTestVerifier(t, st, gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(ctx, testMember, testGroup))
	require.Equal(t, 1, v.Sessions().Len())
	assert.Contains(t, gw.sent()[0].Text, "30 seconds")

	mock.Add(30 * time.Second)
	waitForKicks(t, gw, 1)
}

func TestReputationFailureFailsOpen(t *testing.T) {
	testlog.Start(t)

	gw := newFakeGateway()
	gw.infoErr = errFake
	v, _ := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	err := v.OnMemberJoined(context.Background(), testMember, testGroup)
	require.ErrorIs(t, err, ErrReputation)
	assert.ErrorIs(t, err, errFake)
	assert.Equal(t, 0, v.Sessions().Len())
	assert.Empty(t, gw.sent())
}

func TestFailedKickNotification(t *testing.T) {
	cases := []struct {
		name   string
		notify bool
		want   int
	}{
		{name: "notify", notify: true, want: 2},
		{name: "silent", notify: false, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)

			gw := newFakeGateway()
			gw.levels[testMember] = 1
			gw.kickErr = errFake
			cfg := DefaultVerifyConfig()
			cfg.NotifyOnFailedKick = tc.notify
			v, mock := newTestVerifier(t, newMemStore(testGroup), gw, cfg)

			require.NoError(t, v.OnMemberJoined(context.Background(), testMember, testGroup))
			mock.Add(60 * time.Second)
			waitForKicks(t, gw, 1)
			if tc.want > 1 {
				require.Eventually(t, func() bool { return len(gw.sent()) == tc.want }, time.Second, 5*time.Millisecond)
			} else {
				assert.Never(t, func() bool { return len(gw.sent()) > tc.want }, 50*time.Millisecond, 5*time.Millisecond)
			}
		})
	}
}

func TestRejoinReplacesSession(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	gw := newFakeGateway()
	gw.levels[testMember] = 1
	v, mock := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	codes := []string{"111111", "222222"}
	v.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	require.NoError(t, v.OnMemberJoined(ctx, testMember, testGroup))
	mock.Add(30 * time.Second)
	require.NoError(t, v.OnMemberJoined(ctx, testMember, testGroup))
	assert.Equal(t, 1, v.Sessions().Len())

	// the first deadline was cancelled with its session
	mock.Add(30 * time.Second)
	assertNoKick(t, gw)

	require.NoError(t, v.OnGroupMessage(ctx, testMember, testGroup, "111111"))
	assert.Equal(t, 1, v.Sessions().Len())

	mock.Add(30 * time.Second)
	waitForKicks(t, gw, 1)
}

func TestAdminCommandIsNotACode(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	st := newMemStore()
	gw := newFakeGateway()
	cfg := DefaultVerifyConfig()
	cfg.Admins = []int64{testAdmin}
	v, _ := newTestVerifier(t, st, gw, cfg)

	require.NoError(t, v.OnGroupMessage(ctx, testAdmin, testGroup, "whitelist add 111"))
	require.NoError(t, v.OnGroupMessage(ctx, testAdmin, testGroup, "whitelist list"))

	msgs := gw.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Added group 111 to the whitelist.", msgs[0].Text)
	assert.Equal(t, "Whitelisted groups: 111", msgs[1].Text)

	// the same text from a non-admin is ignored
	require.NoError(t, v.OnGroupMessage(ctx, testMember, testGroup, "whitelist add 222"))
	assert.Len(t, gw.sent(), 2)
	monitored, err := st.IsMonitored(ctx, 222)
	require.NoError(t, err)
	assert.False(t, monitored)
}

func TestAdminCanAnswerOwnChallenge(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	gw := newFakeGateway()
	gw.levels[testAdmin] = 0
	cfg := DefaultVerifyConfig()
	cfg.Admins = []int64{testAdmin}
	v, _ := newTestVerifier(t, newMemStore(testGroup), gw, cfg)

	require.NoError(t, v.OnMemberJoined(ctx, testAdmin, testGroup))
	require.NoError(t, v.OnGroupMessage(ctx, testAdmin, testGroup, "123456"))
	assert.Equal(t, 0, v.Sessions().Len())
}

func TestCloseCancelsDeadlines(t *testing.T) {
	testlog.Start(t)

	gw := newFakeGateway()
	gw.levels[testMember] = 1
	v, mock := newTestVerifier(t, newMemStore(testGroup), gw, DefaultVerifyConfig())

	require.NoError(t, v.OnMemberJoined(context.Background(), testMember, testGroup))
	v.Close()
	assert.Equal(t, 0, v.Sessions().Len())

	mock.Add(time.Hour)
	assertNoKick(t, gw)
}

func TestGenerateCode(t *testing.T) {
	testlog.Start(t)

	for i := 0; i < 50; i++ {
		code := generateCode()
		require.Len(t, code, CodeLength)
		assert.Empty(t, strings.Trim(code, "0123456789"))
	}
}
