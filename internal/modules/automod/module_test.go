package automod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/modules/antispam"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticPolicies map[string]*policy.Compiled

func (s staticPolicies) Get(ctx context.Context, guildID string) *policy.Compiled {
	if compiled, ok := s[guildID]; ok {
		return compiled
	}
	return policy.Compile(guildID, policy.Default(), zap.NewNop())
}

type trackedTimeout struct {
	guildID string
	userID  string
	expiry  time.Time
}

type timeoutRecorder struct {
	mu      sync.Mutex
	tracked []trackedTimeout
}

func (r *timeoutRecorder) TrackTimeout(ctx context.Context, guildID, userID string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = append(r.tracked, trackedTimeout{guildID: guildID, userID: userID, expiry: expiry})
	return nil
}

type harness struct {
	module   *Module
	gateway  *gateway.Fake
	store    *storage.Store
	clock    *clock.Fake
	timeouts *timeoutRecorder
	policies staticPolicies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	logger := zap.NewNop()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	gw := gateway.NewFake()
	timeouts := &timeoutRecorder{}
	policies := staticPolicies{}

	enforcer := NewEnforcer(gw, audit.NewLogger(store, logger), timeouts, clk, logger, EnforcerConfig{
		DefaultTimeout: 10 * time.Minute,
		NoticeDelay:    5 * time.Second,
	})
	module := New(policies, antispam.New(tracking.NewMemoryWindow(0), clk), NewPipeline(0), enforcer, clk, logger)
	return &harness{module: module, gateway: gw, store: store, clock: clk, timeouts: timeouts, policies: policies}
}

func (h *harness) setPolicy(t *testing.T, raw string) {
	t.Helper()
	p, err := policy.Parse([]byte(raw))
	require.NoError(t, err)
	h.policies["g1"] = policy.Compile("g1", p, zap.NewNop())
}

func (h *harness) send(id, content string) Decision {
	return h.module.HandleMessage(context.Background(), MessageEvent{
		GuildID:   "g1",
		UserID:    "u1",
		UserTag:   "user#0001",
		ChannelID: "c1",
		MessageID: id,
		Content:   content,
	})
}

func TestSpamBurstTimesOutOnce(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"spam":{"messageThreshold":5,"timeWindow":5}}`)

	var last Decision
	for i := 1; i <= 6; i++ {
		last = h.send(fmt.Sprintf("m%d", i), fmt.Sprintf("hello number %d", i))
		if i < 6 {
			require.Nil(t, last.Enforced, "message %d", i)
		}
		h.clock.Advance(500 * time.Millisecond)
	}

	require.NotNil(t, last.Enforced)
	assert.Equal(t, TypeSpam, last.Enforced.Type)
	assert.True(t, last.Outcome.Deleted)
	assert.True(t, last.Outcome.TimedOut)
	require.Len(t, h.gateway.Deleted, 1)
	assert.Equal(t, "m6", h.gateway.Deleted[0].MessageID)
	require.Len(t, h.gateway.Timeouts, 1)
	assert.Equal(t, 10*time.Minute, h.gateway.Timeouts[0].Duration)
	require.Len(t, h.timeouts.tracked, 1)

	cases, err := h.store.ListCases(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "timeout", cases[0].ActionType)
	assert.Equal(t, storage.ModeratorSystem, cases[0].ModeratorID)
}

func TestCapsMessageDeleted(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"filters":{"caps":{"enabled":true}}}`)

	decision := h.send("m1", "STOP SPAMMING THE CHANNEL PLEASE")
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, TypeCaps, decision.Violations[0].Type)
	assert.True(t, decision.Outcome.Deleted)
	assert.Equal(t, 1, decision.Outcome.CaseNumber)
	assert.Equal(t, []gateway.MessageRef{{ChannelID: "c1", MessageID: "m1"}}, h.gateway.Deleted)
	assert.Equal(t, 1, h.gateway.DMCount("u1"))
}

func TestPrivilegedAndDisabledSkip(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"filters":{"caps":{"enabled":true}}}`)
	decision := h.module.HandleMessage(context.Background(), MessageEvent{GuildID: "g1", UserID: "u1", ChannelID: "c1", MessageID: "m1", Content: "STOP SPAMMING THE CHANNEL PLEASE", AuthorIsPrivileged: true})
	assert.Nil(t, decision.Enforced)

	h.setPolicy(t, `{"enabled":false,"filters":{"caps":{"enabled":true}}}`)
	decision = h.send("m2", "STOP SPAMMING THE CHANNEL PLEASE")
	assert.Nil(t, decision.Enforced)
	assert.Empty(t, h.gateway.Deleted)
}

func TestOnlyFirstViolationEnforced(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"badWords":{"enabled":true,"words":["heck"]},"filters":{"caps":{"enabled":true}}}`)

	decision := h.send("m1", "WHAT THE HECK IS THIS")
	require.Len(t, decision.Violations, 2)
	assert.Equal(t, TypeBadWord, decision.Enforced.Type)
	cases, _ := h.store.ListCases(context.Background(), "g1")
	assert.Len(t, cases, 1)
}

func TestEscalationFiresOnceAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{
		"filters":{"caps":{"enabled":true,"autoWarn":true,"sendWarning":false}},
		"escalatingPunishment":{"enabled":true,"warnToTimeoutThreshold":2,"autoAction":"kick"}
	}`)

	first := h.send("m1", "FIRST SHOUTED MESSAGE")
	assert.Equal(t, 1, first.Outcome.Warnings)
	assert.False(t, first.Outcome.Escalated)

	second := h.send("m2", "SECOND SHOUTED MESSAGE")
	assert.True(t, second.Outcome.Escalated)
	assert.Equal(t, []string{"u1"}, h.gateway.Kicks)

	third := h.send("m3", "THIRD SHOUTED MESSAGE")
	assert.False(t, third.Outcome.Escalated)
	assert.Len(t, h.gateway.Kicks, 1)

	cases, _ := h.store.ListCases(context.Background(), "g1")
	require.Len(t, cases, 4)
	actions := map[string]int{}
	for _, c := range cases {
		actions[c.ActionType]++
	}
	assert.Equal(t, 3, actions["delete"])
	assert.Equal(t, 1, actions["kick"])
}

func TestEscalationTimeoutAndViolationTimeoutBothApply(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{
		"filters":{"massMention":{"action":"timeout","autoWarn":true,"maxMentions":1}},
		"escalatingPunishment":{"warnToTimeoutThreshold":1,"autoAction":"timeout","timeoutDuration":120}
	}`)

	decision := h.send("m1", "<@1> <@2>")
	assert.True(t, decision.Outcome.Escalated)
	assert.True(t, decision.Outcome.TimedOut)
	require.Len(t, h.gateway.Timeouts, 2)
	assert.Equal(t, 120*time.Second, h.gateway.Timeouts[0].Duration)
	assert.Equal(t, 10*time.Minute, h.gateway.Timeouts[1].Duration)
	assert.Len(t, h.timeouts.tracked, 2)
}

func TestGatewayFailuresDoNotAbortEnforcement(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"filters":{"caps":{"enabled":true,"action":"timeout"}}}`)
	h.gateway.FailDelete = gateway.ErrForbidden
	h.gateway.FailTimeout = errors.New("member left")
	h.gateway.FailDM["u1"] = gateway.ErrForbidden

	decision := h.send("m1", "STOP SPAMMING THE CHANNEL PLEASE")
	assert.False(t, decision.Outcome.Deleted)
	assert.False(t, decision.Outcome.TimedOut)
	assert.Equal(t, 1, decision.Outcome.CaseNumber, "audit record is written regardless")
	assert.True(t, decision.Outcome.ChannelNotice)
	assert.Empty(t, h.timeouts.tracked)
}

func TestChannelNoticeSelfDeletes(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"filters":{"caps":{"enabled":true}}}`)
	h.gateway.FailDM["u1"] = gateway.ErrForbidden

	decision := h.send("m1", "STOP SPAMMING THE CHANNEL PLEASE")
	require.True(t, decision.Outcome.ChannelNotice)
	require.Len(t, h.gateway.ChannelSends, 1)
	notice := h.gateway.ChannelSends[0]
	assert.Contains(t, notice.Text, "<@u1>")

	h.clock.Advance(4 * time.Second)
	assert.Len(t, h.gateway.Deleted, 1)
	h.clock.Advance(time.Second)
	require.Len(t, h.gateway.Deleted, 2)
	assert.Equal(t, notice.Ref, h.gateway.Deleted[1])
}

func TestExemptRoleIsSilent(t *testing.T) {
	h := newHarness(t)
	h.setPolicy(t, `{"exemptRoles":["r-mod"],"filters":{"caps":{"enabled":true}}}`)

	decision := h.module.HandleMessage(context.Background(), MessageEvent{
		GuildID: "g1", UserID: "u1", ChannelID: "c1", MessageID: "m1",
		Content:     "STOP SPAMMING THE CHANNEL PLEASE",
		MemberRoles: []string{"r-mod"},
	})
	require.NotNil(t, decision.Enforced)
	assert.True(t, decision.Outcome.Skipped)
	assert.Empty(t, h.gateway.Deleted)
	cases, _ := h.store.ListCases(context.Background(), "g1")
	assert.Empty(t, cases)
}
