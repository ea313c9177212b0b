package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/BaSui01/agentcircle/internal/clock"
	"github.com/BaSui01/agentcircle/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeDriver struct {
	mu         sync.Mutex
	active     bool
	prompts    []string
	continuous []bool
	injectErr  error
	onInject   func()
}

func (d *fakeDriver) InjectPrompt(ctx context.Context, conversationID, prompt string) error {
	d.mu.Lock()
	if d.injectErr != nil {
		d.mu.Unlock()
		return d.injectErr
	}
	d.prompts = append(d.prompts, prompt)
	hook := d.onInject
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (d *fakeDriver) SetContinuous(conversationID string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.continuous = append(d.continuous, on)
	return nil
}

func (d *fakeDriver) IsActive(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

var t0 = time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)

type harness struct {
	sched  *Scheduler
	driver *fakeDriver
	clock  *clock.Mock
	kv     *persistence.MemoryKV
	book   *TemplateBook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kv := persistence.NewMemoryKV()
	store := NewKVStore(kv, nil)
	book := NewTemplateBook(store, nil)
	clk := clock.NewMock(t0)
	driver := &fakeDriver{active: true}
	s, err := New(context.Background(), "c1", book, store, driver, clk, DefaultConfig(), nil)
	require.NoError(t, err)
	return &harness{sched: s, driver: driver, clock: clk, kv: kv, book: book}
}

func TestTemplates_DefaultsAndCRUD(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	list, err := h.sched.Templates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	tpl, err := h.sched.AddTemplate(ctx, "Stelle", "Parlate delle stelle.", "nova")
	require.NoError(t, err)
	list, _ = h.sched.Templates(ctx)
	assert.Len(t, list, 4)

	_, err = h.sched.AddTemplate(ctx, "", "x", "nova")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	require.NoError(t, h.sched.RemoveTemplate(ctx, tpl.ID))
	assert.True(t, types.IsErrorCode(h.sched.RemoveTemplate(ctx, tpl.ID), types.ErrNotFound))
}

func TestKVStore_CorruptFallsBack(t *testing.T) {
	ctx := context.Background()
	kv := persistence.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, templatesKey, []byte("[{")))
	require.NoError(t, kv.Set(ctx, sessionsKey("c1"), []byte("nope")))
	store := NewKVStore(kv, nil)

	templates, err := store.LoadTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplates(), templates)

	sessions, err := store.LoadSessions(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestKVStore_EmptyTemplateListStaysEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(persistence.NewMemoryKV(), nil)
	book := NewTemplateBook(store, nil)

	for _, tpl := range DefaultTemplates() {
		require.NoError(t, book.Remove(ctx, tpl.ID))
	}

	templates, err := store.LoadTemplates(ctx)
	require.NoError(t, err)
	assert.Empty(t, templates)

	// 重新打开同一份数据，默认模板不会回来
	reopened := NewKVStore(store.kv, nil)
	templates, err = reopened.LoadTemplates(ctx)
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestScheduleSession_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.sched.ScheduleSession(ctx, ScheduleRequest{DurationMinutes: 5})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	_, err = h.sched.ScheduleSession(ctx, ScheduleRequest{TemplateID: "a", CustomPrompt: "b", DurationMinutes: 5})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	_, err = h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "b"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestStartSession_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var transitions []types.SessionStatus
	h.sched.OnTransition(func(s types.ScheduledSession, from types.SessionStatus) {
		transitions = append(transitions, s.Status)
	})

	sess, err := h.sched.StartSessionNow(ctx, ScheduleRequest{TemplateID: "default-creative", DurationMinutes: 10})
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, sess.Status)
	require.NotNil(t, sess.StartedAt)
	assert.Equal(t, DefaultTemplates()[2].Prompt, h.driver.prompts[0])

	// continuous play waits for the settle delay
	assert.Empty(t, h.driver.continuous)
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, []bool{true}, h.driver.continuous)
	assert.Equal(t, 10*time.Minute-2*time.Second, h.sched.Remaining())

	_, err = h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "altro", DurationMinutes: 1})
	assert.True(t, types.IsErrorCode(err, types.ErrSessionRunning))

	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, []bool{true, false}, h.driver.continuous)
	_, running := h.sched.ActiveSession()
	assert.False(t, running)
	assert.Zero(t, h.sched.Remaining())

	done, _ := h.sched.Session(sess.ID)
	assert.Equal(t, types.SessionCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, t0.Add(10*time.Minute), *done.CompletedAt)
	assert.Equal(t, []types.SessionStatus{types.SessionRunning, types.SessionCompleted}, transitions)

	assert.True(t, types.IsErrorCode(h.sched.StopSession(ctx), types.ErrNoActiveSession))
}

func TestStartSession_PromptResolution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "Parliamo del mare", DurationMinutes: 1})
	require.NoError(t, err)
	require.NoError(t, h.sched.StopSession(ctx))

	_, err = h.sched.StartSessionNow(ctx, ScheduleRequest{TemplateID: "deleted", DurationMinutes: 1})
	require.NoError(t, err)
	require.NoError(t, h.sched.StopSession(ctx))

	assert.Equal(t, []string{"Parliamo del mare", DefaultFallbackPrompt}, h.driver.prompts)
}

func TestStopSession_BeforeSettleCancelsContinuous(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "x", DurationMinutes: 5})
	require.NoError(t, err)
	require.NoError(t, h.sched.StopSession(ctx))
	h.clock.Advance(time.Hour)

	assert.Equal(t, []bool{false}, h.driver.continuous)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestStartSession_InjectFailureLeavesScheduled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver.injectErr = errors.New("transcript closed")

	sess, err := h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "x", DurationMinutes: 5})
	require.NoError(t, err)
	assert.Error(t, h.sched.StartSession(ctx, sess.ID))

	got, _ := h.sched.Session(sess.ID)
	assert.Equal(t, types.SessionScheduled, got.Status)
	_, running := h.sched.ActiveSession()
	assert.False(t, running)
}

func TestCancelSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	sess, err := h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "x", ScheduledAt: t0.Add(time.Hour), DurationMinutes: 5})
	require.NoError(t, err)
	cancelled, err := h.sched.CancelSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, cancelled.Status)

	_, err = h.sched.CancelSession(ctx, sess.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
	assert.True(t, types.IsErrorCode(h.sched.StartSession(ctx, sess.ID), types.ErrInvalidTransition))

	_, err = h.sched.CancelSession(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	running, err := h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "y", DurationMinutes: 5})
	require.NoError(t, err)
	_, err = h.sched.CancelSession(ctx, running.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
}

func TestStopSession_WhileStartingCancelsTheStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var stopErr error
	h.driver.onInject = func() {
		h.driver.onInject = nil
		stopErr = h.sched.StopSession(ctx)
	}

	sess, err := h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "a", DurationMinutes: 5})
	require.NoError(t, err)
	err = h.sched.StartSession(ctx, sess.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
	require.NoError(t, stopErr)

	got, _ := h.sched.Session(sess.ID)
	assert.Equal(t, types.SessionCancelled, got.Status)
	_, running := h.sched.ActiveSession()
	assert.False(t, running)
	assert.Equal(t, 0, h.clock.Pending())

	// 槽位已释放，下一个会话正常运行并到期结束
	next, err := h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "b", DurationMinutes: 5})
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)

	for _, s := range h.sched.Sessions() {
		assert.NotEqual(t, types.SessionRunning, s.Status, s.ID)
	}
	done, _ := h.sched.Session(next.ID)
	assert.Equal(t, types.SessionCompleted, done.Status)
}

func TestStartSession_RequiresBoundConversation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver.active = false

	_, err := h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "x", DurationMinutes: 5})
	assert.True(t, types.IsErrorCode(err, types.ErrNoActiveSession))
	assert.Empty(t, h.sched.Sessions())

	sess, err := h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "x", DurationMinutes: 5})
	require.NoError(t, err)
	err = h.sched.StartSession(ctx, sess.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrNoActiveSession))

	got, _ := h.sched.Session(sess.ID)
	assert.Equal(t, types.SessionScheduled, got.Status)
	assert.Empty(t, h.driver.prompts)
	assert.Empty(t, h.driver.continuous)
}

func TestTick_StartsDueSessionOnlyWhenActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	early, err := h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "early", ScheduledAt: t0.Add(time.Minute), DurationMinutes: 30})
	require.NoError(t, err)
	_, err = h.sched.ScheduleSession(ctx, ScheduleRequest{CustomPrompt: "late", ScheduledAt: t0.Add(2 * time.Minute), DurationMinutes: 30})
	require.NoError(t, err)

	h.driver.active = false
	h.sched.Start(ctx)
	h.clock.Advance(3 * time.Minute)
	assert.Empty(t, h.driver.prompts)

	h.driver.active = true
	h.clock.Advance(time.Minute)
	assert.Equal(t, []string{"early"}, h.driver.prompts)
	active, ok := h.sched.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, early.ID, active.ID)

	// the later one waits while the first is running
	h.clock.Advance(5 * time.Minute)
	assert.Len(t, h.driver.prompts, 1)

	h.sched.Stop()
	h.sched.Shutdown()
	assert.Equal(t, 0, h.clock.Pending())
}

func TestNew_CompletesStaleRunningSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.sched.StartSessionNow(ctx, ScheduleRequest{CustomPrompt: "x", DurationMinutes: 5})
	require.NoError(t, err)
	h.sched.Shutdown()

	store := NewKVStore(h.kv, nil)
	reloaded, err := New(ctx, "c1", h.book, store, h.driver, h.clock, DefaultConfig(), nil)
	require.NoError(t, err)
	sessions := reloaded.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, types.SessionCompleted, sessions[0].Status)
	_, running := reloaded.ActiveSession()
	assert.False(t, running)
}

func TestSessions_MonotonicAndSingleRunning(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		kv := persistence.NewMemoryKV()
		store := NewKVStore(kv, nil)
		clk := clock.NewMock(t0)
		driver := &fakeDriver{active: true}
		s, err := New(ctx, "c1", NewTemplateBook(store, nil), store, driver, clk, DefaultConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		last := map[string]types.SessionStatus{}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			ids := make([]string, 0)
			for _, sess := range s.Sessions() {
				ids = append(ids, sess.ID)
			}
			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0:
				_, _ = s.ScheduleSession(ctx, ScheduleRequest{
					CustomPrompt:    "p",
					ScheduledAt:     clk.Now().Add(time.Duration(rapid.IntRange(0, 5).Draw(t, "in")) * time.Minute),
					DurationMinutes: rapid.IntRange(1, 5).Draw(t, "dur"),
				})
			case 1:
				if len(ids) > 0 {
					_ = s.StartSession(ctx, rapid.SampledFrom(ids).Draw(t, "start"))
				}
			case 2:
				if len(ids) > 0 {
					_, _ = s.CancelSession(ctx, rapid.SampledFrom(ids).Draw(t, "cancel"))
				}
			case 3:
				_ = s.StopSession(ctx)
			case 4:
				_, _ = s.Tick(ctx)
			case 5:
				clk.Advance(time.Duration(rapid.IntRange(0, 180).Draw(t, "secs")) * time.Second)
			}

			running := 0
			for _, sess := range s.Sessions() {
				if sess.Status == types.SessionRunning {
					running++
				}
				if prev, ok := last[sess.ID]; ok && prev != sess.Status && !types.CanTransition(prev, sess.Status) {
					t.Fatalf("session %s moved %s -> %s", sess.ID, prev, sess.Status)
				}
				last[sess.ID] = sess.Status
			}
			if running > 1 {
				t.Fatalf("%d sessions running", running)
			}
		}
	})
}
