package expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	clears    []bool
	messages  []string
	redirects int
	clearErr  error
}

func (r *recorder) ClearSession(_ context.Context, preserve bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, preserve)
	return r.clearErr
}

func (r *recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recorder) RedirectToLogin(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects++
}

// manualScheduler collects scheduled callbacks until Fire is called.
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) *time.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	return nil
}

func (s *manualScheduler) Fire() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

func newTestCoordinator() (*Coordinator, *recorder, *manualScheduler) {
	rec := &recorder{}
	sched := &manualScheduler{}
	c := NewCoordinator(rec, rec, rec, WithAfterFunc(sched.AfterFunc))
	return c, rec, sched
}

func TestCoordinator_SingleEpisode(t *testing.T) {
	c, rec, sched := newTestCoordinator()
	ctx := context.Background()

	assert.Equal(t, StateIdle, c.State())
	assert.True(t, c.Trigger(ctx, "登录已失效，请重新登录"))
	assert.True(t, c.IsHandling())

	assert.Equal(t, []bool{true}, rec.clears, "remembered account must be preserved")
	assert.Equal(t, []string{"登录已失效，请重新登录"}, rec.messages)
	assert.Zero(t, rec.redirects, "redirect waits for the delay")
	assert.Equal(t, []time.Duration{DefaultRedirectDelay}, sched.delays)

	sched.Fire()
	assert.Equal(t, 1, rec.redirects)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_DeduplicatesWhileHandling(t *testing.T) {
	c, rec, sched := newTestCoordinator()
	ctx := context.Background()

	assert.True(t, c.Trigger(ctx, "first"))
	for i := 0; i < 5; i++ {
		assert.False(t, c.Trigger(ctx, "again"))
	}
	sched.Fire()

	assert.Len(t, rec.clears, 1)
	assert.Equal(t, []string{"first"}, rec.messages)
	assert.Equal(t, 1, rec.redirects)
}

func TestCoordinator_NewEpisodeAfterIdle(t *testing.T) {
	c, rec, sched := newTestCoordinator()
	ctx := context.Background()

	require.True(t, c.Trigger(ctx, "a"))
	sched.Fire()
	require.True(t, c.Trigger(ctx, "b"))
	sched.Fire()

	assert.Len(t, rec.clears, 2)
	assert.Equal(t, 2, rec.redirects)
}

func TestCoordinator_ConcurrentTriggers(t *testing.T) {
	c, rec, sched := newTestCoordinator()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Trigger(ctx, "登录已失效，请重新登录") {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	sched.Fire()

	assert.Equal(t, 1, accepted)
	assert.Len(t, rec.clears, 1)
	assert.Len(t, rec.messages, 1)
	assert.Equal(t, 1, rec.redirects)
}

func TestCoordinator_ClearErrorStillRedirects(t *testing.T) {
	c, rec, sched := newTestCoordinator()
	rec.clearErr = errors.New("store down")

	assert.True(t, c.Trigger(context.Background(), "x"))
	sched.Fire()
	assert.Equal(t, 1, rec.redirects)
	assert.Len(t, rec.messages, 1)
}

func TestCoordinator_RealTimer(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, rec, rec, WithRedirectDelay(10*time.Millisecond))

	require.True(t, c.Trigger(context.Background(), "x"))
	assert.Eventually(t, func() bool { return !c.IsHandling() }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.redirects)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "handling", StateHandling.String())
}
