package job

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", new: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "sqlite", new: func(t *testing.T) Store {
			db, err := sql.Open("sqlite3", ":memory:")
			require.NoError(t, err)
			db.SetMaxOpenConns(1)
			t.Cleanup(func() { db.Close() })

			store, err := NewSQLStore(context.Background(), db, "sqlite")
			require.NoError(t, err)
			return store
		}},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_Lifecycle(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			tr := NewTracker(f.new(t), WithClock(clock.Now))
			ctx := context.Background()

			j, err := tr.Create(ctx, CreateRequest{TenantID: "acme", RequestType: "research", Input: map[string]any{"topic": "Go"}})
			require.NoError(t, err)
			assert.NotEmpty(t, j.ID)
			assert.Equal(t, StatusCreated, j.Status)

			_, err = tr.Create(ctx, CreateRequest{ID: j.ID, TenantID: "acme"})
			assert.ErrorIs(t, err, ErrExists)

			clock.Advance(time.Second)
			j, err = tr.Transition(ctx, j.ID, StatusRunning, nil, "")
			require.NoError(t, err)
			assert.Equal(t, StatusRunning, j.Status)

			// Same non-terminal state is a no-op.
			before := j.UpdatedAt
			clock.Advance(time.Second)
			j, err = tr.Transition(ctx, j.ID, StatusRunning, nil, "")
			require.NoError(t, err)
			assert.Equal(t, before, j.UpdatedAt)

			clock.Advance(3 * time.Second)
			j, err = tr.Transition(ctx, j.ID, StatusCompleted, map[string]any{"summary": "done"}, "")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, j.Status)
			assert.Equal(t, map[string]any{"summary": "done"}, j.Result)
			assert.Equal(t, map[string]any{"topic": "Go"}, j.Input)

			// Same terminal state again is idempotent.
			j, err = tr.Transition(ctx, j.ID, StatusCompleted, "other", "")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"summary": "done"}, j.Result)

			// Leaving a terminal state is rejected.
			for _, next := range []Status{StatusFailed, StatusRunning, StatusCreated} {
				j, err = tr.Transition(ctx, j.ID, next, nil, "late")
				assert.ErrorIs(t, err, ErrTerminal)
				assert.Equal(t, StatusCompleted, j.Status)
			}

			got, err := tr.Get(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Empty(t, got.ErrorMessage)

			_, err = tr.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = tr.Transition(ctx, "missing", StatusRunning, nil, "")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ForwardSkipAndBackwardReject(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			tr := NewTracker(f.new(t))
			ctx := context.Background()

			a, err := tr.Create(ctx, CreateRequest{TenantID: "acme", RequestType: "r"})
			require.NoError(t, err)
			_, err = tr.Transition(ctx, a.ID, StatusProcessing, nil, "")
			require.NoError(t, err)
			_, err = tr.Transition(ctx, a.ID, StatusRunning, nil, "")
			assert.ErrorIs(t, err, ErrInvalidTransition)

			b, err := tr.Create(ctx, CreateRequest{TenantID: "acme", RequestType: "r"})
			require.NoError(t, err)
			b, err = tr.Transition(ctx, b.ID, StatusFailed, nil, "upstream exploded")
			require.NoError(t, err)
			assert.Equal(t, "upstream exploded", b.ErrorMessage)
		})
	}
}

func TestStore_ConcurrentTerminalWriters(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			tr := NewTracker(f.new(t))
			ctx := context.Background()

			j, err := tr.Create(ctx, CreateRequest{TenantID: "acme", RequestType: "r"})
			require.NoError(t, err)
			_, err = tr.Transition(ctx, j.ID, StatusRunning, nil, "")
			require.NoError(t, err)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				rejected int
			)
			for i := 0; i < 20; i++ {
				next := StatusCompleted
				if i%2 == 1 {
					next = StatusFailed
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := tr.Transition(ctx, j.ID, next, nil, "")
					if errors.Is(err, ErrTerminal) {
						mu.Lock()
						rejected++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			final, err := tr.Get(ctx, j.ID)
			require.NoError(t, err)
			require.True(t, final.Status.Terminal())

			// Every writer of the other terminal state was rejected.
			assert.Equal(t, 10, rejected)
		})
	}
}

func TestStore_Cleanup(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			tr := NewTracker(f.new(t), WithClock(clock.Now))
			ctx := context.Background()
			start := clock.Now()

			create := func(final Status) *Job {
				j, err := tr.Create(ctx, CreateRequest{TenantID: "acme", RequestType: "r"})
				require.NoError(t, err)
				if final != StatusCreated {
					_, err = tr.Transition(ctx, j.ID, final, nil, "")
					require.NoError(t, err)
				}
				return j
			}

			oldCompleted := create(StatusCompleted)
			oldFailed := create(StatusFailed)
			oldRunning := create(StatusRunning)
			oldCreated := create(StatusCreated)

			clock.Set(start.Add(29 * 24 * time.Hour))
			recentCompleted := create(StatusCompleted)

			clock.Set(start.Add(31 * 24 * time.Hour))
			n, err := tr.Cleanup(ctx, 30*24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			for _, gone := range []*Job{oldCompleted, oldFailed} {
				_, err := tr.Get(ctx, gone.ID)
				assert.ErrorIs(t, err, ErrNotFound)
			}
			for _, kept := range []*Job{oldRunning, oldCreated, recentCompleted} {
				_, err := tr.Get(ctx, kept.ID)
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			tr := NewTracker(f.new(t))
			ctx := context.Background()

			j, err := tr.Create(ctx, CreateRequest{TenantID: "acme", RequestType: "r"})
			require.NoError(t, err)

			assert.ErrorIs(t, tr.Delete(ctx, j.ID), ErrActive)
			_, err = tr.Transition(ctx, j.ID, StatusCompleted, nil, "")
			require.NoError(t, err)
			require.NoError(t, tr.Delete(ctx, j.ID))
			assert.ErrorIs(t, tr.Delete(ctx, j.ID), ErrNotFound)
		})
	}
}

func TestStore_SearchAndAnalytics(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			tr := NewTracker(f.new(t), WithClock(clock.Now))
			ctx := context.Background()

			mk := func(tenant, rtype, topic string, final Status, latency time.Duration, errMsg string) {
				j, err := tr.Create(ctx, CreateRequest{TenantID: tenant, RequestType: rtype, Input: map[string]any{"topic": topic}})
				require.NoError(t, err)
				clock.Advance(latency)
				if final != StatusCreated {
					_, err = tr.Transition(ctx, j.ID, final, nil, errMsg)
					require.NoError(t, err)
				}
				clock.Advance(time.Second)
			}

			clock.Advance(-48 * time.Hour)
			mk("acme", "research", "old topic", StatusCompleted, 4*time.Second, "")
			clock.Advance(48 * time.Hour)
			mk("acme", "research", "Quantum 100% Computing", StatusCompleted, 2*time.Second, "")
			mk("acme", "content", "poems", StatusFailed, 0, "Model Overloaded")
			mk("globex", "research", "markets", StatusRunning, 0, "")

			page, err := tr.Search(ctx, Filter{TenantID: "acme"})
			require.NoError(t, err)
			assert.Equal(t, 3, page.Total)
			assert.Equal(t, "content", page.Jobs[0].RequestType, "newest first")

			page, err = tr.Search(ctx, Filter{Query: "quantum 100%"})
			require.NoError(t, err)
			assert.Equal(t, 1, page.Total)

			page, err = tr.Search(ctx, Filter{Query: "overloaded"})
			require.NoError(t, err)
			require.Equal(t, 1, page.Total)
			assert.Equal(t, StatusFailed, page.Jobs[0].Status)

			page, err = tr.Search(ctx, Filter{Status: StatusCompleted, RequestType: "research", Limit: 1, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, 2, page.Total)
			require.Len(t, page.Jobs, 1)
			assert.Equal(t, map[string]any{"topic": "old topic"}, page.Jobs[0].Input)

			active, err := tr.Active(ctx, "")
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "globex", active[0].TenantID)

			n, err := tr.CountActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			a, err := tr.Analytics(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(4), a.TotalJobs)
			assert.Equal(t, int64(1), a.ActiveJobs)
			assert.Equal(t, int64(3), a.Recent24h)
			assert.Equal(t, int64(2), a.ByStatus[StatusCompleted])
			assert.Equal(t, int64(3), a.ByRequestType["research"])
			assert.InDelta(t, 2.0/3.0, a.SuccessRate, 1e-9)
			assert.InDelta(t, 2.0, a.AvgTerminalLatencySeconds, 1e-9)
		})
	}
}

func TestAnalytics_EmptySuccessRate(t *testing.T) {
	a, err := NewTracker(NewMemoryStore()).Analytics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, a.SuccessRate)
	assert.Zero(t, a.TotalJobs)
}
