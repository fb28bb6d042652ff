package interaction

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFactory struct {
	name string
	new  func(t *testing.T) Sink
}

func sinkFactories() []sinkFactory {
	return []sinkFactory{
		{name: "memory", new: func(t *testing.T) Sink { return NewMemorySink(100) }},
		{name: "sqlite", new: func(t *testing.T) Sink {
			db, err := sql.Open("sqlite3", ":memory:")
			require.NoError(t, err)
			db.SetMaxOpenConns(1)
			t.Cleanup(func() { db.Close() })

			sink, err := NewSQLSink(context.Background(), db, "sqlite")
			require.NoError(t, err)
			return sink
		}},
		{name: "redis", new: func(t *testing.T) Sink {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisSink(rdb, "voxgate-test", 1000)
		}},
	}
}

func TestSinks(t *testing.T) {
	for _, f := range sinkFactories() {
		t.Run(f.name, func(t *testing.T) {
			sink := f.new(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			records := []Record{
				{TenantID: "acme", ToolName: "search", Timestamp: now.Add(-3 * time.Second), Outcome: OutcomeOK, Latency: 100 * time.Millisecond},
				{TenantID: "acme", ToolName: "search", Timestamp: now.Add(-2 * time.Second), Outcome: OutcomeError, Latency: 300 * time.Millisecond, ErrorKind: "network"},
				{TenantID: "acme", ToolName: "weather", Timestamp: now.Add(-1 * time.Second), Outcome: OutcomeDegraded, Latency: 200 * time.Millisecond, StatusCode: 200, JobID: "j-1", Test: true},
				{TenantID: "globex", ToolName: "crm", Timestamp: now, Outcome: OutcomeOK, Latency: 50 * time.Millisecond},
			}
			require.NoError(t, sink.Write(ctx, records))

			recent, err := sink.Recent(ctx, "acme", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "weather", recent[0].ToolName)
			assert.Equal(t, OutcomeDegraded, recent[0].Outcome)
			assert.Equal(t, "j-1", recent[0].JobID)
			assert.True(t, recent[0].Test)
			assert.Equal(t, 200*time.Millisecond, recent[0].Latency)
			assert.Equal(t, "network", recent[1].ErrorKind)

			sum, err := sink.Summary(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, int64(3), sum.Total)
			assert.Equal(t, int64(2), sum.ByTool["search"])
			assert.Equal(t, int64(1), sum.ByOutcome[OutcomeError])
			assert.InDelta(t, 200.0, sum.AvgLatencyMS, 0.001)

			empty, err := sink.Summary(ctx, "nobody")
			require.NoError(t, err)
			assert.Zero(t, empty.Total)
		})
	}
}

func TestSinks_Prune(t *testing.T) {
	for _, f := range sinkFactories() {
		t.Run(f.name, func(t *testing.T) {
			sink := f.new(t)
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, sink.Write(ctx, []Record{
				{TenantID: "acme", ToolName: "a", Timestamp: now.Add(-10 * 24 * time.Hour), Outcome: OutcomeOK},
				{TenantID: "acme", ToolName: "b", Timestamp: now.Add(-8 * 24 * time.Hour), Outcome: OutcomeOK},
				{TenantID: "acme", ToolName: "c", Timestamp: now.Add(-time.Hour), Outcome: OutcomeOK},
			}))

			n, err := sink.Prune(ctx, now.Add(-7*24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			recent, err := sink.Recent(ctx, "acme", 10)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, "c", recent[0].ToolName)

			sum, err := sink.Summary(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, int64(1), sum.Total)
			assert.Equal(t, map[string]int64{"c": 1}, sum.ByTool)

			// The sink keeps accepting writes after compaction.
			require.NoError(t, sink.Write(ctx, []Record{{TenantID: "acme", ToolName: "d", Timestamp: now, Outcome: OutcomeOK}}))
			recent, err = sink.Recent(ctx, "acme", 10)
			require.NoError(t, err)
			assert.Equal(t, "d", recent[0].ToolName)
		})
	}
}

func TestRedisSink_ScansPastOnePage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sink := NewRedisSink(rdb, "", 0)
	ctx := context.Background()

	now := time.Now().UTC()
	records := make([]Record, 0, 2*scanPage+10)
	for i := range 2*scanPage + 10 {
		ts := now
		if i%2 == 0 {
			ts = now.Add(-48 * time.Hour)
		}
		records = append(records, Record{TenantID: "acme", ToolName: "search", Timestamp: ts, Outcome: OutcomeOK, Latency: time.Millisecond})
	}
	require.NoError(t, sink.Write(ctx, records))

	sum, err := sink.Summary(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(len(records)), sum.Total)

	n, err := sink.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(len(records)/2), n)

	sum, err = sink.Summary(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(len(records)/2), sum.Total)
}

func TestNextStreamID(t *testing.T) {
	next, err := nextStreamID("1700000000000-7")
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-8", next)

	_, err = nextStreamID("garbage")
	assert.Error(t, err)
}

func TestMemorySink_RingOverwritesOldest(t *testing.T) {
	sink := NewMemorySink(3)
	ctx := context.Background()
	for _, tool := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, sink.Write(ctx, []Record{{TenantID: "acme", ToolName: tool}}))
	}

	recent, err := sink.Recent(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{recent[0].ToolName, recent[1].ToolName, recent[2].ToolName})
}

type blockingSink struct {
	*MemorySink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) Write(ctx context.Context, records []Record) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MemorySink.Write(ctx, records)
}

func TestLogger_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{
		MemorySink: NewMemorySink(100),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	l := New(sink, 2)

	require.True(t, l.Record(Record{TenantID: "acme", ToolName: "first", Outcome: OutcomeOK}))
	<-sink.entered

	accepted := 0
	for i := 0; i < 10; i++ {
		if l.Record(Record{TenantID: "acme", ToolName: "t", Outcome: OutcomeOK}) {
			accepted++
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, int64(8), l.Dropped())

	close(sink.release)
	require.NoError(t, l.Close(context.Background()))

	recent, err := sink.Recent(context.Background(), "acme", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.False(t, l.Record(Record{TenantID: "acme"}), "closed logger drops")
}

func TestLogger_FlushOnClose(t *testing.T) {
	sink := NewMemorySink(1000)
	l := New(sink, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record(Record{TenantID: "acme", ToolName: "t", Outcome: OutcomeOK, Latency: time.Millisecond})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close(context.Background()))

	sum, err := sink.Summary(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum.Total)
	assert.Zero(t, l.Dropped())
}
