package interaction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "voxgate:interactions"

// scanPage is how many stream entries Summary and Prune read per call.
const scanPage = 500

// RedisSink appends records to one stream per tenant, trimmed to an
// approximate maximum length. Summary and Prune work on what the stream
// currently holds, so they agree with Recent.
//
// Keys, for prefix p and tenant t:
//
//	p:tenants     set of tenants seen
//	p:t:stream    records
type RedisSink struct {
	rdb    redis.UniversalClient
	prefix string
	maxLen int64
}

// NewRedisSink wraps an existing client.
func NewRedisSink(rdb redis.UniversalClient, prefix string, maxLen int64) *RedisSink {
	if prefix == "" {
		prefix = DefaultStream
	}
	return &RedisSink{rdb: rdb, prefix: prefix, maxLen: maxLen}
}

func (s *RedisSink) tenantsKey() string       { return s.prefix + ":tenants" }
func (s *RedisSink) streamKey(t string) string { return s.prefix + ":" + t + ":stream" }

func (s *RedisSink) Write(ctx context.Context, records []Record) error {
	pipe := s.rdb.Pipeline()
	for _, r := range records {
		pipe.SAdd(ctx, s.tenantsKey(), r.TenantID)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.streamKey(r.TenantID),
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"tool_name":   r.ToolName,
				"ts":          r.Timestamp.UTC().Format(time.RFC3339Nano),
				"outcome":     string(r.Outcome),
				"latency_ms":  r.Latency.Milliseconds(),
				"error_kind":  r.ErrorKind,
				"status_code": r.StatusCode,
				"job_id":      r.JobID,
				"test":        strconv.FormatBool(r.Test),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write interactions to redis: %w", err)
	}
	return nil
}

func (s *RedisSink) Recent(ctx context.Context, tenant string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.rdb.XRevRangeN(ctx, s.streamKey(tenant), "+", "-", int64(limit)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read interactions from redis: %w", err)
	}

	out := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeMessage(tenant, msg.Values))
	}
	return out, nil
}

func decodeMessage(tenant string, v map[string]any) Record {
	str := func(key string) string {
		s, _ := v[key].(string)
		return s
	}
	num := func(key string) int64 {
		n, _ := strconv.ParseInt(str(key), 10, 64)
		return n
	}
	ts, _ := time.Parse(time.RFC3339Nano, str("ts"))
	test, _ := strconv.ParseBool(str("test"))
	return Record{
		TenantID:   tenant,
		ToolName:   str("tool_name"),
		Timestamp:  ts,
		Outcome:    Outcome(str("outcome")),
		Latency:    time.Duration(num("latency_ms")) * time.Millisecond,
		ErrorKind:  str("error_kind"),
		StatusCode: int(num("status_code")),
		JobID:      str("job_id"),
		Test:       test,
	}
}

// scan calls fn for every entry of tenant's stream, oldest first.
func (s *RedisSink) scan(ctx context.Context, tenant string, fn func(id string, r Record)) error {
	start := "-"
	for {
		msgs, err := s.rdb.XRangeN(ctx, s.streamKey(tenant), start, "+", scanPage).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read interactions of %s: %w", tenant, err)
		}
		for _, msg := range msgs {
			fn(msg.ID, decodeMessage(tenant, msg.Values))
		}
		if len(msgs) < scanPage {
			return nil
		}
		next, err := nextStreamID(msgs[len(msgs)-1].ID)
		if err != nil {
			return err
		}
		start = next
	}
}

// nextStreamID returns the smallest id after id.
func nextStreamID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	n, err := strconv.ParseUint(seq, 10, 64)
	if !ok || err != nil {
		return "", fmt.Errorf("unexpected stream id %q", id)
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), nil
}

func (s *RedisSink) Summary(ctx context.Context, tenant string) (*Summary, error) {
	sum := newSummary(tenant)
	var latency time.Duration
	err := s.scan(ctx, tenant, func(_ string, r Record) {
		sum.Total++
		sum.ByOutcome[r.Outcome]++
		sum.ByTool[r.ToolName]++
		latency += r.Latency
	})
	if err != nil {
		return nil, err
	}
	if sum.Total > 0 {
		sum.AvgLatencyMS = float64(latency.Milliseconds()) / float64(sum.Total)
	}
	return sum, nil
}

// Prune deletes entries whose record timestamp is before before.
func (s *RedisSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	tenants, err := s.rdb.SMembers(ctx, s.tenantsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to list interaction tenants: %w", err)
	}

	var total int64
	for _, tenant := range tenants {
		var expired []string
		err := s.scan(ctx, tenant, func(id string, r Record) {
			if r.Timestamp.Before(before) {
				expired = append(expired, id)
			}
		})
		if err != nil {
			return total, err
		}
		for len(expired) > 0 {
			batch := expired[:min(len(expired), scanPage)]
			expired = expired[len(batch):]
			n, err := s.rdb.XDel(ctx, s.streamKey(tenant), batch...).Result()
			if err != nil {
				return total, fmt.Errorf("failed to prune interactions of %s: %w", tenant, err)
			}
			total += n
		}
	}
	return total, nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

var _ Sink = (*RedisSink)(nil)
