package job

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to   Status
		wantChange Change
		wantErr    error
	}{
		{from: StatusCreated, to: StatusRunning, wantChange: Apply},
		{from: StatusCreated, to: StatusCompleted, wantChange: Apply},
		{from: StatusRunning, to: StatusProcessing, wantChange: Apply},
		{from: StatusProcessing, to: StatusFailed, wantChange: Apply},
		{from: StatusRunning, to: StatusRunning, wantChange: Noop},
		{from: StatusCompleted, to: StatusCompleted, wantChange: Noop},
		{from: StatusFailed, to: StatusFailed, wantChange: Noop},
		{from: StatusProcessing, to: StatusRunning, wantErr: ErrInvalidTransition},
		{from: StatusRunning, to: StatusCreated, wantErr: ErrInvalidTransition},
		{from: StatusCompleted, to: StatusFailed, wantErr: ErrTerminal},
		{from: StatusFailed, to: StatusRunning, wantErr: ErrTerminal},
		{from: StatusRunning, to: "paused", wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			change, err := CheckTransition(tt.from, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantChange, change)
		})
	}
}

// No sequence of requested states ever moves a job out of a terminal state.
func TestMonotonicity_AllSequences(t *testing.T) {
	var walk func(current Status, depth int)
	walk = func(current Status, depth int) {
		if depth == 0 {
			return
		}
		for _, next := range Statuses {
			change, err := CheckTransition(current, next)
			after := current
			if err == nil && change == Apply {
				after = next
			}
			if current.Terminal() {
				assert.Equal(t, current, after, "%s -> %s", current, next)
			}
			assert.GreaterOrEqual(t, after.rank(), current.rank())
			walk(after, depth-1)
		}
	}
	walk(StatusCreated, 4)
}

func TestPredecessors(t *testing.T) {
	assert.Empty(t, Predecessors(StatusCreated))
	assert.Equal(t, []Status{StatusCreated}, Predecessors(StatusRunning))
	assert.Equal(t, []Status{StatusCreated, StatusRunning, StatusProcessing}, Predecessors(StatusCompleted))
	assert.Equal(t, Predecessors(StatusCompleted), Predecessors(StatusFailed))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	tr := NewTracker(NewMemoryStore())
	ctx := context.Background()

	j, err := tr.Create(ctx, CreateRequest{ID: "job-1", TenantID: "acme", RequestType: "research", Input: map[string]any{"topic": "a,b"}})
	require.NoError(t, err)
	_, err = tr.Transition(ctx, j.ID, StatusCompleted, "all \"good\"", "")
	require.NoError(t, err)
	_, err = tr.Create(ctx, CreateRequest{ID: "job-2", TenantID: "globex", RequestType: "content"})
	require.NoError(t, err)

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, tr.Export(ctx, &buf, FormatCSV, Filter{TenantID: "acme"}))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, csvHeader, records[0])
		assert.Equal(t, "job-1", records[1][0])
		assert.Equal(t, `{"topic":"a,b"}`, records[1][4])
		assert.Equal(t, `"all \"good\""`, records[1][5])
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, tr.Export(ctx, &buf, FormatJSON, Filter{}))

		var jobs []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &jobs))
		assert.Len(t, jobs, 2)
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatJSON},
		{in: "JSON", want: FormatJSON},
		{in: "csv", want: FormatCSV},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
