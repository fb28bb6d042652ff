package toolerr

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "configuration",
			err:  Configuration("search", "service not configured: %s", "research"),
			want: "configuration error: tool search: service not configured: research",
		},
		{
			name: "upstream with status",
			err:  Upstream("search", 503, "unavailable"),
			want: "upstream error: tool search: HTTP 503: unavailable",
		},
		{
			name: "network with cause",
			err:  Network("search", context.DeadlineExceeded),
			want: "network error: tool search: request failed: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", Validation("lookup", "missing required parameter %q", "id"))

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindValidation))
	assert.False(t, Is(wrapped, KindNetwork))
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain")))
	assert.False(t, Is(nil, KindValidation))
}

func TestNetwork_UnwrapsCause(t *testing.T) {
	err := Network("search", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, err.Recoverable())
	assert.True(t, Extraction("").Recoverable())
}

func TestWithTool(t *testing.T) {
	base := Configuration("", "unresolved placeholder ${%s}", "TOKEN")
	named := WithTool(base, "search")

	assert.Equal(t, "search", named.(*Error).Tool)
	assert.Empty(t, base.Tool, "original must not be mutated")

	plain := fmt.Errorf("plain")
	assert.Equal(t, plain, WithTool(plain, "search"))
}
