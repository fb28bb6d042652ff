package voxgate

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	s := Build()
	assert.NotEmpty(t, s.Version)
	assert.Equal(t, runtime.Version(), s.Runtime)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, s.Platform)
}

func TestStamp_String(t *testing.T) {
	s := Stamp{Version: "v1.2.3", Commit: "abc123", BuildTime: "2026-01-02", Runtime: "go1.24", Platform: "linux/amd64"}
	assert.Equal(t, "voxgate v1.2.3 commit=abc123 built=2026-01-02 go1.24 linux/amd64", s.String())
}
