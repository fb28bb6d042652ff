// Package voxgate carries the build stamp of the gateway binary.
package voxgate

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Release builds set these with
// -ldflags "-X github.com/kadirpekel/voxgate.Version=v1.2.3".
var (
	Version   = "0.1.0-dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Stamp identifies the running binary.
type Stamp struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Runtime   string `json:"runtime"`
	Platform  string `json:"platform"`
}

// Build returns the stamp of the running binary. A module version recorded
// by go install replaces the linker default.
func Build() Stamp {
	s := Stamp{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		Runtime:   runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			s.Version = v
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && s.Commit == "unknown" {
				s.Commit = setting.Value
			}
		}
	}
	return s
}

func (s Stamp) String() string {
	var b strings.Builder
	b.WriteString("voxgate ")
	b.WriteString(s.Version)
	b.WriteString(" commit=")
	b.WriteString(s.Commit)
	b.WriteString(" built=")
	b.WriteString(s.BuildTime)
	b.WriteString(" ")
	b.WriteString(s.Runtime)
	b.WriteString(" ")
	b.WriteString(s.Platform)
	return b.String()
}
