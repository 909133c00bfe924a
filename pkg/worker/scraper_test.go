package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncludePatterns(t *testing.T) {
	tests := []struct {
		name string
		line string
		keep bool
	}{
		{"executor banner", "=== MyExecutor module loaded ===", true},
		{"progress line", "LogPython: Progress: 42.5% ETA: 1h:2m:3s", true},
		{"render finished", "Render finished! Success: True", true},
		{"http put", "HTTP PUT http://127.0.0.1:5000/api/put/abc12345 -> {...}", true},
		{"python error", "LogPython: Error: something broke", true},
		{"fatal marker", "FATAL: No map specified in command line", true},
		{"pipeline init", "Pipeline initialized, rendering...", true},
		{"random engine noise", "LogTemp: Display: shader compile 4/1200", false},
		{"empty line", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := includeRe.MatchString(tt.line) && !excludeRe.MatchString(tt.line)
			assert.Equal(t, tt.keep, matched)
		})
	}
}

func TestExcludePatternsWinOverInclude(t *testing.T) {
	// Plugin noise is dropped even when it carries an included marker
	tests := []string{
		"LogPython: Warning: Anima4D stream desync",
		"LogPython: Warning: UAnima4DStreamInfo missing",
		"LogPython: Error: RshipTargetComponent Subsystem not found",
		"LogPython: Warning: BeginDestroy called twice",
	}

	for _, line := range tests {
		assert.True(t, includeRe.MatchString(line), "line should match include: %s", line)
		assert.True(t, excludeRe.MatchString(line), "line should match exclude: %s", line)
	}
}
