package worker

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Renderer output worth forwarding: executor banner, progress lines,
// explicit fatals.
var includePatterns = []string{
	`=== MyExecutor`,
	`HTTP PUT`,
	`SERVER_API_URL`,
	`Progress:.*%`,
	`Render finished`,
	`LogPython: Error`,
	`LogPython: Warning`,
	`Pipeline initialized`,
	`FATAL:`,
}

// Noisy engine warnings to drop even when they match above.
var excludePatterns = []string{
	`Anima4D`,
	`UAnima4DStreamInfo`,
	`RshipTargetComponent`,
	`Subsystem not found`,
	`BeginDestroy`,
	`Destructor`,
}

var (
	includeRe = regexp.MustCompile(strings.Join(includePatterns, "|"))
	excludeRe = regexp.MustCompile(strings.Join(excludePatterns, "|"))
)

// scrapeOutput tails the renderer's merged stdout+stderr until EOF,
// forwarding matching lines to the log.
func scrapeOutput(r io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if includeRe.MatchString(line) && !excludeRe.MatchString(line) {
			logger.Info().Str("source", "UE").Msg(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("Output scraper stopped")
	}
}
