package audio

import (
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// inputListTimeout bounds one run of the listing command.
	inputListTimeout = 5 * time.Second
	// inputCacheTTL is how long a listing is reused. Status pushes ask for
	// the device list every few seconds.
	inputCacheTTL = 30 * time.Second
)

var inputCache struct {
	mu      sync.Mutex
	at      time.Time
	devices []Device
}

// Devices returns the microphones available on this platform. Results are
// cached briefly.
func Devices() []Device {
	inputCache.mu.Lock()
	defer inputCache.mu.Unlock()
	if !inputCache.at.IsZero() && time.Since(inputCache.at) < inputCacheTTL {
		return slices.Clone(inputCache.devices)
	}
	cfg := getPlatformConfig()
	inputCache.devices = cfg.Devices()
	inputCache.at = time.Now()
	return slices.Clone(inputCache.devices)
}

// inputQuery describes how a platform lists its microphones.
type inputQuery struct {
	// Command is the listing command and its arguments.
	Command []string
	// SectionStart and SectionEnd bound the audio input lines. An empty
	// SectionStart means every line is considered.
	SectionStart, SectionEnd string
	// Pattern matches one input line; Parse turns its submatches into a Device.
	Pattern *regexp.Regexp
	Parse   func(m []string) (Device, bool)
	// Exclude lists name fragments of loopback and virtual inputs, which
	// carry system audio rather than a voice.
	Exclude []string
	// Fallback is returned when nothing usable is found.
	Fallback []Device
}

// listInputs runs the listing command and parses its output.
func listInputs(q *inputQuery) []Device {
	if len(q.Command) == 0 {
		return q.Fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), inputListTimeout)
	defer cancel()
	// ffmpeg -list_devices always exits non-zero; only empty output fails.
	output, err := exec.CommandContext(ctx, q.Command[0], q.Command[1:]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Warn("failed to list microphones", "command", q.Command[0], "error", err)
		return q.Fallback
	}
	return parseInputs(string(output), q)
}

// parseInputs extracts microphones from listing output.
func parseInputs(output string, q *inputQuery) []Device {
	var found []Device
	inSection := q.SectionStart == ""

	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case q.SectionStart != "" && strings.Contains(line, q.SectionStart):
			inSection = true
			continue
		case q.SectionEnd != "" && strings.Contains(line, q.SectionEnd):
			inSection = false
			continue
		case !inSection:
			continue
		}

		m := q.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dev, ok := q.Parse(m)
		if !ok || excluded(dev.Name, q.Exclude) {
			continue
		}
		found = append(found, dev)
	}

	if len(found) == 0 {
		return q.Fallback
	}
	return found
}

func excluded(name string, fragments []string) bool {
	lower := strings.ToLower(name)
	return slices.ContainsFunc(fragments, func(f string) bool {
		return strings.Contains(lower, strings.ToLower(f))
	})
}
