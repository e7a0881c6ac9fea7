// Package main provides a voice clip recorder: it captures short takes from
// the microphone, lets the user preview them, and submits them to storage.
//
// Usage:
//
//	voicerecorder serve  [--config path/to/config.json]
//	voicerecorder record --kind comment --topic <id>
//	voicerecorder clips | events | devices
//
// If --config is not specified, config.json next to the binary is used.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
