package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long watch waits after the last change before regenerating.
const settle = 150 * time.Millisecond

// watch regenerates whenever an input file changes, until ctx is done.
// Directories are watched rather than files so editors that replace files
// on save keep triggering events.
func watch(ctx context.Context, o options) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	inputs := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range o.inputs() {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		inputs[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	regenerate := func() {
		if err := once(ctx, o); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	regenerate()
	fmt.Printf("Watching %d files...\n", len(inputs))

	timer := time.NewTimer(settle)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !inputs[abs] {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
		case <-timer.C:
			regenerate()
		}
	}
}
