//go:build trace

// Package tracing records runtime/trace tasks for replayed jobs when the
// binary is built with the trace tag.
package tracing

import (
	"context"
	"fmt"
	"os"
	"runtime/trace"
)

// Start writes a runtime trace to path until stop is called.
func Start(path string) (stop func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		trace.Stop()
		f.Close()
	}, nil
}

// Job opens the task that covers one replayed job trace.
func Job(ctx context.Context) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, "job")
	return ctx, task.End
}

// Notification marks the handling of one notification of the given kind.
func Notification(ctx context.Context, kind string) func() {
	return trace.StartRegion(ctx, kind).End
}

// File annotates the current task with the file a notification refers to.
func File(ctx context.Context, path string) {
	trace.Log(ctx, "file", path)
}
