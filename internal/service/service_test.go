package service_test

import (
	"context"
	"testing"
	"time"

	"etlplanner/internal/service"

	"github.com/stretchr/testify/assert"
)

// ─────────────────────────────────────────────────────────────
// runningTasksGuard tests
// ─────────────────────────────────────────────────────────────

func TestRunningGuard_ExclusiveTryLock(t *testing.T) {
	var g service.ExportedRunningGuard

	assert.True(t, g.TryLock("task-1", true), "first TryLock should succeed")
	assert.False(t, g.TryLock("task-1", true), "second exclusive TryLock for same task should fail")
	assert.True(t, g.TryLock("task-2", true), "TryLock for a different task should succeed")
	g.Unlock("task-1")
	g.Unlock("task-2")

	assert.True(t, g.TryLock("task-1", true), "TryLock after Unlock should succeed")
	g.Unlock("task-1")
}

func TestRunningGuard_SharedTryLockCounts(t *testing.T) {
	var g service.ExportedRunningGuard

	assert.True(t, g.TryLock("task-1", false))
	assert.True(t, g.TryLock("task-1", false))
	assert.Equal(t, 2, g.Running("task-1"))
	assert.False(t, g.TryLock("task-1", true), "exclusive lock waits for shared runs")

	g.Unlock("task-1")
	assert.Equal(t, 1, g.Running("task-1"))
	g.Unlock("task-1")
	assert.Zero(t, g.Running("task-1"))
}

func TestRunningGuard_WaitAll(t *testing.T) {
	var g service.ExportedRunningGuard
	g.TryLock("task-1", true)

	done := make(chan struct{})
	go func() {
		_ = g.WaitAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitAll returned before Unlock")
	case <-time.After(20 * time.Millisecond):
	}

	g.Unlock("task-1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAll did not return after Unlock")
	}
}

func TestRunningGuard_WaitAllContextCancel(t *testing.T) {
	var g service.ExportedRunningGuard
	g.TryLock("task-1", true)
	defer g.Unlock("task-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.WaitAll(ctx), context.Canceled)
}
