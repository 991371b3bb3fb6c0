package modulehost

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSchedulerFiresAfterDelay(t *testing.T) {
	// A Host with no module loaded: invokeScheduled will hit the
	// no-module-loaded error path and log it, never panicking so long as
	// log is a valid logger.
	h := &Host{log: zap.NewNop()}
	sched := newScheduler(h)

	id := sched.Schedule(context.Background(), 0, nil, uint64(time.Now().Add(-time.Second).UnixMicro()))
	if id == 0 {
		t.Fatal("Schedule returned zero id")
	}

	// The timer fires with a zero delay (atMicros already in the past);
	// give the goroutine a moment to run before asserting it's gone from
	// the pending set.
	time.Sleep(50 * time.Millisecond)

	sched.mu.Lock()
	_, pending := sched.timers[id]
	sched.mu.Unlock()
	if pending {
		t.Error("schedule still pending after its delay elapsed")
	}
}

func TestSchedulerCancelPreventsFiring(t *testing.T) {
	h := &Host{log: zap.NewNop()}
	sched := newScheduler(h)
	id := sched.Schedule(context.Background(), 0, nil, uint64(time.Now().Add(time.Hour).UnixMicro()))
	if !sched.Cancel(context.Background(), id) {
		t.Fatal("Cancel on a pending schedule returned false")
	}
	if sched.Cancel(context.Background(), id) {
		t.Fatal("Cancel on an already-cancelled schedule returned true")
	}
}
