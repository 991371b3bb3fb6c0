package modulehost

import (
	"context"
	"sync"
	"time"
)

// scheduler implements hostcall.Scheduler: a reducer calling
// schedule_reducer gets a delayed, self-invoking call back into the same
// Host once atMicros arrives (spec §4.3's scheduled reducer calls). It
// does not persist across a process restart - a production scheduler
// would back this with a table (the original reads its schedule back out
// of the database on boot), which is out of scope here (see
// internal/storage's package doc: the real storage engine is not this
// repository's concern).
type scheduler struct {
	host *Host

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*time.Timer
}

func newScheduler(host *Host) *scheduler {
	return &scheduler{host: host, timers: make(map[uint64]*time.Timer)}
}

// Schedule implements hostcall.Scheduler.
func (s *scheduler) Schedule(ctx context.Context, reducerID uint32, args []byte, atMicros uint64) uint64 {
	delay := time.Until(time.UnixMicro(int64(atMicros)))
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.host.invokeScheduled(reducerID, args)
	})

	s.mu.Lock()
	s.timers[id] = timer
	s.mu.Unlock()

	return id
}

// Cancel implements hostcall.Scheduler.
func (s *scheduler) Cancel(ctx context.Context, scheduleID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[scheduleID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, scheduleID)
	return true
}

// stop cancels every pending scheduled call, for Host.Close.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
