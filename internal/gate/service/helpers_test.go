package service

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/gate/types"
)

// fixedClock pins Now for deterministic expiry math.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func testLogger() *zap.Logger { return zap.NewNop() }

// nextEvent reads one attendance event or fails the test.
func nextEvent(t *testing.T, ch <-chan types.AttendanceEvent) types.AttendanceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for attendance event")
		return types.AttendanceEvent{}
	}
}
