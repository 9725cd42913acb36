package sim

import (
	"context"
	"sync"

	"github.com/gymgate/agent/internal/gate/device"
)

// LiveSim is a Sim whose sessions also implement device.LiveCapturer.
// Each Connect opens a fresh stream; Close or EndStream terminates it.
type LiveSim struct {
	*Sim

	streamMu sync.Mutex
	stream   chan device.AttendanceRecord
	ended    bool
}

func NewLive() *LiveSim {
	return &LiveSim{Sim: New()}
}

func (l *LiveSim) Connect(ctx context.Context) (device.Session, error) {
	if _, err := l.Sim.Connect(ctx); err != nil {
		return nil, err
	}
	l.streamMu.Lock()
	l.stream = make(chan device.AttendanceRecord, 16)
	l.ended = false
	l.streamMu.Unlock()
	return l, nil
}

func (l *LiveSim) LiveCapture() <-chan device.AttendanceRecord {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	return l.stream
}

func (l *LiveSim) Close() error {
	l.EndStream()
	return l.Sim.Close()
}

// Push delivers a punch over the live stream.  Pushing without an open
// stream panics: a silently dropped punch would let a broken caller
// pass unnoticed.
func (l *LiveSim) Push(rec device.AttendanceRecord) {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	if l.ended || l.stream == nil {
		panic("sim: push on ended stream")
	}
	l.stream <- rec
}

// EndStream terminates the live stream as a mid-stream device error
// would, leaving the session itself open.
func (l *LiveSim) EndStream() {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	if l.ended || l.stream == nil {
		return
	}
	l.ended = true
	close(l.stream)
}
