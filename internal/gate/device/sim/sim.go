// Package sim is an in-memory terminal used in tests and in dev
// environments where no physical device is reachable.
package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/gymgate/agent/internal/gate/device"
)

var ErrClosed = errors.New("sim: session closed")

// Sim implements device.Dialer and device.Session over in-memory state.
// It is poll-only; use LiveSim for a push-capable terminal.
type Sim struct {
	mu         sync.Mutex
	users      []device.User
	templates  []device.Template
	attendance []device.AttendanceRecord
	nextUID    int
	enabled    bool
	closed     bool
	connects   int

	dialErr       error
	attendanceErr error
}

func New() *Sim {
	return &Sim{nextUID: 1, enabled: true, closed: true}
}

func (s *Sim) Connect(ctx context.Context) (device.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	s.closed = false
	s.connects++
	return s, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sim) GetUsers(_ context.Context) ([]device.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]device.User, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *Sim) GetTemplates(_ context.Context) ([]device.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]device.Template, len(s.templates))
	copy(out, s.templates)
	return out, nil
}

func (s *Sim) DeleteUser(_ context.Context, uid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	kept := s.users[:0]
	found := false
	for _, u := range s.users {
		if u.UID == uid {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	s.users = kept
	if !found {
		return errors.New("sim: no such uid")
	}
	keptT := s.templates[:0]
	for _, t := range s.templates {
		if t.UID != uid {
			keptT = append(keptT, t)
		}
	}
	s.templates = keptT
	return nil
}

// SaveUserTemplate re-enrolls a user with their templates in one
// operation, mirroring the vendor call.  The terminal assigns a fresh
// UID when the identity is new, like real hardware does.
func (s *Sim) SaveUserTemplate(_ context.Context, user device.User, templates []device.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	uid := 0
	for _, u := range s.users {
		if u.UserID == user.UserID {
			uid = u.UID
			break
		}
	}
	if uid == 0 {
		uid = s.nextUID
		s.nextUID++
		user.UID = uid
		s.users = append(s.users, user)
	}
	kept := s.templates[:0]
	for _, t := range s.templates {
		if t.UID != uid {
			kept = append(kept, t)
		}
	}
	s.templates = kept
	for _, t := range templates {
		t.UID = uid
		s.templates = append(s.templates, t)
	}
	return nil
}

func (s *Sim) GetAttendance(_ context.Context) ([]device.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.attendanceErr != nil {
		return nil, s.attendanceErr
	}
	out := make([]device.AttendanceRecord, len(s.attendance))
	copy(out, s.attendance)
	return out, nil
}

func (s *Sim) EnableDevice(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	return nil
}

func (s *Sim) DisableDevice(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.enabled = false
	return nil
}

// ── state helpers (tests and dev seeding) ────────────────────────────────────

// Enroll adds a user and their templates directly, as if enrolled at
// the terminal keypad.  Returns the assigned UID.
func (s *Sim) Enroll(user device.User, payloads ...[]byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.UID = s.nextUID
	s.nextUID++
	s.users = append(s.users, user)
	for i, p := range payloads {
		s.templates = append(s.templates, device.Template{
			UID:     user.UID,
			Slot:    i,
			Valid:   true,
			Payload: p,
		})
	}
	return user.UID
}

// AppendAttendance adds punches for the polling path to pick up.
func (s *Sim) AppendAttendance(recs ...device.AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendance = append(s.attendance, recs...)
}

func (s *Sim) SetDialErr(err error)       { s.mu.Lock(); s.dialErr = err; s.mu.Unlock() }
func (s *Sim) SetAttendanceErr(err error) { s.mu.Lock(); s.attendanceErr = err; s.mu.Unlock() }

func (s *Sim) Users() []device.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.User, len(s.users))
	copy(out, s.users)
	return out
}

func (s *Sim) Templates() []device.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Template, len(s.templates))
	copy(out, s.templates)
	return out
}

// Connects reports how many sessions have been opened, so tests can
// tell a reconnected session apart from the original one.
func (s *Sim) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *Sim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
