// Package device defines the capability interface for the biometric
// turnstile terminal.  The vendor wire protocol lives behind Dialer and
// Session; any implementation — including the simulator in the sim
// subpackage — is substitutable.
package device

import (
	"context"
	"time"
)

// User is an identity enrolled on the terminal.  UID is the terminal's
// internal identifier; UserID is the external member key shared with the
// membership registry and the remote authorization service.
type User struct {
	UID       int
	UserID    string
	Name      string
	Privilege int
	Password  string
	GroupID   string
	Card      int
}

// Template is one biometric payload (face or fingerprint) attached to a
// terminal identity.  Slot distinguishes multiple templates per user.
type Template struct {
	UID     int
	Slot    int
	Valid   bool
	Payload []byte
	Mark    string
}

// AttendanceRecord is one punch reported by the terminal, stamped with
// the device clock.
type AttendanceRecord struct {
	UserID    string
	Timestamp time.Time
}

// Session is a live connection to a terminal.  Calls rely on the
// driver's own timeouts; callers do not layer additional deadlines on
// top.  A Session must not be shared across goroutines.
type Session interface {
	GetUsers(ctx context.Context) ([]User, error)
	GetTemplates(ctx context.Context) ([]Template, error)
	DeleteUser(ctx context.Context, uid int) error
	SaveUserTemplate(ctx context.Context, user User, templates []Template) error
	GetAttendance(ctx context.Context) ([]AttendanceRecord, error)

	// EnableDevice resumes normal standalone operation; DisableDevice
	// hands decision-making to the agent for the session's lifetime.
	EnableDevice(ctx context.Context) error
	DisableDevice(ctx context.Context) error

	// Close tears the connection down.  Closing is the only way to
	// unblock a pending LiveCapture read.
	Close() error
}

// LiveCapturer is implemented by sessions that can push attendance
// records as they happen.  The returned channel is closed when the
// stream ends, whether by error or by Close.
type LiveCapturer interface {
	LiveCapture() <-chan AttendanceRecord
}

// Dialer opens sessions to a terminal.
type Dialer interface {
	Connect(ctx context.Context) (Session, error)
}
