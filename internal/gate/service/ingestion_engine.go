package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/gymforce"
	"github.com/gymgate/agent/internal/gate/types"
)

// AccessValidator answers allow/deny for one member.  Satisfied by
// *gymforce.Client; tests substitute a scripted implementation.
type AccessValidator interface {
	Validate(ctx context.Context, memberID string) (gymforce.Decision, error)
	RecordVisit(ctx context.Context, memberID string, at time.Time)
	Close()
}

// EngineConfig holds the tunables for NewIngestionEngine.
type EngineConfig struct {
	// PollInterval is the fetch cadence in poll mode.  Defaults to 5s.
	PollInterval time.Duration

	// RetryBackoff is the fixed wait between connection attempts.
	// Defaults to 5s.
	RetryBackoff time.Duration
}

// IngestionEngine owns the device session for its lifetime and turns
// terminal punches into validated attendance events.  It prefers the
// terminal's live stream and falls back to high-water-mark polling.
// Connection failures are retried forever; nothing here is fatal.
type IngestionEngine struct {
	dialer    device.Dialer
	validator AccessValidator
	cfg       EngineConfig
	logger    *zap.Logger

	mu    sync.Mutex
	state types.ConnState
	sess  device.Session

	// mark is the poll-mode high-water mark.  It survives reconnects
	// within the engine's lifetime so replayed device history is never
	// reprocessed.
	mark time.Time

	events chan types.AttendanceEvent
	status chan types.ConnState

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewIngestionEngine(dialer device.Dialer, validator AccessValidator, cfg EngineConfig, logger *zap.Logger) *IngestionEngine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	return &IngestionEngine{
		dialer:    dialer,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		state:     types.StateDisconnected,
		events:    make(chan types.AttendanceEvent, 64),
		status:    make(chan types.ConnState, 16),
		done:      make(chan struct{}),
	}
}

// Events delivers one AttendanceEvent per processed punch (plus the
// provisional "processing" emission).  Best-effort: slow consumers lose
// events rather than stalling the gate.
func (e *IngestionEngine) Events() <-chan types.AttendanceEvent { return e.events }

// StatusChanges delivers connection-state transitions.
func (e *IngestionEngine) StatusChanges() <-chan types.ConnState { return e.status }

// State returns the current connection state.
func (e *IngestionEngine) State() types.ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start launches the background worker.  Call Stop to shut down.
func (e *IngestionEngine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.loop(ctx)
}

// Stop terminates the retry loop, closes the device session (which
// unblocks a pending live-capture read and re-enables the terminal),
// waits for the worker, and releases the validation client.  Idempotent.
func (e *IngestionEngine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel == nil {
			return
		}
		e.cancel()
		e.closeSession()
		<-e.done
		e.validator.Close()
		e.setState(types.StateStopped)
	})
}

func (e *IngestionEngine) loop(ctx context.Context) {
	defer close(e.done)

	for {
		if ctx.Err() != nil {
			return
		}

		e.setState(types.StateConnecting)
		sess, err := e.dialer.Connect(ctx)
		if err != nil {
			e.setState(types.StateDisconnected)
			e.logger.Warn("device connect failed, retrying",
				zap.Duration("backoff", e.cfg.RetryBackoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.RetryBackoff):
			}
			continue
		}

		e.setSession(sess)
		if ctx.Err() != nil {
			// Stop ran between Connect returning and the session being
			// registered; it found nothing to close, so release the
			// session here instead of entering it.
			e.teardown(sess)
			return
		}

		// Take over decision-making for the session's lifetime.
		if err := sess.DisableDevice(ctx); err != nil {
			e.logger.Warn("disable device failed", zap.Error(err))
		}
		e.logger.Info("device connected")

		e.runSession(ctx, sess)
		e.teardown(sess)
	}
}

// runSession selects the delivery mode by capability and runs it until
// the session dies or the engine stops.
func (e *IngestionEngine) runSession(ctx context.Context, sess device.Session) {
	if lc, ok := sess.(device.LiveCapturer); ok {
		e.setState(types.StateConnectedRealtime)
		e.logger.Info("live capture started")
		e.runRealtime(ctx, lc)
		if ctx.Err() != nil {
			return
		}
		// Stream died but the session may still answer queries; fall back
		// to polling.  If the device is truly gone the first poll fails and
		// the reconnect loop takes over.
		e.logger.Warn("live capture ended, falling back to polling")
	}

	e.runPolling(ctx, sess)
}

func (e *IngestionEngine) runRealtime(ctx context.Context, lc device.LiveCapturer) {
	for rec := range lc.LiveCapture() {
		if ctx.Err() != nil {
			return
		}
		e.processEvent(ctx, rec)
	}
}

func (e *IngestionEngine) runPolling(ctx context.Context, sess device.Session) {
	if err := e.initMark(ctx, sess); err != nil {
		e.logger.Warn("poll initialization failed, reconnecting", zap.Error(err))
		return
	}
	// Only advertise poll mode once the high-water mark is seeded;
	// records appended after this point are guaranteed to be picked up.
	e.setState(types.StateConnectedPolling)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.pollOnce(ctx, sess); err != nil {
				e.logger.Warn("poll failed, reconnecting", zap.Error(err))
				return
			}
		}
	}
}

// initMark seeds the high-water mark from the newest record already on
// the device, so history present before the engine started is never
// replayed.  No-op when a mark from an earlier session exists.
func (e *IngestionEngine) initMark(ctx context.Context, sess device.Session) error {
	if !e.mark.IsZero() {
		return nil
	}

	records, err := sess.GetAttendance(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		e.mark = time.Now()
		return nil
	}

	latest := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	e.mark = latest
	e.logger.Info("polling from high-water mark", zap.Time("mark", e.mark))
	return nil
}

// pollOnce fetches the attendance log, keeps records strictly newer
// than the mark, and processes them oldest first, advancing the mark
// per record.  Re-polling with no new records processes nothing.
func (e *IngestionEngine) pollOnce(ctx context.Context, sess device.Session) error {
	records, err := sess.GetAttendance(ctx)
	if err != nil {
		return err
	}

	var fresh []device.AttendanceRecord
	for _, r := range records {
		if r.Timestamp.After(e.mark) {
			fresh = append(fresh, r)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].Timestamp.Before(fresh[j].Timestamp)
	})

	for _, r := range fresh {
		e.processEvent(ctx, r)
		e.mark = r.Timestamp
	}
	return nil
}

// processEvent emits a provisional event, validates synchronously, and
// emits the decision.  A validator hard failure leaves the event at
// "processing"; it is logged but not retried at this layer.
func (e *IngestionEngine) processEvent(ctx context.Context, rec device.AttendanceRecord) {
	userID := strings.TrimSpace(rec.UserID)

	ev := types.AttendanceEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Timestamp: rec.Timestamp,
		Status:    types.StatusProcessing,
	}
	e.emit(ev)
	e.logger.Info("processing attendance",
		zap.String("user_id", userID), zap.Time("at", rec.Timestamp))

	dec, err := e.validator.Validate(ctx, userID)
	if err != nil {
		e.logger.Warn("validation did not complete",
			zap.String("user_id", userID), zap.Error(err))
		return
	}

	if dec.Allowed {
		ev.Status = types.StatusAllowed
		e.validator.RecordVisit(ctx, userID, rec.Timestamp)
	} else {
		ev.Status = types.StatusDenied
	}
	ev.Reason = dec.Reason
	e.emit(ev)

	e.logger.Info("access decided",
		zap.String("user_id", userID),
		zap.String("status", string(ev.Status)),
		zap.String("reason", ev.Reason))
}

func (e *IngestionEngine) emit(ev types.AttendanceEvent) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *IngestionEngine) setState(s types.ConnState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	select {
	case e.status <- s:
	default:
	}
}

func (e *IngestionEngine) setSession(sess device.Session) {
	e.mu.Lock()
	e.sess = sess
	e.mu.Unlock()
}

func (e *IngestionEngine) closeSession() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// teardown hands the terminal back to standalone operation and drops
// the session.  Runs on a fresh context: the loop context is usually
// already cancelled by the time we get here.
func (e *IngestionEngine) teardown(sess device.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.EnableDevice(ctx); err != nil {
		e.logger.Warn("re-enable device failed", zap.Error(err))
	}
	_ = sess.Close()

	e.mu.Lock()
	e.sess = nil
	e.mu.Unlock()
	e.setState(types.StateDisconnected)
	e.logger.Info("device disconnected")
}
