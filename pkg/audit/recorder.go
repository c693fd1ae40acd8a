package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder emits the events of one login attempt. Sink errors are logged and
// swallowed. A nil *Recorder records nothing.
type Recorder struct {
	sink         Sink
	log          *zap.SugaredLogger
	attemptID    string
	actor        Actor
	organization string
	team         string
}

// NewRecorder returns a recorder writing to sink. A nil sink disables
// recording.
func NewRecorder(sink Sink, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Recorder{sink: sink, log: log}
}

// Begin returns a recorder scoped to a new attempt with its own attempt ID.
func (r *Recorder) Begin(actor Actor, organization, team string) *Recorder {
	if r == nil {
		return nil
	}
	return &Recorder{
		sink:         r.sink,
		log:          r.log,
		attemptID:    uuid.NewString(),
		actor:        actor,
		organization: organization,
		team:         team,
	}
}

// AttemptID is empty for recorders not created by Begin.
func (r *Recorder) AttemptID() string {
	if r == nil {
		return ""
	}
	return r.attemptID
}

// SetRemoteLogin attaches the verified GitHub login to subsequent events.
func (r *Recorder) SetRemoteLogin(login string) {
	if r == nil {
		return
	}
	r.actor.RemoteLogin = login
}

// Record emits an event of type t.
func (r *Recorder) Record(ctx context.Context, t EventType, message string, details map[string]interface{}) {
	r.emit(ctx, t, "", message, details)
}

// Finish emits the terminal event of the attempt carrying its outcome.
func (r *Recorder) Finish(ctx context.Context, t EventType, outcome, message string) {
	r.emit(ctx, t, outcome, message, nil)
}

func (r *Recorder) emit(ctx context.Context, t EventType, outcome, message string, details map[string]interface{}) {
	if r == nil || r.sink == nil {
		return
	}
	event := NewEvent(t, r.attemptID, r.actor)
	event.Organization = r.organization
	event.Team = r.team
	event.Outcome = outcome
	event.Message = message
	event.Details = details
	if err := r.sink.Write(ctx, event); err != nil {
		r.log.Warnw("Failed to record audit event", "sink", r.sink.Name(), "event_type", t, "error", err)
	}
}

// Close closes the underlying sink.
func (r *Recorder) Close() {
	if r == nil || r.sink == nil {
		return
	}
	if err := r.sink.Close(); err != nil {
		r.log.Warnw("Failed to close audit sink", "sink", r.sink.Name(), "error", err)
	}
}
