package receiver

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/compostwatch/compostwatch/pkg/reportrpc"
	"github.com/compostwatch/compostwatch/pkg/types"
	"github.com/compostwatch/compostwatch/server/internal/store"
)

// Evaluator is notified of every accepted envelope (the alert engine).
type Evaluator interface {
	Evaluate(env *types.ReportEnvelope)
}

// Recorder persists accepted envelopes (the history writer).
type Recorder interface {
	Record(env *types.ReportEnvelope)
}

// Receiver implements reportrpc.ReportServiceServer.
type Receiver struct {
	store    *store.Store
	alerts   Evaluator
	recorder Recorder
	now      func() time.Time
}

var _ reportrpc.ReportServiceServer = (*Receiver)(nil)

// New creates a Receiver that writes accepted envelopes to st. alerts and
// recorder may be nil.
func New(st *store.Store, alerts Evaluator, recorder Recorder) *Receiver {
	return &Receiver{store: st, alerts: alerts, recorder: recorder, now: time.Now}
}

// SendReport is called by compostwatch-agent instances after every pile
// evaluation. Authentication happens in the server interceptor.
func (r *Receiver) SendReport(_ context.Context, env *types.ReportEnvelope) (*reportrpc.SendReportResponse, error) {
	if env.PileID == "" {
		return nil, status.Error(codes.InvalidArgument, "pile_id is required")
	}
	if env.Error == "" && env.Report.Phase == "" {
		return nil, status.Error(codes.InvalidArgument, "report has no phase and no error")
	}
	if env.GeneratedAt.IsZero() {
		env.GeneratedAt = r.now().UTC()
	}

	r.store.Put(env)
	if r.alerts != nil {
		r.alerts.Evaluate(env)
	}
	if r.recorder != nil {
		r.recorder.Record(env)
	}

	if env.Error != "" {
		slog.Warn("receiver: pile evaluation failed on agent", "pile", env.PileID, "err", env.Error)
	} else {
		slog.Debug("receiver: report stored",
			"pile", env.PileID,
			"phase", env.Report.Phase,
			"days_remaining", env.Report.EstimatedDaysRemaining,
			"transitions", len(env.Transitions),
		)
	}

	return &reportrpc.SendReportResponse{OK: true}, nil
}
