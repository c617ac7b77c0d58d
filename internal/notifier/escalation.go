package notifier

import (
	"context"
	"fmt"

	"grievd/internal/domain"
	"grievd/internal/policy"
	logx "grievd/pkg/logx"
)

// Complaints looks up the latest known complaint snapshot.
type Complaints interface {
	Complaint(id string) (domain.Complaint, bool)
}

const metaRequestedBy = "requested_by"

// Escalator handles the operator "emergency call" action.
type Escalator struct {
	complaints Complaints
	engine     *policy.Engine
	disp       *Dispatcher
	log        logx.Logger
}

func NewEscalator(complaints Complaints, engine *policy.Engine, disp *Dispatcher, log logx.Logger) *Escalator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Escalator{complaints: complaints, engine: engine, disp: disp, log: log.With(logx.String("comp", "escalation"))}
}

// Escalate places an emergency call for the complaint and waits for the
// outcome. An unknown complaint is domain.ErrNotFound; a complaint that is
// not urgent or has no number is domain.ErrValidation and nothing is logged.
func (e *Escalator) Escalate(ctx context.Context, complaintID, actorID string) (domain.Outcome, error) {
	c, ok := e.complaints.Complaint(complaintID)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: complaint %s", domain.ErrNotFound, complaintID)
	}
	dec, err := e.engine.Escalate(c)
	if err != nil {
		e.log.Info("escalation refused", logx.String("complaint", complaintID), logx.String("actor", actorID), logx.Err(err))
		return domain.Outcome{}, err
	}
	if actorID != "" {
		dec.Metadata[metaRequestedBy] = actorID
	}
	out := e.disp.Execute(ctx, []domain.Decision{dec})[0]
	e.log.Info("escalation executed",
		logx.String("complaint", complaintID),
		logx.String("actor", actorID),
		logx.String("attempt", out.AttemptID),
		logx.String("status", string(out.Status)),
	)
	return out, nil
}
