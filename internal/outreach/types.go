package outreach

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/models"
)

// Sentinel errors for client-correctable validation failures.
var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrRequestNotFound = errors.New("outreach request not found")
	ErrMissingToken    = errors.New("capability token is required")
	ErrInvalidAmount   = errors.New("accept amount must be positive")
	ErrUnknownAction   = errors.New("unknown respond action")
	ErrNoLocale        = errors.New("no event locale resolvable")

	// ErrAlreadyInProgress signals that a booking already has an ACCEPTED
	// or open SENT request; begin is an idempotent no-op then.
	ErrAlreadyInProgress = errors.New("outreach already in progress")

	// ErrNotApplicable is the neutral stale-precondition outcome: wrong
	// token, wrong state, or a lost race all surface identically.
	ErrNotApplicable = errors.New("request is not in a respondable state")
)

// Mode selects how candidates are chosen for an outreach round.
type Mode string

const (
	// ModeAuto ranks candidates from the supplier directory.
	ModeAuto Mode = "auto"
	// ModeManual contacts exactly the caller-selected supplier.
	ModeManual Mode = "manual"
)

// BeginStatus is the caller-visible outcome of starting outreach.
type BeginStatus string

const (
	BeginStatusStarted           BeginStatus = "outreach_started"
	BeginStatusAlreadyInProgress BeginStatus = "already_in_progress"
	BeginStatusNoCandidates      BeginStatus = "no_candidates"
)

// BeginOutreachRequest carries the inputs for starting an outreach round.
type BeginOutreachRequest struct {
	BookingID          uuid.UUID
	EventLocale        string
	TTL                *time.Duration // nil means the configured default
	Mode               Mode
	SelectedSupplierID *uuid.UUID // required for ModeManual
}

// SideEffectFailure records a best-effort side effect that did not succeed.
// The core transition it accompanied still committed.
type SideEffectFailure struct {
	RequestID uuid.UUID `json:"request_id"`
	Op        string    `json:"op"`
	Err       string    `json:"error"`
}

// BeginOutreachResult separates the core outcome from side-effect outcomes
// so callers and tests can assert the ledger guarantee independently.
type BeginOutreachResult struct {
	Status      BeginStatus
	Requests    []models.OutreachRequest
	SideEffects []SideEffectFailure
}

// Action is a candidate's reply to an outreach request.
type Action string

const (
	ActionAccept  Action = "ACCEPT"
	ActionDecline Action = "DECLINE"
)

// RespondOutcome is the caller-visible result of a respond call.
type RespondOutcome string

const (
	OutcomeAccepted RespondOutcome = "accepted"
	OutcomeDeclined RespondOutcome = "declined"
	// OutcomeNotApplicable covers every stale precondition uniformly.
	OutcomeNotApplicable RespondOutcome = "not_applicable"
)

// RespondResult is the outcome of a candidate response.
type RespondResult struct {
	Outcome RespondOutcome
	Request *models.OutreachRequest // post-transition row when Outcome is not not_applicable
}

// SweepStats summarizes one sweeper run.
type SweepStats struct {
	Nudged    int
	Expired   int
	Escalated int
	Exhausted int
}
