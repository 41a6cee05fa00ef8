package invoicecontrol

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a carrier invoice.
type Status string

const (
	StatusReceived    Status = "received"
	StatusUnderReview Status = "under_review"
	StatusValidated   Status = "validated"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusDisputed    Status = "disputed"
)

// Event drives a status change.
type Event string

const (
	EventControl  Event = "control"
	EventPass     Event = "pass"
	EventFlag     Event = "flag"
	EventValidate Event = "validate"
	EventApprove  Event = "approve"
	EventDispute  Event = "dispute"
	EventReject   Event = "reject"
	EventReopen   Event = "reopen"
)

// ErrInvalidTransition is returned for any (status, event) pair that is
// not in the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status]map[Event]Status{
	StatusReceived: {
		EventControl: StatusUnderReview,
		EventDispute: StatusDisputed,
		EventReject:  StatusRejected,
	},
	StatusUnderReview: {
		EventPass:     StatusValidated,
		EventFlag:     StatusUnderReview,
		EventValidate: StatusValidated,
		EventDispute:  StatusDisputed,
		EventReject:   StatusRejected,
	},
	StatusValidated: {
		EventApprove: StatusApproved,
		EventDispute: StatusDisputed,
		EventReject:  StatusRejected,
	},
	StatusDisputed: {
		EventReopen: StatusUnderReview,
		EventReject: StatusRejected,
	},
	StatusApproved: {},
	StatusRejected: {},
}

// Transition returns the status reached from s on ev.
func Transition(s Status, ev Event) (Status, error) {
	next, ok := transitions[s][ev]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
	}
	return next, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no event leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// PaymentAllowed reports whether an invoice in status s may be paid.
func PaymentAllowed(s Status) bool {
	return s == StatusValidated || s == StatusApproved
}
