package types

import (
	"errors"

	"github.com/amil1105/tombala-sub000/internal/engine"
)

// Reason is the stable wire code for a rejected intent.
type Reason string

const (
	ReasonForbidden         Reason = "forbidden"
	ReasonInvalidState      Reason = "invalid_state"
	ReasonAlreadyClaimed    Reason = "already_claimed"
	ReasonExhausted         Reason = "exhausted"
	ReasonClaimNotSatisfied Reason = "claim_not_satisfied"
	ReasonUnknownPlayer     Reason = "unknown_player"
	ReasonInvalidSettings   Reason = "invalid_settings"
	ReasonBadRequest        Reason = "bad_request"
	ReasonInternal          Reason = "internal"
)

var reasonErrors = map[Reason]error{
	ReasonForbidden:         engine.ErrForbidden,
	ReasonInvalidState:      engine.ErrInvalidState,
	ReasonAlreadyClaimed:    engine.ErrAlreadyClaimed,
	ReasonExhausted:         engine.ErrExhausted,
	ReasonClaimNotSatisfied: engine.ErrClaimNotSatisfied,
	ReasonUnknownPlayer:     engine.ErrUnknownPlayer,
	ReasonInvalidSettings:   engine.ErrInvalidSettings,
	ReasonBadRequest:        ErrBadMessage,
}

// ReasonOf maps an authority error to its wire code.
func ReasonOf(err error) Reason {
	for _, r := range []Reason{
		ReasonForbidden, ReasonInvalidState, ReasonAlreadyClaimed, ReasonExhausted,
		ReasonClaimNotSatisfied, ReasonUnknownPlayer, ReasonInvalidSettings, ReasonBadRequest,
	} {
		if errors.Is(err, reasonErrors[r]) {
			return r
		}
	}
	if errors.Is(err, engine.ErrUnsupportedCommand) {
		return ReasonBadRequest
	}
	return ReasonInternal
}

// Err maps a wire code back to the sentinel clients can test with errors.Is.
func (r Reason) Err() error {
	if err, ok := reasonErrors[r]; ok {
		return err
	}
	return errors.New(string(r))
}
