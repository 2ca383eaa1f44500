package verify

import (
	"context"
	"errors"

	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/eeg/preprocess"
	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/prototype"
)

// Sentinel errors raised by the engine itself.
var (
	// ErrNumeric is returned when an embedding or score goes non-finite.
	ErrNumeric = errors.New("verify: numeric")

	// ErrModelNotLoaded is returned when the engine is invoked before a
	// bundle has been loaded.
	ErrModelNotLoaded = errors.New("verify: model not loaded")
)

// Kind categorizes a verification failure. Kinds are recorded in the
// attribution artifact and internal logs; the external interface maps
// every failure to a uniform reject so callers cannot distinguish
// "no such user" from "bad signal".
type Kind string

const (
	KindNone           Kind = ""
	KindInputFormat    Kind = "input_format"
	KindEmptyTrial     Kind = "empty_trial"
	KindProbeTooShort  Kind = "probe_too_short"
	KindFilter         Kind = "filter"
	KindNumeric        Kind = "numeric"
	KindUnknownUser    Kind = "unknown_user"
	KindModelNotLoaded Kind = "model_not_loaded"
	KindTimeout        Kind = "timeout"
)

// KindOf maps an error to its failure kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, eeg.ErrInputFormat):
		return KindInputFormat
	case errors.Is(err, eeg.ErrEmptyTrial):
		return KindEmptyTrial
	case errors.Is(err, window.ErrTooShort):
		return KindProbeTooShort
	case errors.Is(err, preprocess.ErrFilter):
		return KindFilter
	case errors.Is(err, prototype.ErrUnknownUser):
		return KindUnknownUser
	case errors.Is(err, ErrNumeric):
		return KindNumeric
	case errors.Is(err, ErrModelNotLoaded):
		return KindModelNotLoaded
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	default:
		return KindNumeric
	}
}
