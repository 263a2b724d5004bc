package model

import "errors"

var (
	ErrIO               = errors.New("io error")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrLockContended    = errors.New("lock contended")
	ErrConfigInvalid    = errors.New("config invalid")
	ErrUnsupported      = errors.New("unsupported")
	ErrTransferFailed   = errors.New("transfer failed")
)

// Exit codes reported by the command line tools.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitCancelled = 2
)

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrLockContended):
		return ExitCancelled
	default:
		return ExitError
	}
}

// Outcome renders err as the single token used in status lines and the journal.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLockContended):
		return "cancelled"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "io_error"
	}
}
