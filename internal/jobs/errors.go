package jobs

// notFoundError is permanent so the store retry wrapper gives up at once.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string   { return e.msg }
func (e *notFoundError) Permanent() bool { return true }

var (
	ErrRobotNotFound       error = &notFoundError{"robot not found"}
	ErrJobNotFound         error = &notFoundError{"job not found"}
	ErrNoActiveJobs        error = &notFoundError{"no active jobs"}
	ErrJobPalletNotFound   error = &notFoundError{"job pallet not found"}
	ErrBoxPositionNotFound error = &notFoundError{"box position not found"}
)

// ValidationError rejects a request because it references something that
// does not exist or is inconsistent. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Permanent() bool { return true }

func invalid(msg string) error { return &ValidationError{Msg: msg} }
