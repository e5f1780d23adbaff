package scenario

import "fmt"

// ChannelError is returned when the scenario service cannot be reached or
// when its reply cannot be understood.
type ChannelError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("scenario channel %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ChannelError) Unwrap() error {
	return e.Err
}

// MaterializationError is returned when the scenario files cannot be copied
// locally or when the descriptor cannot be identified.
type MaterializationError struct {
	Source string
	Reason string
	Err    error
}

func (e *MaterializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("couldn't materialize %s: %s: %v", e.Source, e.Reason, e.Err)
	}

	return fmt.Sprintf("couldn't materialize %s: %s", e.Source, e.Reason)
}

// Unwrap returns the underlying error if any.
func (e *MaterializationError) Unwrap() error {
	return e.Err
}
