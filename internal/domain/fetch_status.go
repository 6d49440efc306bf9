package domain

type FetchStatus int

const (
	FetchStatusPending FetchStatus = iota
	FetchStatusLoading
	FetchStatusSuccess
	FetchStatusEmpty
	FetchStatusError
)

func (s FetchStatus) String() string {
	switch s {
	case FetchStatusPending:
		return "pending"
	case FetchStatusLoading:
		return "loading"
	case FetchStatusSuccess:
		return "success"
	case FetchStatusEmpty:
		return "empty"
	case FetchStatusError:
		return "error"
	}
	return "unknown"
}

func (s FetchStatus) IsTerminal() bool {
	return s == FetchStatusSuccess || s == FetchStatusEmpty || s == FetchStatusError
}

// CanTransitionTo reports whether an item may move from s to next within one run.
// Statuses only move forward and terminal statuses are final.
func (s FetchStatus) CanTransitionTo(next FetchStatus) bool {
	switch s {
	case FetchStatusPending:
		return next == FetchStatusLoading || next.IsTerminal()
	case FetchStatusLoading:
		return next.IsTerminal()
	}
	return false
}

func (s FetchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
