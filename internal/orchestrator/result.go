package orchestrator

import (
	"maps"

	"github.com/Amund211/tickerlight/internal/domain"
)

// ErrorDetail describes why an item did not produce a value
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	err error
}

func newErrorDetail(err error) *ErrorDetail {
	return &ErrorDetail{
		Kind:    domain.ErrorKind(err),
		Message: err.Error(),
		err:     err,
	}
}

func (d *ErrorDetail) Unwrap() error {
	return d.err
}

func (d *ErrorDetail) Error() string {
	return d.Message
}

type ItemState struct {
	Status   domain.FetchStatus `json:"status"`
	Required bool               `json:"required"`
	Value    any                `json:"value,omitempty"`
	Error    *ErrorDetail       `json:"error,omitempty"`
}

// Snapshot is a copy of the observable state of the current run
type Snapshot struct {
	Generation uint64               `json:"generation"`
	SubjectKey string               `json:"subjectKey"`
	Items      map[string]ItemState `json:"items"`
}

func (s Snapshot) clone() Snapshot {
	s.Items = maps.Clone(s.Items)
	return s
}

// Settled reports whether every item has reached a terminal status
func (s Snapshot) Settled() bool {
	for _, item := range s.Items {
		if !item.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AggregateResult is the outcome of a completed run
type AggregateResult struct {
	Generation uint64
	SubjectKey string
	Items      map[string]ItemState
}

// Value returns the value of an item converted to T
func Value[T any](result AggregateResult, name string) (T, bool) {
	var empty T
	item, ok := result.Items[name]
	if !ok || item.Value == nil {
		return empty, false
	}
	value, ok := item.Value.(T)
	return value, ok
}

// Errors returns the error detail of every failed item
func (r AggregateResult) Errors() map[string]*ErrorDetail {
	errs := make(map[string]*ErrorDetail)
	for name, item := range r.Items {
		if item.Error != nil {
			errs[name] = item.Error
		}
	}
	return errs
}
