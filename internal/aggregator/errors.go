package aggregator

import (
	"errors"
	"fmt"
)

var (
	// ErrLookupFailed marks a failed or malformed oracle response.
	ErrLookupFailed = errors.New("aggregator: lookup failed")
	// ErrUnclassifiedToken marks a token that is neither ShortTail nor LongTail.
	ErrUnclassifiedToken = errors.New("aggregator: unclassified token")
	// ErrDuplicateSwap marks redelivery of a swap that is already persisted.
	ErrDuplicateSwap = errors.New("aggregator: duplicate swap")
	// ErrStore marks a failure of the entity store.
	ErrStore = errors.New("aggregator: store failure")
)

// EventError identifies the event that was rejected and why. Nothing staged
// for the event may be committed once an EventError is returned.
type EventError struct {
	EventID string
	Op      string
	Err     error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.EventID, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func lookupErr(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, ErrLookupFailed, err)
}

func storeErr(err error) error {
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}
