package flow

import (
	"errors"

	"github.com/google/uuid"

	"github.com/filefortress/filefortress/internal/auth"
)

// submission remembers the idempotency key of a request whose outcome is
// unknown. Resubmitting the same input after a network failure reuses the
// key; any server answer or different input mints a new one.
type submission[T comparable] struct {
	key     string
	input   T
	pending bool
}

func (s *submission[T]) keyFor(input T) string {
	if s.pending && s.input == input {
		return s.key
	}
	s.key, s.input, s.pending = uuid.NewString(), input, false
	return s.key
}

func (s *submission[T]) settle(err error) {
	var ae *auth.Error
	s.pending = errors.As(err, &ae) && ae.Network()
}
