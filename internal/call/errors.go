package call

import "errors"

var (
	// ErrCallKeyBusy means a non-terminal session already holds the call key.
	ErrCallKeyBusy = errors.New("call session already active for call key")

	// ErrInvalidState means the operation is not legal in the session's
	// current state, e.g. accepting a call that is not ringing.
	ErrInvalidState = errors.New("operation not legal in current call state")

	// ErrMediaBusy means the local devices are leased to a different call
	// context. The operation is refused; the device is never stolen.
	ErrMediaBusy = errors.New("local media owned by another call")

	// ErrNoSession means no active session exists for the call key.
	ErrNoSession = errors.New("no active call session for call key")

	// ErrNegotiation wraps description or candidate failures from the
	// underlying peer connection.
	ErrNegotiation = errors.New("negotiation failure")
)
