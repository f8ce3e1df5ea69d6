package call

import (
	"sync"

	"mentorcall/internal/media"
	"mentorcall/internal/signal"
)

// mediaLease enforces exclusive ownership of the local capture devices. One
// owner key holds the hardware at a time; all pairwise legs of a group room
// share one owner (signal.CallKey.MediaOwnerKey) and therefore one stream,
// refcounted so the devices are released exactly once when the last leg ends.
type mediaLease struct {
	source media.Source

	mu     sync.Mutex
	owner  string
	refs   int
	stream *media.Stream
}

func newMediaLease(source media.Source) *mediaLease {
	return &mediaLease{source: source}
}

func (l *mediaLease) acquire(key signal.CallKey, wantVideo bool) (*media.Stream, error) {
	owner := key.MediaOwnerKey()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs > 0 {
		if l.owner != owner {
			return nil, ErrMediaBusy
		}
		l.refs++
		return l.stream, nil
	}

	stream, err := l.source.Capture(wantVideo)
	if err != nil {
		return nil, err
	}
	l.owner = owner
	l.refs = 1
	l.stream = stream
	return stream, nil
}

// release drops one lease for key. The stream is closed when the last lease
// goes; releasing a key that holds nothing is a no-op.
func (l *mediaLease) release(key signal.CallKey) {
	owner := key.MediaOwnerKey()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 || l.owner != owner {
		return
	}
	l.refs--
	if l.refs > 0 {
		return
	}
	stream := l.stream
	l.owner = ""
	l.stream = nil
	if stream != nil {
		stream.Close()
	}
}
