package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fitsedit.bridge")

var (
	// ErrRequestTimeout is returned when a panel does not answer in time.
	ErrRequestTimeout = fmt.Errorf("request timed out")

	// ErrClosed is returned for requests outstanding when the bridge closes.
	ErrClosed = fmt.Errorf("bridge closed")
)

type result struct {
	body json.RawMessage
	err  error
}

// Bridge correlates requests sent to panels with their responses. One
// Bridge serves all panels of a provider; ids are unique across them.
type Bridge struct {
	timeout time.Duration

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan result
	closed  bool
}

// New creates a Bridge. A timeout of zero means requests wait until their
// context is done.
func New(timeout time.Duration) *Bridge {
	return &Bridge{
		timeout: timeout,
		pending: make(map[int64]chan result),
	}
}

// Notify sends a fire-and-forget message.
func (b *Bridge) Notify(p Poster, typ string, body any) error {
	raw, err := marshalBody(body)
	if err != nil {
		return err
	}
	return p.PostMessage(Message{Type: typ, Body: raw})
}

// Request sends a correlated request and waits for the matching response.
// The pending entry is always removed before Request returns.
func (b *Bridge) Request(ctx context.Context, p Poster, typ string, body any) (json.RawMessage, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	id := b.nextID
	ch := make(chan result, 1)
	b.pending[id] = ch
	b.mu.Unlock()
	defer b.forget(id)

	if err := p.PostMessage(Message{Type: typ, RequestID: &id, Body: raw}); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", typ, err)
	}

	var timeout <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		return res.body, res.err
	case <-timeout:
		log.Warningf("%s request %d timed out after %s", typ, id, b.timeout)
		return nil, fmt.Errorf("%w: %s request %d", ErrRequestTimeout, typ, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) forget(id int64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Resolve delivers a response to its pending request. It reports false when
// nothing is waiting for the id, such as a duplicate or late response.
func (b *Bridge) Resolve(msg Message) bool {
	if msg.RequestID == nil {
		return false
	}

	b.mu.Lock()
	ch, ok := b.pending[*msg.RequestID]
	delete(b.pending, *msg.RequestID)
	b.mu.Unlock()

	if !ok {
		log.Debugf("dropping response for unknown request %d", *msg.RequestID)
		return false
	}
	ch <- result{body: msg.Body}
	return true
}

// Pending returns the number of outstanding requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close fails every outstanding request and rejects new ones.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.pending {
		ch <- result{err: ErrClosed}
		delete(b.pending, id)
	}
}

func marshalBody(body any) (json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message body: %w", err)
	}
	return raw, nil
}
