// Package webviewtest provides an in-process Panel for tests.
package webviewtest

import (
	"fmt"
	"sync"

	"fitsedit/internal/bridge"
	"fitsedit/internal/event"
)

// Panel records everything the host posts and lets a test play the page.
type Panel struct {
	id string

	mu       sync.Mutex
	html     string
	posted   []bridge.Message
	disposed bool

	// OnPost, when set, is called synchronously for every posted message.
	OnPost func(p *Panel, msg bridge.Message)

	onMessage   event.Emitter[bridge.Message]
	onDispose   event.Emitter[struct{}]
	disposeOnce sync.Once
}

func New(id string) *Panel {
	return &Panel{id: id}
}

func (p *Panel) ID() string { return p.id }

func (p *Panel) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

func (p *Panel) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html
}

func (p *Panel) PostMessage(msg bridge.Message) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return fmt.Errorf("panel %s disposed", p.id)
	}
	p.posted = append(p.posted, msg)
	hook := p.OnPost
	p.mu.Unlock()

	if hook != nil {
		hook(p, msg)
	}
	return nil
}

// Posted returns the messages posted so far.
func (p *Panel) Posted() []bridge.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.Message{}, p.posted...)
}

// Last returns the most recent message of type typ.
func (p *Panel) Last(typ string) (bridge.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.posted) - 1; i >= 0; i-- {
		if p.posted[i].Type == typ {
			return p.posted[i], true
		}
	}
	return bridge.Message{}, false
}

// Send delivers msg as if the page had sent it.
func (p *Panel) Send(msg bridge.Message) {
	p.onMessage.Fire(msg)
}

func (p *Panel) OnDidReceiveMessage(fn func(bridge.Message)) func() {
	return p.onMessage.Subscribe(fn)
}

func (p *Panel) OnDidDispose(fn func()) func() {
	return p.onDispose.Subscribe(func(struct{}) { fn() })
}

func (p *Panel) Dispose() {
	p.disposeOnce.Do(func() {
		p.mu.Lock()
		p.disposed = true
		p.mu.Unlock()
		p.onDispose.Fire(struct{}{})
	})
}
