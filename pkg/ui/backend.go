package ui

import (
	"context"
	"sync"

	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

// Backend is the server side of a viewer: either a grid in this process or a
// row sync connection. Errors from requests arrive as error messages.
type Backend interface {
	Messages() <-chan rowsync.Message
	RequestRows(first, count int) error
	SetExpanded(key string, expanded bool) error
	Columns() (string, string)
	Close() error
}

// Restorer is implemented by sessions whose expansion state can be saved and
// restored by payload id. A string grid satisfies it.
type Restorer interface {
	ExpandedItems() []string
	ExpandItems(ctx context.Context, items []string) (int, error)
}

type columner interface {
	Columns() (string, string)
}

// LocalBackend runs a session in process. Commands are queued without bound
// so the session never blocks on a slow UI.
type LocalBackend struct {
	session rowsync.Session
	ctx     context.Context
	cancel  context.CancelFunc
	out     chan rowsync.Message

	mu     sync.Mutex
	queue  []rowsync.Message
	closed bool // guarded by mu; no wg.Add after it is set
	signal chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLocalBackend builds a session with newSession and starts it: the top
// level is fetched, restore (if any) is expanded, then the first window is
// sent.
func NewLocalBackend(ctx context.Context, newSession rowsync.SessionFactory, restore []string) *LocalBackend {
	ctx, cancel := context.WithCancel(ctx)
	b := &LocalBackend{
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan rowsync.Message),
		signal: make(chan struct{}, 1),
	}
	b.session = newSession(rowsync.Emitter(b.push))

	b.wg.Add(2)
	go b.pump()
	go func() {
		defer b.wg.Done()
		b.start(restore)
	}()
	return b
}

func (b *LocalBackend) start(restore []string) {
	if err := b.session.Initialize(b.ctx); err != nil {
		b.push(rowsync.ErrorMessage(err))
		return
	}
	if r, ok := b.session.(Restorer); ok && len(restore) > 0 {
		if _, err := r.ExpandItems(b.ctx, restore); err != nil {
			b.push(rowsync.ErrorMessage(err))
		}
	}
	if err := b.session.SendInitial(); err != nil {
		b.push(rowsync.ErrorMessage(err))
	}
}

// Session returns the session driven by this backend.
func (b *LocalBackend) Session() rowsync.Session {
	return b.session
}

func (b *LocalBackend) push(m rowsync.Message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *LocalBackend) pump() {
	defer b.wg.Done()
	defer close(b.out)
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, m := range batch {
			select {
			case b.out <- m:
			case <-b.ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-b.signal:
		case <-b.ctx.Done():
			return
		}
	}
}

// Messages delivers session commands until Close.
func (b *LocalBackend) Messages() <-chan rowsync.Message {
	return b.out
}

// RequestRows asks for a window.
func (b *LocalBackend) RequestRows(first, count int) error {
	if err := b.session.RequestRows(first, count); err != nil {
		b.push(rowsync.ErrorMessage(err))
	}
	return nil
}

// SetExpanded toggles key in the background; the deltas arrive on Messages.
func (b *LocalBackend) SetExpanded(key string, expanded bool) error {
	b.mu.Lock()
	if b.closed || b.ctx.Err() != nil {
		b.mu.Unlock()
		return rowsync.ErrClosed
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		if err := b.session.SetExpanded(b.ctx, key, expanded); err != nil && b.ctx.Err() == nil {
			b.push(rowsync.ErrorMessage(err))
		}
	}()
	return nil
}

// Columns returns the session's column headers.
func (b *LocalBackend) Columns() (string, string) {
	if c, ok := b.session.(columner); ok {
		return c.Columns()
	}
	return "Name", ""
}

// ExpandedItems returns the expanded payload ids when the session supports
// it.
func (b *LocalBackend) ExpandedItems() []string {
	if r, ok := b.session.(Restorer); ok {
		return r.ExpandedItems()
	}
	return nil
}

// Close cancels pending toggles and waits for them.
func (b *LocalBackend) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.cancel()
		b.wg.Wait()
	})
	return nil
}

// RemoteBackend is a viewer attached to a treegrid server.
type RemoteBackend struct {
	client             *rowsync.Client
	primary, secondary string
}

// NewRemoteBackend wraps a connected client. The protocol does not carry
// column headers, so they are supplied here.
func NewRemoteBackend(client *rowsync.Client, primary, secondary string) *RemoteBackend {
	return &RemoteBackend{client: client, primary: primary, secondary: secondary}
}

func (r *RemoteBackend) Messages() <-chan rowsync.Message   { return r.client.Messages() }
func (r *RemoteBackend) RequestRows(first, count int) error { return r.client.RequestRows(first, count) }
func (r *RemoteBackend) Columns() (string, string)          { return r.primary, r.secondary }
func (r *RemoteBackend) Close() error                       { return r.client.Close() }

func (r *RemoteBackend) SetExpanded(key string, expanded bool) error {
	return r.client.SetExpanded(key, expanded)
}

// Err reports why the connection ended.
func (r *RemoteBackend) Err() error {
	return r.client.Err()
}
