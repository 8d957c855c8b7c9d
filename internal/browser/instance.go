package browser

import (
	"context"
	"sync"
)

// Instance is one automated Chrome tab. Its context carries the chromedp
// target; every action against the tab must derive from Context().
type Instance struct {
	ID string
	// DevToolsURL is the browser-level CDP endpoint, empty for locally
	// spawned browsers.
	DevToolsURL string
	ContainerID string

	ctx       context.Context
	cancels   []context.CancelFunc
	release   func() error
	closeOnce sync.Once
	closeErr  error
}

func newInstance(ctx context.Context, id string, cancels ...context.CancelFunc) *Instance {
	return &Instance{
		ID:      id,
		ctx:     ctx,
		cancels: cancels,
	}
}

// Context returns the chromedp context bound to this tab
func (i *Instance) Context() context.Context {
	return i.ctx
}

// Close shuts the tab (and the browser or container it owns). Safe to call
// more than once.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		// innermost context first
		for _, cancel := range i.cancels {
			cancel()
		}
		if i.release != nil {
			i.closeErr = i.release()
		}
	})
	return i.closeErr
}

// Closed reports whether the tab context has been cancelled
func (i *Instance) Closed() bool {
	return i.ctx.Err() != nil
}
