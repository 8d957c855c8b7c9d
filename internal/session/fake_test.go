package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

// script decides how a fake browser answers
type script struct {
	png       []byte
	openErr   error
	result    models.LookupResult
	submitErr error
	resetErr  error
	debugURL  string
	delay     time.Duration
}

type fakeBrowser struct {
	mu sync.Mutex
	script

	opened    []string
	submitted []string
	resets    int
	closed    bool

	inFlight atomic.Int32
	peak     atomic.Int32
}

// busy records an overlapping call and simulates page latency. It runs
// outside f.mu so concurrent callers are counted.
func (f *fakeBrowser) busy() func() {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeBrowser) OpenCaptcha(ctx context.Context, imei string) ([]byte, error) {
	defer f.busy()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, imei)
	return f.png, f.openErr
}

func (f *fakeBrowser) SubmitCaptcha(ctx context.Context, text string) (models.LookupResult, error) {
	defer f.busy()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return f.result, f.submitErr
}

func (f *fakeBrowser) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.resetErr
}

func (f *fakeBrowser) DebugURL() string { return f.debugURL }

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBrowser) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeLauncher hands out browsers built by newBrowser and remembers them
type fakeLauncher struct {
	mu         sync.Mutex
	newBrowser func() *fakeBrowser
	err        error
	launched   []*fakeBrowser
}

func newFakeLauncher(s script) *fakeLauncher {
	return &fakeLauncher{
		newBrowser: func() *fakeBrowser {
			return &fakeBrowser{script: s}
		},
	}
}

func (l *fakeLauncher) Launch(ctx context.Context, id string) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	b := l.newBrowser()
	l.launched = append(l.launched, b)
	return b, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) last() *fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[len(l.launched)-1]
}

var errBoom = errors.New("boom: chrome crashed")
