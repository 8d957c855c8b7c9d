package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/imei-registry/internal/logging"
	"github.com/shehryarbajwa/imei-registry/internal/metrics"
	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

const (
	captchaImagePrefix = "data:image/png;base64,"
	maxCaptchaLength   = 16
	sharedBrowserID    = "shared"
)

var imeiPattern = regexp.MustCompile(`^\d{15}$`)

// Options tunes the session manager
type Options struct {
	Mode          models.SessionMode
	TTL           time.Duration
	SweepInterval time.Duration
	MaxActive     int64
}

type entry struct {
	meta    models.Session
	browser Browser
}

// Manager coordinates browsers across the start and solve requests of a
// lookup. In per-session mode every lookup owns a browser until it is
// solved or expires. In shared mode one browser serves everybody, one
// interaction at a time, and only the most recent start may solve.
type Manager struct {
	launcher Launcher
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	// per-session
	slots    *semaphore.Weighted
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	// shared
	sharedLock *semaphore.Weighted
	shared     Browser
	owner      *models.Session
}

// NewManager creates a new session manager
func NewManager(launcher Launcher, opts Options, logger *zap.Logger) *Manager {
	if opts.Mode == "" {
		opts.Mode = models.ModePerSession
	}
	if opts.TTL <= 0 {
		opts.TTL = 3 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = 1
	}

	return &Manager{
		launcher:   launcher,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		slots:      semaphore.NewWeighted(opts.MaxActive),
		sessions:   make(map[string]*entry),
		sharedLock: semaphore.NewWeighted(1),
	}
}

// Mode returns the configured session mode
func (m *Manager) Mode() models.SessionMode {
	return m.opts.Mode
}

// Init launches the shared browser up front. It is a no-op in per-session
// mode. A failure is not fatal: the next start retries the launch.
func (m *Manager) Init(ctx context.Context) error {
	if m.opts.Mode != models.ModeShared {
		return nil
	}

	if err := m.sharedLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sharedLock.Release(1)

	_, err := m.sharedBrowser(ctx)
	return err
}

// Start validates the IMEI, opens the registry form in a browser and
// returns the CAPTCHA image together with a fresh session token.
func (m *Manager) Start(ctx context.Context, imei string) (*models.StartResponse, error) {
	if !imeiPattern.MatchString(imei) {
		metrics.SessionsStarted.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: IMEI must be exactly 15 digits", ErrInvalidInput)
	}

	var (
		resp *models.StartResponse
		err  error
	)
	if m.opts.Mode == models.ModeShared {
		resp, err = m.startShared(ctx, imei)
	} else {
		resp, err = m.startDedicated(ctx, imei)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SessionsStarted.WithLabelValues(outcome).Inc()

	return resp, err
}

func (m *Manager) startDedicated(ctx context.Context, imei string) (*models.StartResponse, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: manager is shutting down", ErrUpstreamUnavailable)
	}

	if !m.slots.TryAcquire(1) {
		return nil, ErrCapacity
	}

	id := uuid.New().String()
	log := m.logger.With(logging.SessionField(id), zap.String("imei", logging.MaskIMEI(imei)))
	log.Info("Starting lookup")

	b, err := m.launcher.Launch(ctx, id)
	if err != nil {
		m.slots.Release(1)
		log.Error("Failed to launch browser", zap.Error(err))
		return nil, fmt.Errorf("%w: could not reach the registry, please try again", ErrUpstreamUnavailable)
	}

	png, err := openCaptcha(ctx, b, imei)
	if err != nil {
		m.discard(b)
		log.Error("Failed to open captcha", zap.Error(err))
		return nil, fmt.Errorf("%w: could not reach the registry, please try again", ErrUpstreamUnavailable)
	}

	now := m.now()
	e := &entry{
		meta: models.Session{
			ID:        id,
			IMEI:      logging.MaskIMEI(imei),
			Mode:      models.ModePerSession,
			StartedAt: now,
			ExpiresAt: now.Add(m.opts.TTL),
		},
		browser: b,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discard(b)
		return nil, fmt.Errorf("%w: manager is shutting down", ErrUpstreamUnavailable)
	}
	m.sessions[id] = e
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	log.Info("Captcha ready")
	return &models.StartResponse{
		SessionID:    id,
		CaptchaImage: captchaImagePrefix + base64.StdEncoding.EncodeToString(png),
	}, nil
}

func (m *Manager) startShared(ctx context.Context, imei string) (*models.StartResponse, error) {
	if err := m.sharedLock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer m.sharedLock.Release(1)

	id := uuid.New().String()
	log := m.logger.With(logging.SessionField(id), zap.String("imei", logging.MaskIMEI(imei)))
	log.Info("Starting lookup on shared browser")

	b, err := m.sharedBrowser(ctx)
	if err != nil {
		log.Error("Shared browser unavailable", zap.Error(err))
		return nil, fmt.Errorf("%w: could not reach the registry, please try again", ErrUpstreamUnavailable)
	}

	// Whoever held the tab before has lost it now
	m.setOwner(nil)

	png, err := openCaptcha(ctx, b, imei)
	if err != nil {
		log.Error("Failed to open captcha", zap.Error(err))
		m.recoverShared(ctx, b)
		return nil, fmt.Errorf("%w: could not reach the registry, please try again", ErrUpstreamUnavailable)
	}

	now := m.now()
	m.setOwner(&models.Session{
		ID:        id,
		IMEI:      logging.MaskIMEI(imei),
		Mode:      models.ModeShared,
		StartedAt: now,
		ExpiresAt: now.Add(m.opts.TTL),
	})

	log.Info("Captcha ready")
	return &models.StartResponse{
		SessionID:    id,
		CaptchaImage: captchaImagePrefix + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// openCaptcha never hands back an empty image
func openCaptcha(ctx context.Context, b Browser, imei string) ([]byte, error) {
	png, err := b.OpenCaptcha(ctx, imei)
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("browser returned an empty captcha image")
	}
	return png, nil
}

// Solve submits the CAPTCHA answer for a session and classifies the result.
// In per-session mode the session is consumed whatever the outcome, except
// for a malformed answer, which leaves it open for another try.
func (m *Manager) Solve(ctx context.Context, id, captchaText string) (*models.LookupResult, error) {
	if !m.known(id) {
		return nil, fmt.Errorf("%w: start a new lookup", ErrSessionExpired)
	}

	text, err := validateCaptcha(captchaText)
	if err != nil {
		return nil, err
	}

	if m.opts.Mode == models.ModeShared {
		return m.solveShared(ctx, id, text)
	}
	return m.solveDedicated(ctx, id, text)
}

// known reports whether id names an open session without consuming it
func (m *Manager) known(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Mode == models.ModeShared {
		return m.owner != nil && m.owner.ID == id
	}
	_, ok := m.sessions[id]
	return ok
}

func (m *Manager) solveDedicated(ctx context.Context, id, text string) (*models.LookupResult, error) {
	e := m.take(id)
	if e == nil {
		return nil, fmt.Errorf("%w: start a new lookup", ErrSessionExpired)
	}
	defer m.destroy(e)

	log := m.logger.With(logging.SessionField(id), zap.String("imei", e.meta.IMEI))
	if m.now().After(e.meta.ExpiresAt) {
		log.Info("Session expired before solve")
		return nil, fmt.Errorf("%w: start a new lookup", ErrSessionExpired)
	}

	return m.submit(ctx, log, e.browser, text, nil)
}

func (m *Manager) solveShared(ctx context.Context, id, text string) (*models.LookupResult, error) {
	if err := m.sharedLock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer m.sharedLock.Release(1)

	m.mu.Lock()
	owner, b := m.owner, m.shared
	m.mu.Unlock()

	if owner == nil || owner.ID != id || b == nil || m.now().After(owner.ExpiresAt) {
		return nil, fmt.Errorf("%w: start a new lookup", ErrSessionExpired)
	}
	m.setOwner(nil)

	log := m.logger.With(logging.SessionField(id), zap.String("imei", owner.IMEI))
	return m.submit(ctx, log, b, text, func() { m.recoverShared(ctx, b) })
}

func (m *Manager) submit(ctx context.Context, log *zap.Logger, b Browser, text string, onError func()) (*models.LookupResult, error) {
	log.Info("Submitting captcha")

	result, err := b.SubmitCaptcha(ctx, text)
	if err != nil {
		metrics.Lookups.WithLabelValues("error").Inc()
		log.Error("Lookup failed", zap.Error(err))
		if onError != nil {
			onError()
		}
		return nil, fmt.Errorf("%w: lookup error, please try again", ErrLookupFailed)
	}

	metrics.Lookups.WithLabelValues(string(result.Status)).Inc()
	log.Info("Lookup classified", zap.String("status", string(result.Status)))
	return &result, nil
}

// sharedBrowser returns the shared browser, launching it if needed.
// Caller must hold sharedLock.
func (m *Manager) sharedBrowser(ctx context.Context) (Browser, error) {
	m.mu.Lock()
	b, closed := m.shared, m.closed
	m.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("manager is shutting down")
	}
	if b != nil {
		return b, nil
	}

	b, err := m.launcher.Launch(ctx, sharedBrowserID)
	if err != nil {
		return nil, fmt.Errorf("failed to launch shared browser: %w", err)
	}

	m.mu.Lock()
	m.shared = b
	m.mu.Unlock()
	m.logger.Info("Shared browser launched")

	return b, nil
}

// recoverShared puts the shared browser back on the search form, or drops
// it so the next start relaunches. Caller must hold sharedLock.
func (m *Manager) recoverShared(ctx context.Context, b Browser) {
	err := b.Reset(ctx)
	if err == nil {
		return
	}

	m.logger.Warn("Shared browser reset failed, relaunching on next use", zap.Error(err))
	m.mu.Lock()
	if m.shared == b {
		m.shared = nil
	}
	m.mu.Unlock()
	b.Close()
}

func (m *Manager) setOwner(s *models.Session) {
	m.mu.Lock()
	m.owner = s
	m.mu.Unlock()

	if s != nil {
		metrics.SessionsActive.Set(1)
	} else {
		metrics.SessionsActive.Set(0)
	}
}

// take removes a per-session entry from the map
func (m *Manager) take(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return e
}

// destroy closes the browser of an entry already removed from the map
func (m *Manager) destroy(e *entry) {
	metrics.SessionsActive.Dec()
	m.discard(e.browser)
}

func (m *Manager) discard(b Browser) {
	if err := b.Close(); err != nil {
		m.logger.Warn("Failed to close browser", zap.Error(err))
	}
	m.slots.Release(1)
}

// Get returns the metadata of an open session
func (m *Manager) Get(id string) (*models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Mode == models.ModeShared {
		if m.owner != nil && m.owner.ID == id {
			meta := *m.owner
			return &meta, true
		}
		return nil, false
	}

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	meta := e.meta
	return &meta, true
}

// DebugURL returns the CDP endpoint of the browser behind an open session
func (m *Manager) DebugURL(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b Browser
	if m.opts.Mode == models.ModeShared {
		if m.owner == nil || m.owner.ID != id || m.shared == nil {
			return "", false
		}
		b = m.shared
	} else {
		e, ok := m.sessions[id]
		if !ok {
			return "", false
		}
		b = e.browser
	}

	url := b.DebugURL()
	return url, url != ""
}

// Active returns the number of sessions waiting for a CAPTCHA answer
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Mode == models.ModeShared {
		if m.owner != nil {
			return 1
		}
		return 0
	}
	return len(m.sessions)
}

// Sweep evicts sessions idle past their expiry and returns how many went
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	if m.opts.Mode == models.ModeShared {
		expired := m.owner != nil && now.After(m.owner.ExpiresAt)
		if expired {
			m.owner = nil
		}
		m.mu.Unlock()
		if !expired {
			return 0
		}
		metrics.SessionsActive.Set(0)
		metrics.SessionsExpired.Inc()
		return 1
	}

	var expired []*entry
	for id, e := range m.sessions {
		if now.After(e.meta.ExpiresAt) {
			expired = append(expired, e)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.logger.Info("Session expired", logging.SessionField(e.meta.ID))
		m.destroy(e)
		metrics.SessionsExpired.Inc()
	}

	return len(expired)
}

// Run sweeps expired sessions until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("Swept expired sessions", zap.Int("count", n))
			}
		}
	}
}

// Close tears down every browser. Further starts fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	for id, e := range m.sessions {
		entries = append(entries, e)
		delete(m.sessions, id)
	}
	shared := m.shared
	m.shared = nil
	m.owner = nil
	m.mu.Unlock()

	for _, e := range entries {
		m.destroy(e)
	}
	if shared != nil {
		if err := shared.Close(); err != nil {
			return fmt.Errorf("failed to close shared browser: %w", err)
		}
	}
	return nil
}

// validateCaptcha trims the answer and bounds it to a short alphanumeric
// string before anything is typed into the site.
func validateCaptcha(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: captcha text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxCaptchaLength {
		return "", fmt.Errorf("%w: captcha text is too long", ErrInvalidInput)
	}
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", fmt.Errorf("%w: captcha text may only contain letters and digits", ErrInvalidInput)
		}
	}
	return text, nil
}
