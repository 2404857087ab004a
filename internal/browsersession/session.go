// Package browsersession implements the Browser Session Manager: per-owner
// singleton sessions over the controlled third-party-app driver, with
// idempotent Acquire, graceful Release, and a three-tier ForceClose
// escalation. One session exists per owner_id rather than one global bot
// session.
package browsersession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"

	"github.com/baseleldalil/morsel/internal/logging"
	"github.com/baseleldalil/morsel/internal/messenger"
	"github.com/baseleldalil/morsel/internal/model"
)

// zeroLogAdapter routes whatsmeow's logging interface through zerolog.
type zeroLogAdapter struct{ l zerolog.Logger }

func (a zeroLogAdapter) Errorf(msg string, args ...interface{}) { a.l.Error().Msgf(msg, args...) }
func (a zeroLogAdapter) Warnf(msg string, args ...interface{})  { a.l.Warn().Msgf(msg, args...) }
func (a zeroLogAdapter) Infof(msg string, args ...interface{})  { a.l.Info().Msgf(msg, args...) }
func (a zeroLogAdapter) Debugf(msg string, args ...interface{}) { a.l.Debug().Msgf(msg, args...) }
func (a zeroLogAdapter) Sub(module string) waLog.Logger         { return zeroLogAdapter{a.l.With().Str("module", module).Logger()} }

// Session is one owner's live connection to the controlled third-party
// messaging app. At most one exists per owner at a time.
type Session struct {
	OwnerID   string
	Kind      model.BrowserKind
	client    *whatsmeow.Client
	connected bool

	sendMu  sync.Mutex // serializes Messenger.Send calls for this owner
	limiter *rate.Limiter
}

// IsLoggedIn queries the session for a "ready" indicator.
func (s *Session) IsLoggedIn() bool {
	return s.connected && s.client != nil && s.client.Store.ID != nil
}

// SendLocked runs fn while holding this session's send mutex and after
// waiting on its safety-cap rate limiter, so concurrent executors for the
// same owner never interleave sends and can never exceed the hard
// per-minute cap regardless of pacing misconfiguration.
func (s *Session) SendLocked(ctx context.Context, fn func() error) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn()
}

// Client exposes the underlying whatsmeow client for Messenger adapters.
func (s *Session) Client() *whatsmeow.Client { return s.client }

// narrowedClient adapts *whatsmeow.Client's real, variadic SendMessage
// signature down to the fixed-arity surface messenger.Messenger expects,
// so the Messenger package never imports whatsmeow directly for anything
// beyond its own interface's return type.
type narrowedClient struct{ c *whatsmeow.Client }

func (n narrowedClient) SendMessage(ctx context.Context, to types.JID, message *waProto.Message) (whatsmeow.SendResponse, error) {
	return n.c.SendMessage(ctx, to, message)
}

func (n narrowedClient) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return n.c.Upload(ctx, plaintext, appInfo)
}

// Messenger returns a Messenger bound to this session's live client,
// serialized through SendLocked so two executors sharing this owner's
// session never send concurrently.
func (s *Session) Messenger(perSendDelay time.Duration) messenger.Messenger {
	return &serializedMessenger{
		sess: s,
		inner: messenger.NewWhatsAppMessenger(narrowedClient{c: s.client}, perSendDelay),
	}
}

// serializedMessenger routes every Send through the owning Session's
// mutex and rate limiter before delegating to the real adapter.
type serializedMessenger struct {
	sess  *Session
	inner messenger.Messenger
}

func (m *serializedMessenger) Send(ctx context.Context, phone, text string, attachments []model.Attachment) messenger.Result {
	var result messenger.Result
	err := m.sess.SendLocked(ctx, func() error {
		result = m.inner.Send(ctx, phone, text, attachments)
		return nil
	})
	if err != nil {
		return messenger.Result{Outcome: messenger.OutcomeTransientError, Err: err}
	}
	return result
}

// Manager is the per-process registry of live Sessions, one per owner.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	container *sqlstore.Container
	devices   *deviceRegistry
	log       zerolog.Logger

	// sendRateLimit is the hard sends/minute safety cap applied to every
	// new Session.
	sendRateLimit rate.Limit
}

// NewManager opens (or creates) the sqlite-backed whatsmeow device store at
// dbPath and returns a Manager ready to Acquire sessions. sendsPerMinute
// configures the hard safety cap; 0 uses a conservative default.
func NewManager(ctx context.Context, dbPath string, sendsPerMinute float64, log zerolog.Logger) (*Manager, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("browsersession: database path not provided")
	}
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", zeroLogAdapter{l: log})
	if err != nil {
		return nil, fmt.Errorf("browsersession: connecting to device store: %w", err)
	}
	devices, err := newDeviceRegistry(dbPath + ".owners.json")
	if err != nil {
		return nil, fmt.Errorf("browsersession: loading owner/device map: %w", err)
	}
	if sendsPerMinute <= 0 {
		sendsPerMinute = 20
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		container:     container,
		devices:       devices,
		log:           log,
		sendRateLimit: rate.Limit(sendsPerMinute / 60.0),
	}, nil
}

// Acquire returns the owner's live session, connecting it if necessary.
// Idempotent: calling Acquire again with the same kind returns the same
// session. If an incompatible-kind session already exists it is closed
// and recreated.
func (m *Manager) Acquire(ctx context.Context, ownerID string, kind model.BrowserKind) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[ownerID]; ok {
		if existing.Kind == kind && existing.IsLoggedIn() {
			return existing, nil
		}
		m.closeLocked(existing, 5*time.Second)
		delete(m.sessions, ownerID)
	}

	jid, ok := m.devices.lookup(ownerID)
	if !ok {
		return nil, fmt.Errorf("browsersession: owner %s has no linked session — run onboarding first", ownerID)
	}
	device, err := m.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("browsersession: loading device for owner %s: %w", ownerID, err)
	}
	if device == nil {
		return nil, fmt.Errorf("browsersession: no device record for owner %s", ownerID)
	}

	client := whatsmeow.NewClient(device, zeroLogAdapter{l: logging.ForOwner(m.log, ownerID)})
	if client.Store.ID == nil {
		return nil, fmt.Errorf("browsersession: owner %s not authenticated", ownerID)
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("browsersession: connecting owner %s: %w", ownerID, err)
	}

	sess := &Session{
		OwnerID:   ownerID,
		Kind:      kind,
		client:    client,
		connected: true,
		limiter:   rate.NewLimiter(m.sendRateLimit, 1),
	}
	m.sessions[ownerID] = sess
	m.log.Info().Str("owner_id", ownerID).Str("kind", string(kind)).Msg("browsersession: acquired")
	return sess, nil
}

// Release gracefully shuts down the owner's session, if any.
func (m *Manager) Release(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[ownerID]; ok {
		m.closeLocked(sess, 10*time.Second)
		delete(m.sessions, ownerID)
	}
}

// ForceClose terminates the owner's session even if the driver is hung,
// running tiers 1 and 2 of forceCloseLocked (a bounded disconnect, then
// dropping the client). It
// never returns an error — force-close must always make progress — and
// reports how many sessions it actually terminated (0 or 1 for a single
// owner).
func (m *Manager) ForceClose(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[ownerID]
	if !ok {
		return 0
	}
	m.forceCloseLocked(sess)
	delete(m.sessions, ownerID)
	return 1
}

// ForceCloseAll closes every live session process-wide and reports the
// count terminated.
func (m *Manager) ForceCloseAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for owner, sess := range m.sessions {
		m.forceCloseLocked(sess)
		delete(m.sessions, owner)
		n++
	}
	m.log.Info().Int("terminated", n).Msg("browsersession: force-closed all sessions")
	return n
}

// closeLocked performs a polite, bounded shutdown (tier 1 only). Callers
// hold m.mu.
func (m *Manager) closeLocked(sess *Session, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		sess.client.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.log.Warn().Str("owner_id", sess.OwnerID).Msg("browsersession: graceful disconnect timed out")
	}
	sess.connected = false
}

// forceCloseLocked runs the full three-tier escalation. Callers hold m.mu.
//
// Tier 1: polite shutdown with a bounded timeout (closeLocked).
// Tier 2: since this adapter drives the third-party app in-process via
// whatsmeow rather than through a separate webdriver/browser process,
// there is no child OS process to SIGKILL — tier 2 instead drops the
// client reference entirely so no further goroutine can use it, the
// in-process equivalent of killing the driver process. A chromedp- or
// Selenium-backed adapter would os.Process.Kill() the driver/app
// processes here instead.
// Tier 3 (platform-wide kill of any remaining driver/app processes) is
// the caller's job in ForceCloseAll, which loops this over every session.
func (m *Manager) forceCloseLocked(sess *Session) {
	m.closeLocked(sess, 2*time.Second)
	sess.client = nil
}

// --- onboarding ---

// Onboard walks an owner through device-linking for kind, displaying a QR
// code, then records the resulting device JID against ownerID for future
// Acquire calls.
func (m *Manager) Onboard(ctx context.Context, ownerID string, kind model.BrowserKind, showQR func(code string)) error {
	device, err := m.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("browsersession: getting device slot: %w", err)
	}
	client := whatsmeow.NewClient(device, zeroLogAdapter{l: m.log})

	if client.Store.ID != nil {
		m.devices.set(ownerID, *client.Store.ID)
		return m.devices.save()
	}

	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("browsersession: connecting for onboarding: %w", err)
	}
	defer client.Disconnect()

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if showQR != nil {
				showQR(evt.Code)
			}
		case "timeout":
			return fmt.Errorf("browsersession: QR code timed out")
		}
	}

	if client.Store.ID == nil {
		return fmt.Errorf("browsersession: pairing did not complete")
	}
	m.devices.set(ownerID, *client.Store.ID)
	return m.devices.save()
}

