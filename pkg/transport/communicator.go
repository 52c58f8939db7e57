package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/crosswin/walletbridge/pkg/frame"
	"github.com/crosswin/walletbridge/pkg/telemetry"
)

// SDK identity sent in the initial info message.
const (
	SDKName    = "walletbridge-go"
	SDKVersion = "0.1.0"
)

// Defaults applied by NewCommunicator.
const (
	// DefaultReadyEvent is the notification announcing surface readiness.
	DefaultReadyEvent = "PopupLoaded"

	// DefaultUnloadEvent is the notification announcing the surface
	// unloaded on the remote side.
	DefaultUnloadEvent = "PopupUnload"

	// DefaultEmbeddedReadyTimeout bounds the embedded-mode readiness
	// wait. Popup mode has no intrinsic bound: a human may be completing
	// an external flow.
	DefaultEmbeddedReadyTimeout = 15 * time.Second
)

// AppMetadata describes the host application to the wallet.
type AppMetadata struct {
	Name     string   `json:"name"`
	LogoURL  string   `json:"logoUrl,omitempty"`
	ChainIDs []uint64 `json:"chainIds,omitempty"`
}

// Config configures a Communicator.
type Config struct {
	// WalletURL is the wallet surface URL. Required. Its origin is the
	// only origin inbound messages are accepted from.
	WalletURL string

	// Mode selects popup or embedded presentation (default: popup).
	Mode DisplayMode

	// Opener opens new surfaces. Required.
	Opener Opener

	// App is the application metadata sent in the initial info message.
	App AppMetadata

	// Preference is the connection preference forwarded to the wallet.
	Preference string

	// PageLocation is the host page location forwarded to the wallet.
	PageLocation string

	// ReadyEvent is the readiness notification name
	// (default: DefaultReadyEvent).
	ReadyEvent string

	// UnloadEvent is the surface-unloaded notification name
	// (default: DefaultUnloadEvent).
	UnloadEvent string

	// EmbeddedReadyTimeout bounds the embedded readiness wait
	// (default: DefaultEmbeddedReadyTimeout).
	EmbeddedReadyTimeout time.Duration

	// Telemetry receives the embedded readiness fallback signal.
	// If nil, telemetry is disabled.
	Telemetry telemetry.Reporter

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// infoMessage is the courtesy payload sent right after readiness. It is
// not part of response correlation.
type infoMessage struct {
	Event      string      `json:"event"`
	SDKName    string      `json:"sdkName"`
	SDKVersion string      `json:"sdkVersion"`
	App        AppMetadata `json:"app"`
	Preference string      `json:"preference,omitempty"`
	Location   string      `json:"location,omitempty"`
}

// infoEvent is the event name of the initial info message.
const infoEvent = "ClientInfo"

// listener is a one-shot waiter for a matching inbound message. It is
// removed when it matches, or when its subscription is cancelled.
type listener struct {
	match func(InboundMessage) bool
	ch    chan InboundMessage
	done  bool
}

// Subscription is a scoped, one-shot registration on the messaging
// channel. Cancel is safe to call on every exit path; the listener is
// deregistered exactly once.
type Subscription struct {
	// C delivers the first matching message. It is closed on Cancel.
	C <-chan InboundMessage

	cancel func()
	once   sync.Once
}

// Cancel deregisters the listener. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Communicator owns one Surface handle and the framed request/response
// exchange over it. Multiple SendAndAwaitReply calls may be in flight
// concurrently; each owns an independent listener and predicate.
type Communicator struct {
	config Config
	origin string
	log    logging.LeveledLogger

	// openMu serializes surface opening so the communicator never holds
	// more than one live handle.
	openMu sync.Mutex

	mu        sync.Mutex
	surface   Surface
	ready     bool
	closed    bool
	listeners []*listener
	unloadSub *Subscription
}

// NewCommunicator creates a Communicator for the configured wallet URL.
func NewCommunicator(config Config) (*Communicator, error) {
	if config.Opener == nil {
		return nil, ErrNoOpener
	}
	u, err := url.Parse(config.WalletURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, config.WalletURL)
	}

	if config.Mode == "" {
		config.Mode = ModePopup
	}
	if !config.Mode.IsValid() {
		return nil, fmt.Errorf("transport: unknown display mode %q", config.Mode)
	}
	if config.ReadyEvent == "" {
		config.ReadyEvent = DefaultReadyEvent
	}
	if config.UnloadEvent == "" {
		config.UnloadEvent = DefaultUnloadEvent
	}
	if config.EmbeddedReadyTimeout == 0 {
		config.EmbeddedReadyTimeout = DefaultEmbeddedReadyTimeout
	}

	c := &Communicator{
		config: config,
		origin: u.Scheme + "://" + u.Host,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("communicator")
	}
	return c, nil
}

// Origin returns the configured wallet origin.
func (c *Communicator) Origin() string {
	return c.origin
}

// EnsureReady guarantees a live, ready surface. An existing non-closed
// handle is brought to the foreground and reused; otherwise a new
// surface is opened and the readiness notification awaited.
func (c *Communicator) EnsureReady(ctx context.Context) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.surface != nil && !c.surface.Closed() && c.ready {
		s := c.surface
		c.mu.Unlock()
		return s.Focus()
	}
	c.mu.Unlock()

	return c.openSurface(ctx)
}

// openSurface opens a fresh surface and completes the readiness
// handshake. Failure is terminal for the call; nothing is retried here.
// Caller holds openMu.
func (c *Communicator) openSurface(ctx context.Context) error {
	readyEvent := c.config.ReadyEvent

	// The listener must exist before the surface does: the readiness
	// notification may arrive while Open is still on the stack.
	sub := c.subscribe(func(m InboundMessage) bool {
		n, ok := frame.DecodeNotification(m.Data)
		return ok && n.Event == readyEvent
	})
	defer sub.Cancel()

	surface, err := c.config.Opener.Open(c.config.WalletURL, c.config.Mode, c.onMessage)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	c.mu.Lock()
	if prev := c.surface; prev != nil && prev != surface {
		prev.Close()
	}
	if prevSub := c.unloadSub; prevSub != nil {
		c.unloadSub = nil
		go prevSub.Cancel()
	}
	c.surface = surface
	c.ready = false
	c.mu.Unlock()

	if err := c.awaitReadiness(ctx, sub); err != nil {
		surface.Close()
		return err
	}

	// A surface whose info message never went out must not be reused;
	// readiness is only declared once the frame is delivered.
	if err := c.sendInfo(surface); err != nil {
		surface.Close()
		return err
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	c.watchUnload(surface)
	return nil
}

// awaitReadiness waits for the readiness notification. Embedded mode
// uses the intrinsic bounded wait with a telemetry fallback signal;
// popup mode waits on the caller's context alone.
func (c *Communicator) awaitReadiness(ctx context.Context, sub *Subscription) error {
	var bound <-chan time.Time
	if c.config.Mode == ModeEmbedded {
		timer := time.NewTimer(c.config.EmbeddedReadyTimeout)
		defer timer.Stop()
		bound = timer.C
	}

	select {
	case _, ok := <-sub.C:
		if !ok {
			return ErrClosed
		}
		return nil
	case <-bound:
		if c.config.Telemetry != nil {
			c.config.Telemetry.Report(telemetry.Event{Name: telemetry.EventSurfaceReadyTimeout})
		}
		if c.log != nil {
			c.log.Warnf("embedded surface not ready after %s", c.config.EmbeddedReadyTimeout)
		}
		return fmt.Errorf("%w: no readiness notification within %s", ErrSetupFailed, c.config.EmbeddedReadyTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSetupFailed, ctx.Err())
	}
}

// watchUnload closes the handle when the remote side announces unload,
// so the next EnsureReady opens a fresh surface. The previous watcher
// is cancelled whenever a new surface replaces the old one.
func (c *Communicator) watchUnload(surface Surface) {
	unloadEvent := c.config.UnloadEvent
	sub := c.subscribe(func(m InboundMessage) bool {
		n, ok := frame.DecodeNotification(m.Data)
		return ok && n.Event == unloadEvent
	})

	c.mu.Lock()
	c.unloadSub = sub
	c.mu.Unlock()

	go func() {
		if _, ok := <-sub.C; !ok {
			return
		}
		if c.log != nil {
			c.log.Debug("surface unloaded by remote")
		}
		surface.Close()
		c.mu.Lock()
		if c.surface == surface {
			c.ready = false
		}
		if c.unloadSub == sub {
			c.unloadSub = nil
		}
		c.mu.Unlock()
	}()
}

// sendInfo posts the initial info message. It carries no request ID and
// expects no reply.
func (c *Communicator) sendInfo(surface Surface) error {
	info := infoMessage{
		Event:      infoEvent,
		SDKName:    SDKName,
		SDKVersion: SDKVersion,
		App:        c.config.App,
		Preference: c.config.Preference,
		Location:   c.config.PageLocation,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("transport: marshaling info message: %w", err)
	}
	return surface.Send(data)
}

// Send posts a frame to the current surface. EnsureReady must have
// succeeded first.
func (c *Communicator) Send(v any) error {
	c.mu.Lock()
	surface, ready := c.surface, c.ready
	c.mu.Unlock()

	if surface == nil || !ready || surface.Closed() {
		return ErrNotReady
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshaling frame: %w", err)
	}
	return surface.Send(data)
}

// SendAndAwaitReply sends a request frame and waits for the response
// whose requestId equals the frame's id. The listener is deregistered
// on every exit path. Replies for other in-flight requests are never
// consumed: each waiter owns its own predicate.
func (c *Communicator) SendAndAwaitReply(ctx context.Context, req *frame.RequestFrame) (*frame.ResponseFrame, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}

	sub := c.SubscribeReply(req.ID)
	defer sub.Cancel()

	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.AwaitReply(ctx, sub)
}

// SubscribeReply registers a one-shot listener for the response whose
// requestId equals requestID. The caller must Cancel the subscription on
// every exit path it abandons.
func (c *Communicator) SubscribeReply(requestID string) *Subscription {
	return c.subscribe(func(m InboundMessage) bool {
		var head struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(m.Data, &head); err != nil {
			return false
		}
		return head.RequestID == requestID
	})
}

// AwaitReply blocks until the subscription delivers a reply or ctx ends.
func (c *Communicator) AwaitReply(ctx context.Context, sub *Subscription) (*frame.ResponseFrame, error) {
	select {
	case m, ok := <-sub.C:
		if !ok {
			return nil, ErrClosed
		}
		var resp frame.ResponseFrame
		if err := json.Unmarshal(m.Data, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
		}
		if err := resp.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnNotification registers a one-shot listener for the first inbound
// message matching the predicate. The caller must Cancel the returned
// subscription on every exit path it abandons.
func (c *Communicator) OnNotification(match func(InboundMessage) bool) *Subscription {
	return c.subscribe(match)
}

// subscribe registers a one-shot listener. Delivery and cancellation
// are serialized under mu, so a cancelled listener can never receive a
// late send.
func (c *Communicator) subscribe(match func(InboundMessage) bool) *Subscription {
	l := &listener{
		match: match,
		ch:    make(chan InboundMessage, 1),
	}

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	return &Subscription{
		C: l.ch,
		cancel: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeListenerLocked(l)
			c.closeListenerLocked(l)
		},
	}
}

// removeListenerLocked takes a listener out of the dispatch table.
// Caller holds mu.
func (c *Communicator) removeListenerLocked(l *listener) {
	for i, cand := range c.listeners {
		if cand == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// closeListenerLocked closes a listener channel exactly once.
// Caller holds mu.
func (c *Communicator) closeListenerLocked(l *listener) {
	if !l.done {
		l.done = true
		close(l.ch)
	}
}

// onMessage is the single inbound entry point. Origin mismatches are
// dropped silently; a matching message resolves exactly one listener
// and leaves the rest untouched.
func (c *Communicator) onMessage(m InboundMessage) {
	if m.Origin != c.origin {
		if c.log != nil {
			c.log.Debugf("dropping message from origin %q", m.Origin)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.match(m) {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			// Buffered one-shot channel; the send cannot block.
			l.ch <- m
			return
		}
	}
	if c.log != nil {
		c.log.Tracef("no listener for inbound message: %s", string(m.Data))
	}
}

// Close tears down the surface handle and wakes all pending listeners.
// Idempotent. Cryptographic state is untouched.
func (c *Communicator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	surface := c.surface
	c.surface = nil
	c.ready = false
	c.unloadSub = nil
	pending := c.listeners
	c.listeners = nil
	for _, l := range pending {
		c.closeListenerLocked(l)
	}
	c.mu.Unlock()

	if surface != nil {
		return surface.Close()
	}
	return nil
}
