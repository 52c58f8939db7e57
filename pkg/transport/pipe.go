package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// pipeProcessInterval is how often queued pipe messages are delivered.
const pipeProcessInterval = time.Millisecond

// pipeReadBuffer is the per-message read buffer size.
const pipeReadBuffer = 1 << 16

// pipeEnvelope frames wallet→app messages with sender origin metadata,
// mirroring what a cross-window messaging event carries.
type pipeEnvelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// PipePair is an in-memory app↔wallet message channel for tests and
// demos: the app side is a surface Opener, the wallet side a raw
// endpoint. Messages flow over an in-memory bridge and are delivered by
// a background goroutine, so no real network I/O is involved.
type PipePair struct {
	bridge *test.Bridge
	origin string

	stopCh chan struct{}
	procWg sync.WaitGroup
	readWg sync.WaitGroup

	mu            sync.Mutex
	appHandler    MessageHandler
	walletHandler func(data []byte)
	onOpen        func()
	surface       *pipeSurface
	closed        bool
	openCount     int
}

// NewPipePair creates a connected pair. origin is the simulated wallet
// origin stamped on wallet→app messages (unless forged explicitly).
func NewPipePair(origin string) *PipePair {
	p := &PipePair{
		bridge: test.NewBridge(),
		origin: origin,
		stopCh: make(chan struct{}),
	}

	p.procWg.Add(1)
	go p.processLoop()
	p.readWg.Add(2)
	go p.appReadLoop()
	go p.walletReadLoop()
	return p
}

// processLoop delivers queued bridge messages in both directions.
func (p *PipePair) processLoop() {
	defer p.procWg.Done()
	ticker := time.NewTicker(pipeProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// appReadLoop dispatches wallet→app messages to the opened surface's
// handler, unwrapping the origin envelope.
func (p *PipePair) appReadLoop() {
	defer p.readWg.Done()
	conn := p.bridge.GetConn0()
	buf := make([]byte, pipeReadBuffer)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		var env pipeEnvelope
		if err := json.Unmarshal(buf[:n], &env); err != nil {
			continue
		}

		p.mu.Lock()
		handler := p.appHandler
		p.mu.Unlock()
		if handler != nil {
			handler(InboundMessage{Origin: env.Origin, Data: env.Data})
		}
	}
}

// walletReadLoop dispatches app→wallet messages to the wallet handler.
func (p *PipePair) walletReadLoop() {
	defer p.readWg.Done()
	conn := p.bridge.GetConn1()
	buf := make([]byte, pipeReadBuffer)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		p.mu.Lock()
		handler := p.walletHandler
		p.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

// Opener returns the app-side surface opener.
func (p *PipePair) Opener() Opener {
	return pipeOpener{pair: p}
}

// SetWalletHandler installs the wallet-side consumer of app messages.
func (p *PipePair) SetWalletHandler(h func(data []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walletHandler = h
}

// OnOpen installs a callback invoked each time the app opens a surface.
// The wallet side uses it to announce readiness.
func (p *PipePair) OnOpen(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOpen = f
}

// WalletSend posts data to the app side, stamped with the pair's
// wallet origin.
func (p *PipePair) WalletSend(data []byte) error {
	return p.WalletSendFrom(p.origin, data)
}

// WalletSendFrom posts data to the app side with an explicit origin.
// Tests use it to simulate messages from a foreign origin.
func (p *PipePair) WalletSendFrom(origin string, data []byte) error {
	env, err := json.Marshal(pipeEnvelope{Origin: origin, Data: data})
	if err != nil {
		return fmt.Errorf("transport: marshaling pipe envelope: %w", err)
	}
	if _, err := p.bridge.GetConn1().Write(env); err != nil {
		return fmt.Errorf("transport: pipe write: %w", err)
	}
	return nil
}

// OpenCount returns how many times a surface has been opened.
func (p *PipePair) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openCount
}

// CloseSurface marks the current surface closed, simulating the remote
// side closing the window. The next EnsureReady must reopen.
func (p *PipePair) CloseSurface() {
	p.mu.Lock()
	surface := p.surface
	p.mu.Unlock()

	if surface != nil {
		surface.Close()
	}
}

// Close tears down the pair and both read loops.
//
// A bridge conn close only takes effect on a later Tick, so the process
// loop must keep ticking until both read loops have drained out; only
// then may it stop.
func (p *PipePair) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.bridge.GetConn0().Close()
	p.bridge.GetConn1().Close()
	p.readWg.Wait()

	close(p.stopCh)
	p.procWg.Wait()
	return nil
}

// pipeOpener opens pipe surfaces on the app side of a pair.
type pipeOpener struct {
	pair *PipePair
}

// Open installs the handler, creates a fresh surface handle, and fires
// the wallet's onOpen callback.
func (o pipeOpener) Open(rawURL string, mode DisplayMode, handler MessageHandler) (Surface, error) {
	p := o.pair

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.appHandler = handler
	s := &pipeSurface{pair: p, origin: p.origin}
	p.surface = s
	p.openCount++
	onOpen := p.onOpen
	p.mu.Unlock()

	if onOpen != nil {
		go onOpen()
	}
	return s, nil
}

// Verify pipeOpener implements Opener.
var _ Opener = pipeOpener{}

// pipeSurface is the app-side handle onto a PipePair.
type pipeSurface struct {
	pair   *PipePair
	origin string

	mu     sync.Mutex
	closed bool
}

// Send posts raw data to the wallet side.
func (s *pipeSurface) Send(data []byte) error {
	if s.Closed() {
		return ErrClosed
	}
	if _, err := s.pair.bridge.GetConn0().Write(data); err != nil {
		return fmt.Errorf("transport: pipe write: %w", err)
	}
	return nil
}

// Origin returns the simulated wallet origin.
func (s *pipeSurface) Origin() string {
	return s.origin
}

// Closed reports whether the handle has been closed.
func (s *pipeSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Focus is a no-op for pipe surfaces.
func (s *pipeSurface) Focus() error {
	return nil
}

// Close marks the handle closed. Idempotent; the underlying pair stays
// usable so a fresh surface can be opened.
func (s *pipeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify pipeSurface implements Surface.
var _ Surface = (*pipeSurface)(nil)
