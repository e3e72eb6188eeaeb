package pool

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/protocol"
)

// DeviceLink is the surface the rest of the system uses to talk to the
// pool. Commands are fire-and-forget; confirmation only ever comes from
// the next broadcast.
type DeviceLink interface {
	SendCommand(cmd Command) error
	Latest() (DerivedStatus, bool)
	ListenToStatus(ch chan<- DerivedStatus) func()
}

// Verify Link implements DeviceLink
var _ DeviceLink = (*Link)(nil)

// LinkConfig configures the UDP endpoint of a Link.
type LinkConfig struct {
	PoolAddr      string        // "host:port" of the pool's command port
	ListenPort    int           // local port broadcasts arrive on
	SilenceWindow time.Duration // mark status stale after this much silence
}

// Link owns the UDP sockets. One background goroutine runs the receive
// loop and is the sole writer of the latest status snapshot; everything
// else reads via Latest or a status listener.
type Link struct {
	cfg    LinkConfig
	logger *log.Logger

	poolAddr *net.UDPAddr
	recvConn *net.UDPConn
	sendConn *net.UDPConn

	statusEvent *events.ChannelEvent[DerivedStatus]

	mu           sync.RWMutex
	latest       DerivedStatus
	hasStatus    bool
	lastRaw      []byte
	lastReceived time.Time

	decodeFailures atomic.Uint64

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewLink resolves the pool address, binds the broadcast-receive and
// command-send sockets, and returns a Link ready to Start.
func NewLink(cfg LinkConfig, logger *log.Logger) (*Link, error) {
	if logger == nil {
		panic("Link: logger cannot be nil")
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = DefaultSilenceWindow
	}

	poolAddr, err := net.ResolveUDPAddr("udp4", cfg.PoolAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve pool address %q: %w", cfg.PoolAddr, err)
	}

	recvConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.ListenPort})
	if err != nil {
		return nil, fmt.Errorf("bind broadcast port %d: %w", cfg.ListenPort, err)
	}

	sendConn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		recvConn.Close()
		return nil, fmt.Errorf("bind send socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		cfg:         cfg,
		logger:      logger,
		poolAddr:    poolAddr,
		recvConn:    recvConn,
		sendConn:    sendConn,
		statusEvent: events.NewChannelEvent[DerivedStatus](true),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches the receive loop and the silence watchdog.
func (l *Link) Start() {
	l.logger.Printf("Link: listening for broadcasts on port %d, pool at %s", l.cfg.ListenPort, l.poolAddr)
	l.wg.Add(2)
	events.SafeGo(l.logger, func() { l.receiveLoop() })
	events.SafeGo(l.logger, func() { l.watchdogLoop() })
}

// SendCommand encodes and transmits a command exactly once. There is no
// acknowledgment in the protocol; callers that need confirmation must
// watch subsequent derived status.
func (l *Link) SendCommand(cmd Command) error {
	op, param := cmd.Wire()
	pkt, err := protocol.BuildCommand(op, param)
	if err != nil {
		return err
	}
	if _, err := l.sendConn.WriteToUDP(pkt, l.poolAddr); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	l.logger.Printf("Link: sent %s", cmd)
	return nil
}

// Latest returns the most recent status snapshot, if any has arrived.
func (l *Link) Latest() (DerivedStatus, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, l.hasStatus
}

// ListenToStatus registers a channel for status snapshots. A new
// listener immediately receives the current snapshot if one exists.
// Returns a deregistration function.
func (l *Link) ListenToStatus(ch chan<- DerivedStatus) func() {
	return l.statusEvent.Listen(ch)
}

// DecodeFailures reports how many malformed datagrams have been dropped.
func (l *Link) DecodeFailures() uint64 {
	return l.decodeFailures.Load()
}

// Shutdown stops the background goroutines and closes the sockets.
// Safe to call multiple times.
func (l *Link) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.logger.Printf("Link: shutting down")
		l.cancel()
		l.wg.Wait()
		l.recvConn.Close()
		l.sendConn.Close()
		l.logger.Printf("Link: shutdown complete")
	})
}

// receiveLoop reads datagrams, decodes them, and publishes accepted
// frames. Malformed datagrams are dropped and counted; nothing a remote
// peer sends can bring the loop down.
func (l *Link) receiveLoop() {
	defer l.wg.Done()

	buf := make([]byte, 2048)
	for {
		if l.ctx.Err() != nil {
			return
		}

		l.recvConn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := l.recvConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Printf("Link: read error: %v", err)
			continue
		}

		frame, err := protocol.ParseBroadcast(buf[:n])
		if err != nil {
			l.decodeFailures.Add(1)
			l.logger.Printf("Link: dropped datagram (%d bytes): %v", n, err)
			continue
		}

		l.publish(frame)
	}
}

// publish derives state and swaps in the new snapshot. The receive loop
// is the only caller, so derivation always sees the true previous state.
func (l *Link) publish(frame *protocol.StatusFrame) {
	now := time.Now()

	l.mu.Lock()
	// The pool transmits every broadcast twice; drop the duplicate. A
	// duplicate still proves the pool is alive, so it clears the stale
	// flag when the watchdog set it in between.
	if l.lastRaw != nil && bytes.Equal(l.lastRaw, frame.Raw) {
		l.lastReceived = now
		if l.latest.Stale {
			l.latest.Stale = false
			revived := l.latest
			l.mu.Unlock()
			l.statusEvent.Notify(revived)
			return
		}
		l.mu.Unlock()
		return
	}
	l.lastRaw = frame.Raw

	prev := l.latest.State
	if !l.hasStatus {
		prev = StateIdle
	}
	status := NewDerivedStatus(frame, prev, now)
	l.latest = status
	l.hasStatus = true
	l.lastReceived = now
	l.mu.Unlock()

	l.statusEvent.Notify(status)
}

// watchdogLoop marks the published snapshot stale when the pool has
// been silent for longer than the configured window. The last known
// values are kept; only the stale flag changes.
func (l *Link) watchdogLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.SilenceWindow / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if !l.hasStatus || l.latest.Stale || time.Since(l.lastReceived) < l.cfg.SilenceWindow {
				l.mu.Unlock()
				continue
			}
			l.latest.Stale = true
			stale := l.latest
			l.mu.Unlock()

			l.logger.Printf("Link: no broadcast for %v, marking device unreachable", l.cfg.SilenceWindow)
			l.statusEvent.Notify(stale)
		}
	}
}
