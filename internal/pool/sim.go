package pool

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/protocol"
)

// Simulator emulates the pool controller over real UDP: it accepts
// command packets on its port and broadcasts status packets on the
// usual cadence. It exists for testing and for running the apps without
// the physical pool.
type Simulator struct {
	logger     *log.Logger
	conn       *net.UDPConn
	clientAddr *net.UDPAddr
	interval   time.Duration

	mu           sync.Mutex
	running      bool
	currentSpeed int
	targetSpeed  int
	speedParam   int
	setTimer     int
	remaining    int
	segmentDist  float64
	totalDist    float64
	timerFrac    float64
	lastTxnID    byte

	ctx          context.Context
	cancelFn     context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewSimulator binds a simulated pool to listenPort and aims its
// broadcasts at clientAddr ("host:port"). interval is the broadcast
// cadence; the real pool uses ~500ms.
func NewSimulator(listenPort int, clientAddr string, interval time.Duration, logger *log.Logger) (*Simulator, error) {
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: listenPort})
	if err != nil {
		return nil, fmt.Errorf("bind simulator port %d: %w", listenPort, err)
	}
	target, err := net.ResolveUDPAddr("udp4", clientAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve client address %q: %w", clientAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		logger:     logger,
		conn:       conn,
		clientAddr: target,
		interval:   interval,
		ctx:        ctx,
		cancelFn:   cancel,
	}, nil
}

// Addr returns the simulator's bound command address.
func (s *Simulator) Addr() string {
	return s.conn.LocalAddr().String()
}

// Start launches the command listener and the broadcast ticker.
func (s *Simulator) Start() {
	s.logger.Printf("Simulator: pool at %s, broadcasting to %s", s.Addr(), s.clientAddr)
	s.wg.Add(2)
	events.SafeGo(s.logger, func() { s.commandLoop() })
	events.SafeGo(s.logger, func() { s.broadcastLoop() })
}

// Shutdown stops the simulator. Safe to call multiple times.
func (s *Simulator) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancelFn()
		s.wg.Wait()
		s.conn.Close()
		s.logger.Printf("Simulator: shutdown complete")
	})
}

func (s *Simulator) commandLoop() {
	defer s.wg.Done()

	buf := make([]byte, 256)
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			continue
		}

		op, param, err := protocol.DecodeCommand(buf[:n])
		if err != nil {
			s.logger.Printf("Simulator: rejected command packet: %v", err)
			continue
		}
		s.apply(op, param, buf[2])
	}
}

func (s *Simulator) apply(op protocol.Opcode, param int, txnID byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTxnID = txnID
	switch op {
	case protocol.OpStart:
		if s.speedParam > 0 {
			s.running = true
			if s.remaining == 0 {
				s.remaining = s.setTimer
			}
		}
	case protocol.OpStop:
		s.running = false
		s.targetSpeed = 0
	case protocol.OpSetSpeed:
		s.speedParam = param
		s.targetSpeed = param
	case protocol.OpSetTimer:
		s.setTimer = param
		s.remaining = param
	}
	s.logger.Printf("Simulator: applied 0x%02X param %d", byte(op), param)
}

// broadcastLoop ticks the simulated motor and emits a status packet
// each interval, twice like the real pool does.
func (s *Simulator) broadcastLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pkt := protocol.EncodeBroadcast(s.tick())
			s.conn.WriteToUDP(pkt, s.clientAddr)
			s.conn.WriteToUDP(pkt, s.clientAddr)
		}
	}
}

// tick advances the simulated state by one broadcast interval.
func (s *Simulator) tick() *protocol.StatusFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	secs := s.interval.Seconds()
	if s.running {
		// Ramp the motor toward the target, then count the timer down
		// and accrue distance at the commanded pace.
		if s.currentSpeed < s.targetSpeed {
			s.currentSpeed += 10
			if s.currentSpeed > s.targetSpeed {
				s.currentSpeed = s.targetSpeed
			}
		} else if s.currentSpeed > s.targetSpeed {
			s.currentSpeed -= 10
			if s.currentSpeed < s.targetSpeed {
				s.currentSpeed = s.targetSpeed
			}
		}

		s.timerFrac += secs
		for s.timerFrac >= 1 {
			s.timerFrac--
			s.remaining--
		}
		if s.remaining <= 0 {
			s.remaining = 0
			s.running = false
			s.targetSpeed = 0
		}

		if s.speedParam > 0 {
			meters := 100 / float64(s.speedParam) * secs
			s.segmentDist += meters
			s.totalDist += meters
		}
	} else if s.currentSpeed > 0 {
		s.currentSpeed -= 20
		if s.currentSpeed < 0 {
			s.currentSpeed = 0
		}
	}

	return &protocol.StatusFrame{
		StateID:         s.lastTxnID,
		IsRunning:       s.running,
		CurrentSpeed:    s.currentSpeed,
		TargetSpeed:     s.targetSpeed,
		SpeedParam:      s.speedParam,
		SetTimer:        s.setTimer,
		RemainingTimer:  s.remaining,
		SegmentDistance: s.segmentDist,
		TotalDistance:   s.totalDist,
		Timestamp:       uint32(time.Now().Unix()),
		DeviceName:      "SIMPOOL",
	}
}
