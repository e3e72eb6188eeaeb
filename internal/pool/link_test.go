package pool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smash0190/endlesspool/internal/protocol"
)

// poolSocket is the device end of the wire for link tests: it receives
// commands and sends broadcasts over real loopback UDP.
type poolSocket struct {
	conn *net.UDPConn
}

func newPoolSocket(t *testing.T) *poolSocket {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &poolSocket{conn: conn}
}

func (p *poolSocket) addr() string {
	return p.conn.LocalAddr().String()
}

func (p *poolSocket) sendTo(t *testing.T, port int, data []byte) {
	t.Helper()
	_, err := p.conn.WriteToUDP(data, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
}

// freeUDPPort finds a port the link can bind its receive socket to.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func newTestLink(t *testing.T, poolAddr string, listenPort int, silence time.Duration) *Link {
	t.Helper()
	link, err := NewLink(LinkConfig{
		PoolAddr:      poolAddr,
		ListenPort:    listenPort,
		SilenceWindow: silence,
	}, testLogger())
	require.NoError(t, err)
	link.Start()
	t.Cleanup(link.Shutdown)
	return link
}

func broadcastPacket(remaining int, timestamp uint32) []byte {
	return protocol.EncodeBroadcast(&protocol.StatusFrame{
		IsRunning:      true,
		CurrentSpeed:   120,
		TargetSpeed:    120,
		SpeedParam:     120,
		SetTimer:       600,
		RemainingTimer: remaining,
		Timestamp:      timestamp,
		DeviceName:     "TESTPOOL",
	})
}

func TestLinkReceivesBroadcast(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 0)

	device.sendTo(t, port, broadcastPacket(480, 1))

	require.Eventually(t, func() bool {
		_, ok := link.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	status, _ := link.Latest()
	assert.Equal(t, "TESTPOOL", status.Frame.DeviceName)
	assert.Equal(t, 480, status.Frame.RemainingTimer)
	assert.Equal(t, StateRunning, status.State)
	assert.False(t, status.Stale)
}

func TestLinkSurvivesMalformedDatagrams(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 0)

	// Garbage of assorted shapes, including a corrupted real packet.
	for i := 0; i < 9; i++ {
		device.sendTo(t, port, make([]byte, 7*i+1))
	}
	corrupted := broadcastPacket(480, 1)
	corrupted[50] ^= 0xFF
	device.sendTo(t, port, corrupted)

	device.sendTo(t, port, broadcastPacket(480, 2))

	require.Eventually(t, func() bool {
		_, ok := link.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(10), link.DecodeFailures())
	status, _ := link.Latest()
	assert.Equal(t, uint32(2), status.Frame.Timestamp)
}

func TestLinkDropsDuplicateBroadcasts(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 0)

	statuses := make(chan DerivedStatus, 16)
	defer link.ListenToStatus(statuses)()

	// The pool transmits every broadcast twice.
	first := broadcastPacket(480, 1)
	device.sendTo(t, port, first)
	device.sendTo(t, port, first)
	second := broadcastPacket(479, 2)
	device.sendTo(t, port, second)
	device.sendTo(t, port, second)

	require.Eventually(t, func() bool {
		status, ok := link.Latest()
		return ok && status.Frame.Timestamp == 2
	}, time.Second, 5*time.Millisecond)

	count := 0
	for {
		select {
		case <-statuses:
			count++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 2, count, "duplicates must not be republished")
}

func TestLinkMarksStatusStale(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 100*time.Millisecond)

	device.sendTo(t, port, broadcastPacket(480, 1))

	require.Eventually(t, func() bool {
		_, ok := link.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		status, _ := link.Latest()
		return status.Stale
	}, time.Second, 10*time.Millisecond, "silence never marked the status stale")

	// Last known values survive the staleness flip.
	status, _ := link.Latest()
	assert.Equal(t, 480, status.Frame.RemainingTimer)
}

func TestLinkDuplicateBroadcastClearsStale(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 100*time.Millisecond)

	pkt := broadcastPacket(480, 1)
	device.sendTo(t, port, pkt)

	require.Eventually(t, func() bool {
		status, ok := link.Latest()
		return ok && status.Stale
	}, time.Second, 10*time.Millisecond, "silence never marked the status stale")

	// An idle pool can resend a byte-identical packet within the same
	// timestamp second; it still proves the device is back.
	device.sendTo(t, port, pkt)

	require.Eventually(t, func() bool {
		status, _ := link.Latest()
		return !status.Stale
	}, time.Second, 5*time.Millisecond, "duplicate broadcast must clear the stale flag")
}

func TestLinkSendCommandReachesPool(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 0)

	cmd, err := NewCommand(CmdSpeed, 130)
	require.NoError(t, err)
	require.NoError(t, link.SendCommand(cmd))

	device.conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, _, err := device.conn.ReadFromUDP(buf)
	require.NoError(t, err)

	op, param, err := protocol.DecodeCommand(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.OpSetSpeed, op)
	assert.Equal(t, 130, param)
}

func TestLinkListenerReplaysLatest(t *testing.T) {
	device := newPoolSocket(t)
	port := freeUDPPort(t)
	link := newTestLink(t, device.addr(), port, 0)

	device.sendTo(t, port, broadcastPacket(480, 1))
	require.Eventually(t, func() bool {
		_, ok := link.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	late := make(chan DerivedStatus, 1)
	defer link.ListenToStatus(late)()

	select {
	case status := <-late:
		assert.Equal(t, uint32(1), status.Frame.Timestamp)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("late listener never received the current snapshot")
	}
}
