//go:build linux

package covert

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// requireRawSockets skips the test when the environment cannot open raw
// sockets (no root / CAP_NET_RAW).
func requireRawSockets(t *testing.T) {
	t.Helper()
	c, err := net.ListenIP("ip4:tcp", &net.IPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err == nil {
		_ = c.Close()
		return
	}
	if errors.Is(err, os.ErrPermission) {
		t.Skipf("raw sockets unavailable: %v", err)
	}
	require.NoError(t, err)
}

// captureEmitter records every emitted frame. shortAfter > 0 makes the
// shortAfter-th emit and every later one report one byte fewer than
// requested; failAfter > 0 makes the failAfter-th emit and every later one
// error without recording the frame.
type captureEmitter struct {
	mu         sync.Mutex
	packets    [][]byte
	dsts       []net.IP
	shortAfter int
	failAfter  int
	closed     bool
}

func (e *captureEmitter) emit(pkt []byte, dst net.IP) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.packets) + 1
	if e.failAfter > 0 && n >= e.failAfter {
		return 0, errors.New("emit failed")
	}
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	e.packets = append(e.packets, cp)
	e.dsts = append(e.dsts, dst)
	if e.shortAfter > 0 && n >= e.shortAfter {
		return len(pkt) - 1, nil
	}
	return len(pkt), nil
}

func (e *captureEmitter) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *captureEmitter) snapshot() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.packets))
	copy(out, e.packets)
	return out
}

// fakeSource replays queued frames to the receiver, then blocks until the
// read half is shut down, at which point recv returns 0 like the real socket.
type fakeSource struct {
	ch       chan []byte
	shut     chan struct{}
	shutOnce sync.Once
}

func newFakeSource(frames ...[]byte) *fakeSource {
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	return &fakeSource{ch: ch, shut: make(chan struct{})}
}

func (f *fakeSource) recv(buf []byte) (int, error) {
	select {
	case p := <-f.ch:
		return copy(buf, p), nil
	case <-f.shut:
		return 0, nil
	}
}

func (f *fakeSource) shutdownRead() {
	f.shutOnce.Do(func() { close(f.shut) })
}

func (f *fakeSource) close() error { return nil }

// testFrame builds an IPv4+TCP frame the way a peer (or a bouncer) would,
// with full control over seq, ack, and flag bits.
func testFrame(t *testing.T, seq, ack uint32, flags uint16, srcIP, dstIP net.IP, srcPort, dstPort uint16) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	tcp := &layers.TCP{
		SrcPort:    layers.TCPPort(srcPort),
		DstPort:    layers.TCPPort(dstPort),
		Seq:        seq,
		Ack:        ack,
		DataOffset: 5,
		Window:     tcpWindow,
		FIN:        flags&flagFIN != 0,
		SYN:        flags&flagSYN != 0,
		RST:        flags&flagRST != 0,
		PSH:        flags&flagPSH != 0,
		ACK:        flags&flagACK != 0,
		URG:        flags&flagURG != 0,
		ECE:        flags&flagECE != 0,
		CWR:        flags&flagCWR != 0,
		NS:         flags&flagNS != 0,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, tcp))
	return buf.Bytes()
}

// mustDecode parses a built frame back into its headers for assertions.
func mustDecode(t *testing.T, pkt []byte) (layers.IPv4, layers.TCP) {
	t.Helper()
	require.GreaterOrEqual(t, len(pkt), 20)
	ihl := int(pkt[0]&0x0F) * 4
	ip, tcp, ok := decodePacket(pkt, ihl)
	require.True(t, ok, "frame did not decode")
	return ip, tcp
}
