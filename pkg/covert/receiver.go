//go:build linux

package covert

import (
	"context"
	"log/slog"
	"net"
	"sync"
)

// recvBufLen comfortably holds the 40-byte frames this channel uses, plus any
// unrelated TCP traffic the raw socket hands us before filtering.
const recvBufLen = 1024

// Receiver decodes messages from the covert channel. Like Sender, it holds no
// open resources between calls.
type Receiver struct {
	log *slog.Logger
	cfg Config

	openSocket func() (packetSource, error)
}

// Receive fills buf with decoded payload bytes and returns how many were
// read. An empty buf returns 0 immediately.
//
// In protocol-delimited mode, Receive runs until the delimiter packet arrives
// and fails with ErrBufferTooSmall if payload packets continue past the end of
// buf. With DelimNone it returns once buf is full.
//
// The progress parameter is accepted for symmetry with Send but is not yet
// wired. Cancelling ctx shuts down the socket's read half, failing the call
// with ErrReadCancelled.
func (r *Receiver) Receive(ctx context.Context, buf []byte, progress chan<- int) (int, error) {
	_ = progress

	if len(buf) == 0 {
		return 0, nil
	}

	sock, err := r.openSocket()
	if err != nil {
		return 0, err
	}
	defer sock.close()

	// The helper is the only path to shutdownRead; the read loop only ever
	// calls recv. Shutdown is idempotent and never consumes bytes, so the two
	// goroutines share the socket without a lock. done is always closed, even
	// on failure, so the helper cannot dangle.
	done := make(chan struct{})
	var helper sync.WaitGroup
	helper.Add(1)
	go func() {
		defer helper.Done()
		select {
		case <-ctx.Done():
			sock.shutdownRead()
		case <-done:
		}
	}()

	n, err := r.read(sock, buf)
	close(done)
	helper.Wait()
	return n, err
}

func (r *Receiver) read(sock packetSource, buf []byte) (int, error) {
	// The filter tuple is the mirror image of the sender's header selection:
	// direct-mode packets arrive from the friend, bounce-mode packets arrive
	// reflected off the bouncer at the origin address.
	var wantSrcIP net.IP
	var wantSrcPort, wantDstPort uint16
	if r.cfg.Bounce {
		wantSrcIP = r.cfg.OriginIP
		wantSrcPort, wantDstPort = r.cfg.OriginPort, r.cfg.FriendPort
	} else {
		wantSrcIP = r.cfg.FriendIP
		wantSrcPort, wantDstPort = r.cfg.FriendPort, r.cfg.OriginPort
	}

	pkt := make([]byte, recvBufLen)
	var prevVal uint32
	havePrev := false
	pos := 0

	for {
		n, err := sock.recv(pkt)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, ErrReadCancelled
		}
		// Keep the layered length checks: runt frames first, then anything
		// shorter than its own declared header length.
		if n < 8 {
			continue
		}
		ihl := int(pkt[0]&0x0F) * 4
		if n < ihl {
			continue
		}
		ip, tcp, ok := decodePacket(pkt[:n], ihl)
		if !ok {
			continue
		}

		if !ip.SrcIP.Equal(wantSrcIP) {
			continue
		}
		if uint16(tcp.SrcPort) != wantSrcPort || uint16(tcp.DstPort) != wantDstPort {
			continue
		}

		flags := tcpFlagBits(&tcp)

		// Delimiter first: in direct mode the sender closes with an ACK, in
		// bounce mode the bouncer answers the sender's ACK with an RST.
		if r.cfg.Delimiter == DelimProtocol {
			var ended bool
			if r.cfg.Bounce {
				ended = flags&flagRST == flagRST
			} else {
				ended = flags&flagACK == flagACK
			}
			if ended {
				if r.log != nil {
					r.log.Debug("covert/recv: delimiter", "bytes", pos)
				}
				return pos, nil
			}
		}

		// Direct mode carries the byte in the sequence number. A bouncer
		// echoes the sequence back incremented in the acknowledgement number
		// of its SYN-ACK; undo that here.
		var newVal uint32
		var wantFlags uint16
		if r.cfg.Bounce {
			newVal, wantFlags = tcp.Ack-1, flagSYN|flagACK
		} else {
			newVal, wantFlags = tcp.Seq, flagSYN
		}

		// Exact match only: a packet with extra flag bits set is not ours.
		if flags != wantFlags {
			continue
		}

		// Retransmissions repeat the full 32-bit value; legitimate repeats of
		// the same payload byte differ in their random upper bits.
		if !havePrev || prevVal != newVal {
			if pos < len(buf) {
				buf[pos] = byte(newVal)
			}
			pos++

			// With DelimNone a full buffer is the end of the message. With
			// DelimProtocol the buffer may fill exactly and still succeed, as
			// long as the next packet is the delimiter; only a further
			// payload packet makes the buffer too small.
			switch {
			case r.cfg.Delimiter == DelimNone && pos == len(buf):
				return pos, nil
			case r.cfg.Delimiter == DelimProtocol && pos > len(buf):
				return 0, ErrBufferTooSmall
			}
		}
		prevVal, havePrev = newVal, true
	}
}
