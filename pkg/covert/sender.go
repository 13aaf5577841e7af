//go:build linux

package covert

import (
	"context"
	"log/slog"
	"math/rand"
	"net"

	"github.com/jonboulle/clockwork"
)

// Sender transmits messages over the covert channel, one payload byte per
// forged SYN packet. It holds no open resources between calls; each Send
// opens and closes its own raw socket.
type Sender struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock

	openEmitter func() (emitter, error)
}

// Send encodes data into forged SYN packets and emits them, pacing with the
// configured delay between packets. The low byte of each packet's sequence
// number carries one payload byte; the upper 24 bits are random so adjacent
// packets are always distinguishable, even when the payload repeats.
//
// If progress is non-nil, the cumulative byte count is pushed (without
// blocking) whenever the percentage of sent bytes increases by at least 1%.
// Cancelling ctx aborts the call during an inter-packet wait.
//
// On success Send returns len(data), not a count of network bytes.
func (s *Sender) Send(ctx context.Context, data []byte, progress chan<- int) (int, error) {
	msgLen := len(data)

	em, err := s.openEmitter()
	if err != nil {
		return 0, err
	}
	defer em.close()

	// In bounce mode the source is spoofed as the friend and the packet goes
	// to the bouncer, whose SYN-ACK replies reach the friend. In direct mode
	// packets travel origin -> friend.
	var srcIP, dstIP net.IP
	var srcPort, dstPort uint16
	if s.cfg.Bounce {
		srcIP, dstIP = s.cfg.FriendIP, s.cfg.OriginIP
		srcPort, dstPort = s.cfg.FriendPort, s.cfg.OriginPort
	} else {
		srcIP, dstIP = s.cfg.OriginIP, s.cfg.FriendIP
		srcPort, dstPort = s.cfg.OriginPort, s.cfg.FriendPort
	}

	currSeq := rand.Uint32()
	sendCount := 0
	sentPercent := 0

	for _, b := range data {
		// A bouncer that gets no ACK retransmits its SYN-ACK, so the receiver
		// deduplicates on the full sequence value. Successive packets must
		// therefore never share one; redraw until they differ.
		for {
			newSeq := rand.Uint32()&0xFFFFFF00 | uint32(b)
			if newSeq != currSeq {
				currSeq = newSeq
				break
			}
		}

		if err := s.emitPacket(em, currSeq, flagSYN, srcIP, dstIP, srcPort, dstPort); err != nil {
			return 0, err
		}
		sendCount++

		if progress != nil {
			pct := sendCount * 100 / msgLen
			if pct > sentPercent {
				sentPercent = pct
				select {
				case progress <- sendCount:
				default:
				}
			}
		}

		if err := sleepFor(ctx, s.clock, s.cfg.GetDelay()); err != nil {
			return 0, err
		}
	}

	// Protocol delimiting: one trailing ACK marks end of message. Direct mode
	// delivers it to the friend as-is; a bouncer answers it with an RST to
	// the spoofed source, which is what the friend watches for.
	if s.cfg.Delimiter == DelimProtocol {
		if err := s.emitPacket(em, rand.Uint32(), flagACK, srcIP, dstIP, srcPort, dstPort); err != nil {
			return 0, err
		}
	}

	if s.log != nil {
		s.log.Debug("covert/send: message sent", "bytes", msgLen, "bounce", s.cfg.Bounce)
	}
	return msgLen, nil
}

func (s *Sender) emitPacket(em emitter, seq uint32, flags uint16, srcIP, dstIP net.IP, srcPort, dstPort uint16) error {
	pkt, err := buildPacket(seq, flags, srcIP, dstIP, srcPort, dstPort)
	if err != nil {
		return err
	}
	n, err := em.emit(pkt, dstIP)
	if err != nil {
		return err
	}
	if n != len(pkt) {
		return ErrShortSend
	}
	return nil
}
