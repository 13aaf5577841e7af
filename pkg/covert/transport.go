//go:build linux

package covert

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// emitter writes fully-formed IPv4 frames, source address included. The raw
// IPPROTO_RAW socket lets the caller spoof the IP source, which bounce mode
// depends on.
type emitter interface {
	emit(pkt []byte, dst net.IP) (int, error)
	close() error
}

// packetSource yields inbound IPv4/TCP frames with the IP header intact.
// shutdownRead unblocks a pending recv, which then returns 0; it is safe to
// call from another goroutine while recv is blocked.
type packetSource interface {
	recv(buf []byte) (int, error)
	shutdownRead()
	close() error
}

type rawEmitter struct {
	fd int
}

// openRawEmitter opens a raw IPv4 socket for layer-3 TCP emission. IPPROTO_RAW
// implies IP_HDRINCL, but we set it explicitly; the kernel then leaves our
// headers (and spoofed source) alone. Requires CAP_NET_RAW.
func openRawEmitter() (emitter, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("open raw emitter: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set IP_HDRINCL: %w", err)
	}
	return &rawEmitter{fd: fd}, nil
}

func (e *rawEmitter) emit(pkt []byte, dst net.IP) (int, error) {
	dip := dst.To4()
	if dip == nil {
		return 0, fmt.Errorf("emit: destination %s is not IPv4", dst)
	}
	sa := &unix.SockaddrInet4{Addr: [4]byte{dip[0], dip[1], dip[2], dip[3]}}
	for {
		n, err := unix.SendmsgN(e.fd, pkt, nil, sa, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

func (e *rawEmitter) close() error {
	return unix.Close(e.fd)
}

type rawTCPSocket struct {
	fd int
}

// openRawTCPSocket opens a blocking raw socket that receives every inbound
// TCP packet, IP header included. Requires CAP_NET_RAW.
func openRawTCPSocket() (packetSource, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("open raw tcp socket: %w", err)
	}
	return &rawTCPSocket{fd: fd}, nil
}

func (s *rawTCPSocket) recv(buf []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("recv: %w", err)
		}
		return n, nil
	}
}

// shutdownRead closes the read half so a blocked recv returns 0. On Linux a
// working shutdown of a raw socket still reports ENOTCONN; the error carries
// no information here, so it is dropped.
func (s *rawTCPSocket) shutdownRead() {
	_ = unix.Shutdown(s.fd, unix.SHUT_RD)
}

func (s *rawTCPSocket) close() error {
	return unix.Close(s.fd)
}
