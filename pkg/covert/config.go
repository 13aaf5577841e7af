//go:build linux

package covert

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
)

// Delimiter selects how message boundaries are marked on the wire.
type Delimiter int

const (
	// DelimProtocol terminates each message with an extra TCP packet: an ACK
	// sent directly to the friend, or (in bounce mode) an ACK to the bouncer,
	// which answers the friend with an RST. This is the default.
	DelimProtocol Delimiter = iota
	// DelimNone sends payload packets only; the receiver stops when its
	// buffer is full.
	DelimNone
)

// Config fixes the two endpoints of a covert channel. The friend is the peer
// on the other end. The origin is the source IP-port the friend observes on
// incoming packets: the local address in direct mode, or the address of the
// TCP service used to bounce packets off in bounce mode.
//
// Both sides of a channel must agree on mode, ports, and delimiter; a
// mismatch is not an error, the packets are simply filtered out.
type Config struct {
	Logger *slog.Logger // optional

	FriendIP   net.IP // required: IPv4 address of the peer
	OriginIP   net.IP // required: IPv4 local or bouncer address
	FriendPort uint16
	OriginPort uint16

	// Bounce spoofs the packet source as the friend and sends to the origin
	// (the bouncer). The bouncer's SYN-ACK replies carry the covert byte to
	// the friend in their acknowledgement numbers, so no packet travels from
	// sender to receiver directly.
	Bounce bool

	Delimiter Delimiter

	// GetDelay returns the pause inserted after each sent packet. Callers can
	// inject a fixed pace or a jitter distribution; nil means no delay.
	GetDelay func() time.Duration

	// Clock drives the inter-packet pacing timer. Nil means the real clock.
	Clock clockwork.Clock
}

// NewConfig returns a Config for the given endpoints with defaults for
// everything else: direct mode, protocol delimiting, zero inter-packet delay.
func NewConfig(friendIP, originIP net.IP, friendPort, originPort uint16) Config {
	return Config{
		FriendIP:   friendIP,
		OriginIP:   originIP,
		FriendPort: friendPort,
		OriginPort: originPort,
	}
}

// Validate enforces IPv4 endpoints and installs defaults for optional fields.
func (cfg *Config) Validate() error {
	if cfg.FriendIP == nil || cfg.FriendIP.To4() == nil {
		return fmt.Errorf("friend address must be a valid IPv4 address")
	}
	if cfg.OriginIP == nil || cfg.OriginIP.To4() == nil {
		return fmt.Errorf("origin address must be a valid IPv4 address")
	}
	if cfg.GetDelay == nil {
		cfg.GetDelay = func() time.Duration { return 0 }
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Channel binds cfg to a Sender/Receiver pair. Each handle keeps its own
// snapshot of the config. No sockets are opened here; Send and Receive create
// and close their own, so an unused handle costs nothing.
func Channel(cfg Config) (*Sender, *Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	s := &Sender{log: cfg.Logger, cfg: cfg, clock: cfg.Clock, openEmitter: openRawEmitter}
	r := &Receiver{log: cfg.Logger, cfg: cfg, openSocket: openRawTCPSocket}
	return s, r, nil
}
