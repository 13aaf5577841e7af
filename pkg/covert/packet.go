//go:build linux

package covert

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// TCP flag bits as they appear on the wire (NS lives in the reserved nibble).
const (
	flagFIN uint16 = 0x001
	flagSYN uint16 = 0x002
	flagRST uint16 = 0x004
	flagPSH uint16 = 0x008
	flagACK uint16 = 0x010
	flagURG uint16 = 0x020
	flagECE uint16 = 0x040
	flagCWR uint16 = 0x080
	flagNS  uint16 = 0x100
)

// packetLen is the size of every emitted frame: a bare IPv4 header followed
// by a bare TCP header, no options, no payload.
const packetLen = 40

const tcpWindow = 32768

// buildPacket serializes a 40-byte IPv4+TCP frame carrying seq and flags
// between the given endpoints. Both checksums are computed; the TCP checksum
// covers the IPv4 pseudo-header.
func buildPacket(seq uint32, flags uint16, srcIP, dstIP net.IP, srcPort, dstPort uint16) ([]byte, error) {
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
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodePacket splits an inbound frame into its IPv4 and TCP headers. The
// caller has already verified pkt is at least ihl bytes; anything that still
// fails to decode is noise on the raw socket and reported as !ok.
func decodePacket(pkt []byte, ihl int) (ip layers.IPv4, tcp layers.TCP, ok bool) {
	if err := ip.DecodeFromBytes(pkt[:ihl], gopacket.NilDecodeFeedback); err != nil {
		return ip, tcp, false
	}
	if err := tcp.DecodeFromBytes(pkt[ihl:], gopacket.NilDecodeFeedback); err != nil {
		return ip, tcp, false
	}
	return ip, tcp, true
}

// tcpFlagBits collapses the decoded per-flag booleans back into the wire
// bitmask so flag comparisons can be exact across all nine bits.
func tcpFlagBits(tcp *layers.TCP) uint16 {
	var f uint16
	if tcp.FIN {
		f |= flagFIN
	}
	if tcp.SYN {
		f |= flagSYN
	}
	if tcp.RST {
		f |= flagRST
	}
	if tcp.PSH {
		f |= flagPSH
	}
	if tcp.ACK {
		f |= flagACK
	}
	if tcp.URG {
		f |= flagURG
	}
	if tcp.ECE {
		f |= flagECE
	}
	if tcp.CWR {
		f |= flagCWR
	}
	if tcp.NS {
		f |= flagNS
	}
	return f
}
