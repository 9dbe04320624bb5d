package dcc

import (
	"encoding/binary"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// offerRegex matches peer announcements of the form:
//
//	DCC SEND "filename" ip port size
//
// where the filename may be quoted or bare and ip is the peer address encoded
// as an unsigned 32-bit integer.
var offerRegex = regexp.MustCompile(`DCC SEND "?(.+[^"])"?\s+(\d+)\s+(\d+)\s+(\d+)\s*`)

// Offer is a parsed transfer announcement. Immutable once parsed; consumed
// exactly once by Download.
type Offer struct {
	Filename   string `json:"filename"`
	PeerAddr   string `json:"peerAddress"`
	PeerPort   int    `json:"peerPort"`
	Size       int64  `json:"declaredSize"`
	SourceText string `json:"-"`
}

// IsOfferLine reports whether the line carries a transfer announcement.
func IsOfferLine(line string) bool {
	return strings.Contains(line, "DCC SEND") && offerRegex.MatchString(line)
}

// ParseOffer parses a single announcement line into an Offer. Returns nil on
// malformed input; it never fails loudly.
func ParseOffer(line string) *Offer {
	m := offerRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	port, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	size, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return nil
	}

	// conversion failures render the sentinel address instead of aborting
	addr := "0.0.0.0"
	if v, err := strconv.ParseUint(m[2], 10, 32); err == nil {
		addr = IntToAddr(uint32(v))
	}

	return &Offer{
		Filename:   m[1],
		PeerAddr:   addr,
		PeerPort:   port,
		Size:       size,
		SourceText: line,
	}
}

// IntToAddr renders an unsigned 32-bit big-endian value as four
// dot-separated octets.
func IntToAddr(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}

// AddrToInt is the inverse of IntToAddr. Returns 0 for anything that is not
// a dotted-quad IPv4 address.
func AddrToInt(addr string) uint32 {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}
