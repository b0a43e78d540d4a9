// Package sniff extracts reverse-DNS and TLS SNI hints from flow
// payload snippets a decoder hands it, spec.md's supplemented component
// J. Grounded on original_source/xe-dns.h (DNS response parsing) and
// xe-sni.h (TLS ClientHello SNI extraction) — both static inline C
// helpers called from the packet-capture path, ported here as ordinary
// Go functions operating on a byte slice instead of raw pointers.
package sniff

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

var errShort = errors.New("sniff: packet too short")

const maxNameLen = 253

// dnsHeader mirrors arpa/nameser.h's HEADER bitfield layout (the fields
// xe_dns actually reads): qr/opcode/rcode from the flags word, then the
// four 16-bit section counts.
type dnsHeader struct {
	id      uint16
	flags   uint16
	qdcount uint16
	ancount uint16
	nscount uint16
	arcount uint16
}

func (h dnsHeader) qr() bool     { return h.flags&0x8000 != 0 }
func (h dnsHeader) opcode() int  { return int(h.flags>>11) & 0xf }
func (h dnsHeader) rcode() int   { return int(h.flags) & 0xf }

func parseDNSHeader(p []byte) (dnsHeader, error) {
	if len(p) < 12 {
		return dnsHeader{}, errShort
	}
	return dnsHeader{
		id:      binary.BigEndian.Uint16(p[0:2]),
		flags:   binary.BigEndian.Uint16(p[2:4]),
		qdcount: binary.BigEndian.Uint16(p[4:6]),
		ancount: binary.BigEndian.Uint16(p[6:8]),
		nscount: binary.BigEndian.Uint16(p[8:10]),
		arcount: binary.BigEndian.Uint16(p[10:12]),
	}, nil
}

// DNSResult is what DNS recovered from a response payload.
type DNSResult struct {
	Domain string
	IPs    []net.IP
}

// DNS parses p as a DNS response: the queried name from the question
// section, plus any A/AAAA answer addresses. Returns (nil, false) on any
// malformed or non-response packet, matching xe_dns's "return 0" bail-out
// policy rather than a detailed error.
func DNS(p []byte) (*DNSResult, bool) {
	h, err := parseDNSHeader(p)
	if err != nil {
		return nil, false
	}
	if !h.qr() || h.opcode() != 0 || h.rcode() != 0 {
		return nil, false
	}
	if h.qdcount == 0 || h.ancount == 0 {
		return nil, false
	}

	pos := 12
	domain, pos, err := readQName(p, pos, true)
	if err != nil {
		return nil, false
	}
	for i := 1; i < int(h.qdcount); i++ {
		_, pos, err = readQName(p, pos, true)
		if err != nil {
			return nil, false
		}
	}
	if pos > len(p) {
		return nil, false
	}

	res := &DNSResult{Domain: domain}

	for i := 0; i < int(h.ancount); i++ {
		_, newPos, err := readQName(p, pos, false)
		if err != nil {
			return nil, false
		}
		pos = newPos

		if pos+10 > len(p) {
			return nil, false
		}
		rtype := binary.BigEndian.Uint16(p[pos : pos+2])
		rdlen := int(binary.BigEndian.Uint16(p[pos+8 : pos+10]))
		dataStart := pos + 10
		if dataStart+rdlen > len(p) {
			return nil, false
		}

		switch {
		case rtype == 1 && rdlen == 4: // A
			ip := make(net.IP, 4)
			copy(ip, p[dataStart:dataStart+4])
			res.IPs = append(res.IPs, ip)
		case rtype == 28 && rdlen == 16: // AAAA
			ip := make(net.IP, 16)
			copy(ip, p[dataStart:dataStart+16])
			res.IPs = append(res.IPs, ip)
		}

		pos = dataStart + rdlen
	}

	if len(res.IPs) == 0 {
		logrus.WithField("domain", domain).Debug("sniff: dns response carried no A/AAAA answers")
		return nil, false
	}
	return res, true
}

// readQName reads one DNS name starting at pos, following compression
// pointers (the 0xc0-tagged offset form xe_dns handles via its p_save
// rewind). If advancePastQuestion is true, the returned position is past the
// name's trailing qtype+qclass (question section); otherwise it is
// exactly past the name's encoding in the message (answer section,
// where the caller still needs to read type/class/ttl/rdlength itself).
func readQName(p []byte, pos int, advancePastQuestion bool) (string, int, error) {
	var sb []byte
	cur := pos
	jumped := false
	afterPointer := -1

	for i := 0; i < 128; i++ { // bound against pointer loops
		if cur >= len(p) {
			return "", 0, errShort
		}
		l := int(p[cur])
		if l == 0 {
			cur++
			break
		}
		if l&0xc0 == 0xc0 {
			if cur+1 >= len(p) {
				return "", 0, errShort
			}
			offset := int(binary.BigEndian.Uint16(p[cur:cur+2])) & 0x3fff
			if !jumped {
				afterPointer = cur + 2
				jumped = true
			}
			cur = offset
			continue
		}
		cur++
		if cur+l > len(p) || len(sb)+l > maxNameLen {
			return "", 0, errShort
		}
		sb = append(sb, p[cur:cur+l]...)
		sb = append(sb, '.')
		cur += l
	}

	end := cur
	if jumped {
		end = afterPointer
	}
	if advancePastQuestion {
		end += 4 // qtype + qclass
	}
	return string(sb), end, nil
}
