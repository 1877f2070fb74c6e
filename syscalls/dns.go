package syscalls

import (
	"encoding/binary"
	"strings"

	"github.com/poecap/poe/events"
)

// DNS resource record type codes (RFC 1035), the subset the teacher's
// network/types.go DNSInfo recognized.
const (
	DNSTypeA     = 1
	DNSTypeNS    = 2
	DNSTypeCNAME = 5
	DNSTypeSOA   = 6
	DNSTypeWKS   = 11
	DNSTypePTR   = 12
	DNSTypeMX    = 15
	DNSTypeTXT   = 16
	DNSTypeAAAA  = 28
	DNSTypeSRV   = 33
	DNSTypeANY   = 255
)

// dnsQRBit is the high bit of the DNS header's flags word (RFC 1035 §4.1.1):
// 0 for a query, 1 for a response.
const dnsQRBit = 0x8000

// maxDNSPayload bounds how much of a sendto/recvfrom buffer decodeDNS reads;
// a DNS message over UDP never exceeds the path MTU in practice.
const maxDNSPayload = 1500

// decodeDNS inspects a UDP payload observed via a sendto/recvfrom pair and,
// if it is addressed to or from port 53 and parses as a well-formed DNS
// message, returns the decoded record that feeds the store's dns table
// (SPEC_FULL.md §4's dropped-feature restoration, grounded on the teacher's
// network/tracking.go DNSRequestCache). Other ports, an unreadable buffer
// or a payload shorter than the 12-byte header yield nil; a question
// section that is truncated or compressed still yields the header fields,
// with QueryName and QueryType left empty.
func (d *Decoder) decodeDNS(pid int, tsNS int64, bufAddr, length uint64, peerAddr string) *events.DNS {
	if !strings.HasSuffix(peerAddr, ":53") || length == 0 {
		return nil
	}
	if length > maxDNSPayload {
		length = maxDNSPayload
	}

	payload := ReadBytes(pid, bufAddr, uint32(length))
	if payload == nil {
		return nil
	}

	msg, ok := parseDNSMessage(payload)
	if !ok {
		return nil
	}
	return &events.DNS{
		TimestampNS:   tsNS,
		TaskID:        pid,
		TransactionID: msg.txid,
		IsResponse:    msg.isResponse,
		Flags:         msg.flags,
		QuestionCount: msg.qdCount,
		AnswerCount:   msg.anCount,
		QueryName:     msg.name,
		QueryType:     msg.qtype,
		PeerAddr:      peerAddr,
	}
}

type dnsMessage struct {
	txid       uint16
	isResponse bool
	flags      uint16
	qdCount    uint16
	anCount    uint16
	name       string
	qtype      uint16
}

// parseDNSMessage decodes a raw UDP payload's 12-byte header and, if a
// question is present, its first question-section name and type. It does
// not follow compression pointers: a compliant client never compresses a
// question name, so a pointer there leaves the name and type empty while
// the header fields are still returned.
func parseDNSMessage(payload []byte) (dnsMessage, bool) {
	if len(payload) < 12 {
		return dnsMessage{}, false
	}

	msg := dnsMessage{
		txid:    binary.BigEndian.Uint16(payload[0:2]),
		flags:   binary.BigEndian.Uint16(payload[2:4]),
		qdCount: binary.BigEndian.Uint16(payload[4:6]),
		anCount: binary.BigEndian.Uint16(payload[6:8]),
	}
	msg.isResponse = msg.flags&dnsQRBit != 0

	if msg.qdCount == 0 {
		return msg, true
	}

	name, off, ok := readDNSName(payload, 12)
	if !ok || off+4 > len(payload) {
		return msg, true
	}
	msg.name = sanitizeDNSName(name)
	msg.qtype = binary.BigEndian.Uint16(payload[off : off+2])
	return msg, true
}

// readDNSName decodes a sequence of length-prefixed labels starting at off,
// stopping at the terminating zero-length label.
func readDNSName(payload []byte, off int) (string, int, bool) {
	var labels []string
	for {
		if off >= len(payload) {
			return "", 0, false
		}
		n := int(payload[off])
		if n == 0 {
			off++
			break
		}
		if n&0xC0 != 0 {
			// Compression pointer: not expected in a question name, bail
			// rather than chase it into the wrong part of the packet.
			return "", 0, false
		}
		off++
		if off+n > len(payload) {
			return "", 0, false
		}
		labels = append(labels, string(payload[off:off+n]))
		off += n
	}
	return strings.Join(labels, "."), off, true
}

// sanitizeDNSName defends against a malformed or hostile label set leaking
// control characters into the store, mirroring the teacher's
// network/tracking.go sanitizeDNSName guard: truncate to 255 bytes and
// strip anything outside the printable hostname charset.
func sanitizeDNSName(name string) string {
	if len(name) > 255 {
		name = name[:255]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
