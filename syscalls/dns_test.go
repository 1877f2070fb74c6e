package syscalls

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDNSQuery(txid uint16, name string, qtype uint16) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], txid)
	binary.BigEndian.PutUint16(buf[4:6], 1) // qdcount
	for _, label := range splitLabels(name) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0) // terminator
	qt := make([]byte, 4)
	binary.BigEndian.PutUint16(qt[0:2], qtype)
	binary.BigEndian.PutUint16(qt[2:4], 1) // qclass IN
	return append(buf, qt...)
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestParseDNSMessageQuery(t *testing.T) {
	payload := buildDNSQuery(0x1234, "example.com", DNSTypeA)
	msg, ok := parseDNSMessage(payload)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), msg.txid)
	assert.False(t, msg.isResponse)
	assert.Equal(t, "example.com", msg.name)
	assert.Equal(t, uint16(DNSTypeA), msg.qtype)
}

func TestParseDNSMessageResponseBit(t *testing.T) {
	payload := buildDNSQuery(0x42, "foo.test", DNSTypeAAAA)
	payload[2] |= 0x80 // set QR bit
	msg, ok := parseDNSMessage(payload)
	require.True(t, ok)
	assert.True(t, msg.isResponse)
}

func TestParseDNSMessageTooShort(t *testing.T) {
	_, ok := parseDNSMessage([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestParseDNSMessageCompressionPointerRejected(t *testing.T) {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint16(payload[4:6], 1)
	payload = append(payload, 0xC0, 0x0C) // compression pointer where a label length is expected
	msg, ok := parseDNSMessage(payload)
	require.True(t, ok) // header still parses
	assert.Empty(t, msg.name)
}

func TestSanitizeDNSNameStripsControlChars(t *testing.T) {
	assert.Equal(t, "example.com", sanitizeDNSName("exa\x00mple.com"))
}
