package sniff

import (
	"encoding/binary"
	"testing"
)

func encodeName(name string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			out = append(out, byte(len(label)))
			out = append(out, label...)
			start = i + 1
		}
	}
	out = append(out, 0)
	return out
}

func buildDNSResponse(question, answerName string, ip4 []byte) []byte {
	var p []byte
	// header
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint16(hdr[2:4], 0x8180) // qr=1, opcode=0, rcode=0
	binary.BigEndian.PutUint16(hdr[4:6], 1)      // qdcount
	binary.BigEndian.PutUint16(hdr[6:8], 1)      // ancount
	p = append(p, hdr...)

	// question: name + qtype(1) + qclass(1)
	p = append(p, encodeName(question)...)
	qtc := make([]byte, 4)
	binary.BigEndian.PutUint16(qtc[0:2], 1)
	binary.BigEndian.PutUint16(qtc[2:4], 1)
	p = append(p, qtc...)

	// answer: name + type(A=1) + class(1) + ttl(4) + rdlen(2) + rdata(4)
	p = append(p, encodeName(answerName)...)
	ans := make([]byte, 10)
	binary.BigEndian.PutUint16(ans[0:2], 1)
	binary.BigEndian.PutUint16(ans[2:4], 1)
	binary.BigEndian.PutUint32(ans[4:8], 60)
	binary.BigEndian.PutUint16(ans[8:10], uint16(len(ip4)))
	p = append(p, ans...)
	p = append(p, ip4...)

	return p
}

func TestDNSParsesResponse(t *testing.T) {
	pkt := buildDNSResponse("example.com", "example.com", []byte{93, 184, 216, 34})
	res, ok := DNS(pkt)
	if !ok {
		t.Fatal("expected DNS() to parse a well-formed response")
	}
	if res.Domain != "example.com." {
		t.Fatalf("got domain %q", res.Domain)
	}
	if len(res.IPs) != 1 || res.IPs[0].String() != "93.184.216.34" {
		t.Fatalf("got ips %v", res.IPs)
	}
}

func TestDNSRejectsQuery(t *testing.T) {
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint16(hdr[2:4], 0x0100) // qr=0 (query, not response)
	binary.BigEndian.PutUint16(hdr[4:6], 1)
	if _, ok := DNS(hdr); ok {
		t.Fatal("expected DNS() to reject a query packet")
	}
}

func TestDNSRejectsShortPacket(t *testing.T) {
	if _, ok := DNS([]byte{1, 2, 3}); ok {
		t.Fatal("expected DNS() to reject a too-short packet")
	}
}

func buildClientHello(serverName string) []byte {
	var p []byte
	rec := make([]byte, 5)
	rec[0] = 0x16
	binary.BigEndian.PutUint16(rec[1:3], 0x0303)
	p = append(p, rec...)

	hello := make([]byte, 39)
	hello[0] = 1 // client hello
	binary.BigEndian.PutUint16(hello[4:6], 0x0303)
	hello[38] = 0 // session_id_len
	p = append(p, hello...)

	cipherLen := make([]byte, 2)
	binary.BigEndian.PutUint16(cipherLen, 2)
	p = append(p, cipherLen...)
	p = append(p, 0x00, 0x2f)

	p = append(p, 0x01, 0x00) // compression methods: len 1, null

	sniExt := buildSNIExtension(serverName)
	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(len(sniExt)))
	p = append(p, extLen...)
	p = append(p, sniExt...)

	return p
}

func buildSNIExtension(name string) []byte {
	// tls_ext header: type(2)=0x0000, len(2)
	nameBytes := []byte(name)
	sniBody := make([]byte, 2+1+2+len(nameBytes))
	binary.BigEndian.PutUint16(sniBody[0:2], uint16(1+2+len(nameBytes)))
	sniBody[2] = 0x00
	binary.BigEndian.PutUint16(sniBody[3:5], uint16(len(nameBytes)))
	copy(sniBody[5:], nameBytes)

	ext := make([]byte, 4+len(sniBody))
	binary.BigEndian.PutUint16(ext[0:2], 0x0000)
	binary.BigEndian.PutUint16(ext[2:4], uint16(len(sniBody)))
	copy(ext[4:], sniBody)
	return ext
}

func TestSNIExtractsServerName(t *testing.T) {
	pkt := buildClientHello("example.com")
	name, ok := SNI(pkt)
	if !ok {
		t.Fatal("expected SNI() to parse a well-formed ClientHello")
	}
	if name != "example.com" {
		t.Fatalf("got %q", name)
	}
}

func TestSNIRejectsNonHandshake(t *testing.T) {
	p := make([]byte, 10)
	p[0] = 0x17 // application data, not handshake
	if _, ok := SNI(p); ok {
		t.Fatal("expected SNI() to reject a non-handshake record")
	}
}

func TestSNIRejectsShortPacket(t *testing.T) {
	if _, ok := SNI([]byte{0x16, 0x03, 0x03}); ok {
		t.Fatal("expected SNI() to reject a too-short packet")
	}
}
