package sniff

import "encoding/binary"

// SNI extracts the server_name extension from a TLS ClientHello record,
// porting xe_sni's sequential record/handshake/extension walk.
func SNI(p []byte) (string, bool) {
	pos := 0
	if pos+5 > len(p) {
		return "", false
	}
	recType := p[0]
	version := binary.BigEndian.Uint16(p[1:3])
	if recType != 0x16 {
		return "", false
	}
	if version != 0x0301 && version != 0x0303 {
		return "", false
	}
	pos += 5

	if pos+39 > len(p) {
		return "", false
	}
	helloType := p[pos]
	if helloType != 1 {
		return "", false
	}
	sessionIDLen := int(p[pos+38])
	// tls_hello = 1(type)+3(len)+2(version)+32(random)+1(session_id_len) = 39 bytes
	pos += 39 + sessionIDLen
	if pos >= len(p) {
		return "", false
	}

	if pos+2 > len(p) {
		return "", false
	}
	cipherLen := int(binary.BigEndian.Uint16(p[pos : pos+2]))
	pos += 2 + cipherLen
	if pos >= len(p) {
		return "", false
	}

	if pos+1 > len(p) {
		return "", false
	}
	compressLen := int(p[pos])
	pos += 1 + compressLen
	if pos >= len(p) {
		return "", false
	}

	if pos+2 > len(p) {
		return "", false
	}
	extTotalLen := binary.BigEndian.Uint16(p[pos : pos+2])
	if extTotalLen == 0 {
		return "", false
	}
	pos += 2

	for {
		if pos+4 > len(p) {
			return "", false
		}
		extType := binary.BigEndian.Uint16(p[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(p[pos+2 : pos+4]))

		if extType == 0x0000 {
			pos += 4
			// tls_sni = 2(list_len)+1(type)+2(name_len) = 5 bytes header
			if pos+5 > len(p) {
				return "", false
			}
			sniType := p[pos+2]
			nameLen := int(binary.BigEndian.Uint16(p[pos+3 : pos+5]))
			nameStart := pos + 5
			if sniType != 0x00 {
				return "", false
			}
			if nameStart+nameLen > len(p) {
				return "", false
			}
			return string(p[nameStart : nameStart+nameLen]), true
		}

		pos += 4 + extLen
		if pos >= len(p) {
			return "", false
		}
	}
}
