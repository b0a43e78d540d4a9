package mavg

import (
	"fmt"
	"net"
	"strings"

	"xenoflow/internal/fields"
)

// renderField stringifies one key field's raw bytes for the
// notification file name, matching internal/clsf's renderField closely
// enough to stay readable and filesystem-safe (no slashes).
func renderField(fs *fields.FieldSpec, raw []byte) string {
	switch fs.Descriptor.Kind {
	case fields.KindAddr4, fields.KindAddr6:
		return net.IP(raw).String()
	case fields.KindMAC:
		return strings.ReplaceAll(net.HardwareAddr(raw).String(), ":", "")
	case fields.KindString:
		return strings.TrimRight(string(raw), "\x00")
	default:
		return fmt.Sprintf("%d", fields.Uint64At(raw, fs.Descriptor.Size))
	}
}

// renderKey decodes a concatenated key (built by Window.buildKey) back
// into spec.md §6's "<key-dashed>" notification file segment.
func renderKey(keyFields []*fields.FieldSpec, key []byte) string {
	var b strings.Builder
	off := 0
	for i, fs := range keyFields {
		n := fs.Size()
		if off+n > len(key) {
			break
		}
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(renderField(fs, key[off:off+n]))
		off += n
	}
	return b.String()
}
