package clsf

import (
	"fmt"
	"net"
	"strings"

	"xenoflow/internal/fields"
)

// renderField stringifies one key field's natural (un-inverted) bytes for
// both class_dir and class_name, matching monit_object_field_print_str /
// field_to_string's per-kind formatting closely enough to stay readable
// and filesystem-safe (no slashes).
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
