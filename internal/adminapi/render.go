package adminapi

import (
	"net"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
)

// renderValue turns one field's raw bytes into a JSON-friendly value,
// the same per-kind dispatch internal/fwm's writeFieldSQL and
// internal/clsf's renderField use for SQL/directory rendering,
// retargeted at JSON responses for the dump endpoints.
func renderValue(fs *fields.FieldSpec, raw []byte) interface{} {
	if fs.Descriptor == nil {
		return fields.Uint64At(raw, fs.Size())
	}
	switch fs.Descriptor.Kind {
	case fields.KindAddr4, fields.KindAddr6:
		return net.IP(raw).String()
	case fields.KindMAC:
		return net.HardwareAddr(raw).String()
	case fields.KindString:
		end := len(raw)
		for end > 0 && raw[end-1] == 0 {
			end--
		}
		return string(raw[:end])
	default:
		return fields.Uint64At(raw, fs.Descriptor.Size)
	}
}

// renderRecord renders the subset of flowrec.Record fields populated on
// r into a flat JSON-friendly map, backing the live flow tail.
func renderRecord(r *flowrec.Record) map[string]interface{} {
	out := make(map[string]interface{})
	add := func(name string, f *flowrec.Field) {
		if !f.Present {
			return
		}
		fd := fields.Lookup(name)
		if fd == nil {
			return
		}
		fs := &fields.FieldSpec{Descriptor: fd}
		out[name] = renderValue(fs, f.Value())
	}
	add("src ip", &r.SrcAddr4)
	add("dst ip", &r.DstAddr4)
	add("src port", &r.SrcPort)
	add("dst port", &r.DstPort)
	add("proto", &r.Proto)
	add("bytes", &r.Bytes)
	add("packets", &r.Packets)
	add("dns_name", &r.DNSName)
	add("sni", &r.SNI)
	return out
}
