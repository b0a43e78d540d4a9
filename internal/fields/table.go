// Package fields implements the field-descriptor table ("X-macro field
// table" in spec.md §9) and the field accessor / key-builder machinery of
// spec.md §4.1. One declarative table is the single source of truth for:
// filter-DSL keyword tokens (internal/filter), key-layout byte sizes
// (internal/fwm, internal/mavg, internal/clsf), and debug-dump rendering
// (internal/adminapi).
package fields

import (
	"encoding/binary"

	"xenoflow/internal/flowrec"
)

// Kind is the wire type of a field, used by the filter DSL to decide which
// literal grammar (address, range, mac, string) applies.
type Kind int

const (
	KindAddr4 Kind = iota
	KindAddr6
	KindRange
	KindMAC
	KindString
)

// Getter reads a field's raw bytes out of a flow record, returning
// (bytes, present).
type Getter func(r *flowrec.Record) ([]byte, bool)

// Descriptor describes one named position in a flow record (spec.md §3
// "Field descriptor"). Fields with a Src/Dst pair (address, port, mac,
// interface) expose both getters; fields with no direction (byte count,
// protocol, TCP flags, ...) only populate Get.
type Descriptor struct {
	Name       string
	Display    string
	Kind       Kind
	Size       int
	Aggregable bool

	Get    Getter
	GetSrc Getter
	GetDst Getter
}

// HasDirection reports whether the field exposes distinct src/dst slots.
func (d *Descriptor) HasDirection() bool {
	return d.GetSrc != nil || d.GetDst != nil
}

func fieldGetter(fn func(r *flowrec.Record) *flowrec.Field) Getter {
	return func(r *flowrec.Record) ([]byte, bool) {
		f := fn(r)
		return f.Value(), f.Present
	}
}

// FieldTable is the declarative field list. Grounded on
// original_source/flow-info.h's FIELD x-macro list and spec.md §3's
// enumeration of known NetFlow/IPFIX/sFlow slots.
var FieldTable = []*Descriptor{
	{
		Name: "ip", Display: "ip address", Kind: KindAddr4, Size: 4,
		GetSrc: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.SrcAddr4 }),
		GetDst: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DstAddr4 }),
	},
	{
		Name: "ip6", Display: "ipv6 address", Kind: KindAddr6, Size: 16,
		GetSrc: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.SrcAddr6 }),
		GetDst: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DstAddr6 }),
	},
	{
		Name: "port", Display: "port", Kind: KindRange, Size: 2,
		GetSrc: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.SrcPort }),
		GetDst: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DstPort }),
	},
	{
		Name: "mac", Display: "mac address", Kind: KindMAC, Size: 6,
		GetSrc: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.SrcMAC }),
		GetDst: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DstMAC }),
	},
	{
		Name: "iface", Display: "interface index", Kind: KindRange, Size: 4,
		GetSrc: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.InputIf }),
		GetDst: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.OutputIf }),
	},
	{
		Name: "proto", Display: "protocol", Kind: KindRange, Size: 1,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.Proto }),
	},
	{
		Name: "tcpflags", Display: "tcp flags", Kind: KindRange, Size: 1,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.TCPFlags }),
	},
	{
		Name: "tos", Display: "tos", Kind: KindRange, Size: 1,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.TOS }),
	},
	{
		Name: "ttl", Display: "ttl", Kind: KindRange, Size: 1,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.TTL }),
	},
	{
		Name: "vlan", Display: "vlan", Kind: KindRange, Size: 2,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.VLAN }),
	},
	{
		Name: "bytes", Display: "octets", Kind: KindRange, Size: 8, Aggregable: true,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.Bytes }),
	},
	{
		Name: "packets", Display: "packets", Kind: KindRange, Size: 8, Aggregable: true,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.Packets }),
	},
	{
		Name: "dns_name", Display: "dns name", Kind: KindString, Size: 64,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DNSName }),
	},
	{
		Name: "dns_ip", Display: "dns answer ip", Kind: KindAddr4, Size: 4,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DNSIPs }),
	},
	{
		Name: "sni", Display: "tls sni", Kind: KindString, Size: 64,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.SNI }),
	},
	{
		Name: "dev_ip", Display: "device ip", Kind: KindAddr4, Size: 4,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DeviceIP }),
	},
	{
		Name: "dev_id", Display: "device id", Kind: KindRange, Size: 4,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DeviceID }),
	},
	{
		Name: "dev_mark", Display: "device mark", Kind: KindRange, Size: 4,
		Get: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DeviceMark }),
	},
	{
		Name: "host", Display: "host address", Kind: KindAddr4, Size: 4,
		GetSrc: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.SrcAddr4 }),
		GetDst: fieldGetter(func(r *flowrec.Record) *flowrec.Field { return &r.DstAddr4 }),
	},
}

var byName = func() map[string]*Descriptor {
	m := make(map[string]*Descriptor, len(FieldTable))
	for _, d := range FieldTable {
		m[d.Name] = d
	}
	return m
}()

// Lookup returns the descriptor for a declared field name, or nil.
func Lookup(name string) *Descriptor {
	return byName[name]
}

// Uint64At decodes a big-endian (network order) unsigned integer of width
// size (1, 2, 4 or 8 bytes) from raw field bytes.
func Uint64At(raw []byte, size int) uint64 {
	switch size {
	case 1:
		if len(raw) < 1 {
			return 0
		}
		return uint64(raw[0])
	case 2:
		if len(raw) < 2 {
			return 0
		}
		return uint64(binary.BigEndian.Uint16(raw))
	case 4:
		if len(raw) < 4 {
			return 0
		}
		return uint64(binary.BigEndian.Uint32(raw))
	case 8:
		if len(raw) < 8 {
			return 0
		}
		return binary.BigEndian.Uint64(raw)
	default:
		return 0
	}
}

// PutUint64At writes v as a big-endian integer of width size into dst,
// which must be at least size bytes.
func PutUint64At(dst []byte, v uint64, size int) {
	switch size {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(dst, v)
	}
}
