// Package flowrec defines the flat flow-record shape produced by the
// (out-of-scope) NetFlow v5/v9/IPFIX/sFlow decoders and consumed by
// everything downstream: the filter DSL, field accessors, and the three
// analytics engines.
package flowrec

import "time"

// maxFieldBytes bounds the raw storage for any single field slot. IPv6
// addresses (16 bytes) are the largest fixed-size field; variable-length
// text fields (DNS name, SNI) are capped at this size and truncated.
const maxFieldBytes = 64

// Field is one slot in a Record: raw network-order bytes, the number of
// bytes actually recorded, and whether the decoder populated it at all.
type Field struct {
	Bytes   [maxFieldBytes]byte
	Size    int
	Present bool
}

// Set copies b verbatim into the field, marking it present. b longer than
// maxFieldBytes is truncated, mirroring the decoder's fixed-size slots.
func (f *Field) Set(b []byte) {
	n := copy(f.Bytes[:], b)
	f.Size = n
	f.Present = true
}

// Value returns the recorded bytes.
func (f *Field) Value() []byte {
	return f.Bytes[:f.Size]
}

// Record is a flat struct with one slot per known field. It is owned
// transiently by a single dispatch call and is never shared across
// goroutines — each ingest thread decodes, dispatches, and discards its
// own Record.
type Record struct {
	SrcAddr4 Field
	DstAddr4 Field
	SrcAddr6 Field
	DstAddr6 Field
	SrcPort  Field
	DstPort  Field
	Proto    Field
	TCPFlags Field
	Bytes    Field
	Packets  Field
	InputIf  Field
	OutputIf Field
	TOS      Field
	TTL      Field
	SrcMAC   Field
	DstMAC   Field
	VLAN     Field

	DNSName Field
	DNSIPs  Field
	SNI     Field

	// Virtual fields, populated by the collector rather than the wire
	// decoder (spec.md §3 "Flow record").
	DeviceIP     Field
	DeviceID     Field
	DeviceMark   Field
	SamplingRate uint32

	// ClassName is written by the CLSF engine when a reverse-lookup hit
	// occurs, so later engines (debug dump) can render it.
	ClassName string

	// ReceivedAt is stamped by the dispatcher at the start of processing;
	// MAVG's decay math and the filter DSL itself never read it directly,
	// but engines use it as "now" for a single dispatch call so that one
	// flow is decayed against one consistent timestamp.
	ReceivedAt time.Time

	HasDNS bool
	HasSNI bool
}

// IsIPv4 reports whether the flow carries an IPv4 address pair.
func (r *Record) IsIPv4() bool {
	return r.SrcAddr4.Present || r.DstAddr4.Present
}
