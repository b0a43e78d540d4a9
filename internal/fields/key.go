package fields

import (
	"xenoflow/internal/flowrec"
)

// rawValue returns the raw recorded bytes for one FieldSpec against a
// flow record, and whether the field was present. For a DirBoth spec the
// source slot is tried first, then the destination slot.
func rawValue(fs *FieldSpec, r *flowrec.Record) ([]byte, bool) {
	d := fs.Descriptor
	if d.HasDirection() {
		switch fs.Direction {
		case DirSrc:
			return d.GetSrc(r)
		case DirDst:
			return d.GetDst(r)
		case DirBoth:
			b, ok := d.GetSrc(r)
			if ok {
				return b, true
			}
			return d.GetDst(r)
		default:
			return nil, false
		}
	}
	return d.Get(r)
}

func numericValue(fs *FieldSpec, r *flowrec.Record) uint64 {
	switch fs.Func {
	case FuncNone:
		raw, _ := rawValue(fs, r)
		return Uint64At(raw, fs.Descriptor.Size)
	default:
		raw, _ := Eval(fs, r, nil, nil)
		return Uint64At(raw, fs.Size())
	}
}

// Eval computes size bytes for fs against r, resolving function fields
// (spec.md §4.1). freq and geo may be nil if fs is known not to need them
// (callers building keys for fieldsets without mfreq/geoip usage can pass
// nil; Eval only dereferences them on the matching Func branch).
func Eval(fs *FieldSpec, r *flowrec.Record, freq *FreqTable, geo GeoStore) ([]byte, bool) {
	size := fs.Size()
	out := make([]byte, size)

	switch fs.Func {
	case FuncNone:
		raw, ok := rawValue(fs, r)
		if !ok {
			return out, false
		}
		copy(out, raw)
		return out, true

	case FuncDiv:
		a := numericValue(fs.FuncArgs[0], r)
		b := numericValue(fs.FuncArgs[1], r)
		var q uint64
		if b != 0 {
			q = a / b
		}
		PutUint64At(out, q, 8)
		return out, true

	case FuncDivLog:
		a := numericValue(fs.FuncArgs[0], r)
		b := numericValue(fs.FuncArgs[1], r)
		var ratio uint64
		if b != 0 {
			ratio = a / b
		}
		PutUint64At(out, log2Bucket(ratio, fs.Scale), 8)
		return out, true

	case FuncDivScaled:
		a := numericValue(fs.FuncArgs[0], r)
		b := numericValue(fs.FuncArgs[1], r)
		var ratio uint64
		if b != 0 {
			ratio = a / b
		}
		if fs.Scale != 0 {
			ratio /= fs.Scale
		}
		PutUint64At(out, ratio, 8)
		return out, true

	case FuncMin:
		a := numericValue(fs.FuncArgs[0], r)
		b := numericValue(fs.FuncArgs[1], r)
		if a < b {
			rawA, _ := rawValue(fs.FuncArgs[0], r)
			copy(out, rawA)
		} else {
			rawB, _ := rawValue(fs.FuncArgs[1], r)
			copy(out, rawB)
		}
		return out, true

	case FuncMfreq:
		a := numericValue(fs.FuncArgs[0], r)
		b := numericValue(fs.FuncArgs[1], r)
		if freq == nil {
			copy(out, mustRaw(fs.FuncArgs[0], r))
			return out, true
		}
		ca := freq.Bump(a)
		cb := freq.Bump(b)
		var winner *FieldSpec
		switch {
		case ca > cb:
			winner = fs.FuncArgs[0]
		case cb > ca:
			winner = fs.FuncArgs[1]
		case a >= b:
			winner = fs.FuncArgs[0]
		default:
			winner = fs.FuncArgs[1]
		}
		copy(out, mustRaw(winner, r))
		return out, true

	case FuncGeoCountry:
		ip := mustRaw(fs.FuncArgs[0], r)
		s := "?"
		if geo != nil {
			s = geo.Country(ipKeyBytes(ip))
		}
		copy(out, s)
		return out, true

	case FuncGeoCity:
		ip := mustRaw(fs.FuncArgs[0], r)
		s := "?"
		if geo != nil {
			s = geo.City(ipKeyBytes(ip))
		}
		copy(out, s)
		return out, true

	case FuncASN:
		ip := mustRaw(fs.FuncArgs[0], r)
		var asn uint32
		if geo != nil {
			asn = geo.ASN(ipKeyBytes(ip))
		}
		PutUint64At(out, uint64(asn), 4)
		return out, true

	case FuncASD:
		ip := mustRaw(fs.FuncArgs[0], r)
		s := "?"
		if geo != nil {
			s = geo.ASD(ipKeyBytes(ip))
		}
		copy(out, s)
		return out, true

	case FuncTFStr:
		raw := mustRaw(fs.FuncArgs[0], r)
		var flags byte
		if len(raw) > 0 {
			flags = raw[0]
		}
		copy(out, tfstr(flags))
		return out, true

	case FuncPortStr:
		p := numericValue(fs.FuncArgs[0], r)
		copy(out, portstr(p))
		return out, true

	case FuncPPStr:
		p1 := numericValue(fs.FuncArgs[0], r)
		p2 := numericValue(fs.FuncArgs[1], r)
		copy(out, ppstr(p1, p2))
		return out, true
	}

	return out, false
}

func mustRaw(fs *FieldSpec, r *flowrec.Record) []byte {
	raw, _ := rawValue(fs, r)
	return raw
}

// AppendKey writes fs's encoded bytes to buf, applying the descending-sort
// bitwise inversion of spec.md §4.1 / invariant 2 ("Descending sort fields
// are stored bitwise-inverted so ordered iteration yields descending
// order"). The inversion is applied to the raw bytes as-is, without
// endianness conversion, matching spec.md §9's note that sub-32-bit
// descending integers are inverted byte-for-byte rather than
// byte-swapped.
func AppendKey(buf []byte, fs *FieldSpec, r *flowrec.Record, freq *FreqTable, geo GeoStore) []byte {
	val, _ := Eval(fs, r, freq, geo)
	if fs.Descending {
		inv := make([]byte, len(val))
		for i, b := range val {
			inv[i] = ^b
		}
		val = inv
	}
	return append(buf, val...)
}
