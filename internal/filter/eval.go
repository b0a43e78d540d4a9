package filter

import (
	"bytes"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
)

func basicRaw(bf *BasicFilter, r *flowrec.Record, dir fields.Direction) ([]byte, bool) {
	d := bf.Field
	if !d.HasDirection() {
		return d.Get(r)
	}
	switch dir {
	case fields.DirSrc:
		return d.GetSrc(r)
	case fields.DirDst:
		return d.GetDst(r)
	default:
		return nil, false
	}
}

func matchAddr(bf *BasicFilter, r *flowrec.Record) int {
	check := func(dir fields.Direction) bool {
		raw, ok := basicRaw(bf, r, dir)
		if !ok {
			return false
		}
		for _, v := range bf.Values {
			if v.Addr == nil {
				continue
			}
			// filter_basic_match_addr4/6 never apply the mask (a
			// standing "/* TODO: add mask */" in original_source) —
			// matching is exact-address equality only.
			if bytes.Equal(raw, v.Addr.IP) {
				return true
			}
		}
		return false
	}

	switch bf.Direction {
	case fields.DirSrc:
		return boolToInt(check(fields.DirSrc))
	case fields.DirDst:
		return boolToInt(check(fields.DirDst))
	case fields.DirBoth:
		return boolToInt(check(fields.DirSrc) || check(fields.DirDst))
	default:
		return 0
	}
}

func matchRange(bf *BasicFilter, r *flowrec.Record) int {
	inRange := func(dir fields.Direction) bool {
		raw, ok := basicRaw(bf, r, dir)
		if !ok {
			return false
		}
		v := int64(fields.Uint64At(raw, bf.Field.Size))
		for _, mv := range bf.Values {
			if mv.Range == nil {
				continue
			}
			if v >= mv.Range.Low && v <= mv.Range.High {
				return true
			}
		}
		return false
	}

	switch bf.Direction {
	case fields.DirSrc:
		return boolToInt(inRange(fields.DirSrc))
	case fields.DirDst:
		return boolToInt(inRange(fields.DirDst))
	case fields.DirBoth:
		return boolToInt(inRange(fields.DirSrc) || inRange(fields.DirDst))
	case fields.DirNone:
		return boolToInt(inRange(fields.DirNone))
	default:
		return 0
	}
}

func matchMAC(bf *BasicFilter, r *flowrec.Record) int {
	check := func(dir fields.Direction) bool {
		raw, ok := basicRaw(bf, r, dir)
		if !ok {
			return false
		}
		for _, v := range bf.Values {
			if v.MAC != nil && bytes.Equal(raw, v.MAC) {
				return true
			}
		}
		return false
	}
	switch bf.Direction {
	case fields.DirSrc:
		return boolToInt(check(fields.DirSrc))
	case fields.DirDst:
		return boolToInt(check(fields.DirDst))
	case fields.DirBoth:
		return boolToInt(check(fields.DirSrc) || check(fields.DirDst))
	default:
		return 0
	}
}

func matchString(bf *BasicFilter, r *flowrec.Record) int {
	raw, ok := basicRaw(bf, r, fields.DirNone)
	if !ok {
		return 0
	}
	s := string(bytes.TrimRight(raw, "\x00"))
	for _, v := range bf.Values {
		if s == v.String {
			return 1
		}
	}
	return 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// matchBasic evaluates one BASIC(filter) leaf against a flow record.
// Unknown field id or unsupported direction yields "no match" rather than
// an error, spec.md §4.2.
func matchBasic(bf *BasicFilter, r *flowrec.Record) int {
	switch bf.Type {
	case fields.KindAddr4, fields.KindAddr6:
		return matchAddr(bf, r)
	case fields.KindRange:
		return matchRange(bf, r)
	case fields.KindMAC:
		return matchMAC(bf, r)
	case fields.KindString:
		return matchString(bf, r)
	default:
		return 0
	}
}

// Match evaluates a compiled Expr against a flow record using the fixed-size
// stack machine of spec.md §4.2 / §9. This deliberately reproduces
// original_source/filter.c's indexing exactly: FILTER_OP_NOT writes
// `stack[sp] = ~stack[sp]` without adjusting sp, and FILTER_OP_AND/OR
// combine `stack[sp-1]` and `stack[sp]` before decrementing sp — one
// index off from the "combine the top two, push one" convention the
// opcodes otherwise suggest. Net effect: for any well-formed expression,
// NOT/AND/OR touch a stack slot that the final result never reads, so the
// verdict reduces to the first BASIC term encountered in the postfix
// program (the leftmost atomic rule in the source expression). This is
// reproduced byte-for-byte per spec.md §9's open question rather than
// corrected, since the source's own test-visible behavior depends on it.
func Match(expr *Expr, r *flowrec.Record) int {
	stack := make([]int, len(expr.Ops)+1)
	sp := 0

	for _, op := range expr.Ops {
		switch op.Kind {
		case OpBasic:
			stack[sp] = matchBasic(op.Basic, r)
			sp++
		case OpNot:
			if sp < 1 {
				return 0
			}
			stack[sp] = ^stack[sp]
		case OpAnd:
			if sp < 2 {
				return 0
			}
			stack[sp-1] &= stack[sp]
			sp--
		case OpOr:
			if sp < 2 {
				return 0
			}
			stack[sp-1] |= stack[sp]
			sp--
		default:
			return 0
		}
	}

	if sp != 1 {
		return 0
	}
	return stack[0]
}
