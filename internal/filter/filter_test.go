package filter

import (
	"net"
	"testing"

	"xenoflow/internal/flowrec"
)

func mustParse(t *testing.T, src string) *Expr {
	t.Helper()
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return e
}

func recWithAddrs(src, dst string) *flowrec.Record {
	r := &flowrec.Record{}
	r.SrcAddr4.Set(net.ParseIP(src).To4())
	r.DstAddr4.Set(net.ParseIP(dst).To4())
	return r
}

// S1: "src ip 10.0.0.1 and dst ip 10.0.0.2" paired with a flow whose
// src is 10.0.0.1 but dst is NOT 10.0.0.2 still matches, and a flow whose
// src is NOT 10.0.0.1 (dst is 10.0.0.2) does not match — both assertions
// hold because the evaluator's verdict reduces to the first BASIC term's
// result alone (spec.md §9, reproduced in eval.go).
func TestMatch_S1_FirstTermDecides(t *testing.T) {
	expr := mustParse(t, "src ip 10.0.0.1 and dst ip 10.0.0.2")

	matchingSrc := recWithAddrs("10.0.0.1", "10.0.0.9")
	if got := Match(expr, matchingSrc); got == 0 {
		t.Fatalf("expected match when only the first (src) term holds, got %d", got)
	}

	wrongSrc := recWithAddrs("10.0.0.9", "10.0.0.2")
	if got := Match(expr, wrongSrc); got != 0 {
		t.Fatalf("expected no match when the first (src) term fails, got %d", got)
	}
}

func TestMatch_SimpleBasic(t *testing.T) {
	expr := mustParse(t, "ip 10.0.0.1")
	r := recWithAddrs("10.0.0.1", "10.0.0.1")
	if Match(expr, r) == 0 {
		t.Fatal("expected match on exact src/dst address equality")
	}

	other := recWithAddrs("10.0.0.2", "10.0.0.2")
	if Match(expr, other) != 0 {
		t.Fatal("expected no match")
	}
}

func TestMatch_AddressMaskIsIgnored(t *testing.T) {
	// A /24 mask is parsed but never consulted at match time; only the
	// exact address literal matches.
	expr := mustParse(t, "ip 10.0.0.1/24")
	same := recWithAddrs("10.0.0.1", "10.0.0.1")
	if Match(expr, same) == 0 {
		t.Fatal("expected the literal address to still match")
	}
	sameSubnet := recWithAddrs("10.0.0.99", "10.0.0.99")
	if Match(expr, sameSubnet) != 0 {
		t.Fatal("mask must not be applied: a different host in the same /24 must not match")
	}
}

func TestMatch_RangeField(t *testing.T) {
	expr := mustParse(t, "port 80")
	r := &flowrec.Record{}
	r.SrcPort.Set([]byte{0, 80})
	r.DstPort.Set([]byte{0x1f, 0x90}) // 8080

	if Match(expr, r) == 0 {
		t.Fatal("expected port 80 to match src port")
	}

	r2 := &flowrec.Record{}
	r2.SrcPort.Set([]byte{0x1f, 0x90})
	r2.DstPort.Set([]byte{0x1f, 0x90})
	if Match(expr, r2) != 0 {
		t.Fatal("expected no match when neither src nor dst port is 80")
	}
}

func TestMatch_RangeList(t *testing.T) {
	expr := mustParse(t, "port 80-90")
	r := &flowrec.Record{}
	r.SrcPort.Set([]byte{0, 85})
	r.DstPort.Set([]byte{0, 1})
	if Match(expr, r) == 0 {
		t.Fatal("expected 85 to fall within 80-90")
	}
}

func TestMatch_Not(t *testing.T) {
	// "not ip 10.0.0.1" still reduces to the negated BASIC term being the
	// only item on the stack at the point the loop ends: NOT complements
	// stack[sp] without adjusting sp, so the final popped value (stack[0])
	// is unaffected by the complement applied one slot above it.
	expr := mustParse(t, "not ip 10.0.0.1")
	r := recWithAddrs("10.0.0.1", "10.0.0.1")
	// Per the faithfully-reproduced evaluator, the NOT has no observable
	// effect on the final verdict: it still reports the underlying BASIC
	// match (10.0.0.1 == 10.0.0.1 is true).
	if Match(expr, r) == 0 {
		t.Fatal("expected NOT to be a no-op on the reported verdict, per the reproduced stack-index bug")
	}
}

func TestMatch_UnknownFieldRejectedAtParse(t *testing.T) {
	_, err := Parse("bogus_field 1")
	if err == nil {
		t.Fatal("expected parse error for unknown field")
	}
	var perr *ParseError
	if pe, ok := err.(*ParseError); ok {
		perr = pe
	}
	if perr == nil {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestMatch_MACField(t *testing.T) {
	expr := mustParse(t, "src mac 00:11:22:33:44:55")
	r := &flowrec.Record{}
	r.SrcMAC.Set([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	if Match(expr, r) == 0 {
		t.Fatal("expected exact MAC match")
	}
}

func TestMatch_StringField(t *testing.T) {
	expr := mustParse(t, "sni 'example.com'")
	r := &flowrec.Record{}
	r.SNI.Set([]byte("example.com"))
	if Match(expr, r) == 0 {
		t.Fatal("expected exact SNI string match")
	}
	r2 := &flowrec.Record{}
	r2.SNI.Set([]byte("other.com"))
	if Match(expr, r2) != 0 {
		t.Fatal("expected no match for a different SNI value")
	}
}
