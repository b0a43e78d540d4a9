package fwm

import (
	"fmt"
	"net"
	"strings"
	"time"

	"xenoflow/internal/fields"
)

// EmitSQL renders one flush's worth of CREATE TABLE + INSERT statements,
// porting fwm_dump's fprintf sequence for both db_type dialects.
func (w *Window) EmitSQL(moName string, t time.Time) string {
	rows, others, hitLimit := w.SortAndDump()
	if len(rows) == 0 {
		return ""
	}

	table := w.TableName(moName)
	var b strings.Builder

	fmt.Fprintf(&b, "create table if not exists %q (\n", table)
	if w.cfg.DBType == DBPostgres {
		b.WriteString("  time TIMESTAMPTZ,\n")
	} else {
		b.WriteString("  time DateTime")
		if w.cfg.ClickHouse.Codec != "" {
			fmt.Fprintf(&b, "  codec(%s)", w.cfg.ClickHouse.Codec)
		}
		b.WriteString(",\n")
	}

	first := true
	writeCol := func(name string, kind fields.Kind, aggr bool) {
		if !first {
			b.WriteString(",\n")
		}
		first = false
		if w.cfg.DBType == DBPostgres {
			switch {
			case aggr:
				fmt.Fprintf(&b, "  %s BIGINT", name)
			case kind == fields.KindAddr4 || kind == fields.KindAddr6:
				fmt.Fprintf(&b, "  %s INET", name)
			case kind == fields.KindMAC:
				fmt.Fprintf(&b, "  %s macaddr", name)
			case kind == fields.KindString:
				fmt.Fprintf(&b, "  %s TEXT", name)
			default:
				fmt.Fprintf(&b, "  %s BIGINT", name)
			}
			return
		}
		switch {
		case aggr:
			fmt.Fprintf(&b, "  %s UInt64", name)
		case kind == fields.KindAddr4:
			fmt.Fprintf(&b, "  %s Nullable(IPv4)", name)
		case kind == fields.KindAddr6:
			fmt.Fprintf(&b, "  %s Nullable(IPv6)", name)
		case kind == fields.KindMAC:
			fmt.Fprintf(&b, "  %s Nullable(UInt64)", name)
		case kind == fields.KindString:
			fmt.Fprintf(&b, "  %s Nullable(String)", name)
		default:
			fmt.Fprintf(&b, "  %s UInt64", name)
		}
		if w.cfg.ClickHouse.Codec != "" {
			fmt.Fprintf(&b, "  codec(%s)", w.cfg.ClickHouse.Codec)
		}
	}

	for _, f := range w.cfg.Fields {
		if f.Spec.Aggregable() {
			writeCol(f.SQLName, 0, true)
		} else {
			writeCol(f.SQLName, f.Spec.Descriptor.Kind, false)
		}
	}

	if w.cfg.DBType == DBPostgres {
		b.WriteString(");\n\n")
		if !w.cfg.DontIndex {
			fmt.Fprintf(&b, "create index if not exists %q on %q(time);\n\n", table+"_idx", table)
		}
	} else {
		b.WriteString(") ENGINE = MergeTree() primary key time;\n\n")
	}

	tsFn := "to_timestamp"
	if w.cfg.DBType == DBClickHouse {
		tsFn = "fromUnixTimestamp"
	}

	fmt.Fprintf(&b, "insert into %q values\n", table)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(",")
			if w.cfg.DBType == DBPostgres {
				b.WriteString("\n")
			}
		}
		fmt.Fprintf(&b, "  ( %s(%d), ", tsFn, t.Unix())
		w.writeRowValues(&b, row)
		b.WriteString(")")
	}
	b.WriteString(";\n")

	if hitLimit && others != nil {
		fmt.Fprintf(&b, "insert into %q values ( %s(%d), ", table, tsFn, t.Unix())
		first = true
		valIdx := 0
		for _, f := range w.cfg.Fields {
			if !first {
				b.WriteString(", ")
			}
			first = false
			if f.Spec.Aggregable() {
				fmt.Fprintf(&b, " %d ", others.Values[valIdx])
				valIdx++
			} else {
				b.WriteString(" NULL ")
			}
		}
		b.WriteString(");\n")
	}

	return b.String()
}

func (w *Window) writeRowValues(b *strings.Builder, row Row) {
	first := true
	valIdx := 0
	keyIdx := 0
	for _, f := range w.cfg.Fields {
		if !first {
			b.WriteString(", ")
		}
		first = false
		if f.Spec.Aggregable() {
			fmt.Fprintf(b, " %d ", row.Values[valIdx])
			valIdx++
			continue
		}
		rf := row.KeyFields[keyIdx]
		keyIdx++
		writeFieldSQL(b, rf)
	}
}

func writeFieldSQL(b *strings.Builder, rf RenderedField) {
	switch rf.Spec.Descriptor.Kind {
	case fields.KindAddr4:
		ip := net.IP(rf.Raw).String()
		fmt.Fprintf(b, "'%s'", ip)
	case fields.KindAddr6:
		ip := net.IP(rf.Raw).String()
		fmt.Fprintf(b, "'%s'", ip)
	case fields.KindMAC:
		fmt.Fprintf(b, "'%s'", net.HardwareAddr(rf.Raw).String())
	case fields.KindString:
		s := strings.TrimRight(string(rf.Raw), "\x00")
		fmt.Fprintf(b, "'%s'", strings.ReplaceAll(s, "'", "''"))
	default:
		fmt.Fprintf(b, " %d ", fields.Uint64At(rf.Raw, rf.Spec.Descriptor.Size))
	}
}
