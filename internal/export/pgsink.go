// Package export implements the optional pgx direct-write sink for FWM
// windows (SPEC_FULL §2 DOMAIN STACK): besides the spec-mandated SQL
// text handed off to an exporter script, a FWM config may set
// "direct": true to additionally batch-insert the same rows straight
// into Postgres through a pooled connection, grounded on the teacher's
// internal/repository/postgres.go CopyFrom usage.
//
// Never a replacement for the .sql file emission in internal/fwm — both
// paths run from the same merged-and-sorted dump, spec.md §4.5's
// periodic flush.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"xenoflow/internal/fields"
	"xenoflow/internal/fwm"
)

// PGSink batch-inserts FWM dumps into Postgres over a pooled connection.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink connects to dbURL, mirroring repository.NewRepository's
// pgxpool.ParseConfig/NewWithConfig bootstrap.
func NewPGSink(ctx context.Context, dbURL string) (*PGSink, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("export: parse db url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("export: connect: %w", err)
	}
	return &PGSink{pool: pool}, nil
}

func (s *PGSink) Close() { s.pool.Close() }

// sqlTypeFor mirrors fwm's EmitSQL column-type mapping for the Postgres
// dialect, reused here so the direct-write table matches the file-export
// table's schema.
func sqlTypeFor(kind fields.Kind) string {
	switch kind {
	case fields.KindAddr4, fields.KindAddr6:
		return "INET"
	case fields.KindMAC:
		return "macaddr"
	case fields.KindString:
		return "TEXT"
	default:
		return "BIGINT"
	}
}

// insertPlan is the pure, DB-free result of flattening one FWM dump into
// a CREATE TABLE statement plus COPY-ready column names and row values,
// split out of Write so the layout logic (column order, others-row
// NULL-padding, batch id stamping) is testable without a live pool.
type insertPlan struct {
	table string
	ddl   string
	cols  []string
	rows  [][]any
}

func buildInsertPlan(moName string, w *fwm.Window, t time.Time, batchID uuid.UUID) *insertPlan {
	rows, others, hitLimit := w.SortAndDump()
	if len(rows) == 0 {
		return nil
	}

	table := w.TableName(moName)
	aggrNames := w.AggregateColumnNames()

	cols := []string{"time", "batch_id"}
	ddl := fmt.Sprintf("create table if not exists %q (time TIMESTAMPTZ, batch_id UUID", table)
	for _, kf := range rows[0].KeyFields {
		cols = append(cols, kf.Name)
		ddl += fmt.Sprintf(", %s %s", kf.Name, sqlTypeFor(kf.Spec.Descriptor.Kind))
	}
	for _, n := range aggrNames {
		cols = append(cols, n)
		ddl += fmt.Sprintf(", %s BIGINT", n)
	}
	ddl += ");"

	allRows := rows
	if hitLimit && others != nil {
		allRows = append(append([]fwm.Row(nil), rows...), *others)
	}

	plan := &insertPlan{table: table, ddl: ddl, cols: cols}
	for _, row := range allRows {
		vals := []any{t, batchID}
		// The others row carries no key fields; every key column is NULL
		// for it, keeping the aggregate columns in their fixed trailing
		// position regardless of which row this is.
		for j := 0; j < len(cols)-2-len(row.Values); j++ {
			if j < len(row.KeyFields) {
				vals = append(vals, renderPGValue(row.KeyFields[j]))
			} else {
				vals = append(vals, nil)
			}
		}
		for _, v := range row.Values {
			vals = append(vals, v)
		}
		plan.rows = append(plan.rows, vals)
	}
	return plan
}

// Write batch-inserts w's current dump into "<moName>_<fwm name>",
// creating the table on first use, and stamps every row with a shared
// UUID batch id used only for operator log correlation (never part of
// spec.md's on-disk naming, which stays unix-seconds-based).
func (s *PGSink) Write(ctx context.Context, moName string, w *fwm.Window, t time.Time) error {
	plan := buildInsertPlan(moName, w, t, uuid.New())
	if plan == nil {
		return nil
	}

	if _, err := s.pool.Exec(ctx, plan.ddl); err != nil {
		return fmt.Errorf("export: create table %q: %w", plan.table, err)
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{plan.table},
		plan.cols,
		pgx.CopyFromRows(plan.rows),
	)
	if err != nil {
		return fmt.Errorf("export: copy into %q: %w", plan.table, err)
	}
	return nil
}

func renderPGValue(kf fwm.RenderedField) any {
	switch kf.Spec.Descriptor.Kind {
	case fields.KindAddr4, fields.KindAddr6:
		return ipString(kf.Raw)
	case fields.KindMAC:
		return macString(kf.Raw)
	case fields.KindString:
		return stringValue(kf.Raw)
	default:
		return fields.Uint64At(kf.Raw, kf.Spec.Descriptor.Size)
	}
}
