package export

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/fwm"
)

func specFor(t *testing.T, s string) *fields.FieldSpec {
	t.Helper()
	fs, err := fields.ParseFieldSpec(s)
	require.NoError(t, err)
	return fs
}

func recWithIPBytes(src string, bytes uint64) *flowrec.Record {
	r := &flowrec.Record{}
	r.SrcAddr4.Set(net.ParseIP(src).To4())
	b := make([]byte, 8)
	fields.PutUint64At(b, bytes, 8)
	r.Bytes.Set(b)
	return r
}

func TestBuildInsertPlan_ColumnsAndRowLayout(t *testing.T) {
	cfg := fwm.Config{
		Name: "top_talkers",
		Fields: []fwm.FieldSpec{
			{Spec: specFor(t, "desc bytes"), SQLName: "octets"},
			{Spec: specFor(t, "src ip"), SQLName: "src_ip"},
		},
		DBType:   fwm.DBPostgres,
		RowLimit: 1,
	}
	w := fwm.New(cfg, 1, nil, fields.NilGeoStore{})

	require.NoError(t, w.Process(0, recWithIPBytes("10.0.0.1", 500)))
	require.NoError(t, w.Process(0, recWithIPBytes("10.0.0.2", 100)))

	batchID := uuid.New()
	plan := buildInsertPlan("top_talkers_mo", w, time.Unix(1000, 0), batchID)
	require.NotNil(t, plan)

	require.Equal(t, "top_talkers_mo_top_talkers", plan.table)
	require.Equal(t, []string{"time", "batch_id", "src_ip", "octets"}, plan.cols)
	require.Contains(t, plan.ddl, "create table if not exists")
	require.Contains(t, plan.ddl, "src_ip INET")
	require.Contains(t, plan.ddl, "octets BIGINT")

	// Row limit 1 forces an others row: the top talker plus one
	// NULL-keyed others row, both with the same column count.
	require.Len(t, plan.rows, 2)
	for _, row := range plan.rows {
		require.Len(t, row, len(plan.cols))
	}
	require.Equal(t, "10.0.0.1", plan.rows[0][2])
	require.Equal(t, uint64(500), plan.rows[0][3])
	require.Nil(t, plan.rows[1][2])
}

func TestBuildInsertPlan_NoRowsReturnsNilPlan(t *testing.T) {
	cfg := fwm.Config{
		Name:   "empty",
		Fields: []fwm.FieldSpec{{Spec: specFor(t, "desc bytes"), SQLName: "octets"}},
		DBType: fwm.DBPostgres,
	}
	w := fwm.New(cfg, 1, nil, fields.NilGeoStore{})
	plan := buildInsertPlan("mo", w, time.Unix(0, 0), uuid.New())
	require.Nil(t, plan)
}
