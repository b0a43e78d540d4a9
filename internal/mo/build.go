package mo

import (
	"fmt"
	"regexp"
	"time"

	"xenoflow/internal/clsf"
	"xenoflow/internal/fields"
	"xenoflow/internal/filter"
	"xenoflow/internal/fwm"
	"xenoflow/internal/mavg"
)

var sqlNameRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// sqlName derives a column name from a declared field spec string
// ("desc bytes", "src ip") the way a hand-written mo.conf author would,
// since spec.md's fwm config carries only a field list, not a parallel
// SQL name list.
func sqlName(raw string) string {
	return sqlNameRe.ReplaceAllString(raw, "_")
}

func build(name, path string, cfg *Config, nthreads int) (*Node, error) {
	n := &Node{Path: path, Name: name, DumpMode: cfg.Debug.DumpFlows}

	if cfg.Filter != "" {
		expr, err := filter.Parse(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		n.Filter = expr
	}

	for _, fc := range cfg.FWM {
		w, needsDNS, needsSNI, err := buildFWM(fc, nthreads)
		if err != nil {
			return nil, fmt.Errorf("fwm %q: %w", fc.Name, err)
		}
		n.FWMs = append(n.FWMs, &FWMInstance{
			Name: fc.Name, Window: w, Extended: fc.Extended,
			RequiresDNS: needsDNS, RequiresSNI: needsSNI,
			DumpInterval: time.Duration(fc.Time) * time.Second,
		})
	}

	for _, mc := range cfg.MAVG {
		w, err := buildMAVG(mc, nthreads)
		if err != nil {
			return nil, fmt.Errorf("mavg %q: %w", mc.Name, err)
		}
		n.MAVGs = append(n.MAVGs, &MAVGInstance{Name: mc.Name, Window: w})
	}

	for _, cc := range cfg.Classification {
		w, err := buildCLSF(cc, nthreads)
		if err != nil {
			return nil, fmt.Errorf("classification %d: %w", cc.ID, err)
		}
		n.CLSFs = append(n.CLSFs, &CLSFInstance{
			Name: fmt.Sprintf("%d", cc.ID), Window: w,
			DumpInterval: time.Duration(cc.Time) * time.Second,
		})
	}

	return n, nil
}

func buildFWM(fc FWMConfig, nthreads int) (w *fwm.Window, needsDNS, needsSNI bool, err error) {
	fieldSpecs := make([]fwm.FieldSpec, 0, len(fc.Fields))
	for _, raw := range fc.Fields {
		fs, ferr := fields.ParseFieldSpec(raw)
		if ferr != nil {
			return nil, false, false, fmt.Errorf("field %q: %w", raw, ferr)
		}
		fieldSpecs = append(fieldSpecs, fwm.FieldSpec{Spec: fs, SQLName: sqlName(raw)})
		if fs.Descriptor != nil {
			switch fs.Descriptor.Name {
			case "dns_name", "dns_ip":
				needsDNS = true
			case "sni":
				needsSNI = true
			}
		}
	}
	cfg := fwm.Config{
		Name:      fc.Name,
		Fields:    fieldSpecs,
		RowLimit:  fc.Limit,
		DontIndex: !fc.CreateIndex,
		DBType:    fwm.DBPostgres,
		Direct:    fc.Direct,
	}
	return fwm.New(cfg, nthreads, nil, fields.NilGeoStore{}), needsDNS, needsSNI, nil
}

func buildMAVG(mc MAVGConfig, nthreads int) (*mavg.Window, error) {
	var keyFields []*fields.FieldSpec
	var aggr []mavg.AggrField
	for _, raw := range mc.Fields {
		fs, err := fields.ParseFieldSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", raw, err)
		}
		if fs.Aggregable() {
			aggr = append(aggr, mavg.AggrField{Spec: fs, Scale: 1})
		} else {
			keyFields = append(keyFields, fs)
		}
	}

	over, err := buildLimits(mc.Overlimit)
	if err != nil {
		return nil, fmt.Errorf("overlimit: %w", err)
	}
	under, err := buildLimits(mc.Underlimit)
	if err != nil {
		return nil, fmt.Errorf("underlimit: %w", err)
	}

	cfg := mavg.Config{
		Name:       mc.Name,
		KeyFields:  keyFields,
		Aggr:       aggr,
		WindowSize: time.Duration(mc.Time) * time.Second,
		Overlimit:  over,
		Underlimit: under,
	}
	return mavg.New(cfg, nthreads, nil, fields.NilGeoStore{}), nil
}

// buildLimits expands each mavg_limit_obj into one mavg.Limit per entry
// in its "default" array, spec.md §6: a single named limit carries one
// default threshold per tracked aggregate field, in Aggr declaration
// order.
func buildLimits(objs []MAVGLimit) ([]mavg.Limit, error) {
	var out []mavg.Limit
	for _, o := range objs {
		for i, d := range o.Default {
			out = append(out, mavg.Limit{
				Name:            o.Name,
				FieldIdx:        i,
				Default:         d,
				Back2NormTime:   time.Duration(o.Back2NormTime) * time.Second,
				ActionScript:    o.ActionScript,
				Back2NormScript: o.Back2NormScript,
				NotifyURL:       o.NotifyURL,
				ExtFWMs:         o.Ext,
			})
		}
	}
	return out, nil
}

func buildCLSF(cc CLSFConfig, nthreads int) (*clsf.Window, error) {
	val, err := fields.ParseFieldSpec(cc.Val)
	if err != nil {
		return nil, fmt.Errorf("val %q: %w", cc.Val, err)
	}
	var keyFields []*fields.FieldSpec
	for _, raw := range cc.Fields {
		fs, err := fields.ParseFieldSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", raw, err)
		}
		keyFields = append(keyFields, fs)
	}
	cfg := clsf.Config{
		ID:          cc.ID,
		Val:         val,
		Descending:  val.Descending,
		Fields:      keyFields,
		TopPercents: cc.TopPercents,
	}
	return clsf.New(cfg, nthreads, nil, fields.NilGeoStore{}), nil
}
