package mo

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReloadIfChanged implements spec.md §4.9's per-MO reload step: stat the
// node's mo.conf, and if its mtime moved, re-parse it and swap in new
// MAVG limit tables. Only "overlimit"/"underlimit" are live; "name",
// "fields", and "time" changes are silently ignored on a running node
// (spec.md: "not implemented to reload") since those are structural —
// changing them would require rebuilding the FWM/MAVG/CLSF windows
// themselves, which this method deliberately never does.
//
// Returns (reloaded, err). A non-nil err leaves the node's previous
// limit set and mtime untouched, so the next poll retries (spec.md §7:
// "the MO stays on its previous limit set").
func (n *Node) ReloadIfChanged() (bool, error) {
	if n.cfgPath == "" {
		return false, nil
	}
	info, err := os.Stat(n.cfgPath)
	if err != nil {
		return false, fmt.Errorf("mo: stat %q: %w", n.cfgPath, err)
	}
	mtime := info.ModTime().UnixNano()
	if mtime == n.mtime {
		return false, nil
	}

	raw, err := os.ReadFile(n.cfgPath)
	if err != nil {
		return false, fmt.Errorf("mo: read %q: %w", n.cfgPath, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return false, fmt.Errorf("mo: parse %q: %w", n.cfgPath, err)
	}

	byName := make(map[string]MAVGConfig, len(cfg.MAVG))
	for _, mc := range cfg.MAVG {
		byName[mc.Name] = mc
	}

	for _, inst := range n.MAVGs {
		mc, ok := byName[inst.Name]
		if !ok {
			continue
		}
		over, err := buildLimits(mc.Overlimit)
		if err != nil {
			return false, fmt.Errorf("mo: mavg %q overlimit: %w", inst.Name, err)
		}
		under, err := buildLimits(mc.Underlimit)
		if err != nil {
			return false, fmt.Errorf("mo: mavg %q underlimit: %w", inst.Name, err)
		}
		inst.Window.UpdateLimits(over, under)
	}

	n.mtime = mtime
	return true, nil
}
