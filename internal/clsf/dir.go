package clsf

import (
	"fmt"
	"os"
	"path/filepath"
)

// DumpDir writes moName's classes to the reverse-lookup directory tree
// rooted at w.cfg.Dir, porting update_clsf_dir's layout exactly:
// <dir>/<moName>/<id>/<classDir>/name (written once, the first time a
// class directory appears) and .../stats (rewritten on every call with
// the latest sum/total/percentage).
func (w *Window) DumpDir(moName string, classes []Class) error {
	if w.cfg.Dir == "" {
		return nil
	}
	base := filepath.Join(w.cfg.Dir, moName, fmt.Sprintf("%d", w.cfg.ID))
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("clsf: create dir %q: %w", base, err)
	}

	for _, c := range classes {
		dir := filepath.Join(base, c.ClassDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("clsf: create dir %q: %w", dir, err)
		}

		namePath := filepath.Join(dir, "name")
		if _, err := os.Stat(namePath); os.IsNotExist(err) {
			if err := os.WriteFile(namePath, []byte(c.ClassName), 0o644); err != nil {
				return fmt.Errorf("clsf: write %q: %w", namePath, err)
			}
		}

		statsPath := filepath.Join(dir, "stats")
		var pct float64
		if c.Total > 0 {
			pct = float64(c.Sum) * 100.0 / float64(c.Total)
		}
		stats := fmt.Sprintf("%d of %d, %f%%\n", c.Sum, c.Total, pct)
		if err := os.WriteFile(statsPath, []byte(stats), 0o644); err != nil {
			return fmt.Errorf("clsf: write %q: %w", statsPath, err)
		}
	}
	return nil
}
