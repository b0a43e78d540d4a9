package clsf

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"xenoflow/internal/fields"
)

// parseField is renderField's inverse: given one key field's rendered
// segment, reconstructs its raw on-wire bytes at the field's declared
// size. Used only by Reload, which never sees a segment renderField
// did not itself produce, so a parse failure just yields a zeroed field
// rather than an error.
func parseField(fs *fields.FieldSpec, seg string) []byte {
	size := fs.Descriptor.Size
	switch fs.Descriptor.Kind {
	case fields.KindAddr4:
		ip := net.ParseIP(seg)
		if ip == nil {
			return make([]byte, size)
		}
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
		return make([]byte, size)
	case fields.KindAddr6:
		ip := net.ParseIP(seg)
		if ip == nil {
			return make([]byte, size)
		}
		if v6 := ip.To16(); v6 != nil {
			return v6
		}
		return make([]byte, size)
	case fields.KindMAC:
		var b strings.Builder
		for i, c := range seg {
			if i > 0 && i%2 == 0 {
				b.WriteByte(':')
			}
			b.WriteRune(c)
		}
		mac, err := net.ParseMAC(b.String())
		if err != nil {
			return make([]byte, size)
		}
		return mac
	case fields.KindString:
		raw := make([]byte, size)
		copy(raw, seg)
		return raw
	default:
		n, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return make([]byte, size)
		}
		raw := make([]byte, size)
		fields.PutUint64At(raw, n, size)
		return raw
	}
}

// parseKey is renderKey's inverse: cfg.Fields' order and renderKey's "-"
// join are both fixed at load time, so a class directory's name splits
// back into the same segments renderKey produced.
func (w *Window) parseKey(dirName string) []byte {
	segs := strings.Split(dirName, "-")
	key := make([]byte, 0, 32)
	for i, fs := range w.cfg.Fields {
		if i >= len(segs) {
			break
		}
		key = append(key, parseField(fs, segs[i])...)
	}
	return key
}

// ReverseLookup returns the class name recorded for key (the same
// concatenated raw key bytes Process groups flows by) and whether an
// entry exists for it, spec.md §4.7's per-flow reverse-lookup check.
func (w *Window) ReverseLookup(key []byte) (string, bool) {
	m, _ := w.reverse.Load().(map[string]string)
	if m == nil {
		return "", false
	}
	name, ok := m[string(key)]
	return name, ok
}

// Reload rebuilds the reverse-lookup store from moName's on-disk class
// directories under cfg.Dir: each child directory name is parsed back
// into a binary key using the same field layout renderKey used to
// produce it, and its "name" file is read into the map's value. The old
// map is swapped out atomically so concurrent Process calls never see a
// half-built store.
func (w *Window) Reload(moName string) error {
	if w.cfg.Dir == "" {
		return nil
	}
	base := filepath.Join(w.cfg.Dir, moName, strconv.Itoa(w.cfg.ID))
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clsf: read dir %q: %w", base, err)
	}

	next := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(base, e.Name(), "name"))
		if err != nil {
			continue
		}
		next[string(w.parseKey(e.Name()))] = string(raw)
	}
	w.reverse.Store(next)
	return nil
}
