package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xenoflow/internal/mo"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) nodeFor(w http.ResponseWriter, r *http.Request) *mo.Node {
	path := mux.Vars(r)["path"]
	n := s.Tree.Find(path)
	if n == nil {
		http.Error(w, `{"error":"no such mo"}`, http.StatusNotFound)
		return nil
	}
	return n
}

// handleMOShow answers "GET /mo/{path}" with the node's declared engine
// names, enough for a caller to discover what it can dump next.
func (s *Server) handleMOShow(w http.ResponseWriter, r *http.Request) {
	n := s.nodeFor(w, r)
	if n == nil {
		return
	}
	out := struct {
		Path     string   `json:"path"`
		FWMs     []string `json:"fwm"`
		MAVGs    []string `json:"mavg"`
		CLSFs    []string `json:"classification"`
		Children []string `json:"children"`
	}{Path: n.Path}
	for _, f := range n.FWMs {
		out.FWMs = append(out.FWMs, f.Name)
	}
	for _, m := range n.MAVGs {
		out.MAVGs = append(out.MAVGs, m.Name)
	}
	for _, c := range n.CLSFs {
		out.CLSFs = append(out.CLSFs, c.Name)
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.Path)
	}
	writeJSON(w, out)
}

// handleFWMDump answers "GET /mo/{path}/fwm/{name}" with the window's
// current sorted-and-limited dump, spec.md §4's periodic FWM dump
// reshaped into an on-demand JSON response.
func (s *Server) handleFWMDump(w http.ResponseWriter, r *http.Request) {
	n := s.nodeFor(w, r)
	if n == nil {
		return
	}
	f := n.FindFWM(mux.Vars(r)["name"])
	if f == nil {
		http.Error(w, `{"error":"no such fwm"}`, http.StatusNotFound)
		return
	}
	rows, others, hitLimit := f.Window.SortAndDump()

	out := struct {
		Rows     []map[string]interface{} `json:"rows"`
		Others   []uint64                 `json:"others,omitempty"`
		HitLimit bool                     `json:"hit_limit"`
	}{HitLimit: hitLimit}

	for _, row := range rows {
		keys := make(map[string]interface{}, len(row.KeyFields))
		for _, kf := range row.KeyFields {
			keys[kf.Name] = renderValue(kf.Spec, kf.Raw)
		}
		out.Rows = append(out.Rows, map[string]interface{}{
			"keys":   keys,
			"values": row.Values,
		})
	}
	if others != nil {
		out.Others = others.Values
	}
	writeJSON(w, out)
}

// handleMAVGDump answers "GET /mo/{path}/mavg/{name}?aggr=0" with every
// known key's current decayed value for aggregate field index aggr.
func (s *Server) handleMAVGDump(w http.ResponseWriter, r *http.Request) {
	n := s.nodeFor(w, r)
	if n == nil {
		return
	}
	m := n.FindMAVG(mux.Vars(r)["name"])
	if m == nil {
		http.Error(w, `{"error":"no such mavg"}`, http.StatusNotFound)
		return
	}
	aggrIdx := 0
	if v := r.URL.Query().Get("aggr"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, `{"error":"bad aggr index"}`, http.StatusBadRequest)
			return
		}
		aggrIdx = parsed
	}
	snap := m.Window.Snapshot(aggrIdx)
	out := make([]map[string]interface{}, 0, len(snap))
	for _, pair := range snap {
		out = append(out, map[string]interface{}{
			"key":   pair[0],
			"value": pair[1],
		})
	}
	writeJSON(w, out)
}

// handleCLSFDump answers "GET /mo/{path}/clsf/{id}" with the current
// classification, the same classes update_clsf_dir would have written
// to disk, rendered as JSON instead.
func (s *Server) handleCLSFDump(w http.ResponseWriter, r *http.Request) {
	n := s.nodeFor(w, r)
	if n == nil {
		return
	}
	c := n.FindCLSF(mux.Vars(r)["name"])
	if c == nil {
		http.Error(w, `{"error":"no such classification"}`, http.StatusNotFound)
		return
	}
	classes := c.Window.Classify()
	out := make([]map[string]interface{}, 0, len(classes))
	for _, cl := range classes {
		out = append(out, map[string]interface{}{
			"class_dir":  cl.ClassDir,
			"class_name": cl.ClassName,
			"sum":        cl.Sum,
			"total":      cl.Total,
		})
	}
	writeJSON(w, out)
}

// handleWS answers "GET /ws/{path}" by upgrading to a websocket and
// subscribing the connection to that MO's live flow tail.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if s.Tree.Find(path) == nil {
		http.Error(w, `{"error":"no such mo"}`, http.StatusNotFound)
		return
	}
	s.hub.serveWS(w, r, path)
}
