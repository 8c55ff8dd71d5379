package mpigo

import (
	"fmt"
	"net/http"
	"sort"
	"text/tabwriter"
	"text/template"
	"time"

	"github.com/clusterrun/mpigo/wire"
)

var startTime = time.Now()

var statusTemplate = template.Must(template.New("status").Parse(
	`job:	{{.JobID}}
size:	{{.Size}}
uptime:	{{.Uptime}}
{{range .Links}}rank {{.Rank}}:	{{.State}}{{if .Err}} ({{.Err}}){{end}}
{{end}}`))

// StatusHandler serves a plaintext snapshot of the currently running
// job (if any) at /debug/mpigo/status: job id, group size, and every
// worker link's state, as one handler rendering one text/tabwriter
// report, though per-machine resource metrics have no equivalent
// data source on this runtime's wire protocol.
type StatusHandler struct {
	l *Launcher
}

// NewStatusHandler returns a handler reporting l's currently running
// job, or "no job running" between jobs.
func NewStatusHandler(l *Launcher) *StatusHandler {
	return &StatusHandler{l: l}
}

// Handle registers the handler on mux at the conventional prefix.
func (s *StatusHandler) Handle(mux *http.ServeMux) {
	mux.Handle("/debug/mpigo/status", s)
}

type linkStatus struct {
	Rank  int
	State wire.State
	Err   error
}

func (s *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	h := s.l.current.Load()
	if h == nil {
		fmt.Fprintln(w, "no job running")
		return
	}

	links := make([]linkStatus, 0, len(h.comm.links))
	for rank, link := range h.comm.links {
		links = append(links, linkStatus{Rank: rank, State: link.State(), Err: link.Err()})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Rank < links[j].Rank })

	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	defer tw.Flush()
	err := statusTemplate.Execute(&tw, map[string]interface{}{
		"JobID":  h.jobID,
		"Size":   h.comm.size,
		"Uptime": time.Since(startTime).Round(time.Second),
		"Links":  links,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
