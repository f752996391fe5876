package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
	"github.com/ryandielhenn/zephyrmutex/pkg/mutex"
)

// Healthz returns 200 once the process has joined its group, 503 before.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	if n.proc.Status().ID == 0 {
		http.Error(w, "joining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the OS pid, the current time and the protocol status as JSON.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID    int          `json:"pid"`
		Now    time.Time    `json:"now"`
		Uptime string       `json:"uptime"`
		Addr   string       `json:"addr"`
		Mutex  mutex.Status `json:"mutex"`
	}
	data, err := json.Marshal(resp{
		PID:    os.Getpid(),
		Now:    time.Now(),
		Uptime: time.Since(n.started).Round(time.Second).String(),
		Addr:   n.addr,
		Mutex:  n.proc.Status(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Routes mounts /healthz, /info and /metrics.
func (n *Node) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
