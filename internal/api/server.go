// Package api serves the tracker over HTTP: live beacon state, the target
// catalog, heading and ranging ingestion, the persisted event log, and a pair
// of RSSI debug charts under /debug/.
package api

import (
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/timeutil"
	"github.com/banshee-data/proximity.report/internal/tracker"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	t     *tracker.Tracker
	db    *db.DB // nil runs without persistence
	clock timeutil.Clock
}

// NewServer builds a server over t. store may be nil; the event log routes
// then answer 503 and targets are kept in memory only.
func NewServer(t *tracker.Tracker, store *db.DB, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{t: t, db: store, clock: clock}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/beacons", s.listBeacons)
	mux.HandleFunc("/api/targets", s.handleTargets)
	mux.HandleFunc("/api/targets/capture", s.captureTarget)
	mux.HandleFunc("/api/heading", s.postHeading)
	mux.HandleFunc("/api/ranging", s.postRanging)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/visits", s.listVisits)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// AttachAdminRoutes mounts the RSSI debug charts on the tsweb debugger.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("rssi", "RSSI history per beacon (interactive)", http.HandlerFunc(s.handleRSSIChart))
	debug.Handle("rssi.png", "RSSI history per beacon (png)", http.HandlerFunc(s.handleRSSIPlot))
}
