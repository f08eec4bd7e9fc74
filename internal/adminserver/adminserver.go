// Package adminserver implements the HTTP admin/metrics surface:
// /metrics (Prometheus), /ping and /ready, routed with httprouter rather
// than pkg/admin's manual switch.
package adminserver

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether the process is ready to serve traffic.
type ReadyFunc func() bool

// New returns an initialized http.Server listening on addr, wiring gatherer
// into the /metrics endpoint and ready into /ready. Pprof handlers are
// mounted under /debug/pprof/ only when enablePprof is set, since they leak
// goroutine stacks and shouldn't be reachable by default in production.
func New(addr string, gatherer prometheus.Gatherer, ready ReadyFunc, enablePprof bool) *http.Server {
	router := httprouter.New()

	router.Handler(http.MethodGet, "/metrics",
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.GET("/ping", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Write([]byte("pong\n"))
	})

	router.GET("/ready", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready\n"))
			return
		}
		w.Write([]byte("ok\n"))
	})

	if enablePprof {
		router.Handler(http.MethodGet, "/debug/pprof/", http.HandlerFunc(pprof.Index))
		router.Handler(http.MethodGet, "/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		router.Handler(http.MethodGet, "/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		router.Handler(http.MethodGet, "/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		router.Handler(http.MethodGet, "/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	}

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}
}
