package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// OpsServer exposes the operational surface of a scheduler process:
// liveness, Prometheus metrics, and the current watermark table.
type OpsServer struct {
	addr       string
	watermarks persistence.WatermarkRepo
	srv        *http.Server
}

func NewOpsServer(addr string, watermarks persistence.WatermarkRepo) *OpsServer {
	return &OpsServer{addr: addr, watermarks: watermarks}
}

// Start serves in the background until Shutdown.
func (o *OpsServer) Start() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", o.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/watermarks", o.handleWatermarks).Methods(http.MethodGet)

	o.srv = &http.Server{
		Addr:         o.addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", o.addr).Msg("Ops server listening")
		if err := o.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Ops server failed")
		}
	}()
}

// Shutdown drains the server within the context deadline.
func (o *OpsServer) Shutdown(ctx context.Context) error {
	if o.srv == nil {
		return nil
	}
	return o.srv.Shutdown(ctx)
}

func (o *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (o *OpsServer) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	wms, err := o.watermarks.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type entry struct {
		CatalogKey     string     `json:"catalog_key"`
		LastIngestedAt *time.Time `json:"last_ingested_at"`
		LastCleanedAt  *time.Time `json:"last_cleaned_at"`
	}
	out := make([]entry, 0, len(wms))
	for _, wm := range wms {
		out = append(out, entry{
			CatalogKey:     wm.CatalogKey,
			LastIngestedAt: wm.LastIngestedAt,
			LastCleanedAt:  wm.LastCleanedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
