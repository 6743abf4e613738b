package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/nrhttprouter"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/config"
	"github.com/dselans/fivehundred/deps"
)

type API struct {
	config  *config.Config
	deps    *deps.Dependencies
	server  *http.Server
	log     clog.ICustomLog
	version string
}

type ResponseJSON struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Values  map[string]string `json:"values,omitempty"`
	Errors  string            `json:"errors,omitempty"`
}

func New(cfg *config.Config, d *deps.Dependencies, version string) (*API, error) {
	if cfg == nil {
		return nil, errors.New("cfg cannot be nil")
	}

	if d == nil {
		return nil, errors.New("deps cannot be nil")
	}

	server := &http.Server{
		Addr:              cfg.APIListenAddress,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a := &API{
		config:  cfg,
		deps:    d,
		server:  server,
		version: version,
		log:     d.Log.With(zap.String("pkg", "api")),
	}

	// Run shutdown listener
	go a.runShutdownListener()

	return a, nil
}

func (a *API) runShutdownListener() {
	<-a.deps.ShutdownCtx.Done()

	// Give server 5s to shutdown gracefully
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error("Error shutting down API server", zap.Error(err))
	}
}

func (a *API) Run() error {
	logger := a.log.With(zap.String("method", "Run"))

	a.server.Handler = a.handler()

	logger.Info("API server running", zap.String("listenAddress", a.config.APIListenAddress))

	return a.server.ListenAndServe()
}

func (a *API) handler() http.Handler {
	router := nrhttprouter.New(a.deps.NewRelicApp)

	router.HandlerFunc("GET", "/health-check", a.healthCheckHandler)
	router.HandlerFunc("GET", "/version", a.versionHandler)

	router.HandlerFunc("GET", "/api/albums", a.albumsHandler)
	router.HandlerFunc("GET", "/api/albums/:slug", a.albumHandler)
	router.HandlerFunc("GET", "/api/genres", a.entitiesHandler(db.KindGenre))
	router.HandlerFunc("GET", "/api/descriptors", a.entitiesHandler(db.KindDescriptor))
	router.HandlerFunc("GET", "/api/artists", a.entitiesHandler(db.KindArtist))
	router.HandlerFunc("POST", "/api/lookups", a.lookupsHandler)

	// Maybe enable profiling
	if a.config.EnablePprof {
		router.Handler(http.MethodGet, "/debug/pprof/*item", http.DefaultServeMux)
	}

	return a.corsMiddleware(router)
}

func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			rw.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(rw, r)
	})
}

func (a *API) healthCheckHandler(rw http.ResponseWriter, r *http.Request) {
	states, failed, err := a.deps.Health.State()
	if err != nil {
		WriteJSON(rw, ResponseJSON{
			Status:  http.StatusInternalServerError,
			Message: "unable to fetch health state",
			Errors:  err.Error(),
		}, http.StatusInternalServerError)

		return
	}

	status := http.StatusOK
	if failed {
		status = http.StatusServiceUnavailable
	}

	WriteJSON(rw, states, status)
}

func (a *API) versionHandler(rw http.ResponseWriter, r *http.Request) {
	WriteJSON(rw, ResponseJSON{
		Status:  http.StatusOK,
		Message: "ok",
		Values: map[string]string{
			"version": a.version,
		},
	}, http.StatusOK)
}

// WriteJSON is a helper function for writing JSON responses
func WriteJSON(rw http.ResponseWriter, payload interface{}, status int) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: unable to marshal JSON during WriteJSON "+
			"(payload: '%s'; status: '%d'): %s\n", payload, status, err)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if _, err := rw.Write(data); err != nil {
		log.Printf("ERROR: unable to write resp in WriteJSON: %s\n", err)
		return
	}
}

func (a *API) writeError(rw http.ResponseWriter, statusCode int, message string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)

	errorResponse := map[string]string{
		"error": message,
	}

	if err := json.NewEncoder(rw).Encode(errorResponse); err != nil {
		a.log.Error("unable to encode error response", zap.Error(err))
	}
}
