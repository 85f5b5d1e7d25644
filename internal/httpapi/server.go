package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/gateway"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error
	Models() []types.ModelStatus
	Preload(name string) (string, error)
	Cancel(id string) bool
	Status() types.StatusResponse
	Health() string
	Ready() bool
}

// NewMux builds the gateway's HTTP surface.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/generate", generateHandler(svc))

	// health godoc
	// @Summary  Gateway health
	// @Produce  json
	// @Success  200 {object} types.HealthResponse
	// @Router   /health [get]
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: svc.Health()})
	})

	// models godoc
	// @Summary  List known models and their load state
	// @Produce  json
	// @Success  200 {object} types.ModelsResponse
	// @Router   /models [get]
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.Models()})
	})

	// load godoc
	// @Summary  Pre-load a model (idempotent, asynchronous)
	// @Produce  json
	// @Param    name path string true "model name"
	// @Success  200 {object} types.LoadResponse
	// @Success  202 {object} types.LoadResponse
	// @Failure  400 {object} types.ErrorResponse
	// @Router   /models/{name}/load [post]
	r.Post("/models/{name}/load", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		state, err := svc.Preload(name)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusAccepted
		if state == "loaded" {
			status = http.StatusOK
		}
		writeJSON(w, status, types.LoadResponse{Model: name, State: state})
	})

	// cancel godoc
	// @Summary  Cancel an in-flight request
	// @Param    id path string true "request id"
	// @Success  204
	// @Failure  404 {object} types.ErrorResponse
	// @Router   /requests/{id}/cancel [post]
	r.Post("/requests/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if !svc.Cancel(chi.URLParam(r, "id")) {
			writeJSONError(w, http.StatusNotFound, "not_found", "unknown or already finished request")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// generate godoc
// @Summary  Generate a completion, optionally streaming NDJSON tokens
// @Accept   json
// @Produce  json
// @Param    request body types.GenerateRequest true "generation request"
// @Success  200 {object} types.GenerateResponse
// @Failure  400 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Failure  502 {object} types.ErrorResponse
// @Failure  504 {object} types.ErrorResponse
// @Router   /generate [post]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, gateway.ReasonInvalidRequest, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, gateway.ReasonInvalidRequest, "invalid JSON body")
			return
		}

		start := time.Now()
		lvl := requestLogLevel(r)
		rid := middleware.GetReqID(r.Context())
		if lvl >= LevelInfo {
			logEvent().Str("path", r.URL.Path).Str("model", req.Model).Bool("stream", req.Stream).Str("request_id", rid).Msg("generate start")
		}

		// Join server base context with request context so shutdown cancels
		// in-flight work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}

		if req.Stream {
			var out io.Writer = w
			if lvl >= LevelDebug {
				out = io.MultiWriter(w, &loggingLineWriter{})
			}
			sink := newNDJSONSink(out, flush, req.Model)
			err := svc.Generate(ctx, req, sink)
			if err != nil && !sink.wroteHeader() {
				// Nothing streamed yet: a plain JSON error is still possible.
				if r.Context().Err() == nil && serverBaseCtx.Err() == nil {
					writeError(w, err)
				}
			}
			logGenerateEnd(lvl, rid, start, err)
			return
		}

		sink := newBufferSink()
		if err := svc.Generate(ctx, req, sink); err != nil {
			if r.Context().Err() == nil && serverBaseCtx.Err() == nil {
				writeError(w, err)
			}
			logGenerateEnd(lvl, rid, start, err)
			return
		}
		res := sink.result()
		model := req.Model
		if model == "" {
			model = res.Model
		}
		writeJSON(w, http.StatusOK, types.GenerateResponse{Text: res.Text, Model: model, Tokens: res.Tokens})
		logGenerateEnd(lvl, rid, start, nil)
	}
}

func logGenerateEnd(lvl LogLevel, rid string, start time.Time, err error) {
	if lvl < LevelInfo {
		return
	}
	e := logEvent().Str("request_id", rid).Dur("dur", time.Since(start))
	if err != nil {
		e = e.Err(err).Int("status", statusForErr(err))
	} else {
		e = e.Int("status", http.StatusOK)
	}
	e.Msg("generate end")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
