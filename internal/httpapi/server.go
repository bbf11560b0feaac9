package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kd5/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Channel
	Kernels(ctx context.Context) ([]types.Kernel, error)
	Spawn(ctx context.Context, req types.SpawnRequest) (types.Kernel, error)
	Connect(ctx context.Context, id string) (types.Kernel, error)
	Restart(ctx context.Context, id string) (types.Kernel, error)
	Shutdown(ctx context.Context, id string) error
	RemoveConnectionFile(ctx context.Context, id string) error
	Status() types.StatusResponse
	Snapshot() (types.Snapshot, bool)
	Ready() bool
}

// NewMux returns the daemon's router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(accessLog)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	up := &websocket.Upgrader{CheckOrigin: checkOrigin}
	r.Get("/ws", newHub(svc).handle(up))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			s, ok := svc.Snapshot()
			if !ok {
				writeJSONError(w, http.StatusNotFound, "no snapshot published yet")
				return
			}
			writeJSON(w, s)
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Status())
		})

		r.Get("/kernels", func(w http.ResponseWriter, r *http.Request) {
			ks, err := svc.Kernels(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if ks == nil {
				ks = []types.Kernel{}
			}
			writeJSON(w, types.KernelsResponse{Kernels: ks})
		})

		r.Post("/kernels", func(w http.ResponseWriter, r *http.Request) {
			var req types.SpawnRequest
			if !decodeOptional(w, r, &req) {
				return
			}
			ctx, cancel := opContext(r)
			defer cancel()
			k, err := svc.Spawn(ctx, req)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(types.SpawnResponse{Kernel: k})
		})

		r.Post("/kernels/{id}/connect", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := opContext(r)
			defer cancel()
			k, err := svc.Connect(ctx, chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, k)
		})

		r.Post("/kernels/{id}/restart", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := opContext(r)
			defer cancel()
			k, err := svc.Restart(ctx, chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, k)
		})

		r.Delete("/kernels/{id}", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := opContext(r)
			defer cancel()
			if err := svc.Shutdown(ctx, chi.URLParam(r, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Delete("/kernels/{id}/connection-file", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := opContext(r)
			defer cancel()
			if err := svc.RemoveConnectionFile(ctx, chi.URLParam(r, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeOptional reads a JSON body into v. An empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// checkOrigin admits clients without an Origin header (CLI tools), same
// host browsers and configured CORS origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range corsAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host
}
