// Package server exposes the enrichment pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wishwell/preview-service/internal/auth"
	"github.com/wishwell/preview-service/internal/pipeline"
)

// Server wires the pipeline and verifier into an HTTP router.
type Server struct {
	pipeline *pipeline.Pipeline
	verifier auth.Verifier
	router   chi.Router
}

func New(p *pipeline.Pipeline, verifier auth.Verifier) *Server {
	s := &Server{pipeline: p, verifier: verifier}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/preview", s.handlePreview)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

// requireAuth resolves the bearer token to a user ID and stores it on the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer credential")
			return
		}

		userID, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			if eris.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "invalid credential")
				return
			}
			zap.L().Error("auth verification failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

type previewRequest struct {
	URL string `json:"url"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer credential")
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := s.pipeline.Enrich(r.Context(), userID, req.URL)
	if err != nil {
		status, msg := statusForError(err)
		if status == http.StatusInternalServerError {
			zap.L().Error("enrichment failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps a pipeline failure to a status code and a safe
// client-facing message. Internal detail never reaches the response body.
func statusForError(err error) (int, string) {
	switch pipeline.KindOf(err) {
	case pipeline.KindBadRequest:
		return http.StatusBadRequest, "missing or unparseable url"
	case pipeline.KindUnauthorized:
		return http.StatusUnauthorized, "invalid credential"
	case pipeline.KindRateLimited:
		return http.StatusTooManyRequests, "rate limit exceeded, retry later"
	case pipeline.KindUpstreamTimeout:
		return http.StatusRequestTimeout, "upstream fetch timed out"
	case pipeline.KindExtractionFailed:
		return http.StatusInternalServerError, "extraction produced no usable data"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
