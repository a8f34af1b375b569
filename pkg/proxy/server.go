package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/acme/autocert"

	"github.com/ctobridge/ctobridge/pkg/config"
	"github.com/ctobridge/ctobridge/pkg/credentials"
	"github.com/ctobridge/ctobridge/pkg/engine"
)

type Server struct {
	cfg        *config.ServerConfig
	pool       *credentials.Pool
	engine     *engine.Client
	httpServer *http.Server
}

func NewServer(cfg *config.ServerConfig, pool *credentials.Pool, eng *engine.Client) *Server {
	s := &Server{
		cfg:    cfg,
		pool:   pool,
		engine: eng,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/models", s.handleModels)
		v1.Post("/chat/completions", s.handleChatCompletions)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Streaming responses run until the upstream terminal event.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLS.Domain),
			Email:      s.cfg.TLS.Email,
		}

		httpsSrv := *s.httpServer
		httpsSrv.Addr = ":443"
		httpsSrv.TLSConfig = &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12}

		httpChallenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info("http challenge/redirect listening", "addr", ":80")
			if err := httpChallenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		go func() {
			log.Info("https listening", "addr", ":443", "domain", s.cfg.TLS.Domain)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpChallenge.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
		return firstErr(errCh)
	}

	go func() {
		log.Info("bridge listening", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	return firstErr(errCh)
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func firstErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	kind := "api_error"
	if status >= 400 && status < 500 {
		kind = "invalid_request_error"
	}
	writeJSON(w, status, map[string]any{"error": apiError{Message: msg, Type: kind}})
}

// errorStatus maps the pipeline's error taxonomy onto HTTP statuses:
// credential store problems are the operator's fault (500), upstream and
// protocol failures are a bad gateway (502), a silent event channel is a
// gateway timeout (504).
func errorStatus(err error) int {
	if credentials.IsConfigError(err) {
		return http.StatusInternalServerError
	}
	if engine.IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	var ue *engine.UpstreamError
	var pe *engine.ProtocolError
	if errors.As(err, &ue) || errors.As(err, &pe) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
