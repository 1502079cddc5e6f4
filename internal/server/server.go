package server

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the HTTP server of the application.
type Server struct {
	server *http.Server
}

// ListenAndServe blocks until the server stops. After Shutdown it returns
// http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for active requests
// within the deadline of ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewServer serves router on address with bounded timeouts. The write
// timeout leaves room for bulk calculations.
func NewServer(address string, router *ApiV1Router) *Server {
	return &Server{&http.Server{
		Addr:           address,
		Handler:        router.Mux(),
		ReadTimeout:    time.Second * 5,
		WriteTimeout:   time.Second * 15,
		MaxHeaderBytes: 1024 * 10,
	}}
}
