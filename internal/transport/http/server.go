package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pandagate/internal/service"
)

type Server struct {
	srv *http.Server
}

func NewServer(addr string, svc service.Provisioner, allowedOrigin string) *Server {
	mux := http.NewServeMux()
	h := NewHandler(svc, allowedOrigin)
	h.Register(mux)

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second, // provisioning waits on two upstream calls
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
