package webhook

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server webhook HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建 webhook 服务
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{httpServer: s, logger: logger}
}

func (s *Server) Start() error {
	s.logger.Info("Starting webhook HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping webhook HTTP server")
	return s.httpServer.Shutdown(ctx)
}
