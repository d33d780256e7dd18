package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pairprep/collab/internal/collab/session"
)

// Service is the session gateway: it ties the coordinator to its WebSocket
// transport.
type Service struct {
	coordinator       *session.Coordinator
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the session gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the session gateway.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService creates a new session gateway service.
func NewService(config Config, coordinator *session.Coordinator) *Service {
	connectionManager := NewConnectionManager(coordinator, config.ConnectionConfig)
	return &Service{
		coordinator:       coordinator,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
	}
}

// Start blocks until ctx is cancelled, then closes all connections.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("session gateway started")
	<-ctx.Done()

	log.Info().Msg("session gateway shutting down")
	s.connectionManager.CloseAll()
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]any {
	return map[string]any{
		"service":           "session_gateway",
		"total_connections": s.connectionManager.ConnectionCount(),
		"rooms":             s.coordinator.GetStats(),
	}
}
