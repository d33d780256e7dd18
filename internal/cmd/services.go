package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pairprep/collab/clients/completion_client"
	"github.com/pairprep/collab/internal/collab/gateway"
	"github.com/pairprep/collab/internal/collab/roomevents"
	"github.com/pairprep/collab/internal/collab/session"
)

type Services struct {
	Coordinator *session.Coordinator
	Gateway     *gateway.Service
	Signals     roomevents.Publisher
}

func setupServices(env *EnvConfig, cfg *Config) (*Services, error) {
	// Room lifecycle signals for the document-sync relay; no-op unless NATS
	// is configured.
	var signals roomevents.Publisher = roomevents.NopPublisher{}
	if env.NATSURL != "" {
		natsConfig := roomevents.DefaultNATSConfig()
		natsConfig.URL = env.NATSURL
		publisher, err := roomevents.NewNATSPublisher(natsConfig)
		if err != nil {
			return nil, err
		}
		signals = publisher
	} else {
		log.Warn().Msg("NATS_URL not set; room event signals disabled")
	}

	assistant := completion_client.NewCompletionClient(assistantConfig(cfg, env.AssistantAPIKey))
	if env.AssistantAPIKey == "" {
		log.Warn().Msg("ASSISTANT_API_KEY not set; assistant replies will fail over to apologies")
	}

	coordinator := session.NewCoordinator(sessionConfig(cfg), assistant, signals, clockwork.NewRealClock())
	gatewayService := gateway.NewService(gateway.DefaultConfig(), coordinator)

	return &Services{
		Coordinator: coordinator,
		Gateway:     gatewayService,
		Signals:     signals,
	}, nil
}

func (s *Services) Close() {
	if publisher, ok := s.Signals.(*roomevents.NATSPublisher); ok {
		publisher.Close()
	}
}
