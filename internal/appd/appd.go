// Package appd tracks the applications a deployment runs. Container
// build/run mechanics live outside the hub; AppD keeps the declarative
// application catalogue from compiled manifests and answers for it on the
// fabric.
package appd

import (
	"context"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// Host is the kind-URL host that addresses AppD events.
const Host = "com.reboot-codes.clover.appd"

// Run is the AppD subsystem main.
func Run(ctx context.Context, ipc evtbuzz.SubsystemIPC, s *store.Store) {
	log.Info().Msg("Starting AppDaemon...")

	registerApplications(s)

	statusMsg := s.NewMessage(ipc.User, "clover://"+Host+"/status", "finished-init")
	select {
	case ipc.Outbox <- statusMsg:
	case <-ctx.Done():
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("AppDaemon has stopped")
			return
		case msg, ok := <-ipc.Inbox:
			if !ok {
				return
			}
			if u, err := url.Parse(msg.Kind); err == nil && u.Host == Host {
				log.Debug().Str("kind", msg.Kind).Msg("Processing AppD event")
			}
		}
	}
}

// registerApplications loads every application declared by a compiled
// manifest into the store.
func registerApplications(s *store.Store) {
	for repoID, m := range s.Repos() {
		for appID, spec := range m.Applications {
			containers := make(map[string]models.ContainerConfig, len(spec.Containers))
			for name, c := range spec.Containers {
				cfg := models.ContainerConfig{Build: c.Build}
				if c.Interface != nil {
					cfg.Interface = *c.Interface
				}
				containers[name] = cfg
			}
			s.PutApplication(appID, models.Application{
				ID:         appID,
				Version:    spec.Version,
				Name:       spec.Name,
				Containers: containers,
			})
			log.Debug().Str("application", appID).Str("repo", repoID).Msg("Registered application")
		}
	}
}
