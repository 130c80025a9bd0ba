// Package arbiter owns user and API-key policy decisions that go beyond
// the per-message permission filter. On the fabric it is a first-class
// subsystem user; its event surface lives under the arbiter host.
package arbiter

import (
	"context"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/store"
)

// Host is the kind-URL host that addresses Arbiter events.
const Host = "com.reboot-codes.clover.arbiter"

// Run is the Arbiter subsystem main.
func Run(ctx context.Context, ipc evtbuzz.SubsystemIPC, s *store.Store) {
	log.Info().Msg("Starting Arbiter...")

	statusMsg := s.NewMessage(ipc.User, "clover://"+Host+"/status", "finished-init")
	select {
	case ipc.Outbox <- statusMsg:
	case <-ctx.Done():
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Arbiter has stopped")
			return
		case msg, ok := <-ipc.Inbox:
			if !ok {
				return
			}
			if u, err := url.Parse(msg.Kind); err == nil && u.Host == Host {
				log.Debug().Str("kind", msg.Kind).Msg("Processing Arbiter event")
			}
		}
	}
}
