// Package inference is the hub-side shell of the gesture/expression
// inference engine, participating on the fabric as a subsystem user.
package inference

import (
	"context"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/store"
)

// Host is the kind-URL host that addresses Inference Engine events.
const Host = "com.reboot-codes.clover.inference-engine"

// Run is the Inference Engine subsystem main.
func Run(ctx context.Context, ipc evtbuzz.SubsystemIPC, s *store.Store) {
	log.Info().Msg("Starting Inference Engine...")

	statusMsg := s.NewMessage(ipc.User, "clover://"+Host+"/status", "finished-init")
	select {
	case ipc.Outbox <- statusMsg:
	case <-ctx.Done():
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Inference Engine has stopped")
			return
		case msg, ok := <-ipc.Inbox:
			if !ok {
				return
			}
			if u, err := url.Parse(msg.Kind); err == nil && u.Host == Host {
				log.Debug().Str("kind", msg.Kind).Msg("Processing Inference Engine event")
			}
		}
	}
}
