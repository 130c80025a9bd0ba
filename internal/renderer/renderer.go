// Package renderer is the hub-side shell of the display compositor. The
// renderer proper (GPU, windowing) is an external collaborator; here it is
// a message consumer with a first-class subsystem user.
package renderer

import (
	"context"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/store"
)

// Host is the kind-URL host that addresses Renderer events.
const Host = "com.reboot-codes.clover.renderer"

// Run is the Renderer subsystem main.
func Run(ctx context.Context, ipc evtbuzz.SubsystemIPC, s *store.Store) {
	log.Info().Msg("Starting Renderer...")

	statusMsg := s.NewMessage(ipc.User, "clover://"+Host+"/status", "finished-init")
	select {
	case ipc.Outbox <- statusMsg:
	case <-ctx.Done():
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Renderer has stopped")
			return
		case msg, ok := <-ipc.Inbox:
			if !ok {
				return
			}
			if u, err := url.Parse(msg.Kind); err == nil && u.Host == Host {
				log.Debug().Str("kind", msg.Kind).Msg("Processing Renderer event")
			}
		}
	}
}
