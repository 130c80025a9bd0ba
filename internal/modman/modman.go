// Package modman manages hardware modules: it registers the modules
// declared by compiled manifests and runs the bus proxies that splice
// physical ports into the event fabric.
package modman

import (
	"context"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/modman/busproxy"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// Host is the kind-URL host that addresses ModMan events.
const Host = "com.reboot-codes.clover.modman"

// Run is the ModMan subsystem main. It registers manifest-declared modules,
// starts the configured bus proxies, and bridges them onto the fabric
// until ctx is cancelled.
func Run(ctx context.Context, ipc evtbuzz.SubsystemIPC, s *store.Store) {
	log.Info().Msg("Starting ModMan...")

	registerModules(s)
	validateBindings(s)

	ports := busproxy.NewPortTable()
	buses := []busproxy.Bus{
		&busproxy.UARTBus{Ports: ports, Config: s.Config().ModMan},
		busproxy.NewCAN2Bus(),
		busproxy.NewCANFDBus(),
		busproxy.NewBTBus(),
		busproxy.NewBTLEBus(),
		busproxy.NewSPIBus(),
		busproxy.NewI2CBus(),
	}

	// Frames decoded off any bus publish onto the fabric as ModMan's
	// synthetic client.
	fromBus := make(chan models.WsIn, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case in, ok := <-fromBus:
				if !ok {
					return
				}
				msg := s.NewMessage(ipc.User, in.Kind, in.Message)
				select {
				case ipc.Outbox <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Fabric messages routed to ModMan feed every bus.
	feeds := make([]chan models.Message, len(buses))
	var proxies sync.WaitGroup
	for i, bus := range buses {
		feed := make(chan models.Message, 64)
		feeds[i] = feed
		proxies.Add(1)
		go func(bus busproxy.Bus, feed <-chan models.Message) {
			defer proxies.Done()
			log.Info().Str("bus", string(bus.Type())).Msg("Starting bus proxy")
			if err := bus.SubscribeToBus(ctx, fromBus, feed); err != nil {
				log.Error().Str("bus", string(bus.Type())).Err(err).Msg("Bus proxy failed")
			}
		}(bus, feed)
	}

	statusMsg := s.NewMessage(ipc.User, "clover://"+Host+"/status", "finished-init")
	select {
	case ipc.Outbox <- statusMsg:
	case <-ctx.Done():
	}

	for {
		select {
		case <-ctx.Done():
			proxies.Wait()
			log.Info().Msg("ModMan has stopped")
			return
		case msg, ok := <-ipc.Inbox:
			if !ok {
				proxies.Wait()
				return
			}
			if kindHost(msg.Kind) == Host {
				log.Debug().Str("kind", msg.Kind).Msg("Processing ModMan event")
			}
			for _, feed := range feeds {
				select {
				case feed <- msg:
				default:
					// A stalled bus does not block the fabric.
				}
			}
		}
	}
}

// registerModules loads every module declared by a compiled manifest into
// the store, with its declared components.
func registerModules(s *store.Store) {
	for repoID, m := range s.Repos() {
		for moduleID, spec := range m.Modules {
			name := moduleID
			if spec.Name != nil {
				name = *spec.Name
			}

			components := make(map[string]models.Component, len(spec.Components))
			for componentID, class := range spec.Components {
				component, ok := componentClass(class)
				if !ok {
					log.Warn().
						Str("module", moduleID).
						Str("component", componentID).
						Str("class", class).
						Msg("Unknown component class, skipping")
					continue
				}
				components[componentID] = component
			}

			s.PutModule(moduleID, models.Module{
				ModuleType:   moduleID,
				PrettyName:   name,
				Components:   components,
				RegisteredBy: repoID,
			})
			log.Debug().
				Str("module", moduleID).
				Str("repo", repoID).
				Int("components", len(components)).
				Msg("Registered module")
		}
	}
}

// componentClass parses a manifest component class string.
func componentClass(class string) (models.Component, bool) {
	switch models.Component(class) {
	case models.ComponentAudio, models.ComponentVideo, models.ComponentSensor, models.ComponentMovement:
		return models.Component(class), true
	default:
		return "", false
	}
}

// validateBindings checks every configured port binding against the
// registered module components, so a typo'd component id shows up at
// startup instead of as a silently dead port.
func validateBindings(s *store.Store) {
	known := make(map[string]models.Component)
	for _, module := range s.Modules() {
		for componentID, component := range module.Components {
			known[componentID] = component
		}
	}

	for portName, portCfg := range s.Config().ModMan.UARTPorts {
		component, ok := known[portCfg.ComponentID]
		if !ok {
			log.Warn().
				Str("port", portName).
				Str("component", portCfg.ComponentID).
				Msg("Port is bound to a component no module declares")
			continue
		}
		log.Debug().
			Str("port", portName).
			Str("component", portCfg.ComponentID).
			Str("class", string(component)).
			Msg("Port binding matches a declared component")
	}
}

func kindHost(kind string) string {
	u, err := url.Parse(kind)
	if err != nil {
		return ""
	}
	return u.Host
}
