package busproxy

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/reboot-codes/cloverhub/internal/config"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// UARTBus proxies fabric messages over serial ports. The reference bus
// implementation: enumerate ports, bind each configured port to its
// component, then run reader/writer/supervisor tasks per binding.
type UARTBus struct {
	Ports  *PortTable
	Config config.ModManConfig
	Cipher Cipher
}

func (b *UARTBus) Type() Type { return TypeUART }

// SubscribeToBus binds every configured serial port that the OS reports and
// bridges both directions until ctx is cancelled.
func (b *UARTBus) SubscribeToBus(ctx context.Context, fromBus chan<- models.WsIn, toBus <-chan models.Message) error {
	if len(b.Config.UARTPorts) == 0 {
		log.Warn().Msg("No UART ports configured to proxy messages to")
	}

	available, err := serial.GetPortsList()
	if err != nil {
		return err
	}

	cipher := b.Cipher
	if cipher == nil {
		cipher = IdentityCipher{}
	}

	// Fan toBus out to every bound port. Each binding gets its own feed so
	// a stalled port cannot starve the others.
	var feedsMu sync.Mutex
	var feeds []chan models.Message
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-toBus:
				if !ok {
					return
				}
				feedsMu.Lock()
				for _, feed := range feeds {
					select {
					case feed <- msg:
					default:
						log.Warn().Str("kind", msg.Kind).Msg("UART port feed full, dropping message")
					}
				}
				feedsMu.Unlock()
			}
		}
	}()

	var bindings sync.WaitGroup
	for _, portName := range available {
		log.Debug().Str("port", portName).Msg("Found serial port")

		portCfg, configured := b.Config.UARTPorts[portName]
		if !configured {
			continue
		}

		if err := b.Ports.Request(portName, portCfg.ComponentID); err != nil {
			log.Warn().Str("port", portName).Err(err).Msg("Port not available for binding")
			continue
		}

		log.Debug().
			Str("component", portCfg.ComponentID).
			Str("port", portName).
			Msg("Component attempting to bind port")

		stream, err := serial.Open(portName, &serial.Mode{BaudRate: portCfg.Baud})
		if err != nil {
			log.Error().Str("port", portName).Err(err).Msg("Failed to open serial port")
			b.Ports.MarkUnavailable(portName, portCfg.ComponentID)
			continue
		}

		if err := b.Ports.Bind(portName, portCfg.ComponentID); err != nil {
			log.Error().Str("port", portName).Err(err).Msg("Port binding lost")
			stream.Close()
			continue
		}
		log.Debug().
			Str("component", portCfg.ComponentID).
			Str("port", portName).
			Msg("Port bound")

		feed := make(chan models.Message, 64)
		feedsMu.Lock()
		feeds = append(feeds, feed)
		feedsMu.Unlock()

		bindings.Add(1)
		go func(portName, componentID string, stream serial.Port, feed <-chan models.Message) {
			defer bindings.Done()
			b.runPort(ctx, portName, componentID, stream, cipher, fromBus, feed)
		}(portName, portCfg.ComponentID, stream, feed)
	}

	bindings.Wait()
	return nil
}

// runPort runs one binding's outbound writer, inbound reader, and
// supervision. When either half errors terminally the port is released
// back to Available and the binding exits; other ports keep running.
func (b *UARTBus) runPort(
	ctx context.Context,
	portName, componentID string,
	stream serial.Port,
	cipher Cipher,
	fromBus chan<- models.WsIn,
	feed <-chan models.Message,
) {
	defer b.Ports.Release(portName)
	defer stream.Close()

	fatal := make(chan struct{})
	var once sync.Once
	terminate := func() { once.Do(func() { close(fatal) }) }

	var tasks sync.WaitGroup

	// Outbound: fabric → wire.
	tasks.Add(1)
	go func() {
		defer tasks.Done()
		defer terminate()
		for {
			select {
			case <-ctx.Done():
				return
			case <-fatal:
				return
			case msg, ok := <-feed:
				if !ok {
					return
				}
				log.Debug().
					Str("component", componentID).
					Str("port", portName).
					Msg("Sending message to port")
				frame, err := EncodeFrame(models.WsIn{Kind: msg.Kind, Message: msg.Message}, cipher)
				if err != nil {
					log.Error().Str("port", portName).Err(err).Msg("Failed to encode bus frame")
					continue
				}
				if _, err := stream.Write(frame); err != nil {
					log.Error().Str("port", portName).Err(err).Msg("Port write failed, releasing")
					return
				}
			}
		}
	}()

	// Inbound: wire → fabric. Decode errors are logged and skipped; only
	// I/O errors close the port.
	tasks.Add(1)
	go func() {
		defer tasks.Done()
		defer terminate()
		reader := NewFrameReader(stream, cipher)
		for {
			msg, err := reader.ReadFrame()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					log.Warn().Str("port", portName).Msg("Port stream closed")
					return
				}
				var netErr *serial.PortError
				if errors.As(err, &netErr) {
					log.Error().Str("port", portName).Err(err).Msg("Port read failed, releasing")
					return
				}
				log.Warn().Str("port", portName).Err(err).Msg("Dropping undecodable bus frame")
				continue
			}
			log.Debug().
				Str("component", componentID).
				Str("port", portName).
				Str("kind", msg.Kind).
				Msg("Parsed message from port")
			select {
			case fromBus <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Supervision: a cancel or a terminal error on either half tears the
	// binding down.
	select {
	case <-ctx.Done():
	case <-fatal:
	}
	stream.Close()
	tasks.Wait()
}
