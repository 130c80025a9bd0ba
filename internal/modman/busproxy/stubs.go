package busproxy

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/pkg/models"
)

// The remaining bus kinds share the UART shape — transport-specific open,
// read, write, and framing behind the same subscribe contract. Until their
// transports land, each stub waits for cancellation so the proxy manager
// can treat every bus uniformly.

type stubBus struct {
	kind Type
}

func (s stubBus) Type() Type { return s.kind }

func (s stubBus) SubscribeToBus(ctx context.Context, _ chan<- models.WsIn, toBus <-chan models.Message) error {
	log.Info().Str("bus", string(s.kind)).Msg("Bus transport not yet implemented, draining")
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-toBus:
			if !ok {
				return nil
			}
		}
	}
}

// NewCAN2Bus proxies classic CAN 2.0 A/B.
func NewCAN2Bus() Bus { return stubBus{kind: TypeCAN2} }

// NewCANFDBus proxies CAN-FD.
func NewCANFDBus() Bus { return stubBus{kind: TypeCANFD} }

// NewBTBus proxies Bluetooth Classic.
func NewBTBus() Bus { return stubBus{kind: TypeBT} }

// NewBTLEBus proxies Bluetooth LE.
func NewBTLEBus() Bus { return stubBus{kind: TypeBTLE} }

// NewSPIBus proxies SPI.
func NewSPIBus() Bus { return stubBus{kind: TypeSPI} }

// NewI2CBus proxies I²C.
func NewI2CBus() Bus { return stubBus{kind: TypeI2C} }
