// Package busproxy extends the event fabric onto wired and wireless
// hardware buses, so that components on a UART, CAN, BT, SPI, or I²C link
// participate in the fabric without needing their own websocket.
//
// Every bus kind shares the same contract: decode inbound frames onto
// fromBus, write fabric messages from toBus to the wire, and supervise the
// port for the lifetime of the binding. UART is the reference
// implementation; the other kinds mirror its shape.
package busproxy

import (
	"context"

	"github.com/reboot-codes/cloverhub/pkg/models"
)

// Type tags a bus transport kind.
type Type string

const (
	TypeApp   Type = "app"
	TypeUART  Type = "uart"
	TypeCAN2  Type = "can2"
	TypeCANFD Type = "canfd"
	TypeBT    Type = "bt"
	TypeBTLE  Type = "btle"
	TypeSPI   Type = "spi"
	TypeI2C   Type = "i2c"
)

// Bus is one hardware transport bridged onto the event fabric.
type Bus interface {
	// SubscribeToBus binds the transport's configured ports and runs its
	// reader/writer tasks until ctx is cancelled. Frames decoded off the
	// wire go to fromBus; messages arriving on toBus are serialized onto
	// the wire. Blocks until every port task has exited.
	SubscribeToBus(ctx context.Context, fromBus chan<- models.WsIn, toBus <-chan models.Message) error

	// Type identifies the transport.
	Type() Type
}
