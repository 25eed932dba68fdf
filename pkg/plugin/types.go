// Package plugin defines the classifier/parser/decoder object model served
// over the dissector bridge.
package plugin

import "fmt"

// Transport selects which host registration a classifier uses.
type Transport uint8

const (
	TransportTCP Transport = iota
	TransportUDP
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// ParseTransport maps "tcp"/"udp" to a Transport.
func ParseTransport(s string) (Transport, error) {
	switch s {
	case "tcp", "TCP":
		return TransportTCP, nil
	case "udp", "UDP":
		return TransportUDP, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", s)
	}
}

// Direction is the traffic direction the host reports with each chunk.
// 0 is client to server, 1 is server to client.
type Direction uint32

const (
	DirectionToServer Direction = 0
	DirectionToClient Direction = 1
)

// Index maps the direction to an accumulator slot.
func (d Direction) Index() int { return int(d & 1) }

func (d Direction) String() string {
	if d.Index() == 0 {
		return "to-server"
	}
	return "to-client"
}
