// Package proto implements the application-level HID-sharing protocol that
// rides on top of a cdgram session: device synchronization, input event
// forwarding, and the keep-alive/ping-pong liveness exchange. Encoding
// follows the same bincode-compatible tagged-union convention as the wire
// package it is built on: a u32 discriminant in declaration order, followed
// by the variant's payload.
package proto

import (
	"fmt"

	"github.com/entangled-hid/entangle/wire"
)

// ClientMessage is sent from client to server.
type ClientMessage interface {
	encodeInto(e *wire.Encoder)
}

const (
	clientMsgSync uint32 = iota
	clientMsgKeepAlive
	clientMsgPing
)

// ClientSync announces the server devices the client currently knows about,
// keyed by the server's device id. The server replies with a ServerSync
// describing how the client's mirrored state should change.
type ClientSync struct {
	Devices map[uint32]InputDevice
}

func (m ClientSync) encodeInto(e *wire.Encoder) {
	e.PutTag(clientMsgSync)
	e.PutSeqLen(len(m.Devices))
	for id, dev := range m.Devices {
		e.PutU32(id)
		dev.encodeInto(e)
	}
}

// ClientKeepAlive tells the server the client is still present without
// altering any synchronized state.
type ClientKeepAlive struct{}

func (ClientKeepAlive) encodeInto(e *wire.Encoder) { e.PutTag(clientMsgKeepAlive) }

// ClientPing requests a ServerPong, used by the client to measure liveness
// of the connection independently of keep-alive.
type ClientPing struct{}

func (ClientPing) encodeInto(e *wire.Encoder) { e.PutTag(clientMsgPing) }

// EncodeClientMessage serializes m using the wire codec.
func EncodeClientMessage(m ClientMessage) []byte {
	e := wire.NewEncoder()
	m.encodeInto(e)
	return e.Bytes()
}

// DecodeClientMessage parses a ClientMessage from buf.
func DecodeClientMessage(buf []byte) (ClientMessage, error) {
	d := wire.NewDecoder(buf)
	tag, err := d.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case clientMsgSync:
		n, err := d.SeqLen()
		if err != nil {
			return nil, err
		}
		devices := make(map[uint32]InputDevice, n)
		for i := 0; i < n; i++ {
			id, err := d.U32()
			if err != nil {
				return nil, err
			}
			dev, err := decodeInputDevice(d)
			if err != nil {
				return nil, err
			}
			devices[id] = dev
		}
		return ClientSync{Devices: devices}, nil
	case clientMsgKeepAlive:
		return ClientKeepAlive{}, nil
	case clientMsgPing:
		return ClientPing{}, nil
	default:
		return nil, fmt.Errorf("proto: unknown client message tag %d", tag)
	}
}

// ServerMessage is sent from server to client.
type ServerMessage interface {
	encodeInto(e *wire.Encoder)
}

const (
	serverMsgSync uint32 = iota
	serverMsgEvent
	serverMsgPong
)

// ServerSync carries, for each device id whose state on the client must
// change, either an updated InputDevice or notice that it has been dropped.
// Devices the client already holds current info for are left out.
type ServerSync struct {
	Updates map[uint32]InputDeviceUpdate
}

func (m ServerSync) encodeInto(e *wire.Encoder) {
	e.PutTag(serverMsgSync)
	e.PutSeqLen(len(m.Updates))
	for id, upd := range m.Updates {
		e.PutU32(id)
		upd.encodeInto(e)
	}
}

// ServerEvent forwards a single input event from the named device.
type ServerEvent struct {
	DeviceID uint32
	Event    InputEvent
}

func (m ServerEvent) encodeInto(e *wire.Encoder) {
	e.PutTag(serverMsgEvent)
	e.PutU32(m.DeviceID)
	m.Event.encodeInto(e)
}

// ServerPong answers a ClientPing.
type ServerPong struct{}

func (ServerPong) encodeInto(e *wire.Encoder) { e.PutTag(serverMsgPong) }

// EncodeServerMessage serializes m using the wire codec.
func EncodeServerMessage(m ServerMessage) []byte {
	e := wire.NewEncoder()
	m.encodeInto(e)
	return e.Bytes()
}

// DecodeServerMessage parses a ServerMessage from buf.
func DecodeServerMessage(buf []byte) (ServerMessage, error) {
	d := wire.NewDecoder(buf)
	tag, err := d.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case serverMsgSync:
		n, err := d.SeqLen()
		if err != nil {
			return nil, err
		}
		updates := make(map[uint32]InputDeviceUpdate, n)
		for i := 0; i < n; i++ {
			id, err := d.U32()
			if err != nil {
				return nil, err
			}
			upd, err := decodeInputDeviceUpdate(d)
			if err != nil {
				return nil, err
			}
			updates[id] = upd
		}
		return ServerSync{Updates: updates}, nil
	case serverMsgEvent:
		id, err := d.U32()
		if err != nil {
			return nil, err
		}
		ev, err := decodeInputEvent(d)
		if err != nil {
			return nil, err
		}
		return ServerEvent{DeviceID: id, Event: ev}, nil
	case serverMsgPong:
		return ServerPong{}, nil
	default:
		return nil, fmt.Errorf("proto: unknown server message tag %d", tag)
	}
}

const (
	deviceUpdateUpdate uint32 = iota
	deviceUpdateDrop
)

// InputDeviceUpdate is either a new snapshot of a device's state, or notice
// that the server has dropped it (and the client should remove its
// corresponding uinput device).
type InputDeviceUpdate struct {
	Dropped bool
	Device  InputDevice
}

func (u InputDeviceUpdate) encodeInto(e *wire.Encoder) {
	if u.Dropped {
		e.PutTag(deviceUpdateDrop)
		return
	}
	e.PutTag(deviceUpdateUpdate)
	u.Device.encodeInto(e)
}

func decodeInputDeviceUpdate(d *wire.Decoder) (InputDeviceUpdate, error) {
	tag, err := d.Tag()
	if err != nil {
		return InputDeviceUpdate{}, err
	}
	switch tag {
	case deviceUpdateUpdate:
		dev, err := decodeInputDevice(d)
		if err != nil {
			return InputDeviceUpdate{}, err
		}
		return InputDeviceUpdate{Device: dev}, nil
	case deviceUpdateDrop:
		return InputDeviceUpdate{Dropped: true}, nil
	default:
		return InputDeviceUpdate{}, fmt.Errorf("proto: unknown device update tag %d", tag)
	}
}
