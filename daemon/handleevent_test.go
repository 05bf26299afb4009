package daemon

import (
	"net"
	"testing"

	"github.com/entangled-hid/entangle/proto"
	"github.com/entangled-hid/entangle/wire"
)

func sampleDevice(name string) proto.InputDevice {
	return proto.InputDevice{
		KeyBits: wire.NewBitSet(32),
		RelBits: wire.NewBitSet(32),
		Cap:     wire.NewBitSet(32),
		Name:    name,
		KeyVals: wire.NewBitSet(32),
		Vendor:  1,
		Product: 2,
		Version: 3,
	}
}

type stubAddr string

func (a stubAddr) Network() string { return "stub" }
func (a stubAddr) String() string  { return string(a) }

func TestHandleEventSyncReportsNewChangedAndDroppedDevices(t *testing.T) {
	c := newClientState(stubAddr("peer"))
	keyboard := sampleDevice("Keyboard")
	mouse := sampleDevice("Mouse")
	changedMouse := sampleDevice("Mouse II")

	devices := map[uint32]proto.InputDevice{0: keyboard, 1: mouse}

	// Client claims device 1 with current info and device 2 (which the
	// server has never heard of).
	clientClaims := map[uint32]proto.InputDevice{1: mouse, 2: sampleDevice("Ghost")}
	reply, ok := c.handleEvent(clientPacketEvent{msg: proto.ClientSync{Devices: clientClaims}}, devices)
	if !ok {
		t.Fatal("expected a reply")
	}
	sync, ok := reply.(proto.ServerSync)
	if !ok {
		t.Fatalf("reply is %T, want ServerSync", reply)
	}

	if upd, ok := sync.Updates[2]; !ok || !upd.Dropped {
		t.Errorf("device 2 (unknown to server) should be reported dropped, got %+v", sync.Updates[2])
	}
	if upd, ok := sync.Updates[0]; !ok || upd.Dropped || !upd.Device.Equal(keyboard) {
		t.Errorf("device 0 (unmentioned by client) should be sent in full, got %+v", sync.Updates[0])
	}
	if _, ok := sync.Updates[1]; ok {
		t.Errorf("device 1 (client already has current info) should not be resent, got %+v", sync.Updates[1])
	}

	devices[1] = changedMouse
	reply, ok = c.handleEvent(clientPacketEvent{msg: proto.ClientSync{Devices: map[uint32]proto.InputDevice{0: keyboard, 1: mouse}}}, devices)
	if !ok {
		t.Fatal("expected a reply")
	}
	sync = reply.(proto.ServerSync)
	if upd, ok := sync.Updates[1]; !ok || !upd.Device.Equal(changedMouse) {
		t.Errorf("device 1 (changed since client's claim) should be resent, got %+v", sync.Updates[1])
	}
}

func TestHandleEventKeepAliveHasNoReply(t *testing.T) {
	c := newClientState(stubAddr("peer"))
	if _, ok := c.handleEvent(clientPacketEvent{msg: proto.ClientKeepAlive{}}, nil); ok {
		t.Fatal("keep-alive must not produce a reply")
	}
}

func TestHandleEventPingProducesPong(t *testing.T) {
	c := newClientState(stubAddr("peer"))
	reply, ok := c.handleEvent(clientPacketEvent{msg: proto.ClientPing{}}, nil)
	if !ok {
		t.Fatal("expected a reply")
	}
	if _, ok := reply.(proto.ServerPong); !ok {
		t.Fatalf("reply is %T, want ServerPong", reply)
	}
}

func TestHandleEventRemoveAndNewDevice(t *testing.T) {
	c := newClientState(stubAddr("peer"))

	reply, ok := c.handleEvent(removeDeviceEvent{id: 7}, nil)
	if !ok {
		t.Fatal("expected a reply")
	}
	sync := reply.(proto.ServerSync)
	if upd, ok := sync.Updates[7]; !ok || !upd.Dropped {
		t.Errorf("removeDeviceEvent should report device 7 dropped, got %+v", sync.Updates[7])
	}

	dev := sampleDevice("Joystick")
	reply, ok = c.handleEvent(newDeviceEvent{id: 9, dev: dev}, nil)
	if !ok {
		t.Fatal("expected a reply")
	}
	sync = reply.(proto.ServerSync)
	if upd, ok := sync.Updates[9]; !ok || upd.Dropped || !upd.Device.Equal(dev) {
		t.Errorf("newDeviceEvent should report device 9's descriptor, got %+v", sync.Updates[9])
	}
}

func TestHandleEventInputEventOnlyDeliveredWhenSynced(t *testing.T) {
	c := newClientState(stubAddr("peer"))
	ev := proto.InputEvent{Type: 1, Code: 30, Value: 1}

	if _, ok := c.handleEvent(inputEvent{id: 0, ev: ev}, nil); ok {
		t.Fatal("input event must not be forwarded before the client has synced")
	}

	devices := map[uint32]proto.InputDevice{0: sampleDevice("Keyboard")}
	if _, ok := c.handleEvent(clientPacketEvent{msg: proto.ClientSync{Devices: map[uint32]proto.InputDevice{}}}, devices); !ok {
		t.Fatal("expected a reply from the initial sync")
	}

	reply, ok := c.handleEvent(inputEvent{id: 0, ev: ev}, devices)
	if !ok {
		t.Fatal("input event should be forwarded once the client has synced")
	}
	se, ok := reply.(proto.ServerEvent)
	if !ok || se.DeviceID != 0 || se.Event != ev {
		t.Fatalf("got %+v, want ServerEvent{0, %+v}", reply, ev)
	}
}

var _ net.Addr = stubAddr("")
