package hiddev

import (
	"testing"

	"github.com/entangled-hid/entangle/proto"
	"github.com/entangled-hid/entangle/wire"
)

func sampleDevice(name string) proto.InputDevice {
	keyBits := wire.NewBitSet(32)
	keyBits.Set(30)
	return proto.InputDevice{
		KeyBits: keyBits,
		RelBits: wire.NewBitSet(32),
		Cap:     wire.NewBitSet(32),
		Name:    name,
		KeyVals: wire.NewBitSet(32),
		Vendor:  0x046d,
		Product: 0xc52b,
		Version: 1,
	}
}

func TestFakeWriterCreateWriteFlush(t *testing.T) {
	w := NewFakeWriter()
	dev := sampleDevice("Fake Keyboard")

	if err := w.Create(0, dev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, ok := w.Device(0); !ok || !got.Equal(dev) {
		t.Fatalf("Device(0) = %+v, %v", got, ok)
	}

	ev := proto.InputEvent{Type: EVKey, Code: 30, Value: 1}
	if err := w.Write(0, ev); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(0); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events := w.Events()
	if len(events) != 1 || events[0].Event != ev {
		t.Fatalf("Events() = %+v", events)
	}
	if w.Flushes != 1 {
		t.Fatalf("Flushes = %d, want 1", w.Flushes)
	}
}

func TestFakeWriterWriteToUnknownDeviceFails(t *testing.T) {
	w := NewFakeWriter()
	if err := w.Write(5, proto.InputEvent{}); err == nil {
		t.Fatalf("expected error writing to unknown device")
	}
}

func TestFakeWriterDropRemovesDevice(t *testing.T) {
	w := NewFakeWriter()
	dev := sampleDevice("Fake Mouse")
	_ = w.Create(1, dev)
	if err := w.Drop(1); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, ok := w.Device(1); ok {
		t.Fatalf("device still present after Drop")
	}
}

func TestFakeReaderEnumerateAndOpen(t *testing.T) {
	dev := Device{Path: "/dev/input/event0", Info: sampleDevice("Fake Keyboard")}
	r := NewFakeReader([]Device{dev})

	got, err := r.Enumerate()
	if err != nil || len(got) != 1 || got[0].Path != dev.Path {
		t.Fatalf("Enumerate() = %+v, %v", got, err)
	}

	want := proto.InputEvent{Type: EVKey, Code: 30, Value: 1}
	r.QueueEvents(dev.Path, []proto.InputEvent{want})

	stop := make(chan struct{})
	defer close(stop)
	ch, err := r.Open(dev.Path, stop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := <-ch; got != want {
		t.Fatalf("Open delivered %+v, want %+v", got, want)
	}
}
