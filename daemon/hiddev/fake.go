package hiddev

import (
	"errors"
	"sync"

	"github.com/entangled-hid/entangle/proto"
)

var errUnknownDevice = errors.New("hiddev: unknown device")

// FakeWriter is an in-memory DeviceWriter, exported for use by the daemon
// package's own tests (and this package's) so they don't depend on a real
// uinput node being available, the same role MemSocket plays for cdgram.
type FakeWriter struct {
	mu      sync.Mutex
	devices map[uint32]proto.InputDevice
	events  []FakeEvent
	Creates int
	Drops   int
	Flushes int
}

type FakeEvent struct {
	ID    uint32
	Event proto.InputEvent
}

func NewFakeWriter() *FakeWriter {
	return &FakeWriter{devices: make(map[uint32]proto.InputDevice)}
}

var _ DeviceWriter = (*FakeWriter)(nil)

func (w *FakeWriter) Create(id uint32, desc proto.InputDevice) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.devices[id] = desc
	w.Creates++
	return nil
}

func (w *FakeWriter) Drop(id uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.devices, id)
	w.Drops++
	return nil
}

func (w *FakeWriter) Write(id uint32, ev proto.InputEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.devices[id]; !ok {
		return errUnknownDevice
	}
	w.events = append(w.events, FakeEvent{ID: id, Event: ev})
	return nil
}

func (w *FakeWriter) Flush(id uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Flushes++
	return nil
}

// Events returns a snapshot of events written so far, in write order.
func (w *FakeWriter) Events() []FakeEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FakeEvent, len(w.events))
	copy(out, w.events)
	return out
}

// Device reports the descriptor currently held for id, if any.
func (w *FakeWriter) Device(id uint32) (proto.InputDevice, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dev, ok := w.devices[id]
	return dev, ok
}

// FakeReader is an in-memory DeviceReader that serves a fixed device list
// and replays queued events for Open, without touching any real hardware.
type FakeReader struct {
	mu      sync.Mutex
	devices []Device
	queued  map[string][]proto.InputEvent
}

func NewFakeReader(devices []Device) *FakeReader {
	return &FakeReader{devices: devices, queued: make(map[string][]proto.InputEvent)}
}

var _ DeviceReader = (*FakeReader)(nil)

func (r *FakeReader) Enumerate() ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out, nil
}

// QueueEvents arranges for events to be delivered, in order, the next time
// Open is called for path.
func (r *FakeReader) QueueEvents(path string, events []proto.InputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued[path] = append(r.queued[path], events...)
}

func (r *FakeReader) Open(path string, stop <-chan struct{}) (<-chan proto.InputEvent, error) {
	r.mu.Lock()
	events := r.queued[path]
	delete(r.queued, path)
	r.mu.Unlock()

	out := make(chan proto.InputEvent)
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
		<-stop
	}()
	return out, nil
}
