//go:build linux

package hiddev

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/entangled-hid/entangle/proto"
)

const (
	uinputMaxNameSize = 80
	absCnt            = 0x40
	// uinputUserDevSize matches struct uinput_user_dev: name, input_id
	// (4 x u16), ff_effects_max (u32), and four absCnt-sized i32 arrays.
	uinputUserDevSize = uinputMaxNameSize + 8 + 4 + 4*absCnt*4
)

type uinputDevice struct {
	file *os.File
	desc proto.InputDevice
}

// UinputWriter is the production DeviceWriter: it creates and writes to
// /dev/uinput virtual devices.
type UinputWriter struct {
	mu      sync.Mutex
	devices map[uint32]*uinputDevice
}

var _ DeviceWriter = (*UinputWriter)(nil)

func NewUinputWriter() *UinputWriter {
	return &UinputWriter{devices: make(map[uint32]*uinputDevice)}
}

func (w *UinputWriter) Create(id uint32, desc proto.InputDevice) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.devices[id]; ok {
		if descEqual(existing.desc, desc) {
			return nil
		}
		destroyUinput(existing.file)
		delete(w.devices, id)
	}

	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|os.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("hiddev: open /dev/uinput: %w", err)
	}

	if err := setupUinput(f, desc); err != nil {
		f.Close()
		return err
	}

	w.devices[id] = &uinputDevice{file: f, desc: desc}
	return nil
}

// descEqual compares only the fields spec.md's recreate rule names: name,
// vendor, product, version, and the three capability bitsets. KeyVals (the
// live key-press state) is excluded so a keystroke never forces a recreate.
func descEqual(a, b proto.InputDevice) bool { return a.DescriptorEqual(b) }

func setupUinput(f *os.File, desc proto.InputDevice) error {
	fd := f.Fd()
	if err := ioctl(fd, uiSetEVBit, unsafe.Pointer(uintptrArg(EVKey))); err != nil {
		return fmt.Errorf("hiddev: UI_SET_EVBIT KEY: %w", err)
	}
	if err := ioctl(fd, uiSetEVBit, unsafe.Pointer(uintptrArg(EVRel))); err != nil {
		return fmt.Errorf("hiddev: UI_SET_EVBIT REL: %w", err)
	}
	for _, code := range desc.KeyBits.Ones() {
		if err := ioctl(fd, uiSetKeyBit, unsafe.Pointer(uintptrArg(uintptr(code)))); err != nil {
			return fmt.Errorf("hiddev: UI_SET_KEYBIT %d: %w", code, err)
		}
	}
	for _, code := range desc.RelBits.Ones() {
		if err := ioctl(fd, uiSetRelBit, unsafe.Pointer(uintptrArg(uintptr(code)))); err != nil {
			return fmt.Errorf("hiddev: UI_SET_RELBIT %d: %w", code, err)
		}
	}

	buf := make([]byte, uinputUserDevSize)
	copy(buf[:uinputMaxNameSize], desc.Name)
	binary.LittleEndian.PutUint16(buf[uinputMaxNameSize+0:], 0 /* bustype */)
	binary.LittleEndian.PutUint16(buf[uinputMaxNameSize+2:], desc.Vendor)
	binary.LittleEndian.PutUint16(buf[uinputMaxNameSize+4:], desc.Product)
	binary.LittleEndian.PutUint16(buf[uinputMaxNameSize+6:], desc.Version)
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("hiddev: write uinput_user_dev: %w", err)
	}

	if err := ioctl(fd, uiDevCreate, nil); err != nil {
		return fmt.Errorf("hiddev: UI_DEV_CREATE: %w", err)
	}
	return nil
}

func destroyUinput(f *os.File) {
	_ = ioctl(f.Fd(), uiDevDestroy, nil)
	f.Close()
}

// uintptrArg stores v in a heap cell the ioctl can take the address of;
// UI_SET_EVBIT/KEYBIT/RELBIT take their argument by value through a
// pointer-sized int per the uinput ABI.
func uintptrArg(v uintptr) *int {
	n := int(v)
	return &n
}

func (w *UinputWriter) Drop(id uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	dev, ok := w.devices[id]
	if !ok {
		return fmt.Errorf("hiddev: drop: unknown device %d", id)
	}
	destroyUinput(dev.file)
	delete(w.devices, id)
	return nil
}

func (w *UinputWriter) Write(id uint32, ev proto.InputEvent) error {
	w.mu.Lock()
	dev, ok := w.devices[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("hiddev: write: unknown device %d", id)
	}

	buf := make([]byte, rawInputEventSize)
	binary.LittleEndian.PutUint16(buf[16:18], ev.Type)
	binary.LittleEndian.PutUint16(buf[18:20], ev.Code)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(ev.Value))
	_, err := dev.file.Write(buf)
	return err
}

func (w *UinputWriter) Flush(id uint32) error {
	w.mu.Lock()
	dev, ok := w.devices[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("hiddev: flush: unknown device %d", id)
	}
	return dev.file.Sync()
}
