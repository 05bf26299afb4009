//go:build linux

package hiddev

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/entangled-hid/entangle/proto"
	"github.com/entangled-hid/entangle/wire"
)

// EvdevReader is the production DeviceReader: it walks /dev/input/event*
// and talks to the kernel's evdev ioctl surface directly.
type EvdevReader struct{}

var _ DeviceReader = EvdevReader{}

func (EvdevReader) Enumerate() ([]Device, error) {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("hiddev: glob /dev/input: %w", err)
	}
	sort.Strings(paths)

	devices := make([]Device, 0, len(paths))
	for _, path := range paths {
		dev, err := describeDevice(path)
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func describeDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Device{}, err
	}
	defer f.Close()
	fd := f.Fd()

	name := make([]byte, 256)
	if err := ioctl(fd, eviocgname, unsafe.Pointer(&name[0])); err != nil {
		return Device{}, fmt.Errorf("hiddev: EVIOCGNAME %s: %w", path, err)
	}

	var id [4]uint16 // bustype, vendor, product, version
	if err := ioctl(fd, eviocgid, unsafe.Pointer(&id[0])); err != nil {
		return Device{}, fmt.Errorf("hiddev: EVIOCGID %s: %w", path, err)
	}

	capBits := wire.NewBitSet(32)
	evBuf := make([]byte, 4)
	if err := ioctl(fd, eviocgbit(0, uintptr(len(evBuf))), unsafe.Pointer(&evBuf[0])); err == nil {
		setFromBytes(capBits, evBuf)
	}

	keyBits := wire.NewBitSet(keyMax + 1)
	keyBuf := make([]byte, (keyMax+7)/8+1)
	if err := ioctl(fd, eviocgbit(EVKey, uintptr(len(keyBuf))), unsafe.Pointer(&keyBuf[0])); err == nil {
		setFromBytes(keyBits, keyBuf)
	}

	relBits := wire.NewBitSet(relMax + 1)
	relBuf := make([]byte, (relMax+7)/8+1)
	if err := ioctl(fd, eviocgbit(EVRel, uintptr(len(relBuf))), unsafe.Pointer(&relBuf[0])); err == nil {
		setFromBytes(relBits, relBuf)
	}

	keyVals := wire.NewBitSet(keyMax + 1)
	keyValBuf := make([]byte, (keyMax+7)/8+1)
	if err := ioctl(fd, eviocgkey, unsafe.Pointer(&keyValBuf[0])); err == nil {
		setFromBytes(keyVals, keyValBuf)
	}

	return Device{
		Path: path,
		Info: proto.InputDevice{
			KeyBits: keyBits,
			RelBits: relBits,
			Cap:     capBits,
			Name:    nullTerminatedString(name),
			KeyVals: keyVals,
			Vendor:  id[1],
			Product: id[2],
			Version: id[3],
		},
	}, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// setFromBytes ORs the bits described by a little-endian kernel bitmask
// into dst, sized independently of the kernel's own word width.
func setFromBytes(dst *wire.BitSet, raw []byte) {
	for i := 0; i < len(raw)*8 && i < dst.Len(); i++ {
		byteIdx, bit := i/8, uint(i%8)
		if raw[byteIdx]&(1<<bit) != 0 {
			dst.Set(i)
		}
	}
}

// rawInputEventSize matches struct input_event's layout on 64-bit Linux:
// two 8-byte timeval fields (sec, usec) followed by type/code/value
// (2+2+4), 24 bytes total — the same record size UinputWriter writes on
// the client. Only type/code/value (8 bytes) travel in the application
// protocol.
const rawInputEventSize = 24

func (EvdevReader) Open(path string, stop <-chan struct{}) (<-chan proto.InputEvent, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("hiddev: open %s: %w", path, err)
	}

	out := make(chan proto.InputEvent)
	go func() {
		defer close(out)
		defer f.Close()
		go func() {
			<-stop
			f.Close()
		}()

		buf := make([]byte, rawInputEventSize)
		for {
			if _, err := readFull(f, buf); err != nil {
				return
			}
			ev := decodeRawEvent(buf)
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return out, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func decodeRawEvent(buf []byte) proto.InputEvent {
	return proto.InputEvent{
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}

func ioctl(fd uintptr, cmd uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
