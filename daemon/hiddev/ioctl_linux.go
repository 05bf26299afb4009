//go:build linux

package hiddev

// Linux has no stable Go binding for the evdev/uinput ioctl surface (unlike
// TUN, which golang.org/x/sys/unix already exposes constants for), so the
// numbers are derived by hand from the kernel's _IOC encoding, the same way
// wireguard-go hand-derives its own platform ioctls in tun_linux.go/
// conn_linux.go.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }
func ioNone(typ, nr uintptr) uintptr    { return ioc(iocNone, typ, nr, 0) }

const evdevType = 'E'

func eviocgbit(ev, length uintptr) uintptr { return ior(evdevType, 0x20+ev, length) }

var (
	eviocgname = ior(evdevType, 0x06, 256)
	eviocgid   = ior(evdevType, 0x02, 8)
	eviocgkey  = ior(evdevType, 0x18, (keyMax+7)/8+1)
)

const uinputType = 'U'

var (
	uiSetEVBit   = iow(uinputType, 100, 4)
	uiSetKeyBit  = iow(uinputType, 101, 4)
	uiSetRelBit  = iow(uinputType, 102, 4)
	uiDevCreate  = ioNone(uinputType, 1)
	uiDevDestroy = ioNone(uinputType, 2)
)
