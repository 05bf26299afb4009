package proto

import "github.com/entangled-hid/entangle/wire"

// InputDevice describes a shared HID device's capabilities and (for keys)
// current state, mirroring the subset of a Linux evdev device the daemon
// needs to recreate it on the remote end via uinput.
type InputDevice struct {
	// KeyBits is the set of key/button codes this device is capable of
	// producing (EV_KEY).
	KeyBits *wire.BitSet
	// RelBits is the set of relative axis codes this device is capable of
	// producing (EV_REL).
	RelBits *wire.BitSet
	// Cap is the set of event types the source device reports (its evdev
	// EV_* bitmask).
	Cap *wire.BitSet
	// Name is the device's human-readable name, as reported by evdev.
	Name string
	// KeyVals is the set of keys pressed when the snapshot was taken. It
	// takes part in Equal but is not applied to the client's uinput device.
	KeyVals *wire.BitSet
	Vendor  uint16
	Product uint16
	Version uint16
}

func (dev InputDevice) encodeInto(e *wire.Encoder) {
	e.PutBitSet(dev.KeyBits)
	e.PutBitSet(dev.RelBits)
	e.PutBitSet(dev.Cap)
	e.PutString(dev.Name)
	e.PutBitSet(dev.KeyVals)
	e.PutU16(dev.Vendor)
	e.PutU16(dev.Product)
	e.PutU16(dev.Version)
}

func decodeInputDevice(d *wire.Decoder) (InputDevice, error) {
	var dev InputDevice
	var err error
	if dev.KeyBits, err = d.BitSet(); err != nil {
		return InputDevice{}, err
	}
	if dev.RelBits, err = d.BitSet(); err != nil {
		return InputDevice{}, err
	}
	if dev.Cap, err = d.BitSet(); err != nil {
		return InputDevice{}, err
	}
	if dev.Name, err = d.String(); err != nil {
		return InputDevice{}, err
	}
	if dev.KeyVals, err = d.BitSet(); err != nil {
		return InputDevice{}, err
	}
	if dev.Vendor, err = d.U16(); err != nil {
		return InputDevice{}, err
	}
	if dev.Product, err = d.U16(); err != nil {
		return InputDevice{}, err
	}
	if dev.Version, err = d.U16(); err != nil {
		return InputDevice{}, err
	}
	return dev, nil
}

// Equal reports whether two InputDevice snapshots are identical in every
// field, including the live key-press state (KeyVals).
func (dev InputDevice) Equal(other InputDevice) bool {
	return dev.DescriptorEqual(other) && dev.KeyVals.Equal(other.KeyVals)
}

// DescriptorEqual reports whether two InputDevice snapshots describe the
// same device identity and capabilities: name, vendor, product, version,
// and the three capability bitsets. It deliberately excludes KeyVals (the
// live key-press state), which changes on every keystroke and must not by
// itself trigger a uinput device recreation on the client.
func (dev InputDevice) DescriptorEqual(other InputDevice) bool {
	return dev.Name == other.Name &&
		dev.Vendor == other.Vendor &&
		dev.Product == other.Product &&
		dev.Version == other.Version &&
		dev.KeyBits.Equal(other.KeyBits) &&
		dev.RelBits.Equal(other.RelBits) &&
		dev.Cap.Equal(other.Cap)
}

// InputEvent is a single evdev event: a type/code/value triple, matching
// struct input_event's non-timestamp fields.
type InputEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

func (ev InputEvent) encodeInto(e *wire.Encoder) {
	e.PutU16(ev.Type)
	e.PutU16(ev.Code)
	e.PutI32(ev.Value)
}

func decodeInputEvent(d *wire.Decoder) (InputEvent, error) {
	var ev InputEvent
	var err error
	if ev.Type, err = d.U16(); err != nil {
		return InputEvent{}, err
	}
	if ev.Code, err = d.U16(); err != nil {
		return InputEvent{}, err
	}
	if ev.Value, err = d.I32(); err != nil {
		return InputEvent{}, err
	}
	return ev, nil
}
