//go:build !linux

package main

import (
	"errors"

	"github.com/entangled-hid/entangle/daemon/hiddev"
	"github.com/entangled-hid/entangle/proto"
)

var errUnsupportedPlatform = errors.New("entangled: real HID devices are only supported on linux")

type unsupportedReader struct{}

func (unsupportedReader) Enumerate() ([]hiddev.Device, error) { return nil, errUnsupportedPlatform }
func (unsupportedReader) Open(string, <-chan struct{}) (<-chan proto.InputEvent, error) {
	return nil, errUnsupportedPlatform
}

type unsupportedWriter struct{}

func (unsupportedWriter) Create(uint32, proto.InputDevice) error { return errUnsupportedPlatform }
func (unsupportedWriter) Drop(uint32) error                      { return errUnsupportedPlatform }
func (unsupportedWriter) Write(uint32, proto.InputEvent) error   { return errUnsupportedPlatform }
func (unsupportedWriter) Flush(uint32) error                     { return errUnsupportedPlatform }

func newDeviceReader() hiddev.DeviceReader { return unsupportedReader{} }
func newDeviceWriter() hiddev.DeviceWriter { return unsupportedWriter{} }
func newMonitor() hiddev.Monitor           { return hiddev.NewNoopMonitor() }
