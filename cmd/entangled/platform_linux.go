//go:build linux

package main

import "github.com/entangled-hid/entangle/daemon/hiddev"

func newDeviceReader() hiddev.DeviceReader { return &hiddev.EvdevReader{} }
func newDeviceWriter() hiddev.DeviceWriter { return hiddev.NewUinputWriter() }
func newMonitor() hiddev.Monitor           { return hiddev.NewNoopMonitor() }
