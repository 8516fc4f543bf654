package main

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/session"
)

// ErrCommandNotSent is returned by send when the hand did not confirm the write.
var ErrCommandNotSent = errors.New("command not confirmed by the device")

// FormatUserError turns a failure into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch device.KindOf(err) {
	case device.PermissionDenied:
		return "Bluetooth permissions were not granted"
	case device.RadioUnavailable:
		return "Bluetooth is unavailable; make sure the adapter is present and powered on"
	case device.ScanTimeout:
		return "hand not found; make sure it is powered and advertising, then retry"
	case device.ConnectionFailed:
		return "connection failed: " + detail(err)
	case device.WriteFailure:
		return "command write failed: " + detail(err)
	case device.MalformedPayload:
		return "malformed telemetry: " + detail(err)
	}

	switch {
	case errors.Is(err, session.ErrConnectInProgress):
		return "a connection attempt is already running"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	}
	return err.Error()
}

// detail renders a classified error without its kind prefix.
func detail(err error) string {
	var e *device.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	parts := make([]string, 0, 2)
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return strings.Join(parts, ": ")
}
