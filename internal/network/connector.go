package network

import (
	"context"
	"errors"
)

// ConnectResult describes a successful hotspot association.
type ConnectResult struct {
	SSID      string
	GatewayIP string
}

// Connector joins and leaves the glasses' WiFi hotspot. Implementations must
// return the sentinel errors below so the orchestrator can pick the correct
// next state, and Disconnect must be idempotent.
type Connector interface {
	// Connect joins the hotspot and returns the gateway to reach the media
	// server on. gatewayIP is the address announced by the glasses and is
	// echoed back when the platform cannot determine one itself.
	Connect(ctx context.Context, ssid, password, gatewayIP string) (*ConnectResult, error)

	// Disconnect leaves a previously joined hotspot. Calling it when nothing
	// was joined is a no-op, not an error.
	Disconnect() error

	// CurrentSSID returns the SSID the host is currently associated with, or
	// an empty string when not on WiFi.
	CurrentSSID() (string, error)
}

// ConnectError is a connection failure classified into the kinds the state
// machine distinguishes.
type ConnectError struct {
	Kind    ErrorKind
	Message string
}

// ErrorKind discriminates hotspot join failures.
type ErrorKind int

const (
	// ErrKindGeneric is any failure not covered below.
	ErrKindGeneric ErrorKind = iota
	// ErrKindUserCancelled means the user dismissed or denied the join prompt.
	ErrKindUserCancelled
	// ErrKindWifiDisabled means WiFi must be enabled manually before retrying.
	ErrKindWifiDisabled
)

func (e *ConnectError) Error() string {
	return e.Message
}

// IsUserCancelled reports whether err is a user-cancelled join.
func IsUserCancelled(err error) bool {
	return errKind(err) == ErrKindUserCancelled
}

// IsWifiDisabled reports whether err means WiFi is switched off on the host.
func IsWifiDisabled(err error) bool {
	return errKind(err) == ErrKindWifiDisabled
}

func errKind(err error) ErrorKind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindGeneric
}
