package network

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/glasssync/gallery/internal/observability"
)

const nmcliTimeout = 45 * time.Second

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// NMCLIConnector joins WiFi networks through NetworkManager's nmcli. It is
// the Linux-host implementation of Connector.
type NMCLIConnector struct {
	iface  string
	runner commandRunner
	logger *observability.Logger

	mu         sync.Mutex
	joinedSSID string
}

// NewNMCLIConnector creates a connector bound to a WiFi interface
func NewNMCLIConnector(iface string) *NMCLIConnector {
	return &NMCLIConnector{
		iface:  iface,
		runner: execRunner{},
		logger: observability.GetLogger().WithField("component", "network"),
	}
}

// Connect joins the hotspot network and reports the gateway to use.
func (c *NMCLIConnector) Connect(ctx context.Context, ssid, password, gatewayIP string) (*ConnectResult, error) {
	if ssid == "" {
		return nil, &ConnectError{Kind: ErrKindGeneric, Message: "hotspot SSID is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, nmcliTimeout)
	defer cancel()

	radio, err := c.runner.run(ctx, "nmcli", "radio", "wifi")
	if err == nil && strings.TrimSpace(radio) == "disabled" {
		return nil, &ConnectError{Kind: ErrKindWifiDisabled, Message: "WiFi radio is disabled"}
	}

	// The hotspot may not be in the scan cache yet.
	c.runner.run(ctx, "nmcli", "dev", "wifi", "rescan", "ifname", c.iface)

	args := []string{"dev", "wifi", "connect", ssid, "ifname", c.iface}
	if password != "" {
		args = append(args, "password", password)
	}

	out, err := c.runner.run(ctx, "nmcli", args...)
	if err != nil {
		return nil, classifyNmcliFailure(out, err)
	}

	c.mu.Lock()
	c.joinedSSID = ssid
	c.mu.Unlock()

	c.logger.Infof("Joined hotspot %s on %s", ssid, c.iface)

	gateway := gatewayIP
	if detected := c.detectGateway(ctx); detected != "" {
		gateway = detected
	}

	return &ConnectResult{SSID: ssid, GatewayIP: gateway}, nil
}

// Disconnect leaves the joined hotspot. Safe to call repeatedly.
func (c *NMCLIConnector) Disconnect() error {
	c.mu.Lock()
	ssid := c.joinedSSID
	c.joinedSSID = ""
	c.mu.Unlock()

	if ssid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()

	out, err := c.runner.run(ctx, "nmcli", "connection", "down", "id", ssid)
	if err != nil {
		if strings.Contains(out, "not an active connection") {
			return nil
		}
		return fmt.Errorf("nmcli connection down: %w", err)
	}
	return nil
}

// CurrentSSID returns the SSID the interface is associated with.
func (c *NMCLIConnector) CurrentSSID() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()

	out, err := c.runner.run(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
	if err != nil {
		return "", fmt.Errorf("nmcli dev wifi: %w", err)
	}
	return parseActiveSSID(out), nil
}

func (c *NMCLIConnector) detectGateway(ctx context.Context) string {
	out, err := c.runner.run(ctx, "nmcli", "-t", "-f", "IP4.GATEWAY", "dev", "show", c.iface)
	if err != nil {
		return ""
	}
	return parseGateway(out)
}

// parseActiveSSID extracts the SSID of the active network from
// "nmcli -t -f active,ssid dev wifi" output.
func parseActiveSSID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if ssid, ok := strings.CutPrefix(line, "yes:"); ok {
			return ssid
		}
	}
	return ""
}

// parseGateway extracts the gateway from "nmcli -t -f IP4.GATEWAY dev show" output.
func parseGateway(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if gw, ok := strings.CutPrefix(line, "IP4.GATEWAY:"); ok {
			if gw != "" && gw != "--" {
				return gw
			}
		}
	}
	return ""
}

// classifyNmcliFailure maps nmcli output to the error kinds the state machine
// distinguishes.
func classifyNmcliFailure(out string, err error) error {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "secrets were required") ||
		strings.Contains(lower, "no secrets provided") ||
		strings.Contains(lower, "canceled") ||
		strings.Contains(lower, "cancelled"):
		return &ConnectError{Kind: ErrKindUserCancelled, Message: strings.TrimSpace(out)}
	case strings.Contains(lower, "wi-fi is disabled") ||
		strings.Contains(lower, "radio is disabled") ||
		strings.Contains(lower, "no wi-fi device"):
		return &ConnectError{Kind: ErrKindWifiDisabled, Message: strings.TrimSpace(out)}
	default:
		msg := strings.TrimSpace(out)
		if msg == "" {
			msg = err.Error()
		}
		return &ConnectError{Kind: ErrKindGeneric, Message: msg}
	}
}
