package adb

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// ConnectionState is the state adb reports for a serial in `adb devices`.
type ConnectionState string

const (
	StateDevice       ConnectionState = "device"
	StateUnauthorized ConnectionState = "unauthorized"
	StateOffline      ConnectionState = "offline"
	StateUnknown      ConnectionState = ""
)

// Lister discovers connected device serials. Production code uses Client;
// tests substitute a fake.
type Lister interface {
	ListDevices(ctx context.Context) (map[string]ConnectionState, error)
}

// Client is the process-wide, binary-bound entry point used to list
// connected serials before constructing a per-serial Device handle.
type Client struct {
	Binary  string
	Timeout time.Duration
}

// ListDevices runs `adb devices` and parses the serial/state pairs.
func (c Client) ListDevices(ctx context.Context) (map[string]ConnectionState, error) {
	binary := c.Binary
	if binary == "" {
		binary = "adb"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, binary, "devices")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	result := make(map[string]ConnectionState)
	lines := strings.Split(out.String(), "\n")
	for _, line := range lines[1:] { // skip "List of devices attached"
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		result[fields[0]] = ConnectionState(fields[1])
	}
	return result, nil
}
