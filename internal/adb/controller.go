package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"jordanella.com/garden-go/internal/logging"
)

// DefaultTimeout bounds every adb invocation
const DefaultTimeout = 5 * time.Second

// runFunc executes adb with args and returns stdout
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// Controller talks to one device through the adb executable
type Controller struct {
	path      string
	serial    string // Empty means "the only attached device"
	timeout   time.Duration
	run       runFunc
	mu        sync.Mutex
	connected bool
	log       *logging.Logger
}

// NewController creates a new ADB controller
func NewController(adbPath, serial string) *Controller {
	c := &Controller{
		path:    adbPath,
		serial:  serial,
		timeout: DefaultTimeout,
		log:     logging.NewLogger("ADB"),
	}
	c.run = c.execADB
	return c
}

// Serial returns the device serial the controller targets
func (c *Controller) Serial() string {
	return c.serial
}

func (c *Controller) execADB(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("adb %s: %w, output: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// deviceArgs prefixes args with -s serial when a serial is set
func (c *Controller) deviceArgs(args ...string) []string {
	if c.serial == "" {
		return args
	}
	return append([]string{"-s", c.serial}, args...)
}

// Exec runs an adb subcommand against the device with the default timeout
func (c *Controller) Exec(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx, c.deviceArgs(args...)...)
}

// Connect makes sure the device is reachable. Network serials (host:port) are
// connected first.
func (c *Controller) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.Contains(c.serial, ":") {
		output, err := c.run(ctx, "connect", c.serial)
		if err != nil {
			return fmt.Errorf("failed to connect to device %s: %w", c.serial, err)
		}
		if !strings.Contains(string(output), "connected") {
			return fmt.Errorf("unexpected connect output: %s", strings.TrimSpace(string(output)))
		}
	}

	output, err := c.run(ctx, c.deviceArgs("get-state")...)
	if err != nil {
		return fmt.Errorf("device %q not available: %w", c.serial, err)
	}
	if state := strings.TrimSpace(string(output)); state != "device" {
		return fmt.Errorf("device %q is %s", c.serial, state)
	}

	c.connected = true
	c.log.InfoWithContext("Connected", map[string]interface{}{"serial": c.serial})
	return nil
}

// Disconnect drops a network connection; USB devices are left alone
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && strings.Contains(c.serial, ":") {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.run(ctx, "disconnect", c.serial); err != nil {
			return err
		}
	}

	c.connected = false
	return nil
}

// IsConnected returns whether the controller is connected
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
