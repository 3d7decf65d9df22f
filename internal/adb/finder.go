package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

func adbBinary() string {
	if runtime.GOOS == "windows" {
		return "adb.exe"
	}
	return "adb"
}

// FindADB attempts to locate the ADB executable. scrcpy bundles its own adb,
// so the scrcpy directory is searched before the system locations.
func FindADB(preferredPath, scrcpyDir string) (string, error) {
	var candidates []string
	if preferredPath != "" {
		if info, err := os.Stat(preferredPath); err == nil && !info.IsDir() {
			return preferredPath, nil
		}
		candidates = append(candidates,
			filepath.Join(preferredPath, adbBinary()),
			filepath.Join(preferredPath, "adb", adbBinary()),
		)
	}
	if scrcpyDir != "" {
		candidates = append(candidates, filepath.Join(scrcpyDir, adbBinary()))
	}

	if runtime.GOOS == "windows" {
		candidates = append(candidates,
			`C:\Android\sdk\platform-tools\adb.exe`,
			`${LOCALAPPDATA}\Android\Sdk\platform-tools\adb.exe`,
		)
	} else {
		candidates = append(candidates,
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			"${HOME}/Android/Sdk/platform-tools/adb",
		)
	}

	for _, path := range candidates {
		expanded := os.ExpandEnv(path)
		if _, err := os.Stat(expanded); err == nil {
			return expanded, nil
		}
	}

	if path, err := exec.LookPath(adbBinary()); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("adb not found, please specify path in config")
}

// Device is one line of `adb devices`
type Device struct {
	Serial string
	State  string
}

// parseDevices reads the output of `adb devices`
func parseDevices(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}
	return devices
}

// ListDevices returns every device adb knows about
func (c *Controller) ListDevices() ([]Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	output, err := c.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(output)), nil
}

// pickDevice returns the first device in the "device" state
func pickDevice(devices []Device) (string, bool) {
	for _, d := range devices {
		if d.State == "device" {
			return d.Serial, true
		}
	}
	return "", false
}

// ConnectADB finds adb, resolves the serial when none is given and connects
func ConnectADB(adbPath, scrcpyDir, serial string) (*Controller, error) {
	path, err := FindADB(adbPath, scrcpyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to find ADB: %w", err)
	}

	ctrl := NewController(path, serial)
	if serial == "" {
		devices, err := ctrl.ListDevices()
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		found, ok := pickDevice(devices)
		if !ok {
			return nil, fmt.Errorf("no authorized device attached")
		}
		ctrl.serial = found
	}

	if err := ctrl.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to device: %w", err)
	}
	return ctrl, nil
}
