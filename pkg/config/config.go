// Package config holds handlink settings: defaults, an optional YAML file and
// command-line overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/srg/handlink/internal/control"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/locator"
	"github.com/srg/handlink/internal/permission"
	"github.com/srg/handlink/internal/session"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `yaml:"log_level"`

	// Backend selects the BLE stack: go-ble or tinygo.
	Backend string `yaml:"backend" default:"go-ble"`
	// AdapterPath is the BlueZ adapter object used for radio state on Linux.
	AdapterPath string `yaml:"adapter_path" default:"/org/bluez/hci0"`

	Device     DeviceConfig     `yaml:"device"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Permission PermissionConfig `yaml:"permission"`
	Control    ControlConfig    `yaml:"control"`
	Buffers    BufferConfig     `yaml:"buffers"`
}

// DeviceConfig identifies the hand and its GATT endpoint.
type DeviceConfig struct {
	Name               string `yaml:"name" default:"nimble-ble"`
	ServiceUUID        string `yaml:"service_uuid" default:"b2bbc642-46da-11ed-b878-0242ac120002"`
	CharacteristicUUID string `yaml:"characteristic_uuid" default:"c9af9c76-46de-11ed-b878-0242ac120002"`
	MTU                int    `yaml:"mtu" default:"187"`
}

// TimeoutConfig bounds the blocking phases. A zero scan timeout scans until cancelled.
type TimeoutConfig struct {
	Scan    time.Duration `yaml:"scan" default:"30s"`
	Connect time.Duration `yaml:"connect" default:"10s"`
	Write   time.Duration `yaml:"write" default:"5s"`
}

// PermissionConfig describes the host for the permission gate.
type PermissionConfig struct {
	// Platform defaults to the running GOOS.
	Platform string `yaml:"platform"`
	APILevel int    `yaml:"api_level" default:"33"`
	// Grant answers permission requests: all, none or prompt.
	Grant string `yaml:"grant" default:"all"`
}

// ControlConfig is the manual-mode step and angle limits.
type ControlConfig struct {
	Step     int `yaml:"step" default:"30"`
	MinAngle int `yaml:"min_angle" default:"-90"`
	MaxAngle int `yaml:"max_angle" default:"90"`
}

// BufferConfig sizes the overwrite-oldest queues.
type BufferConfig struct {
	Telemetry int `yaml:"telemetry" default:"64"`
	Events    int `yaml:"events" default:"32"`
	History   int `yaml:"history" default:"16"`
}

const (
	GrantAll    = "all"
	GrantNone   = "none"
	GrantPrompt = "prompt"
)

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	c.LogLevel = logrus.InfoLevel
	c.Permission.Platform = runtime.GOOS
	return c
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	if err := c.mergeFile(path); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// BindFlags registers command-line overrides bound to c's fields.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "BLE backend (go-ble, tinygo)")
	fs.StringVar(&c.AdapterPath, "adapter", c.AdapterPath, "BlueZ adapter object path for radio state (Linux)")
	fs.StringVar(&c.Device.Name, "name", c.Device.Name, "Advertised device name to connect to")
	fs.StringVar(&c.Device.ServiceUUID, "service", c.Device.ServiceUUID, "Hand service UUID")
	fs.StringVar(&c.Device.CharacteristicUUID, "char", c.Device.CharacteristicUUID, "Hand characteristic UUID")
	fs.IntVar(&c.Device.MTU, "mtu", c.Device.MTU, "ATT MTU requested after connecting")
	fs.DurationVar(&c.Timeouts.Scan, "scan-timeout", c.Timeouts.Scan, "Scan timeout (0 scans until interrupted)")
	fs.DurationVar(&c.Timeouts.Connect, "connect-timeout", c.Timeouts.Connect, "Connection timeout")
	fs.DurationVar(&c.Timeouts.Write, "write-timeout", c.Timeouts.Write, "Command write timeout")
	fs.StringVar(&c.Permission.Platform, "platform", c.Permission.Platform, "Host platform for the permission gate")
	fs.IntVar(&c.Permission.APILevel, "api-level", c.Permission.APILevel, "Android API level when platform is android")
	fs.StringVar(&c.Permission.Grant, "grant", c.Permission.Grant, "Permission answers: all, none or prompt")
	fs.IntVar(&c.Control.Step, "step", c.Control.Step, "Manual step in degrees")
}

// MergeFile overlays path onto c while keeping the flags in fs that were set
// explicitly on the command line.
func (c *Config) MergeFile(path string, fs *pflag.FlagSet) error {
	changed := map[string]string{}
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })
	}
	if err := c.mergeFile(path); err != nil {
		return err
	}
	for name, v := range changed {
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("reapply --%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the values that would otherwise fail deep inside a session.
func (c *Config) Validate() error {
	var errs []error
	if c.Device.Name == "" {
		errs = append(errs, errors.New("device name must not be empty"))
	}
	if _, err := device.ValidateUUID(c.Device.ServiceUUID, c.Device.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("device uuids: %w", err))
	}
	if c.Device.MTU < 0 {
		errs = append(errs, fmt.Errorf("mtu must not be negative, got %d", c.Device.MTU))
	}
	if c.Timeouts.Scan < 0 || c.Timeouts.Connect < 0 || c.Timeouts.Write < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	switch c.Permission.Grant {
	case GrantAll, GrantNone, GrantPrompt:
	default:
		errs = append(errs, fmt.Errorf("grant must be all, none or prompt, got %q", c.Permission.Grant))
	}
	if err := c.ControlConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Buffers.Telemetry <= 0 || c.Buffers.Events <= 0 || c.Buffers.History <= 0 {
		errs = append(errs, errors.New("buffer sizes must be positive"))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// LocatorConfig returns the scan and connect settings.
func (c *Config) LocatorConfig() locator.Config {
	return locator.Config{
		DeviceName:     c.Device.Name,
		MTU:            c.Device.MTU,
		ScanTimeout:    c.Timeouts.Scan,
		ConnectTimeout: c.Timeouts.Connect,
	}
}

// SessionConfig returns the session endpoint and buffer settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ServiceUUID:        c.Device.ServiceUUID,
		CharacteristicUUID: c.Device.CharacteristicUUID,
		WriteTimeout:       c.Timeouts.Write,
		TelemetryBuffer:    c.Buffers.Telemetry,
		EventBuffer:        c.Buffers.Events,
	}
}

// ControlConfig returns the manual-mode limits.
func (c *Config) ControlConfig() control.Config {
	return control.Config{
		Step:     c.Control.Step,
		MinAngle: c.Control.MinAngle,
		MaxAngle: c.Control.MaxAngle,
	}
}

// Platform returns the gate platform.
func (c *Config) Platform() permission.Platform {
	return permission.ParsePlatform(c.Permission.Platform)
}
