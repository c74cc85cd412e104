package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/entslink/internal/bus"
	"github.com/danmuck/entslink/internal/protocol/frame"
	"gopkg.in/yaml.v3"
)

const (
	BusLoopback = "loopback"
	BusI2CDev   = "i2cdev"
)

// NodeConfig is the full settings file for nodesim and nodectl.
type NodeConfig struct {
	Name       string           `yaml:"name"`
	Bus        BusConfig        `yaml:"bus"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Controller ControllerConfig `yaml:"controller"`
	Admin      AdminConfig      `yaml:"admin"`
	// UserConfigPath persists the node settings record between runs.
	UserConfigPath string `yaml:"user_config_path"`
}

type BusConfig struct {
	Kind           string `yaml:"kind"`
	Device         string `yaml:"device"`
	Address        uint16 `yaml:"address"`
	TransferSize   int    `yaml:"transfer_size"`
	LengthPreamble bool   `yaml:"length_preamble"`
}

type PeripheralConfig struct {
	ReceiveBuffer  int    `yaml:"receive_buffer"`
	ResponseBuffer int    `yaml:"response_buffer"`
	QueueDepth     int    `yaml:"queue_depth"`
	StorageRoot    string `yaml:"storage_root"`
	BootCount      uint32 `yaml:"boot_count"`
	RelayURL       string `yaml:"relay_url"`
	// SleepCommand runs on the host when the controller requests sleep.
	SleepCommand []string `yaml:"sleep_command"`
}

type ControllerConfig struct {
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
	MaxResponse  int      `yaml:"max_response"`
}

type AdminConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addr        string   `yaml:"addr"`
	CorsOrigins []string `yaml:"cors_origins"`
	// Token protects the mutating admin routes when set.
	Token string `yaml:"token"`
}

// Duration reads "250ms" style strings.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns a loopback node with every component at its default.
func Default() NodeConfig {
	return NodeConfig{
		Name: "entslink",
		Bus: BusConfig{
			Kind:         BusLoopback,
			Device:       "/dev/i2c-1",
			Address:      0x20,
			TransferSize: frame.DefaultTransferSize,
		},
		Peripheral: PeripheralConfig{
			ReceiveBuffer:  2048,
			ResponseBuffer: 2048,
			StorageRoot:    filepath.Join("local", "storage"),
			BootCount:      1,
		},
		Controller: ControllerConfig{
			Timeout:      Duration(2 * time.Second),
			PollInterval: Duration(2 * time.Millisecond),
			MaxResponse:  2048,
		},
		Admin: AdminConfig{
			Enabled:     true,
			Addr:        ":9300",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		UserConfigPath: filepath.Join("local", "userconfig.toml"),
	}
}

// Load reads path over Default. The format follows the extension: .yaml
// and .yml are YAML, anything else TOML.
func Load(path string) (NodeConfig, error) {
	var (
		cfg NodeConfig
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	default:
		cfg, err = loadTOML(path)
	}
	if err != nil {
		return NodeConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadYAML(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// fileConfig is the TOML key layout.
type fileConfig struct {
	Name           string   `toml:"name"`
	UserConfigPath string   `toml:"user_config_path"`
	Bus            fileBus  `toml:"bus"`
	Peripheral     filePeri `toml:"peripheral"`
	Controller     fileCtl  `toml:"controller"`
	Admin          fileAdm  `toml:"admin"`
}

type fileBus struct {
	Kind           string `toml:"kind"`
	Device         string `toml:"device"`
	Address        int    `toml:"address"`
	TransferSize   int    `toml:"transfer_size"`
	LengthPreamble bool   `toml:"length_preamble"`
}

type filePeri struct {
	ReceiveBuffer  int      `toml:"receive_buffer"`
	ResponseBuffer int      `toml:"response_buffer"`
	QueueDepth     int      `toml:"queue_depth"`
	StorageRoot    string   `toml:"storage_root"`
	BootCount      int      `toml:"boot_count"`
	RelayURL       string   `toml:"relay_url"`
	SleepCommand   []string `toml:"sleep_command"`
}

type fileCtl struct {
	Timeout      string `toml:"timeout"`
	PollInterval string `toml:"poll_interval"`
	MaxResponse  int    `toml:"max_response"`
}

type fileAdm struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

func loadTOML(path string) (NodeConfig, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("user_config_path") {
		cfg.UserConfigPath = strings.TrimSpace(raw.UserConfigPath)
	}

	if meta.IsDefined("bus", "kind") {
		cfg.Bus.Kind = strings.ToLower(strings.TrimSpace(raw.Bus.Kind))
	}
	if meta.IsDefined("bus", "device") {
		cfg.Bus.Device = strings.TrimSpace(raw.Bus.Device)
	}
	if meta.IsDefined("bus", "address") {
		if raw.Bus.Address < 0 || raw.Bus.Address > int(bus.MaxAddress) {
			return NodeConfig{}, fmt.Errorf("config parse failed (%s): bus.address %d out of range", path, raw.Bus.Address)
		}
		cfg.Bus.Address = uint16(raw.Bus.Address)
	}
	if meta.IsDefined("bus", "transfer_size") {
		cfg.Bus.TransferSize = raw.Bus.TransferSize
	}
	if meta.IsDefined("bus", "length_preamble") {
		cfg.Bus.LengthPreamble = raw.Bus.LengthPreamble
	}

	if meta.IsDefined("peripheral", "receive_buffer") {
		cfg.Peripheral.ReceiveBuffer = raw.Peripheral.ReceiveBuffer
	}
	if meta.IsDefined("peripheral", "response_buffer") {
		cfg.Peripheral.ResponseBuffer = raw.Peripheral.ResponseBuffer
	}
	if meta.IsDefined("peripheral", "queue_depth") {
		cfg.Peripheral.QueueDepth = raw.Peripheral.QueueDepth
	}
	if meta.IsDefined("peripheral", "storage_root") {
		cfg.Peripheral.StorageRoot = strings.TrimSpace(raw.Peripheral.StorageRoot)
	}
	if meta.IsDefined("peripheral", "boot_count") {
		cfg.Peripheral.BootCount = uint32(raw.Peripheral.BootCount)
	}
	if meta.IsDefined("peripheral", "relay_url") {
		cfg.Peripheral.RelayURL = strings.TrimSpace(raw.Peripheral.RelayURL)
	}
	if meta.IsDefined("peripheral", "sleep_command") {
		cfg.Peripheral.SleepCommand = raw.Peripheral.SleepCommand
	}

	if meta.IsDefined("controller", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Controller.Timeout))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("config parse failed (%s): controller.timeout: %w", path, err)
		}
		cfg.Controller.Timeout = Duration(d)
	}
	if meta.IsDefined("controller", "poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Controller.PollInterval))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("config parse failed (%s): controller.poll_interval: %w", path, err)
		}
		cfg.Controller.PollInterval = Duration(d)
	}
	if meta.IsDefined("controller", "max_response") {
		cfg.Controller.MaxResponse = raw.Controller.MaxResponse
	}

	if meta.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = raw.Admin.CorsOrigins
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}
	return cfg, nil
}

func Validate(cfg NodeConfig) error {
	switch cfg.Bus.Kind {
	case BusLoopback:
	case BusI2CDev:
		if strings.TrimSpace(cfg.Bus.Device) == "" {
			return fmt.Errorf("bus.device required for %s", BusI2CDev)
		}
		if !cfg.Bus.LengthPreamble {
			return fmt.Errorf("bus.length_preamble required for %s", BusI2CDev)
		}
	default:
		return fmt.Errorf("unknown bus.kind %q", cfg.Bus.Kind)
	}
	if !bus.ValidAddress(cfg.Bus.Address) {
		return fmt.Errorf("bus.address 0x%02X is reserved", cfg.Bus.Address)
	}
	if cfg.Bus.TransferSize < frame.MinTransferSize {
		return fmt.Errorf("bus.transfer_size must be at least %d", frame.MinTransferSize)
	}
	if cfg.Peripheral.ReceiveBuffer <= 0 || cfg.Peripheral.ResponseBuffer <= 0 {
		return fmt.Errorf("peripheral buffers must be positive")
	}
	if cfg.Peripheral.QueueDepth < 0 {
		return fmt.Errorf("peripheral.queue_depth must not be negative")
	}
	if cfg.Controller.Timeout <= 0 {
		return fmt.Errorf("controller.timeout must be positive")
	}
	if cfg.Controller.PollInterval < 0 {
		return fmt.Errorf("controller.poll_interval must not be negative")
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("admin.addr required when admin is enabled")
	}
	return nil
}
