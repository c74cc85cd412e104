package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

const (
	// UserConfigSuffix is appended to the data filename for the settings dump.
	UserConfigSuffix = ".userconfig"
	// DefaultDataFile receives records saved before any UserConfig command.
	DefaultDataFile = "data.csv"
)

var (
	errMissingPath = errors.New("storage: missing filename")
	errAbsPath     = errors.New("storage: absolute path not allowed")
	errEscapesRoot = errors.New("storage: path escapes root")
)

// Module stores records in files under a root directory.
type Module struct {
	mu       sync.Mutex
	root     string
	dataFile string
	reply    peripheral.Reply
}

var _ peripheral.Module = (*Module)(nil)

// New returns a module rooted at root. The directory must exist when
// commands arrive; a missing root is reported as storage not present.
func New(root string) *Module {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = filepath.Join("local", "storage")
	}
	return &Module{root: resolved, dataFile: DefaultDataFile}
}

func (m *Module) Kind() schema.Kind { return schema.KindStorage }

// DataFile returns the file Save appends to when a command names none.
func (m *Module) DataFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dataFile
}

func (m *Module) Handle(cmd schema.Command) {
	s, ok := cmd.Payload.(schema.StorageCommand)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var resp schema.StorageCommand
	switch s.Type {
	case schema.StorageSave:
		resp = m.save(s)
	case schema.StorageUserConfig:
		resp = m.userConfig(s)
	case schema.StorageSize:
		resp = m.size(s)
	default:
		log.Warn().Uint32("type", uint32(s.Type)).Msg("storage: unknown command type")
		m.reply.RejectType(schema.KindStorage, uint32(s.Type))
		return
	}
	if resp.Code != schema.StorageSuccess {
		log.Warn().Stringer("code", resp.Code).Str("file", resp.Filename).Msg("storage: command failed")
	}
	if err := m.reply.Set(schema.Response{Payload: resp}); err != nil {
		log.Error().Err(err).Msg("storage: encode reply")
	}
}

func (m *Module) ProduceResponse(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reply.CopyTo(buf)
}

func (m *Module) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply.Clear()
}

func (m *Module) save(s schema.StorageCommand) schema.StorageCommand {
	resp := schema.StorageCommand{Type: schema.StorageSave}
	if code := m.checkRoot(); code != schema.StorageSuccess {
		resp.Code = code
		return resp
	}
	name := s.Filename
	if strings.TrimSpace(name) == "" {
		name = m.dataFile
	}
	p, err := m.resolvePath(name)
	if err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name
		return resp
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name
		return resp
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name
		return resp
	}
	defer f.Close()
	if _, err := f.Write(s.Data); err != nil {
		resp.Code = schema.StorageErrGeneral
		resp.Filename = name
		return resp
	}
	log.Debug().Str("file", name).Int("bytes", len(s.Data)).Msg("storage: record saved")
	return resp
}

// userConfig dumps the settings next to the data file and starts a fresh
// data file with a header row for the enabled sensors.
func (m *Module) userConfig(s schema.StorageCommand) schema.StorageCommand {
	resp := schema.StorageCommand{Type: schema.StorageUserConfig}
	if s.Config == nil {
		resp.Code = schema.StorageErrPayloadDecode
		return resp
	}
	if code := m.checkRoot(); code != schema.StorageSuccess {
		resp.Code = code
		return resp
	}
	name := s.Filename
	if strings.TrimSpace(name) == "" {
		name = DefaultDataFile
	}

	cfgPath, err := m.resolvePath(name + UserConfigSuffix)
	if err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name + UserConfigSuffix
		return resp
	}
	_ = os.MkdirAll(filepath.Dir(cfgPath), 0o755)
	if err := os.WriteFile(cfgPath, []byte(renderUserConfig(s.Config)), 0o644); err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name + UserConfigSuffix
		return resp
	}

	dataPath, err := m.resolvePath(name)
	if err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name
		return resp
	}
	header, known := csvHeader(s.Config.Sensors)
	if err := os.WriteFile(dataPath, []byte(header), 0o644); err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		resp.Filename = name
		return resp
	}
	m.dataFile = name
	if !known {
		resp.Code = schema.StorageErrGeneral
	}
	return resp
}

func (m *Module) size(s schema.StorageCommand) schema.StorageCommand {
	resp := schema.StorageCommand{Type: schema.StorageSize}
	if code := m.checkRoot(); code != schema.StorageSuccess {
		resp.Code = code
		return resp
	}
	name := s.Filename
	if strings.TrimSpace(name) == "" {
		name = m.dataFile
	}
	resp.Filename = name
	p, err := m.resolvePath(name)
	if err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		return resp
	}
	info, err := os.Stat(p)
	if err != nil {
		resp.Code = schema.StorageErrFileNotOpened
		return resp
	}
	resp.Size = uint64(info.Size())
	return resp
}

func (m *Module) checkRoot() schema.StorageCode {
	info, err := os.Stat(m.root)
	if err != nil {
		return schema.StorageErrNotInserted
	}
	if !info.IsDir() {
		return schema.StorageErrNotMountable
	}
	return schema.StorageSuccess
}

func (m *Module) resolvePath(name string) (string, error) {
	rel := strings.TrimSpace(name)
	if rel == "" {
		return "", errMissingPath
	}
	if filepath.IsAbs(rel) {
		return "", errAbsPath
	}
	root, err := filepath.Abs(m.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, rel))
	if !isWithin(p, root) {
		return "", errEscapesRoot
	}
	return p, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}

func renderUserConfig(uc *schema.UserConfig) string {
	var b strings.Builder
	method := "LoRa"
	if uc.UploadMethod == schema.UploadWiFi {
		method = "WiFi"
	}
	fmt.Fprintf(&b, "logger_id=%d\r\n", uc.LoggerID)
	fmt.Fprintf(&b, "cell_id=%d\r\n", uc.CellID)
	fmt.Fprintf(&b, "upload_method=%d (%s)\r\n", uc.UploadMethod, method)
	fmt.Fprintf(&b, "upload_interval=%d\r\n", uc.UploadInterval)
	fmt.Fprintf(&b, "enabled_sensors_count=%d\r\n", len(uc.Sensors))
	for i, s := range uc.Sensors {
		fmt.Fprintf(&b, "enabled_sensors[%d]=%s\r\n", i, s)
	}
	fmt.Fprintf(&b, "wifi_ssid=%s\r\n", uc.SSID)
	fmt.Fprintf(&b, "wifi_password=%s\r\n", uc.Passwd)
	fmt.Fprintf(&b, "api_endpoint_url=%s\r\n", uc.APIEndpointURL)
	fmt.Fprintf(&b, "api_endpoint_port=%d\r\n", uc.APIPort)
	return b.String()
}

var sensorColumns = map[string]string{
	"voltage": ",voltage,current",
	"current": ",voltage,current",
	"teros12": ",vwc_teros12,ec_teros12,temp_teros12",
	"teros21": ",matricpotential_teros21,temp_teros21",
	"bme280":  ",pressure_bme280,temperature_bme280,humidity_bme280",
}

// csvHeader builds the data file header. Voltage and current share one
// column pair. The bool is false if any sensor name was not recognized.
func csvHeader(sensors []string) (string, bool) {
	var b strings.Builder
	b.WriteString("timestamp")
	known := true
	power := false
	for _, s := range sensors {
		key := strings.ToLower(strings.TrimSpace(s))
		cols, ok := sensorColumns[key]
		if !ok {
			b.WriteString(",ERROR unknown sensor " + s)
			known = false
			continue
		}
		if key == "voltage" || key == "current" {
			if power {
				continue
			}
			power = true
		}
		b.WriteString(cols)
	}
	return b.String(), known
}
