package schema

// Payload is one kind-specific message body. The set is closed: only the
// types in this package satisfy it.
type Payload interface {
	Kind() Kind
	appendFields(b []byte) []byte
}

type PowerType uint32

const (
	PowerSleep  PowerType = 0
	PowerWakeup PowerType = 1
)

// PowerCommand requests or acknowledges suspend, or reports resume state.
type PowerCommand struct {
	Type      PowerType
	Reason    uint32
	BootCount uint32
}

func (PowerCommand) Kind() Kind { return KindPower }

type StorageType uint32

const (
	StorageSave       StorageType = 0
	StorageUserConfig StorageType = 1
	StorageSize       StorageType = 2
)

type StorageCode uint32

const (
	StorageSuccess          StorageCode = 0
	StorageErrGeneral       StorageCode = 1
	StorageErrNotInserted   StorageCode = 2
	StorageErrNotMountable  StorageCode = 3
	StorageErrPayloadDecode StorageCode = 4
	StorageErrFileNotOpened StorageCode = 5
)

func (c StorageCode) String() string {
	switch c {
	case StorageSuccess:
		return "success"
	case StorageErrGeneral:
		return "general error"
	case StorageErrNotInserted:
		return "storage not present"
	case StorageErrNotMountable:
		return "file system not mountable"
	case StorageErrPayloadDecode:
		return "payload not decoded"
	case StorageErrFileNotOpened:
		return "file not opened"
	default:
		return "unknown storage code"
	}
}

// StorageCommand appends records to, or queries, peripheral-side storage.
type StorageCommand struct {
	Type     StorageType
	Code     StorageCode
	Filename string
	Data     []byte
	Config   *UserConfig
	Size     uint64
}

func (StorageCommand) Kind() Kind { return KindStorage }

type ConnectivityType uint32

const (
	ConnConnect    ConnectivityType = 0
	ConnPost       ConnectivityType = 1
	ConnCheck      ConnectivityType = 2
	ConnTime       ConnectivityType = 3
	ConnDisconnect ConnectivityType = 4
	ConnCheckLink  ConnectivityType = 5
	ConnCheckAPI   ConnectivityType = 6
	ConnNTPSync    ConnectivityType = 7
	ConnHost       ConnectivityType = 8
	ConnStopHost   ConnectivityType = 9
	ConnHostInfo   ConnectivityType = 10
)

// ConnectivityCommand drives network association and payload relay.
type ConnectivityCommand struct {
	Type   ConnectivityType
	SSID   string
	Passwd string
	URL    string
	Port   uint32
	Code   uint32
	Time   uint32
	Resp   []byte
	MAC    string
}

func (ConnectivityCommand) Kind() Kind { return KindConnectivity }

type ActuatorType uint32

const (
	ActuatorCheck ActuatorType = 0
	ActuatorSet   ActuatorType = 1
)

type ActuatorState uint32

const (
	ActuatorClosed ActuatorState = 0
	ActuatorOpen   ActuatorState = 1
)

func (s ActuatorState) String() string {
	if s == ActuatorOpen {
		return "open"
	}
	return "closed"
}

// ActuatorCommand queries or sets a binary actuator.
type ActuatorCommand struct {
	Type  ActuatorType
	State ActuatorState
}

func (ActuatorCommand) Kind() Kind { return KindActuator }

type ConfigType uint32

const (
	ConfigRequest  ConfigType = 0
	ConfigResponse ConfigType = 1
)

// ConfigCommand exchanges the node settings record.
type ConfigCommand struct {
	Type   ConfigType
	Config *UserConfig
}

func (ConfigCommand) Kind() Kind { return KindConfig }

type UploadMethod uint32

const (
	UploadLoRa UploadMethod = 0
	UploadWiFi UploadMethod = 1
)

// UserConfig is the structured settings record shared by both MCUs.
type UserConfig struct {
	LoggerID       uint32       `json:"logger_id" toml:"logger_id" yaml:"logger_id"`
	CellID         uint32       `json:"cell_id" toml:"cell_id" yaml:"cell_id"`
	UploadMethod   UploadMethod `json:"upload_method" toml:"upload_method" yaml:"upload_method"`
	UploadInterval uint32       `json:"upload_interval" toml:"upload_interval" yaml:"upload_interval"`
	Sensors        []string     `json:"sensors" toml:"sensors" yaml:"sensors"`
	SSID           string       `json:"wifi_ssid" toml:"wifi_ssid" yaml:"wifi_ssid"`
	Passwd         string       `json:"wifi_password" toml:"wifi_password" yaml:"wifi_password"`
	APIEndpointURL string       `json:"api_endpoint_url" toml:"api_endpoint_url" yaml:"api_endpoint_url"`
	APIPort        uint32       `json:"api_endpoint_port" toml:"api_endpoint_port" yaml:"api_endpoint_port"`
}

type ErrorCode uint32

const (
	CodeInternal ErrorCode = 0
	CodeFraming  ErrorCode = 1
	CodeDecode   ErrorCode = 2
	CodeRouting  ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodeFraming:
		return "framing"
	case CodeDecode:
		return "decode"
	case CodeRouting:
		return "routing"
	default:
		return "internal"
	}
}

// ErrorReply is staged by the peripheral when a command could not be
// dispatched.
type ErrorReply struct {
	Code   ErrorCode
	For    Kind
	Detail string
}

func (ErrorReply) Kind() Kind { return KindError }

// Command is the controller->peripheral envelope.
type Command struct {
	Payload Payload
}

func (c Command) Kind() Kind {
	if c.Payload == nil {
		return KindUnknown
	}
	return c.Payload.Kind()
}

// Response is the peripheral->controller envelope. It shares the command's
// wire shape so the kind round-trips.
type Response struct {
	Payload Payload
}

func (r Response) Kind() Kind {
	if r.Payload == nil {
		return KindUnknown
	}
	return r.Payload.Kind()
}
