package controller

import (
	"context"
	"fmt"

	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/protocol/schema"
)

func call[T schema.Payload](ctx context.Context, t *Transactor, p schema.Payload) (T, error) {
	var zero T
	resp, err := t.Transact(ctx, schema.Command{Payload: p}, 0)
	if err != nil {
		return zero, err
	}
	out, ok := resp.Payload.(T)
	if !ok {
		return zero, protocol.Wrap(protocol.ErrIntegrity, "client", p.Kind().String(),
			fmt.Errorf("reply payload %T", resp.Payload))
	}
	return out, nil
}

func typeMismatch(kind schema.Kind, got, want uint32) error {
	return protocol.Wrap(protocol.ErrIntegrity, "client", kind.String(),
		fmt.Errorf("reply type %d, sent %d", got, want))
}

// Power issues power commands.
type Power struct{ t *Transactor }

func (t *Transactor) Power() Power { return Power{t: t} }

// Sleep asks the peripheral to suspend once the exchange completes.
func (c Power) Sleep(ctx context.Context) error {
	resp, err := call[schema.PowerCommand](ctx, c.t, schema.PowerCommand{Type: schema.PowerSleep})
	if err != nil {
		return err
	}
	if resp.Type != schema.PowerSleep {
		return typeMismatch(schema.KindPower, uint32(resp.Type), uint32(schema.PowerSleep))
	}
	return nil
}

// WakeInfo is the peripheral's resume report.
type WakeInfo struct {
	Reason    uint32
	BootCount uint32
}

func (c Power) Wakeup(ctx context.Context) (WakeInfo, error) {
	resp, err := call[schema.PowerCommand](ctx, c.t, schema.PowerCommand{Type: schema.PowerWakeup})
	if err != nil {
		return WakeInfo{}, err
	}
	if resp.Type != schema.PowerWakeup {
		return WakeInfo{}, typeMismatch(schema.KindPower, uint32(resp.Type), uint32(schema.PowerWakeup))
	}
	return WakeInfo{Reason: resp.Reason, BootCount: resp.BootCount}, nil
}

// Storage issues storage commands. A non-success return code is reported
// as *StorageError.
type Storage struct{ t *Transactor }

func (t *Transactor) Storage() Storage { return Storage{t: t} }

func (c Storage) do(ctx context.Context, cmd schema.StorageCommand) (schema.StorageCommand, error) {
	resp, err := call[schema.StorageCommand](ctx, c.t, cmd)
	if err != nil {
		return resp, err
	}
	if resp.Type != cmd.Type {
		return resp, typeMismatch(schema.KindStorage, uint32(resp.Type), uint32(cmd.Type))
	}
	if resp.Code != schema.StorageSuccess {
		return resp, &StorageError{Code: resp.Code, Filename: resp.Filename}
	}
	return resp, nil
}

// Save appends data to filename. An empty filename uses the peripheral's
// current data file.
func (c Storage) Save(ctx context.Context, filename string, data []byte) error {
	_, err := c.do(ctx, schema.StorageCommand{Type: schema.StorageSave, Filename: filename, Data: data})
	return err
}

// UserConfig records uc next to filename and makes filename the data file.
func (c Storage) UserConfig(ctx context.Context, filename string, uc schema.UserConfig) error {
	_, err := c.do(ctx, schema.StorageCommand{Type: schema.StorageUserConfig, Filename: filename, Config: &uc})
	return err
}

func (c Storage) Size(ctx context.Context, filename string) (uint64, error) {
	resp, err := c.do(ctx, schema.StorageCommand{Type: schema.StorageSize, Filename: filename})
	if err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// Connectivity issues network commands.
type Connectivity struct{ t *Transactor }

func (t *Transactor) Connectivity() Connectivity { return Connectivity{t: t} }

func (c Connectivity) do(ctx context.Context, cmd schema.ConnectivityCommand) (schema.ConnectivityCommand, error) {
	resp, err := call[schema.ConnectivityCommand](ctx, c.t, cmd)
	if err != nil {
		return resp, err
	}
	if resp.Type != cmd.Type {
		return resp, typeMismatch(schema.KindConnectivity, uint32(resp.Type), uint32(cmd.Type))
	}
	return resp, nil
}

// Connect returns the link status after association.
func (c Connectivity) Connect(ctx context.Context, ssid, passwd string) (uint32, error) {
	resp, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnConnect, SSID: ssid, Passwd: passwd})
	return resp.Code, err
}

func (c Connectivity) Disconnect(ctx context.Context) error {
	_, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnDisconnect})
	return err
}

func (c Connectivity) CheckLink(ctx context.Context) (uint32, error) {
	resp, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnCheckLink})
	return resp.Code, err
}

// CheckAPI points the relay at url:port and returns the upstream status.
func (c Connectivity) CheckAPI(ctx context.Context, url string, port uint32) (uint32, error) {
	resp, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnCheckAPI, URL: url, Port: port})
	return resp.Code, err
}

// Post hands body to the peripheral for upload. The upstream reply is
// fetched with Check.
func (c Connectivity) Post(ctx context.Context, body []byte) error {
	_, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnPost, Resp: body})
	return err
}

func (c Connectivity) Check(ctx context.Context) (uint32, []byte, error) {
	resp, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnCheck})
	return resp.Code, resp.Resp, err
}

// Time returns the peripheral's network time; zero if it has none.
func (c Connectivity) Time(ctx context.Context) (uint32, error) {
	resp, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnTime})
	return resp.Time, err
}

func (c Connectivity) NTPSync(ctx context.Context) error {
	_, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnNTPSync})
	return err
}

func (c Connectivity) Host(ctx context.Context, ssid, passwd string) error {
	_, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnHost, SSID: ssid, Passwd: passwd})
	return err
}

func (c Connectivity) StopHost(ctx context.Context) error {
	_, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnStopHost})
	return err
}

// HostInfo describes the access point the peripheral is hosting.
type HostInfo struct {
	SSID string
	Addr string
	MAC  string
}

func (c Connectivity) HostInfo(ctx context.Context) (HostInfo, error) {
	resp, err := c.do(ctx, schema.ConnectivityCommand{Type: schema.ConnHostInfo})
	if err != nil {
		return HostInfo{}, err
	}
	return HostInfo{SSID: resp.SSID, Addr: resp.URL, MAC: resp.MAC}, nil
}

// Actuator queries and drives the binary actuator.
type Actuator struct{ t *Transactor }

func (t *Transactor) Actuator() Actuator { return Actuator{t: t} }

func (c Actuator) Check(ctx context.Context) (schema.ActuatorState, error) {
	resp, err := call[schema.ActuatorCommand](ctx, c.t, schema.ActuatorCommand{Type: schema.ActuatorCheck})
	return resp.State, err
}

// Set returns the state the peripheral reports after applying st.
func (c Actuator) Set(ctx context.Context, st schema.ActuatorState) (schema.ActuatorState, error) {
	resp, err := call[schema.ActuatorCommand](ctx, c.t, schema.ActuatorCommand{Type: schema.ActuatorSet, State: st})
	return resp.State, err
}

// UserConfig exchanges the node settings record.
type UserConfig struct{ t *Transactor }

func (t *Transactor) UserConfig() UserConfig { return UserConfig{t: t} }

// Request returns the peripheral's configuration, or nil if it has none.
func (c UserConfig) Request(ctx context.Context) (*schema.UserConfig, error) {
	resp, err := call[schema.ConfigCommand](ctx, c.t, schema.ConfigCommand{Type: schema.ConfigRequest})
	if err != nil {
		return nil, err
	}
	return resp.Config, nil
}

func (c UserConfig) Send(ctx context.Context, uc schema.UserConfig) error {
	_, err := call[schema.ConfigCommand](ctx, c.t, schema.ConfigCommand{Type: schema.ConfigResponse, Config: &uc})
	return err
}
