package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/entslink/internal/bus/loopback"
	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/modules/actuator"
	"github.com/danmuck/entslink/internal/modules/power"
	"github.com/danmuck/entslink/internal/modules/userconfig"
	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/danmuck/entslink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type fixture struct {
	server    *Server
	state     *actuator.MemoryState
	config    *userconfig.Module
	persisted []schema.UserConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		state:  actuator.NewMemoryState(schema.ActuatorClosed),
		config: userconfig.New(nil, nil),
	}
	d, err := peripheral.NewDispatcher(nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	_ = d.Register(actuator.New(f.state))
	_ = d.Register(f.config)
	_ = d.Register(power.New(power.Config{BootCount: 2}))
	b := loopback.New()
	_ = b.Attach(controller.DefaultAddress, d)
	tx, err := controller.New(b)
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}

	f.server = New(Config{
		ID:         "node-a",
		Dispatcher: d,
		Actuator:   f.state,
		UserConfig: f.config,
		Persist: func(uc schema.UserConfig) error {
			f.persisted = append(f.persisted, uc)
			return nil
		},
		Transactor: tx,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	var out map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return rr, out
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	rr, body := f.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK || body["service"] != "node-a" {
		t.Fatalf("health status=%d body=%v", rr.Code, body)
	}
	rr, _ = f.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("entslink_")) {
		t.Fatalf("metrics status=%d", rr.Code)
	}
}

func TestModulesListsRegisteredKinds(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	rr, body := f.do(t, http.MethodGet, "/modules", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	mods, _ := body["modules"].([]any)
	if len(mods) != 3 || mods[0] != "power" {
		t.Fatalf("modules got=%v", body["modules"])
	}
	if body["state"] != "idle" {
		t.Fatalf("state got=%v", body["state"])
	}
}

func TestConfigPutGet(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	rr, _ := f.do(t, http.MethodGet, "/config", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("empty config status=%d", rr.Code)
	}

	uc := schema.UserConfig{LoggerID: 5, CellID: 6, UploadMethod: schema.UploadWiFi, Sensors: []string{"bme280"}}
	rr, _ = f.do(t, http.MethodPut, "/config", uc)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(f.persisted) != 1 || f.persisted[0].CellID != 6 {
		t.Fatalf("persisted got=%v", f.persisted)
	}
	rr, body := f.do(t, http.MethodGet, "/config", nil)
	if rr.Code != http.StatusOK || body["logger_id"] != float64(5) {
		t.Fatalf("get status=%d body=%v", rr.Code, body)
	}

	rr, _ = f.do(t, http.MethodPut, "/config", map[string]any{"upload_method": 7})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid upload method status=%d", rr.Code)
	}
}

func TestActuatorRoutes(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	rr, body := f.do(t, http.MethodPut, "/actuator", map[string]string{"state": "open"})
	if rr.Code != http.StatusOK || body["state"] != "open" {
		t.Fatalf("put status=%d body=%v", rr.Code, body)
	}
	if f.state.State() != schema.ActuatorOpen {
		t.Fatalf("state source not updated")
	}
	rr, _ = f.do(t, http.MethodPut, "/actuator", map[string]string{"state": "ajar"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad state status=%d", rr.Code)
	}
}

func TestTransactRoutes(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	_ = f.state.SetState(schema.ActuatorOpen)
	rr, body := f.do(t, http.MethodPost, "/transact/actuator/check", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("check status=%d body=%s", rr.Code, rr.Body.String())
	}
	result, _ := body["result"].(map[string]any)
	if result["state"] != "open" {
		t.Fatalf("check result=%v", body["result"])
	}

	rr, body = f.do(t, http.MethodPost, "/transact/power/wakeup", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("wakeup status=%d body=%v", rr.Code, body)
	}

	// No storage module registered on this node.
	rr, body = f.do(t, http.MethodPost, "/transact/storage/size", nil)
	if rr.Code != http.StatusNotImplemented || body["class"] != "routing" {
		t.Fatalf("storage status=%d body=%v", rr.Code, body)
	}

	rr, _ = f.do(t, http.MethodPost, "/transact/power/explode", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown transaction status=%d", rr.Code)
	}
}

func TestRoutesWithoutComponents(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	s := New(Config{})
	for _, path := range []string{"/modules", "/config", "/actuator"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestTokenGuardsMutatingRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	state := actuator.NewMemoryState(schema.ActuatorClosed)
	s := New(Config{Actuator: state, Token: "s3cret"})

	put := func(header string) int {
		req := httptest.NewRequest(http.MethodPut, "/actuator", bytes.NewReader([]byte(`{"state":"open"}`)))
		req.Header.Set("Content-Type", "application/json")
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		return rr.Code
	}
	if code := put(""); code != http.StatusUnauthorized {
		t.Fatalf("no token status=%d want %d", code, http.StatusUnauthorized)
	}
	if state.State() != schema.ActuatorClosed {
		t.Fatalf("rejected request changed state")
	}
	if code := put("Bearer s3cret"); code != http.StatusOK {
		t.Fatalf("with token status=%d want %d", code, http.StatusOK)
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/actuator", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("read route status=%d want %d", rr.Code, http.StatusOK)
	}
}
