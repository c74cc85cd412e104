package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danmuck/entslink/internal/config"
	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/protocol/schema"
)

type result map[string]any

func execute(ctx context.Context, tx *controller.Transactor, module, action string, args []string) (result, error) {
	switch module {
	case "power":
		return executePower(ctx, tx.Power(), action)
	case "storage":
		return executeStorage(ctx, tx.Storage(), action, args)
	case "connectivity", "net":
		return executeConnectivity(ctx, tx.Connectivity(), action, args)
	case "actuator":
		return executeActuator(ctx, tx.Actuator(), action, args)
	case "config":
		return executeConfig(ctx, tx.UserConfig(), action, args)
	default:
		return nil, fmt.Errorf("%w: unknown module %q", errUsage, module)
	}
}

func executePower(ctx context.Context, c controller.Power, action string) (result, error) {
	switch action {
	case "sleep":
		if err := c.Sleep(ctx); err != nil {
			return nil, err
		}
		return result{"sleep": true}, nil
	case "wakeup":
		info, err := c.Wakeup(ctx)
		if err != nil {
			return nil, err
		}
		return result{"reason": info.Reason, "boot_count": info.BootCount}, nil
	}
	return nil, unknownAction("power", action)
}

func executeStorage(ctx context.Context, c controller.Storage, action string, args []string) (result, error) {
	switch action {
	case "save":
		if err := need(args, 2, "storage save <file> <data>"); err != nil {
			return nil, err
		}
		if err := c.Save(ctx, args[0], []byte(args[1])); err != nil {
			return nil, err
		}
		return result{"file": args[0], "written": len(args[1])}, nil
	case "size":
		if err := need(args, 1, "storage size <file>"); err != nil {
			return nil, err
		}
		size, err := c.Size(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return result{"file": args[0], "size": size}, nil
	case "userconfig":
		if err := need(args, 2, "storage userconfig <file> <userconfig.toml>"); err != nil {
			return nil, err
		}
		uc, err := readUserConfig(args[1])
		if err != nil {
			return nil, err
		}
		if err := c.UserConfig(ctx, args[0], uc); err != nil {
			return nil, err
		}
		return result{"file": args[0], "sensors": uc.Sensors}, nil
	}
	return nil, unknownAction("storage", action)
}

func executeConnectivity(ctx context.Context, c controller.Connectivity, action string, args []string) (result, error) {
	switch action {
	case "connect":
		if err := need(args, 2, "connectivity connect <ssid> <passwd>"); err != nil {
			return nil, err
		}
		status, err := c.Connect(ctx, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return result{"status": status}, nil
	case "disconnect":
		return result{"disconnected": true}, c.Disconnect(ctx)
	case "link":
		status, err := c.CheckLink(ctx)
		if err != nil {
			return nil, err
		}
		return result{"status": status}, nil
	case "api":
		if err := need(args, 2, "connectivity api <url> <port>"); err != nil {
			return nil, err
		}
		port, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: port %q", errUsage, args[1])
		}
		code, err := c.CheckAPI(ctx, args[0], uint32(port))
		if err != nil {
			return nil, err
		}
		return result{"code": code}, nil
	case "post":
		if err := need(args, 1, "connectivity post <body>"); err != nil {
			return nil, err
		}
		if err := c.Post(ctx, []byte(args[0])); err != nil {
			return nil, err
		}
		return result{"posted": len(args[0])}, nil
	case "check":
		code, body, err := c.Check(ctx)
		if err != nil {
			return nil, err
		}
		return result{"code": code, "body": string(body)}, nil
	case "time":
		ts, err := c.Time(ctx)
		if err != nil {
			return nil, err
		}
		return result{"timestamp": ts}, nil
	case "ntp":
		return result{"synced": true}, c.NTPSync(ctx)
	case "host":
		if err := need(args, 2, "connectivity host <ssid> <passwd>"); err != nil {
			return nil, err
		}
		if err := c.Host(ctx, args[0], args[1]); err != nil {
			return nil, err
		}
		return result{"hosting": args[0]}, nil
	case "stophost":
		return result{"hosting": false}, c.StopHost(ctx)
	case "hostinfo":
		info, err := c.HostInfo(ctx)
		if err != nil {
			return nil, err
		}
		return result{"ssid": info.SSID, "addr": info.Addr, "mac": info.MAC}, nil
	}
	return nil, unknownAction("connectivity", action)
}

func executeActuator(ctx context.Context, c controller.Actuator, action string, args []string) (result, error) {
	switch action {
	case "check":
		st, err := c.Check(ctx)
		if err != nil {
			return nil, err
		}
		return result{"state": st.String()}, nil
	case "set":
		if err := need(args, 1, "actuator set <open|closed>"); err != nil {
			return nil, err
		}
		var want schema.ActuatorState
		switch args[0] {
		case "open":
			want = schema.ActuatorOpen
		case "closed", "close":
			want = schema.ActuatorClosed
		default:
			return nil, fmt.Errorf("%w: actuator state %q", errUsage, args[0])
		}
		st, err := c.Set(ctx, want)
		if err != nil {
			return nil, err
		}
		return result{"state": st.String()}, nil
	}
	return nil, unknownAction("actuator", action)
}

func executeConfig(ctx context.Context, c controller.UserConfig, action string, args []string) (result, error) {
	switch action {
	case "request":
		uc, err := c.Request(ctx)
		if err != nil {
			return nil, err
		}
		if uc == nil {
			return result{"config": nil}, nil
		}
		return result{"config": uc}, nil
	case "send":
		if err := need(args, 1, "config send <userconfig.toml>"); err != nil {
			return nil, err
		}
		uc, err := readUserConfig(args[0])
		if err != nil {
			return nil, err
		}
		if err := c.Send(ctx, uc); err != nil {
			return nil, err
		}
		return result{"sent": true}, nil
	}
	return nil, unknownAction("config", action)
}

func readUserConfig(path string) (schema.UserConfig, error) {
	uc, err := config.LoadUserConfig(path)
	if err != nil {
		return schema.UserConfig{}, err
	}
	if uc == nil {
		return schema.UserConfig{}, fmt.Errorf("user config not found: %s", path)
	}
	return *uc, nil
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("%w: %s", errUsage, form)
	}
	return nil
}

func unknownAction(module, action string) error {
	return fmt.Errorf("%w: unknown %s action %q", errUsage, module, action)
}
