package grpcobj

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC object store client (talks to keycircle-objd)",
		Usage:       registry.UsageCLI,
		Open:        open,
	})
}

// open reads the settings target, dial-timeout, timeout and max-msg-bytes.
func open(settings map[string]string) (storage.ObjectStore, func() error, error) {
	target := strings.TrimSpace(settings["target"])
	if target == "" {
		return nil, nil, fmt.Errorf("grpc: missing \"target\" setting")
	}
	dialTimeout, err := durationSetting(settings, "dial-timeout", 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	timeout, err := durationSetting(settings, "timeout", 0)
	if err != nil {
		return nil, nil, err
	}
	maxMsg := 0
	if v := settings["max-msg-bytes"]; v != "" {
		maxMsg, err = strconv.Atoi(v)
		if err != nil || maxMsg < 0 {
			return nil, nil, fmt.Errorf("grpc: invalid \"max-msg-bytes\" %q", v)
		}
	}

	client, err := Dial(target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
	if err != nil {
		return nil, nil, err
	}
	client.Timeout = timeout
	return client, client.Close, nil
}

func durationSetting(settings map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := settings[key]
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("grpc: invalid %q: %w", key, err)
	}
	return d, nil
}
