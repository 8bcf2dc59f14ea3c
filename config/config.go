// Package config loads the keycircle YAML configuration: which views the
// content store serves, the identity reconcile policy, where device keys live
// and how object stores are opened.
//
// Example:
//
//	views: [KeychainV0]
//	key_dir: /var/lib/keycircle/keys
//	policy:
//	  min_version: 2
//	  require_serial: true
//	  required_views: [KeychainV0]
//	storage:
//	  write_policy: all
//	  backends:
//	    - name: localfs
//	      settings: {dir: /var/lib/keycircle/objects}
//	    - name: sqlite
//	      id: archive
//	      settings: {path: /var/lib/keycircle/objects.db}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/peer"
)

type Config struct {
	Views   []string      `yaml:"views"`
	KeyDir  string        `yaml:"key_dir"`
	Policy  PolicyConfig  `yaml:"policy"`
	Storage StorageConfig `yaml:"storage"`
}

// PolicyConfig mirrors peer.Policy.
type PolicyConfig struct {
	MinVersion       uint32          `yaml:"min_version"`
	RequireSerial    bool            `yaml:"require_serial"`
	RequireDeviceID  bool            `yaml:"require_device_id"`
	DeviceID         string          `yaml:"device_id"`
	RequireTransport bool            `yaml:"require_transport"`
	Transport        TransportConfig `yaml:"transport"`
	RequiredViews    []string        `yaml:"required_views"`
	ExcludedViews    []string        `yaml:"excluded_views"`
}

type TransportConfig struct {
	Type          string `yaml:"type"`
	IDS           bool   `yaml:"ids"`
	Fragmentation bool   `yaml:"fragmentation"`
	ACKModel      bool   `yaml:"ack_model"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Views: []string{datastore.DefaultView},
		Storage: StorageConfig{
			Backends: []BackendConfig{{Name: "localfs", Settings: map[string]string{"dir": "keycircle-objects"}}},
		},
	}
}

// LoadFile reads and validates a YAML configuration. Unknown fields are rejected.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if len(cfg.Views) == 0 {
		cfg.Views = []string{datastore.DefaultView}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Views))
	for _, v := range c.Views {
		if v == "" {
			return errors.New("config: empty view name")
		}
		if _, ok := seen[v]; ok {
			return fmt.Errorf("config: duplicate view %q", v)
		}
		seen[v] = struct{}{}
	}
	if err := c.Policy.validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}

func (p PolicyConfig) validate() error {
	if err := p.Peer().Validate(); err != nil {
		return fmt.Errorf("config: policy: %w", err)
	}
	return nil
}

// Peer converts the policy section into a peer.Policy.
func (p PolicyConfig) Peer() peer.Policy {
	return peer.Policy{
		MinVersion:       p.MinVersion,
		RequireSerial:    p.RequireSerial,
		RequireDeviceID:  p.RequireDeviceID,
		DeviceID:         p.DeviceID,
		RequireTransport: p.RequireTransport,
		Transport: peer.Transport{
			Type:          p.Transport.Type,
			IDS:           p.Transport.IDS,
			Fragmentation: p.Transport.Fragmentation,
			ACKModel:      p.Transport.ACKModel,
		},
		RequiredViews: append([]string(nil), p.RequiredViews...),
		ExcludedViews: append([]string(nil), p.ExcludedViews...),
	}
}
