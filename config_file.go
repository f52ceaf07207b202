package rist

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML form of a Config. Durations are Go duration
// strings such as "500ms"; omitted fields keep librist defaults.
//
//	role: receiver
//	address: rist://@:5000
//	recovery:
//	  mode: time
//	  length_min: 50ms
//	  length_max: 500ms
//	fifo_size: 2048
//	params:
//	  cname: cam1
type FileConfig struct {
	Role     string            `yaml:"role"`
	Address  string            `yaml:"address"`
	Profile  string            `yaml:"profile"`
	Recovery FileRecovery      `yaml:"recovery"`
	CNAME    string            `yaml:"cname"`
	FIFOSize uint32            `yaml:"fifo_size"`
	FlowID   uint32            `yaml:"flow_id"`
	MaxSize  int               `yaml:"max_payload_size"`
	Params   map[string]string `yaml:"params"`
}

// FileRecovery groups the recovery settings of a FileConfig.
type FileRecovery struct {
	Mode          string `yaml:"mode"`
	MaxBitrate    uint32 `yaml:"max_bitrate"`
	LengthMin     string `yaml:"length_min"`
	LengthMax     string `yaml:"length_max"`
	ReorderBuffer string `yaml:"reorder_buffer"`
	RTTMin        string `yaml:"rtt_min"`
	RTTMax        string `yaml:"rtt_max"`
}

// LoadConfig decodes one YAML document and builds it through the same
// builder as code, so the same validation applies. The returned Profile is
// ProfileMain unless the document names another.
func LoadConfig(r io.Reader) (*Config, Profile, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, 0, &ConfigError{Field: "yaml", Reason: err.Error()}
	}
	return fc.Build()
}

// LoadConfigFile reads path and calls LoadConfig.
func LoadConfigFile(path string) (*Config, Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Build converts fc into a Config.
func (fc *FileConfig) Build() (*Config, Profile, error) {
	profile, err := parseProfile(fc.Profile)
	if err != nil {
		return nil, 0, err
	}

	var b *ConfigBuilder
	switch fc.Role {
	case "receiver", "":
		b = NewReceiverConfig()
	case "sender":
		b = NewSenderConfig()
	default:
		return nil, 0, configErrorf("role", "unknown role %q", fc.Role)
	}
	// Role-specific fields go through the builder whatever the role, so a
	// receiver-only field on a sender is rejected the same way as in code.
	if fc.FIFOSize != 0 {
		b.FIFOSize(fc.FIFOSize)
	}
	if fc.FlowID != 0 {
		b.FlowID(fc.FlowID)
	}
	if fc.MaxSize != 0 {
		b.MaxPayloadSize(fc.MaxSize)
	}
	b.Address(fc.Address)

	rec := fc.Recovery
	if rec.Mode != "" {
		mode, ok := ParseRecoveryMode(rec.Mode)
		if !ok {
			return nil, 0, configErrorf("recovery.mode", "unknown mode %q", rec.Mode)
		}
		b.RecoveryMode(mode)
	}
	if rec.MaxBitrate != 0 {
		b.RecoveryMaxBitrate(rec.MaxBitrate)
	}
	for _, d := range []struct {
		field string
		value string
		set   func(time.Duration) *ConfigBuilder
	}{
		{"recovery.length_min", rec.LengthMin, b.RecoveryLengthMin},
		{"recovery.length_max", rec.LengthMax, b.RecoveryLengthMax},
		{"recovery.reorder_buffer", rec.ReorderBuffer, b.ReorderBuffer},
		{"recovery.rtt_min", rec.RTTMin, b.RecoveryRTTMin},
		{"recovery.rtt_max", rec.RTTMax, b.RecoveryRTTMax},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, 0, configErrorf(d.field, "%v", err)
		}
		d.set(v)
	}
	if fc.CNAME != "" {
		b.CNAME(fc.CNAME)
	}
	for k, v := range fc.Params {
		b.Param(k, v)
	}

	cfg, err := b.Build()
	if err != nil {
		return nil, 0, err
	}
	return cfg, profile, nil
}

func parseProfile(s string) (Profile, error) {
	switch s {
	case "main", "":
		return ProfileMain, nil
	case "simple":
		return ProfileSimple, nil
	case "advanced":
		return ProfileAdvanced, nil
	default:
		return 0, configErrorf("profile", "unknown profile %q", s)
	}
}
