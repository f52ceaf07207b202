package rist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigReceiver(t *testing.T) {
	doc := `
role: receiver
address: rist://@:5000
profile: simple
recovery:
  mode: time
  max_bitrate: 50000
  length_min: 200ms
  length_max: 800ms
  reorder_buffer: 40ms
  rtt_min: 20ms
  rtt_max: 300ms
cname: cam1
fifo_size: 2048
params:
  buffer-min: "100"
`
	cfg, profile, err := LoadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, ProfileSimple, profile)
	assert.Equal(t, RoleReceiver, cfg.Role())
	assert.Equal(t, 5000, cfg.Endpoint().Port)
	assert.True(t, cfg.Endpoint().Listen)
	assert.Equal(t, RecoveryTime, cfg.RecoveryMode())
	assert.Equal(t, uint32(50000), cfg.RecoveryMaxBitrate())
	assert.Equal(t, 200*time.Millisecond, cfg.RecoveryLengthMin())
	assert.Equal(t, 800*time.Millisecond, cfg.RecoveryLengthMax())
	assert.Equal(t, 40*time.Millisecond, cfg.ReorderBuffer())
	assert.Equal(t, 20*time.Millisecond, cfg.RecoveryRTTMin())
	assert.Equal(t, 300*time.Millisecond, cfg.RecoveryRTTMax())
	assert.Equal(t, "cam1", cfg.CNAME())
	assert.Equal(t, uint32(2048), cfg.FIFOSize())
	assert.Equal(t, "100", cfg.Params().Get("buffer-min"))
	assert.Contains(t, cfg.URL(), "buffer-min=100")
}

func TestLoadConfigSenderDefaults(t *testing.T) {
	doc := "role: sender\naddress: rist://10.0.0.1:6000\nflow_id: 42\nmax_payload_size: 1000\n"
	cfg, profile, err := LoadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, ProfileMain, profile)
	assert.Equal(t, RoleSender, cfg.Role())
	assert.Equal(t, uint32(42), cfg.FlowID())
	assert.Equal(t, 1000, cfg.MaxPayloadSize())
	assert.Equal(t, DefaultRecoveryLengthMin, cfg.RecoveryLengthMin())
	assert.Equal(t, DefaultRecoveryRTTMax, cfg.RecoveryRTTMax())
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown field", "address: rist://@:5000\nport: 5000\n", "yaml"},
		{"bad role", "role: relay\naddress: rist://@:5000\n", "role"},
		{"bad profile", "profile: turbo\naddress: rist://@:5000\n", "profile"},
		{"bad mode", "address: rist://@:5000\nrecovery:\n  mode: fast\n", "recovery.mode"},
		{"bad duration", "address: rist://@:5000\nrecovery:\n  rtt_min: soon\n", "recovery.rtt_min"},
		{"missing address", "role: receiver\n", "address"},
		{"min above max", "address: rist://@:5000\nrecovery:\n  rtt_min: 2s\n  rtt_max: 1s\n", ""},
		{"fifo on sender", "role: sender\naddress: rist://127.0.0.1:5000\nfifo_size: 3\n", "fifo_size"},
		{"flow id on receiver", "role: receiver\naddress: rist://@:5000\nflow_id: 9\n", "flow_id"},
		{"max payload on receiver", "address: rist://@:5000\nmax_payload_size: 1000\n", "max_payload_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadConfig(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrInvalidConfig)
			if tt.field == "" {
				return
			}
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("address: rist://@:5001\n"), 0o600))

	cfg, _, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Endpoint().Port)

	_, _, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
