package target

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

const testConfigFile = `
transport = "mqtt"
mqtt = "mqtt://broker:1883/lab/"
id = " dev-7 "
rx-timeout = "20ms"
version = "2.1.3.44"

[engine]
max-frame = 120
queue-len = 16
queue-reserved = 4
interval = "10ms"
`

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "ncpd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	conf := *Default()
	conf.ListenAddr = ":1234"
	require.NoError(t, conf.LoadFile(writeConfigFile(t, testConfigFile), nil))
	require.Equal(t, TransportMQTT, conf.Transport)
	require.Equal(t, "mqtt://broker:1883/lab/", conf.MQTTBrokerURL)
	require.Equal(t, "dev-7", conf.DeviceID)
	require.Equal(t, 20*time.Millisecond, conf.RxTimeout)
	require.Equal(t, ":1234", conf.ListenAddr)
	require.Equal(t, 120, conf.Engine.MaxFrameSize)
	require.Equal(t, 16, conf.Engine.QueueLen)
	require.Equal(t, 4, conf.Engine.QueueReserved)
	require.Equal(t, ncp.DefaultSegmentSize, conf.Engine.SegmentSize)
	require.Equal(t, 10*time.Millisecond, conf.Engine.Interval)
	require.NoError(t, conf.Validate())

	v, err := conf.ParseVersion()
	require.NoError(t, err)
	require.Equal(t, [4]uint16{2, 1, 3, 44}, v)
}

func TestLoadFileSkipsExplicitFlags(t *testing.T) {
	conf := *Default()
	conf.Transport = TransportWebSocket
	conf.Engine.MaxFrameSize = 90
	skip := map[string]bool{"transport": true, "max-frame": true}
	require.NoError(t, conf.LoadFile(writeConfigFile(t, testConfigFile), skip))
	require.Equal(t, TransportWebSocket, conf.Transport)
	require.Equal(t, 90, conf.Engine.MaxFrameSize)
	require.Equal(t, "dev-7", conf.DeviceID)
}

func TestLoadFileErrors(t *testing.T) {
	conf := *Default()
	require.Error(t, conf.LoadFile(filepath.Join(t.TempDir(), "missing.toml"), nil))
	require.Error(t, conf.LoadFile(writeConfigFile(t, `rx-timeout = "soon"`), nil))
	require.Error(t, conf.LoadFile(writeConfigFile(t, `transport = [`), nil))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(*Config)
		valid bool
	}{
		{"default", func(*Config) {}, true},
		{"serial without port", func(c *Config) { c.Transport = TransportSerial }, false},
		{"serial", func(c *Config) { c.Transport, c.SerialPort = TransportSerial, "/dev/ttyUSB0" }, true},
		{"websocket without address", func(c *Config) { c.Transport, c.ListenAddr = TransportWebSocket, "" }, false},
		{"mqtt without id", func(c *Config) { c.Transport, c.DeviceID = TransportMQTT, "" }, false},
		{"mqtt", func(c *Config) { c.Transport, c.DeviceID = TransportMQTT, "dev" }, true},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }, false},
		{"bad version", func(c *Config) { c.Version = "1.x" }, false},
		{"long version", func(c *Config) { c.Version = "1.2.3.4.5" }, false},
		{"bad engine", func(c *Config) { c.Engine.QueueReserved = 1 }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := *Default()
			tc.setup(&conf)
			if tc.valid {
				require.NoError(t, conf.Validate())
			} else {
				require.Error(t, conf.Validate())
			}
		})
	}
}
