// Package target configures the target daemon.
package target

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robotalks/ncp.go/pkg/env"
	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/transport/stream"
)

// Transports
const (
	TransportSerial    = "serial"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config provides the options of the target daemon.
type Config struct {
	// Transport is one of serial, tcp, websocket and mqtt.
	Transport  string
	SerialPort string
	BaudRate   int
	// ListenAddr is the address of tcp and websocket transports.
	ListenAddr string
	// MQTTBrokerURL specifies the MQTT broker, e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	DeviceID      string
	// MetricsAddr serves /metrics when not empty.
	MetricsAddr string
	Codec       string
	RxTimeout   time.Duration
	// Version is announced in the boot event as major.minor.patch.build.
	Version string

	Engine ncp.Config
}

var (
	defaultConfig = Config{
		Transport:     TransportTCP,
		BaudRate:      env.DefaultBaudRate,
		ListenAddr:    ":7890",
		MQTTBrokerURL: "mqtt://localhost:1883/ncp/",
		Codec:         "le",
		RxTimeout:     stream.DefaultRxTimeout,
		Version:       "1.0.0.0",
		Engine:        ncp.DefaultConfig(),
	}
	configFile string
)

func init() {
	if val := os.Getenv("NCP_TRANSPORT"); val != "" {
		defaultConfig.Transport = val
	}
	if val := os.Getenv("NCP_SERIAL_PORT"); val != "" {
		defaultConfig.SerialPort = val
	}
	if val := os.Getenv("NCP_LISTEN"); val != "" {
		defaultConfig.ListenAddr = val
	}
	if val := os.Getenv("NCP_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("NCP_DEVICE_ID"); val != "" {
		defaultConfig.DeviceID = val
	}
	if val := os.Getenv("NCP_METRICS_ADDR"); val != "" {
		defaultConfig.MetricsAddr = val
	}
	if val := os.Getenv("NCP_CODEC"); val != "" {
		defaultConfig.Codec = val
	}
	configFile = os.Getenv("NCP_CONFIG")
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "TOML config file")
	flag.StringVar(&defaultConfig.Transport, "transport", defaultConfig.Transport, "Transport: serial, tcp, websocket or mqtt")
	flag.StringVar(&defaultConfig.SerialPort, "serial", defaultConfig.SerialPort, "Serial port")
	flag.IntVar(&defaultConfig.BaudRate, "baud", defaultConfig.BaudRate, "Serial baud rate")
	flag.StringVar(&defaultConfig.ListenAddr, "listen", defaultConfig.ListenAddr, "Listen address of tcp and websocket transports")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.DeviceID, "id", defaultConfig.DeviceID, "Device ID, defaults to the machine ID")
	flag.StringVar(&defaultConfig.MetricsAddr, "metrics", defaultConfig.MetricsAddr, "Metrics listen address")
	flag.StringVar(&defaultConfig.Codec, "codec", defaultConfig.Codec, "Header codec: le or bgapi")
	flag.DurationVar(&defaultConfig.RxTimeout, "rx-timeout", defaultConfig.RxTimeout, "Receive idle timeout")
	flag.StringVar(&defaultConfig.Version, "version", defaultConfig.Version, "Version announced on boot")
	flag.IntVar(&defaultConfig.Engine.MaxFrameSize, "max-frame", defaultConfig.Engine.MaxFrameSize, "Max command frame size")
	flag.IntVar(&defaultConfig.Engine.QueueLen, "queue-len", defaultConfig.Engine.QueueLen, "Transmit queue segments")
	flag.IntVar(&defaultConfig.Engine.QueueReserved, "queue-reserved", defaultConfig.Engine.QueueReserved, "Segments reserved for responses")
	flag.IntVar(&defaultConfig.Engine.SegmentSize, "segment-size", defaultConfig.Engine.SegmentSize, "Transmit segment size")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from defaults, environment variables, the
// config file and command line flags, in the order of increasing priority.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	if configFile != "" {
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		if err := conf.LoadFile(configFile, explicit); err != nil {
			return nil, err
		}
	}
	if conf.DeviceID == "" {
		conf.DeviceID = env.MachineID()
	}
	codec, err := ncp.CodecByName(conf.Codec)
	if err != nil {
		return nil, err
	}
	conf.Engine.Codec = codec
	return &conf, conf.Validate()
}

type fileConfig struct {
	Transport     string `toml:"transport"`
	SerialPort    string `toml:"serial"`
	BaudRate      int    `toml:"baud"`
	ListenAddr    string `toml:"listen"`
	MQTTBrokerURL string `toml:"mqtt"`
	DeviceID      string `toml:"id"`
	MetricsAddr   string `toml:"metrics"`
	Codec         string `toml:"codec"`
	RxTimeout     string `toml:"rx-timeout"`
	Version       string `toml:"version"`
	Engine        struct {
		MaxFrameSize  int    `toml:"max-frame"`
		QueueLen      int    `toml:"queue-len"`
		QueueReserved int    `toml:"queue-reserved"`
		SegmentSize   int    `toml:"segment-size"`
		Interval      string `toml:"interval"`
	} `toml:"engine"`
}

// LoadFile overlays the keys defined in a TOML file. Keys in skip are
// left untouched.
func (c *Config) LoadFile(path string, skip map[string]bool) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defined := func(key ...string) bool {
		return meta.IsDefined(key...) && !skip[key[len(key)-1]]
	}
	if defined("transport") {
		c.Transport = strings.TrimSpace(raw.Transport)
	}
	if defined("serial") {
		c.SerialPort = strings.TrimSpace(raw.SerialPort)
	}
	if defined("baud") {
		c.BaudRate = raw.BaudRate
	}
	if defined("listen") {
		c.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if defined("mqtt") {
		c.MQTTBrokerURL = strings.TrimSpace(raw.MQTTBrokerURL)
	}
	if defined("id") {
		c.DeviceID = strings.TrimSpace(raw.DeviceID)
	}
	if defined("metrics") {
		c.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if defined("codec") {
		c.Codec = strings.TrimSpace(raw.Codec)
	}
	if defined("rx-timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RxTimeout))
		if err != nil {
			return fmt.Errorf("parse rx-timeout: %w", err)
		}
		c.RxTimeout = d
	}
	if defined("version") {
		c.Version = strings.TrimSpace(raw.Version)
	}
	if defined("engine", "max-frame") {
		c.Engine.MaxFrameSize = raw.Engine.MaxFrameSize
	}
	if defined("engine", "queue-len") {
		c.Engine.QueueLen = raw.Engine.QueueLen
	}
	if defined("engine", "queue-reserved") {
		c.Engine.QueueReserved = raw.Engine.QueueReserved
	}
	if defined("engine", "segment-size") {
		c.Engine.SegmentSize = raw.Engine.SegmentSize
	}
	if defined("engine", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Engine.Interval))
		if err != nil {
			return fmt.Errorf("parse engine.interval: %w", err)
		}
		c.Engine.Interval = d
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("serial port must be specified")
		}
	case TransportTCP, TransportWebSocket:
		if c.ListenAddr == "" {
			return fmt.Errorf("listen address must be specified")
		}
	case TransportMQTT:
		if c.MQTTBrokerURL == "" || c.DeviceID == "" {
			return fmt.Errorf("MQTT broker URL and device ID must be specified")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if _, err := c.ParseVersion(); err != nil {
		return err
	}
	return c.Engine.Validate()
}

// ParseVersion parses Version into major, minor, patch and build.
// Missing parts are 0.
func (c *Config) ParseVersion() ([4]uint16, error) {
	var v [4]uint16
	parts := strings.Split(c.Version, ".")
	if len(parts) > len(v) {
		return v, fmt.Errorf("invalid version %q", c.Version)
	}
	for n, part := range parts {
		val, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return v, fmt.Errorf("invalid version %q: %w", c.Version, err)
		}
		v[n] = uint16(val)
	}
	return v, nil
}
