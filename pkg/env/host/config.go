// Package host configures connections from a host to targets.
package host

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/robotalks/ncp.go/pkg/env"
	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/transport/mqtt"
)

// Config provides the options to connect a target.
type Config struct {
	// TargetURL locates the target:
	//
	//	tcp://host:port
	//	ws://host:port/path
	//	serial:///dev/ttyUSB0?baud=115200
	//	mqtt://broker:port/prefix/?device=ID
	TargetURL string
	Codec     string
	Timeout   time.Duration
}

var defaultConfig = Config{
	Codec:   "le",
	Timeout: time.Second,
}

func init() {
	if val := os.Getenv("NCP_TARGET_URL"); val != "" {
		defaultConfig.TargetURL = val
	}
	if val := os.Getenv("NCP_CODEC"); val != "" {
		defaultConfig.Codec = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.TargetURL, "target", defaultConfig.TargetURL, "Target URL to connect.")
	flag.StringVar(&defaultConfig.Codec, "codec", defaultConfig.Codec, "Header codec: le or bgapi.")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Command timeout.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// HeaderCodec returns the configured codec.
func (c *Config) HeaderCodec() (ncp.HeaderCodec, error) {
	return ncp.CodecByName(c.Codec)
}

// Dial connects the target.
func (c *Config) Dial() (io.ReadWriteCloser, error) {
	return Dial(c.TargetURL, c.Timeout)
}

// Dial connects the target located by targetURL.
func Dial(targetURL string, timeout time.Duration) (io.ReadWriteCloser, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		return net.DialTimeout("tcp", u.Host, timeout)
	case "ws", "wss":
		conn, err := websocket.Dial(targetURL, "", "http://"+u.Host+"/")
		if err != nil {
			return nil, err
		}
		conn.PayloadType = websocket.BinaryFrame
		return conn, nil
	case "serial":
		baud := env.DefaultBaudRate
		if val := u.Query().Get("baud"); val != "" {
			if baud, err = strconv.Atoi(val); err != nil {
				return nil, fmt.Errorf("invalid baud rate %q", val)
			}
		}
		return env.OpenSerial(u.Path, baud)
	case "mqtt", "mqtts":
		return dialMQTT(u)
	}
	return nil, fmt.Errorf("unknown target URL scheme: %q", u.Scheme)
}

func dialMQTT(u *url.URL) (io.ReadWriteCloser, error) {
	query := u.Query()
	device := query.Get("device")
	if device == "" {
		return nil, fmt.Errorf("device must be specified in MQTT target URL")
	}
	query.Del("device")
	brokerURL := *u
	brokerURL.RawQuery = query.Encode()
	q, err := mqtt.NewQueueFromURL(brokerURL.String())
	if err != nil {
		return nil, err
	}
	if err = q.Connect(); err != nil {
		return nil, err
	}
	conn, err := mqtt.NewHostConn(q, device)
	if err != nil {
		q.Close()
		return nil, err
	}
	return &mqttConn{HostConn: conn, queue: q}, nil
}

type mqttConn struct {
	*mqtt.HostConn
	queue *mqtt.Queue
}

func (c *mqttConn) Close() error {
	err := c.HostConn.Close()
	c.queue.Close()
	return err
}

// Name returns a short display name of targetURL.
func Name(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil {
		return targetURL
	}
	if device := u.Query().Get("device"); device != "" {
		return device
	}
	if u.Host != "" {
		return u.Host
	}
	return strings.TrimPrefix(u.Path, "/dev/")
}
