// Package sh is the interactive host shell.
package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync"

	"github.com/abiosoft/ishell"
	"github.com/golang/protobuf/proto"

	ncpenv "github.com/robotalks/ncp.go/pkg/env"
	env "github.com/robotalks/ncp.go/pkg/env/host"
	"github.com/robotalks/ncp.go/pkg/ncp"
	"github.com/robotalks/ncp.go/pkg/ncp/host"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *Conn
}

// MaxEvents is the number of events kept for the events command.
const MaxEvents = 256

// Conn is a running client connected to a target.
type Conn struct {
	Name   string
	Client *host.Client
	Cancel func()

	lock   sync.Mutex
	events []host.Event
	done   chan struct{}
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&HelloCmd,
		&UserCmd,
		&RawCmd,
		&EventsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// PrintJSON prints v in JSON.
func PrintJSON(c *ishell.Context, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects the target at targetURL.
func (s *Shell) Connect(targetURL string) error {
	codec, err := s.Config.HeaderCodec()
	if err != nil {
		return err
	}
	rw, err := env.Dial(targetURL, s.Config.Timeout)
	if err != nil {
		return err
	}
	conn := &Conn{
		Name:   env.Name(targetURL),
		Client: host.NewClient(rw, codec),
		done:   make(chan struct{}),
	}
	conn.Client.Timeout = s.Config.Timeout
	var ctx context.Context
	ctx, conn.Cancel = context.WithCancel(context.Background())
	go conn.run(ctx)
	s.Disconnect()
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conn.Name))
	return nil
}

// Disconnect disconnects current target.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		<-s.Conn.done
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	go c.collectEvents()
	if err := c.Client.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("connection %s closed: %v", c.Name, err)
	}
}

func (c *Conn) collectEvents() {
	for evt := range c.Client.Events() {
		c.lock.Lock()
		if len(c.events) >= MaxEvents {
			c.events = c.events[1:]
		}
		c.events = append(c.events, evt)
		c.lock.Unlock()
	}
}

// TakeEvents returns the events received so far and clears them.
func (c *Conn) TakeEvents() []host.Event {
	c.lock.Lock()
	defer c.lock.Unlock()
	events := c.events
	c.events = nil
	return events
}

// Do sends a command and prints the response.
func (s *Shell) Do(c *ishell.Context, id ncp.MessageID, payload []byte) (*host.Response, error) {
	rsp, err := s.Conn.Client.Do(context.Background(), id, payload)
	if err != nil {
		c.Err(err)
		return nil, err
	}
	return rsp, nil
}

// SendUser sends a user message and prints the reply.
func (s *Shell) SendUser(c *ishell.Context, msg proto.Message) {
	reply, err := s.Conn.Client.SendUser(context.Background(), msg)
	if err != nil {
		c.Err(err)
		return
	}
	switch {
	case reply == nil:
		c.Println("OK")
	case s.OutputJSON:
		out, err := AnyJSON(reply)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(out)
	default:
		c.Println(FormatAny(reply))
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.TargetURL != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.TargetURL)
		}
		if err := s.Connect(s.Config.TargetURL); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.TargetURL, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

type rawResponse struct {
	Result string `json:"result"`
	Code   uint16 `json:"code"`
	Data   string `json:"data,omitempty"`
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			ports, err := ncpenv.SerialPorts()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if ports == nil {
					ports = []string{}
				}
				PrintJSON(c, ports)
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, port := range ports {
				c.Println(port)
			}
		},
	}

	// ConnectCmd connects a target.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			targetURL := s.Config.TargetURL
			if len(c.Args) > 0 {
				targetURL = c.Args[0]
			}
			if targetURL == "" {
				c.Err(fmt.Errorf("target URL required"))
				return
			}
			if err := s.Connect(targetURL); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current target.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// HelloCmd sends system hello.
	HelloCmd = ishell.Cmd{
		Name: "hello",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			if err := ShellFrom(c).Conn.Client.Hello(context.Background()); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// UserCmd sends a user message.
	UserCmd = ishell.Cmd{
		Name:    "user",
		Aliases: []string{"u"},
		Help:    "KIND [VALUE]",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("message kind required"))
				return
			}
			msg, err := NewUserMessage(c.Args[0], c.Args[1:]...)
			if err != nil {
				c.Err(err)
				return
			}
			ShellFrom(c).SendUser(c, msg)
		}),
	}

	// RawCmd sends a command frame.
	RawCmd = ishell.Cmd{
		Name:    "raw",
		Aliases: []string{"r"},
		Help:    "CLASS METHOD [HEX]",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("class and method required"))
				return
			}
			id, err := ParseMessageID(c.Args[0], c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			payload, err := ParseHex(c.Args[2:]...)
			if err != nil {
				c.Err(err)
				return
			}
			s := ShellFrom(c)
			rsp, err := s.Do(c, id, payload)
			if err != nil {
				return
			}
			out := rawResponse{Result: rsp.Result.String(), Code: uint16(rsp.Result), Data: hex.EncodeToString(rsp.Data)}
			if s.OutputJSON {
				PrintJSON(c, out)
				return
			}
			c.Printf("%s (0x%04x) %s\n", out.Result, out.Code, out.Data)
		}),
	}

	// EventsCmd prints events received since last time.
	EventsCmd = ishell.Cmd{
		Name:    "events",
		Aliases: []string{"e"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			events := s.Conn.TakeEvents()
			infos := make([]EventInfo, len(events))
			for n, evt := range events {
				infos[n] = DescribeEvent(evt)
			}
			if s.OutputJSON {
				PrintJSON(c, infos)
				return
			}
			for _, info := range infos {
				c.Println(info.String())
			}
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
