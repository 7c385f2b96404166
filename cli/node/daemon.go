package node

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/cli"
	"golang.org/x/xerrors"
)

// ioTimeout bounds the dial and the reading of the request. Actions that talk
// to the chain use their own timeouts.
const ioTimeout = 30 * time.Second

// SocketName is the name of the UNIX socket file in the config folder.
const SocketName = "daemon.sock"

var commandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "pemilu_daemon_commands_total",
	Help: "number of commands executed by the daemon",
}, []string{"command", "status"})

func init() {
	pemilu.PromCollectors = append(pemilu.PromCollectors, commandCounter)
}

// request is the message sent by a client to run a command on the daemon.
type request struct {
	Command uint16  `json:"command"`
	Flags   FlagSet `json:"flags"`
}

// event is a message streamed back by the daemon. A command produces any
// number of outputs and at most one error, which is the last event.
type event struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// socketClient sends a command to the daemon and prints the outputs.
//
// - implements node.Client
type socketClient struct {
	socketpath  string
	out         io.Writer
	dialTimeout time.Duration
	dialFn      func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// Send implements node.Client. It writes the request and copies the outputs
// of the command until the daemon closes the connection.
func (c socketClient) Send(data []byte) error {
	conn, err := c.dialFn("unix", c.socketpath, c.dialTimeout)
	if err != nil {
		return xerrors.Errorf("couldn't open connection: %v", err)
	}

	defer conn.Close()

	_, err = conn.Write(data)
	if err != nil {
		return xerrors.Errorf("couldn't write to daemon: %v", err)
	}

	dec := json.NewDecoder(conn)

	for {
		var evt event

		err = dec.Decode(&evt)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("fail to decode event: %v", err)
		}

		if evt.Error != "" {
			return xerrors.New(evt.Error)
		}

		io.WriteString(c.out, evt.Output)
	}
}

// socketDaemon executes the commands received on a UNIX socket. Only the
// owner of the config folder can use it, as the socket is created with
// user-only permissions.
//
// - implements node.Daemon
type socketDaemon struct {
	sync.WaitGroup

	logger      zerolog.Logger
	socketpath  string
	injector    Injector
	actions     *actionMap
	readTimeout time.Duration
	listenFn    func(network, addr string) (net.Listener, error)

	socket net.Listener
}

// Listen implements node.Daemon. It binds the socket and starts to accept
// connections. A socket file left by a daemon that did not stop properly is
// replaced.
func (d *socketDaemon) Listen() error {
	err := d.clearSocket()
	if err != nil {
		return err
	}

	socket, err := d.listenFn("unix", d.socketpath)
	if err != nil {
		return xerrors.Errorf("couldn't bind socket: %v", err)
	}

	err = os.Chmod(d.socketpath, 0600)
	if err != nil && !os.IsNotExist(err) {
		socket.Close()
		return xerrors.Errorf("failed to restrict socket: %v", err)
	}

	d.socket = socket

	d.Add(1)

	go func() {
		defer d.Done()

		for {
			conn, err := socket.Accept()
			if xerrors.Is(err, net.ErrClosed) {
				return
			}
			if err != nil {
				d.logger.Err(err).Msg("daemon closed unexpectedly")
				return
			}

			d.Add(1)

			go func() {
				defer d.Done()

				d.handleConn(conn)
			}()
		}
	}()

	return nil
}

func (d *socketDaemon) clearSocket() error {
	_, err := os.Stat(d.socketpath)
	if os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", d.socketpath, time.Second)
	if err == nil {
		conn.Close()
		return xerrors.Errorf("daemon already running on '%s'", d.socketpath)
	}

	d.logger.Warn().Msg("removing stale socket")

	err = os.Remove(d.socketpath)
	if err != nil {
		return xerrors.Errorf("failed to remove stale socket: %v", err)
	}

	return nil
}

func (d *socketDaemon) handleConn(conn net.Conn) {
	defer conn.Close()

	logger := d.logger.With().Str("id", xid.New().String()).Logger()

	conn.SetReadDeadline(time.Now().Add(d.readTimeout))

	var req request

	err := json.NewDecoder(conn).Decode(&req)
	if err == io.EOF {
		// The client closed the connection without a request, which is how
		// the availability of the daemon is checked.
		return
	}
	if err != nil {
		d.sendError(logger, conn, xerrors.Errorf("failed to decode request: %v", err))
		return
	}

	action := d.actions.Get(req.Command)
	if action == nil {
		d.sendError(logger, conn, xerrors.Errorf("unknown command '%d'", req.Command))
		return
	}

	name := d.actions.Name(req.Command)
	logger = logger.With().Str("command", name).Logger()

	if req.Flags == nil {
		req.Flags = make(FlagSet)
	}

	ctx := Context{
		Injector: d.injector,
		Flags:    req.Flags,
		Out:      newClientWriter(conn),
	}

	start := time.Now()

	err = execute(action, ctx)
	if err != nil {
		commandCounter.WithLabelValues(name, "error").Inc()
		d.sendError(logger, conn, xerrors.Errorf("command error: %v", err))
		return
	}

	commandCounter.WithLabelValues(name, "ok").Inc()

	logger.Debug().Dur("elapsed", time.Since(start)).Msg("command executed")
}

// execute runs the action and turns a panic into an error so that a failing
// command does not stop the daemon.
func execute(action ActionTemplate, ctx Context) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = xerrors.Errorf("action panicked: %v", r)
		}
	}()

	return action.Execute(ctx)
}

func (d *socketDaemon) sendError(logger zerolog.Logger, conn net.Conn, err error) {
	logger.Debug().Err(err).Msg("sending error to client")

	err = json.NewEncoder(conn).Encode(event{Error: err.Error()})
	if err != nil {
		logger.Warn().Err(err).Msg("connection to daemon has error")
	}
}

// Close implements node.Daemon. It stops accepting connections and waits for
// the running commands.
func (d *socketDaemon) Close() error {
	if d.socket != nil {
		d.socket.Close()
	}

	d.Wait()

	return nil
}

// clientWriter streams what an action writes as output events.
//
// - implements io.Writer
type clientWriter struct {
	enc *json.Encoder
}

func newClientWriter(w io.Writer) *clientWriter {
	return &clientWriter{
		enc: json.NewEncoder(w),
	}
}

// Write implements io.Writer.
func (w *clientWriter) Write(data []byte) (int, error) {
	err := w.enc.Encode(event{Output: string(data)})
	if err != nil {
		return 0, xerrors.Errorf("while packing data: %v", err)
	}

	return len(data), nil
}

// socketFactory creates the daemon and the clients of a config folder.
//
// - implements node.DaemonFactory
type socketFactory struct {
	injector Injector
	actions  *actionMap
	out      io.Writer
}

// ClientFromContext implements node.DaemonFactory.
func (f socketFactory) ClientFromContext(ctx cli.Flags) (Client, error) {
	client := socketClient{
		socketpath:  socketPath(ctx),
		out:         f.out,
		dialTimeout: ioTimeout,
		dialFn:      net.DialTimeout,
	}

	return client, nil
}

// DaemonFromContext implements node.DaemonFactory.
func (f socketFactory) DaemonFromContext(ctx cli.Flags) (Daemon, error) {
	path := socketPath(ctx)

	daemon := &socketDaemon{
		logger:      pemilu.Logger.With().Str("daemon", path).Logger(),
		socketpath:  path,
		injector:    f.injector,
		actions:     f.actions,
		readTimeout: ioTimeout,
		listenFn:    net.Listen,
	}

	return daemon, nil
}

func socketPath(ctx cli.Flags) string {
	return filepath.Join(ctx.Path("config"), SocketName)
}
