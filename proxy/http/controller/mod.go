// Package controller implements the controller that starts the HTTP server
// of the gateway.
package controller

import (
	"time"

	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/config"
	"go.dedis.ch/pemilu/proxy"
	"go.dedis.ch/pemilu/proxy/http"
	"golang.org/x/xerrors"
)

const defaultProm = "/metrics"

var (
	defaultRetry = 50

	sleep = func() { time.Sleep(100 * time.Millisecond) }

	proxyFac = func(addr string, opts ...http.Option) proxy.Proxy {
		return http.NewHTTP(addr, opts...)
	}
)

// NewController returns a new controller initializer.
func NewController() node.Initializer {
	return controller{}
}

// controller starts the HTTP server and injects it so that the other
// components register their routes.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer. It sets the start flags of the
// server and the command to expose the metrics.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  "clientaddr",
			Usage: "the address of the http server (CLIENT_ADDR)",
		},
		cli.StringSliceFlag{
			Name:  "cors",
			Usage: "origins allowed to send cross-origin requests (CORS_ORIGINS)",
		},
		cli.IntFlag{
			Name:  "max-conns",
			Usage: "maximum number of simultaneous connections, 0 for no limit (MAX_CONNS)",
			Value: -1,
		},
	)

	cmd := builder.SetCommand("proxy")
	cmd.SetDescription("manage the http server")

	sub := cmd.SetSubCommand("prom")
	sub.SetDescription("registers the collectors and starts a prometheus handler. " +
		"Will panic if the path is used more than once.")
	sub.SetFlags(cli.StringFlag{
		Name:     "path",
		Required: false,
		Usage:    "the handler path",
		Value:    defaultProm,
	})
	sub.SetAction(builder.MakeAction(promAction{}))
}

// OnStart implements node.Initializer. It creates, starts, and injects the
// server.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	cfg := config.Default()
	_ = inj.Resolve(&cfg)

	addr := flags.String("clientaddr")
	if addr == "" {
		addr = cfg.Proxy.Addr
	}

	origins := flags.StringSlice("cors")
	if len(origins) == 0 {
		origins = cfg.Proxy.CORSOrigins
	}

	maxConns := flags.Int("max-conns")
	if maxConns < 0 {
		maxConns = cfg.Proxy.MaxConns
	}

	srv := proxyFac(addr, http.WithCORS(origins...), http.WithMaxConns(maxConns))

	go srv.Listen()

	for i := 0; i < defaultRetry && srv.GetAddr() == nil; i++ {
		sleep()
	}

	if srv.GetAddr() == nil {
		srv.Stop()
		return xerrors.Errorf("failed to start proxy server on '%s'", addr)
	}

	inj.Inject(srv)

	return nil
}

// OnStop implements node.Initializer. It stops the http server.
func (controller) OnStop(inj node.Injector) error {
	var srv proxy.Proxy

	err := inj.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	srv.Stop()

	return nil
}
