package controller

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/proxy"
	"golang.org/x/xerrors"
)

var (
	registerer prometheus.Registerer = prometheus.DefaultRegisterer
	gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
)

// promAction registers the collectors and the metrics handler.
//
// - implements node.ActionTemplate
type promAction struct{}

// Execute implements node.ActionTemplate. It registers the Prometheus handler.
func (a promAction) Execute(ctx node.Context) error {
	var srv proxy.Proxy

	err := ctx.Injector.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve the proxy: %v", err)
	}

	path := ctx.Flags.String("path")

	for _, c := range pemilu.PromCollectors {
		err = registerer.Register(c)
		if err != nil {
			fmt.Fprintf(ctx.Out, "ERROR: failed to register: %v\n", err)
		}
	}

	srv.RegisterHandler(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	fmt.Fprintf(ctx.Out, "registered prometheus service on %q\n", path)

	return nil
}
