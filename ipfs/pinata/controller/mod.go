// Package controller implements the controller of the upload endpoint.
package controller

import (
	"net/http"

	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/config"
	"go.dedis.ch/pemilu/ipfs/pinata"
	"go.dedis.ch/pemilu/proxy"
	"golang.org/x/xerrors"
)

// UploadPath is the path of the upload endpoint.
const UploadPath = "/upload"

// NewController returns a new controller initializer.
func NewController() node.Initializer {
	return controller{}
}

// controller registers the upload endpoint when a JWT is provided.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer. It sets the start flags of the
// upload service.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  "pinata-jwt",
			Usage: "JWT of the Pinata API, uploads are disabled when empty (PINATA_JWT)",
		},
		cli.StringFlag{
			Name:  "gateway",
			Usage: "IPFS gateway used in the links of the uploaded files (GATEWAY_URL)",
		},
		cli.IntFlag{
			Name:  "upload-limit",
			Usage: "largest file accepted, in bytes (UPLOAD_LIMIT)",
			Value: -1,
		},
	)
}

// OnStart implements node.Initializer. It creates the client and registers
// the endpoint on the proxy.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	cfg := config.Default()
	_ = inj.Resolve(&cfg)

	jwt := flags.String("pinata-jwt")
	if jwt == "" {
		jwt = cfg.Pinata.JWT
	}

	if jwt == "" {
		pemilu.Logger.Info().Msg("no Pinata JWT, uploads are disabled")
		return nil
	}

	gateway := flags.String("gateway")
	if gateway == "" {
		gateway = cfg.Pinata.Gateway
	}

	limit := int64(flags.Int("upload-limit"))
	if limit < 0 {
		limit = cfg.Pinata.UploadLimit
	}

	var srv proxy.Proxy

	err := inj.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	client := pinata.NewClient(jwt,
		pinata.WithEndpoint(cfg.Pinata.Endpoint),
		pinata.WithGateway(gateway))

	inj.Inject(client)

	srv.RegisterRoute(http.MethodPost, UploadPath, pinata.NewHandler(client, limit).Upload)

	return nil
}

// OnStop implements node.Initializer.
func (controller) OnStop(node.Injector) error {
	return nil
}
