// Package config defines the settings of the gateway.
//
// The settings are layered: the defaults are overridden by the optional YAML
// file in the config folder, then by the environment variables of the
// deployment (RPC_URL, CONTRACT_ADDRESS, PINATA_JWT, ...). The start flags of
// the controllers finally take precedence over everything else.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// FileName is the name of the optional configuration file in the config
// folder.
const FileName = "pemilu.yaml"

const mask = "redacted"

// Config is the complete set of settings.
type Config struct {
	RPC      RPC      `yaml:"rpc"`
	Contract Contract `yaml:"contract"`
	Proxy    Proxy    `yaml:"proxy"`
	Pinata   Pinata   `yaml:"pinata"`
}

// RPC are the settings of the JSON-RPC endpoint.
type RPC struct {
	URL       string        `yaml:"url" envconfig:"RPC_URL"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"RPC_TIMEOUT"`
	GasMargin int           `yaml:"gas_margin" envconfig:"GAS_MARGIN"`
}

// Contract are the settings of the election contract binding.
type Contract struct {
	Address   string        `yaml:"address" envconfig:"CONTRACT_ADDRESS"`
	ABI       string        `yaml:"abi" envconfig:"CONTRACT_ABI"`
	FromBlock uint64        `yaml:"from_block" envconfig:"CONTRACT_FROM_BLOCK"`
	MaxRange  uint64        `yaml:"max_range" envconfig:"LOG_MAX_RANGE"`
	CacheTTL  time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// Proxy are the settings of the HTTP server.
type Proxy struct {
	Addr        string   `yaml:"addr" envconfig:"CLIENT_ADDR"`
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
	MaxConns    int      `yaml:"max_conns" envconfig:"MAX_CONNS"`
}

// Pinata are the settings of the upload service.
type Pinata struct {
	JWT         string `yaml:"jwt" envconfig:"PINATA_JWT"`
	Endpoint    string `yaml:"endpoint" envconfig:"PINATA_ENDPOINT"`
	Gateway     string `yaml:"gateway" envconfig:"GATEWAY_URL"`
	UploadLimit int64  `yaml:"upload_limit" envconfig:"UPLOAD_LIMIT"`
}

// Default returns the settings used when nothing is provided.
func Default() Config {
	return Config{
		RPC: RPC{
			URL:       "http://127.0.0.1:8545",
			Timeout:   10 * time.Second,
			GasMargin: 20,
		},
		Contract: Contract{
			MaxRange: 5000,
			CacheTTL: 5 * time.Second,
		},
		Proxy: Proxy{
			Addr:        "127.0.0.1:8000",
			CORSOrigins: []string{"*"},
			MaxConns:    512,
		},
		Pinata: Pinata{
			Endpoint:    "https://api.pinata.cloud",
			Gateway:     "gateway.pinata.cloud",
			UploadLimit: 10 << 20,
		},
	}
}

// Load returns the settings of the config folder. The file is optional.
func Load(dir string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil && !os.IsNotExist(err) {
		return cfg, xerrors.Errorf("failed to read file: %v", err)
	}

	if err == nil {
		err = yaml.UnmarshalStrict(data, &cfg)
		if err != nil {
			return cfg, xerrors.Errorf("failed to decode file: %v", err)
		}
	}

	err = envconfig.Process("", &cfg)
	if err != nil {
		return cfg, xerrors.Errorf("failed to read environment: %v", err)
	}

	return cfg, nil
}

// Safe returns a copy of the settings where the secrets are masked, so that
// it can be logged or printed.
func (c Config) Safe() Config {
	c.RPC.URL = MaskURL(c.RPC.URL)

	if c.Pinata.JWT != "" {
		c.Pinata.JWT = mask
	}

	return c
}

// Marshal returns the YAML representation of the settings.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode: %v", err)
	}

	return data, nil
}

// MaskURL hides the credentials of an endpoint. Hosted providers put the API
// key either in the user info or in the path.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	if u.User != nil {
		u.User = url.User(mask)
	}

	if u.Path != "" && u.Path != "/" {
		u.Path = "/" + mask
		u.RawPath = ""
	}

	u.RawQuery = ""

	return u.String()
}
