// Package pinata implements the upload of the images of the candidates to
// IPFS through the pinning service of Pinata.
package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"golang.org/x/xerrors"
)

const (
	// DefaultEndpoint is the address of the API of Pinata.
	DefaultEndpoint = "https://api.pinata.cloud"

	// DefaultGateway is the public IPFS gateway of Pinata.
	DefaultGateway = "gateway.pinata.cloud"

	pinPath = "/pinning/pinFileToIPFS"

	defaultTimeout = time.Minute

	// errorBodyLimit is the size of the body of a failed upload kept in the
	// error.
	errorBodyLimit = 512
)

// Client pins files on IPFS with Pinata.
type Client struct {
	jwt      string
	endpoint string
	gateway  string
	client   *http.Client
	logger   zerolog.Logger
}

// Option is the type of option to create a client.
type Option func(*Client)

// WithEndpoint sets the address of the API.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithGateway sets the IPFS gateway used to build the links of the files.
func WithGateway(gateway string) Option {
	return func(c *Client) {
		if gateway != "" {
			c.gateway = gateway
		}
	}
}

// WithHTTPClient sets the client sending the requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient returns a client authenticated with the JWT.
func NewClient(jwt string, opts ...Option) *Client {
	c := &Client{
		jwt:      jwt,
		endpoint: DefaultEndpoint,
		gateway:  DefaultGateway,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   pemilu.Logger.With().Str("role", "pinata").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type metadata struct {
	Name string `json:"name"`
}

type options struct {
	CIDVersion int `json:"cidVersion"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Pin uploads the content under the name and returns its identifier, in the
// version 1 of the CID format.
func (c *Client) Pin(ctx context.Context, name string, content io.Reader) (cid.Cid, error) {
	body := new(bytes.Buffer)
	form := multipart.NewWriter(body)

	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to create part: %v", err)
	}

	_, err = io.Copy(part, content)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to read content: %v", err)
	}

	err = writeJSONField(form, "pinataMetadata", metadata{Name: name})
	if err != nil {
		return cid.Undef, err
	}

	err = writeJSONField(form, "pinataOptions", options{CIDVersion: 1})
	if err != nil {
		return cid.Undef, err
	}

	err = form.Close()
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to close form: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+pinPath, body)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.client.Do(req)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to send request: %v", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}

		return cid.Undef, xerrors.Errorf("Failed to upload to Pinata: %s", msg)
	}

	var res pinResponse

	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to decode response: %v", err)
	}

	id, err := cid.Decode(res.IpfsHash)
	if err != nil {
		return cid.Undef, xerrors.Errorf("invalid hash '%s': %v", res.IpfsHash, err)
	}

	c.logger.Info().
		Str("name", name).
		Str("cid", id.String()).
		Int64("size", res.PinSize).
		Msg("file pinned")

	return id, nil
}

// URL returns the link to the file on the gateway.
func (c *Client) URL(id cid.Cid) string {
	gateway := strings.TrimRight(c.gateway, "/")
	if !strings.Contains(gateway, "://") {
		gateway = "https://" + gateway
	}

	return gateway + "/ipfs/" + id.String()
}

func writeJSONField(form *multipart.Writer, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to encode '%s': %v", name, err)
	}

	err = form.WriteField(name, string(data))
	if err != nil {
		return xerrors.Errorf("failed to write '%s': %v", name, err)
	}

	return nil
}
