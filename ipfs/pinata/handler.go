package pinata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/internal/tracing"
	"golang.org/x/xerrors"
)

// DefaultUploadLimit is the largest file accepted by the upload endpoint.
const DefaultUploadLimit = 10 << 20

// formAllowance is the room left in the body for the boundaries and the
// headers of the parts. The size of the file itself is checked against the
// limit once the form is parsed.
const formAllowance = 1 << 20

// Pinner pins a file on IPFS.
type Pinner interface {
	Pin(ctx context.Context, name string, content io.Reader) (cid.Cid, error)
	URL(id cid.Cid) string
}

// UploadResponse is the response of a successful upload.
type UploadResponse struct {
	Success bool   `json:"success"`
	CID     string `json:"cid"`
	URL     string `json:"url"`
}

// Handler serves the upload of the images of the candidates.
type Handler struct {
	pinner Pinner
	limit  int64
	logger zerolog.Logger
}

// NewHandler returns the upload handler. The default limit is used when the
// limit is not positive.
func NewHandler(pinner Pinner, limit int64) Handler {
	if limit <= 0 {
		limit = DefaultUploadLimit
	}

	return Handler{
		pinner: pinner,
		limit:  limit,
		logger: pemilu.Logger.With().Str("role", "upload").Logger(),
	}
}

// Upload pins the file of the multipart form field "file". The name of the
// file is used as the name of the pin, or a random one when missing.
func (h Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limit+formAllowance)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError

		switch {
		case xerrors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large"):
			writeDetail(w, http.StatusRequestEntityTooLarge, "File too large")
		case xerrors.Is(err, http.ErrMissingFile) || xerrors.Is(err, http.ErrNotMultipart):
			writeDetail(w, http.StatusBadRequest, "No file uploaded")
		default:
			writeDetail(w, http.StatusBadRequest, "Invalid form: "+err.Error())
		}

		return
	}

	defer file.Close()

	if header.Size > h.limit {
		writeDetail(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	name := path.Base(header.Filename)
	if name == "." || name == "/" {
		name = uuid.New().String()
	}

	id, err := h.pinner.Pin(r.Context(), name, file)
	if err != nil {
		h.logger.Error().Err(err).
			Str("requestID", tracing.RequestID(r.Context())).
			Str("name", name).
			Msg("upload failed")

		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(UploadResponse{
		Success: true,
		CID:     id.String(),
		URL:     h.pinner.URL(id),
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
