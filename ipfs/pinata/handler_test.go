package pinata

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/pemilu/internal/testing/fake"
)

func TestHandler_Upload(t *testing.T) {
	pinner := &fakePinner{}
	handler := NewHandler(pinner, 0)

	rec := httptest.NewRecorder()
	handler.Upload(rec, makeUpload(t, "alice.png", "image"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"cid":"`+testCID+`","url":"https://gw/ipfs/`+testCID+`"}`,
		rec.Body.String())
	require.Equal(t, "alice.png", pinner.name)
	require.Equal(t, "image", pinner.content)
}

func TestHandler_NoName_Upload(t *testing.T) {
	pinner := &fakePinner{}

	rec := httptest.NewRecorder()
	NewHandler(pinner, 0).Upload(rec, makeUpload(t, "/", "image"))

	require.Equal(t, http.StatusOK, rec.Code)

	_, err := uuid.Parse(pinner.name)
	require.NoError(t, err)
}

func TestHandler_LongName_Upload(t *testing.T) {
	pinner := &fakePinner{}
	handler := NewHandler(pinner, 1024)

	name := strings.Repeat("n", 4096) + ".png"

	rec := httptest.NewRecorder()
	handler.Upload(rec, makeUpload(t, name, strings.Repeat("a", 1024)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, name, pinner.name)
	require.Len(t, pinner.content, 1024)

	rec = httptest.NewRecorder()
	handler.Upload(rec, makeUpload(t, name, strings.Repeat("a", 1025)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.JSONEq(t, `{"detail":"File too large"}`, rec.Body.String())
}

func TestHandler_Failures_Upload(t *testing.T) {
	handler := NewHandler(&fakePinner{}, 4)

	rec := httptest.NewRecorder()
	handler.Upload(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"detail":"No file uploaded"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.Upload(rec, makeUpload(t, "big.png", strings.Repeat("a", 4096)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// The body itself is bounded.
	rec = httptest.NewRecorder()
	handler.Upload(rec, makeUpload(t, "big.png", strings.Repeat("a", formAllowance+64)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.JSONEq(t, `{"detail":"File too large"}`, rec.Body.String())

	handler = NewHandler(&fakePinner{err: fake.GetError()}, 0)

	rec = httptest.NewRecorder()
	handler.Upload(rec, makeUpload(t, "alice.png", "image"))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"detail":"fake error"}`, rec.Body.String())
}

// -----------------------------------------------------------------------------
// Utility functions

func makeUpload(t *testing.T, name, content string) *http.Request {
	body := new(bytes.Buffer)
	form := multipart.NewWriter(body)

	part, err := form.CreateFormFile("file", name)
	require.NoError(t, err)

	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", form.FormDataContentType())

	return req
}

type fakePinner struct {
	name    string
	content string
	err     error
}

func (p *fakePinner) Pin(ctx context.Context, name string, content io.Reader) (cid.Cid, error) {
	if p.err != nil {
		return cid.Undef, p.err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return cid.Undef, err
	}

	p.name = name
	p.content = string(data)

	return cid.Decode(testCID)
}

func (p *fakePinner) URL(id cid.Cid) string {
	return "https://gw/ipfs/" + id.String()
}
