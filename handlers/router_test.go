package handlers_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/framearchive/database/dbtest"
	"github.com/camden-git/framearchive/fitsutil"
	"github.com/camden-git/framearchive/fitsutil/fitstest"
	"github.com/camden-git/framearchive/handlers"
	"github.com/camden-git/framearchive/media"
	"github.com/camden-git/framearchive/models"
	"github.com/camden-git/framearchive/repository"
	"github.com/camden-git/framearchive/services"
	"github.com/camden-git/framearchive/utils"
)

type copyCompressor struct{}

func (copyCompressor) Compress(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
}

// tokenAuth knows two tokens: "staff" and "user".
type tokenAuth struct{}

func (tokenAuth) Lookup(_ context.Context, token string) (*services.Profile, error) {
	switch token {
	case "staff":
		return &services.Profile{Username: "alice", IsStaff: true}, nil
	case "user":
		return &services.Profile{Username: "bob"}, nil
	}
	return nil, services.ErrUnauthorized.New("invalid token")
}

type server struct {
	handler http.Handler
	ingest  *services.IngestService
	repo    *repository.FrameRepository
}

func newServer(t *testing.T) *server {
	t.Helper()
	store, err := media.NewArchiveStore(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewFrameRepository(dbtest.Open(t))
	ingest := services.NewIngestService(repo, store, copyCompressor{}, utils.NewFilenameFormatter("{SITEID}/{DAY-OBS}/", nil), nil, nil)

	fh := &handlers.FrameHandler{
		Frames:        repo,
		Archive:       services.NewArchiveService(repo, store, nil),
		Ingest:        ingest,
		URLRoot:       models.URLRoot{HTTPRoot: "https://archive.example.org/", RootURL: "/api/"},
		ZipPrefix:     "framedata",
		MaxUploadSize: 10 << 20,
	}
	return &server{
		handler: handlers.NewRouter(handlers.RouterConfig{Frames: fh, Auth: tokenAuth{}, UploadRateLimit: 100}),
		ingest:  ingest,
		repo:    repo,
	}
}

func frameFile(imageType, filter string) []byte {
	return fitstest.New().
		Image("SCI", 4, 4,
			fitsutil.Card{Key: "SITEID", Value: "OBS"},
			fitsutil.Card{Key: "TELID", Value: "T1"},
			fitsutil.Card{Key: "INSTRUME", Value: "CAM"},
			fitsutil.Card{Key: "IMAGETYP", Value: imageType},
			fitsutil.Card{Key: "FILTER", Value: filter},
			fitsutil.Card{Key: "OBJECT", Value: "M42"},
			fitsutil.Card{Key: "DATE-OBS", Value: "2024-03-05T22:10:05"},
			fitsutil.Card{Key: "DAY-OBS", Value: "2024-03-05"},
			fitsutil.Card{Key: "EXPTIME", Value: 10.0},
		).
		Table("CAT", fitstest.Column{Name: "flux", Values: []float64{10.5}}).
		Bytes()
}

func (s *server) seed(t *testing.T, name, imageType string) uint {
	t.Helper()
	_, err := s.ingest.Ingest(context.Background(), bytes.NewReader(frameFile(imageType, "V")), name+".fits")
	require.NoError(t, err)
	f, err := s.repo.FindByBasename(context.Background(), name)
	require.NoError(t, err)
	return f.ID
}

func (s *server) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRequiresAuthentication(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/frames/", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token", rec.Header().Get("WWW-Authenticate"))

	rec = s.do(t, http.MethodGet, "/frames/", "nope", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp handlers.APIErrorResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "401", resp.Errors[0].Status)
}

func TestListFrames(t *testing.T) {
	s := newServer(t)
	s.seed(t, "obj-1", "object")
	s.seed(t, "bias-1", "bias")

	rec := s.do(t, http.MethodGet, "/frames/?IMAGETYPE=bias", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int                `json:"count"`
		Results []models.FrameInfo `json:"results"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Results, 1)
	info := resp.Results[0]
	assert.Equal(t, "bias-1", info.Basename)
	assert.Nil(t, info.Filter, "bias frames hide their filter")
	assert.Equal(t, "2024-03-05T22:10:05Z", info.DateObs)
	assert.Equal(t, "1x1", info.Binning)
	assert.Equal(t, "https://archive.example.org/api/frames/"+itoa(info.ID)+"/download/", info.URL)

	rec = s.do(t, http.MethodGet, "/frames/?sort=basename&order=desc&limit=1", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "obj-1", resp.Results[0].Basename)
}

func TestListFramesRejectsBadQuery(t *testing.T) {
	s := newServer(t)
	for _, q := range []string{"EXPTIME=abc", "limit=x", "sort=nonsense", "start=yesterday"} {
		rec := s.do(t, http.MethodGet, "/frames/?"+q, "user", nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAggregate(t *testing.T) {
	s := newServer(t)
	s.seed(t, "obj-1", "object")
	s.seed(t, "flat-1", "flat")

	rec := s.do(t, http.MethodGet, "/frames/aggregate/", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var facets models.FrameFacets
	decode(t, rec, &facets)
	assert.Equal(t, []string{"flat", "object"}, facets.ImageTypes)
	assert.Equal(t, []string{"OBS"}, facets.Sites)
	assert.Equal(t, []string{"1x1"}, facets.Binnings)
}

func TestFrameDetailEndpoints(t *testing.T) {
	s := newServer(t)
	id := s.seed(t, "obj-1", "object")
	base := "/frames/" + itoa(id) + "/"

	rec := s.do(t, http.MethodGet, base, "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.FrameInfo
	decode(t, rec, &info)
	assert.Equal(t, "obj-1", info.Basename)
	assert.Equal(t, []uint{}, info.RelatedFrames)

	rec = s.do(t, http.MethodGet, base+"download/", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/fits", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=obj-1.fits.fz", rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "fileDownload=true")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "SIMPLE  ="))

	rec = s.do(t, http.MethodGet, base+"headers/", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var headers struct {
		Results []services.HeaderEntry `json:"results"`
	}
	decode(t, rec, &headers)
	keys := map[string]any{}
	for _, h := range headers.Results {
		keys[h.Key] = h.Value
	}
	assert.Equal(t, "obj-1", keys["FNAME"])
	assert.Equal(t, "OBS", keys["SITEID"])

	rec = s.do(t, http.MethodGet, base+"catalog/", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/comma-separated-values", rec.Header().Get("Content-Type"))
	assert.Equal(t, "flux\n10.5\n", rec.Body.String())

	rec = s.do(t, http.MethodGet, base+"related/", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/frames/999/", "user", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile(name, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateFrames(t *testing.T) {
	s := newServer(t)
	body, ct := multipartBody(t, map[string][]byte{
		"a-0001.fits": frameFile("object", "V"),
		"b-0002.fits": frameFile("object", "R"),
		"junk.fits":   []byte("not a fits file"),
	})

	rec := s.do(t, http.MethodPost, "/frames/create/", "user", body, ct)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, ct = multipartBody(t, map[string][]byte{
		"a-0001.fits": frameFile("object", "V"),
		"b-0002.fits": frameFile("object", "R"),
		"junk.fits":   []byte("not a fits file"),
	})
	rec = s.do(t, http.MethodPost, "/frames/create/", "staff", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.BatchResult
	decode(t, rec, &result)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, []string{"a-0001", "b-0002"}, result.Filenames)
	assert.Len(t, result.Errors, 1)
}

func TestCreateFramesNotMultipart(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/frames/create/", "staff", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestZipFrames(t *testing.T) {
	s := newServer(t)
	a := s.seed(t, "obj-1", "object")
	b := s.seed(t, "obj-2", "object")

	form := url.Values{"frame_ids[]": {itoa(a)}, "frame_ids": {itoa(b)}}
	rec := s.do(t, http.MethodPost, "/frames/zip/", "user", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename=framedata-\d{8}\.zip$`, rec.Header().Get("Content-Disposition"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Regexp(t, `^framedata-\d{8}/obj-1\.fits\.fz$`, zr.File[0].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)

	form = url.Values{"frame_ids[]": {"12345"}}
	rec = s.do(t, http.MethodPost, "/frames/zip/", "user", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	form = url.Values{"frame_ids[]": {"abc"}}
	rec = s.do(t, http.MethodPost, "/frames/zip/", "user", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteFrame(t *testing.T) {
	s := newServer(t)
	id := s.seed(t, "obj-1", "object")
	target := "/frames/" + itoa(id) + "/"

	rec := s.do(t, http.MethodDelete, target, "user", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, target, "staff", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, target, "staff", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, target+"delete/", "staff", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissions(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/permissions/", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"frames.ingest"`)

	rec = s.do(t, http.MethodGet, "/permissions/me/", "user", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":"bob","is_staff":false,"permissions":["frames.read"]}`, rec.Body.String())
}

func TestAuthDisabled(t *testing.T) {
	store, err := media.NewArchiveStore(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewFrameRepository(dbtest.Open(t))
	h := handlers.NewRouter(handlers.RouterConfig{Frames: &handlers.FrameHandler{
		Frames:  repo,
		Archive: services.NewArchiveService(repo, store, nil),
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frames/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"results":[]}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodGet, "/frames/", "user", nil, "")
	rec := s.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive_api_requests_total")
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
