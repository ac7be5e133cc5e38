package services_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/framearchive/database/dbtest"
	"github.com/camden-git/framearchive/fitsutil"
	"github.com/camden-git/framearchive/fitsutil/fitstest"
	"github.com/camden-git/framearchive/media"
	"github.com/camden-git/framearchive/models"
	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/repository"
	"github.com/camden-git/framearchive/services"
	"github.com/camden-git/framearchive/utils"
)

// copyCompressor returns its input unchanged.
type copyCompressor struct{}

func (copyCompressor) Compress(_ context.Context, data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

type failingCompressor struct{}

func (failingCompressor) Compress(context.Context, []byte) ([]byte, error) {
	return nil, media.ErrCompressor.New("exit status 3")
}

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Broadcast(e realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	repo    *repository.FrameRepository
	store   *media.ArchiveStore
	ingest  *services.IngestService
	archive *services.ArchiveService
	events  *recorder
}

func newEnv(t *testing.T, compressor media.Compressor, pathFormat, filenameFormat string) *env {
	t.Helper()
	store, err := media.NewArchiveStore(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewFrameRepository(dbtest.Open(t))
	events := &recorder{}
	return &env{
		repo:    repo,
		store:   store,
		events:  events,
		ingest:  services.NewIngestService(repo, store, compressor, utils.NewFilenameFormatter(pathFormat, nil), utils.NewFilenameFormatter(filenameFormat, nil), events),
		archive: services.NewArchiveService(repo, store, events),
	}
}

func scienceCards(extra ...fitsutil.Card) []fitsutil.Card {
	cards := []fitsutil.Card{
		{Key: "SITEID", Value: "OBS"},
		{Key: "TELID", Value: "T1"},
		{Key: "INSTRUME", Value: "CAM"},
		{Key: "IMAGETYP", Value: "object"},
		{Key: "DATE-OBS", Value: "2024-03-05T22:10:05.250"},
		{Key: "DAY-OBS", Value: "2024-03-05"},
		{Key: "EXPTIME", Value: 30.0},
		{Key: "XBINNING", Value: 2},
		{Key: "YBINNING", Value: 2},
		{Key: "FILTER", Value: "V"},
		{Key: "OBJECT", Value: "M42"},
		{Key: "TEL-RA", Value: 83.8},
		{Key: "TEL-DEC", Value: -5.4},
	}
	for _, c := range extra {
		replaced := false
		for i := range cards {
			if cards[i].Key == c.Key {
				cards[i] = c
				replaced = true
			}
		}
		if !replaced {
			cards = append(cards, c)
		}
	}
	return cards
}

func upload(extra ...fitsutil.Card) []byte {
	return fitstest.New().
		Image("SCI", 4, 3, scienceCards(extra...)...).
		Table("CAT", fitstest.Column{Name: "x", Values: []float64{1, 2}}).
		Bytes()
}

func uploadWithout(keys ...string) []byte {
	var cards []fitsutil.Card
	for _, c := range scienceCards() {
		if !slices.Contains(keys, c.Key) {
			cards = append(cards, c)
		}
	}
	return fitstest.New().Image("SCI", 4, 3, cards...).Bytes()
}

func TestIngestStoresFrame(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/{DAY-OBS}/", "")
	ctx := context.Background()

	name, err := e.ingest.Ingest(ctx, bytes.NewReader(upload()), "obs-20240305-0001.fits")
	require.NoError(t, err)
	assert.Equal(t, "obs-20240305-0001", name)

	frame, err := e.repo.FindByBasename(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "OBS/2024-03-05/", frame.Path)
	assert.Equal(t, "2024-03-05", frame.Night)
	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 3, frame.Height)
	assert.Equal(t, "2x2", frame.Binning())
	assert.Equal(t, 30.0, frame.ExpTime)
	require.NotNil(t, frame.FilterName)
	assert.Equal(t, "V", *frame.FilterName)
	require.NotNil(t, frame.VecX)

	ok, err := e.store.Exists(services.FilePath(frame))
	require.NoError(t, err)
	assert.True(t, ok)

	// the stored copy carries the canonical name
	headers, err := e.archive.Headers(ctx, frame.ID)
	require.NoError(t, err)
	values := map[string]any{}
	for _, h := range headers {
		values[h.Key] = h.Value
	}
	assert.Equal(t, name, values["FNAME"])
	for i := 1; i < len(headers); i++ {
		assert.LessOrEqual(t, headers[i-1].Key, headers[i].Key)
	}

	assert.Contains(t, e.events.types(), realtime.EventFrameIngested)
}

func TestIngestTwiceUpdatesSameRecord(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/{DAY-OBS}/", "")
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload()), "frame-a.fits")
	require.NoError(t, err)
	_, err = e.ingest.Ingest(ctx, bytes.NewReader(upload(fitsutil.Card{Key: "EXPTIME", Value: 60.0})), "frame-a.fits")
	require.NoError(t, err)

	frames, total, err := e.repo.List(ctx, emptyFilter(), defaultSort(), defaultPage())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, frames, 1)
	assert.Equal(t, 60.0, frames[0].ExpTime)
}

func TestIngestTwiceClearsMissingFields(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/{DAY-OBS}/", "")
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload(fitsutil.Card{Key: "REQNUM", Value: "42"})), "frame-a.fits")
	require.NoError(t, err)
	first, err := e.repo.FindByBasename(ctx, "frame-a")
	require.NoError(t, err)
	require.NotNil(t, first.VecX)
	require.NotNil(t, first.RequestNumber)

	_, err = e.ingest.Ingest(ctx, bytes.NewReader(uploadWithout("TEL-RA", "TEL-DEC", "OBJECT", "FILTER", "XBINNING", "YBINNING")), "frame-a.fits")
	require.NoError(t, err)

	second, err := e.repo.FindByBasename(ctx, "frame-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Nil(t, second.RaDeg)
	assert.Nil(t, second.DecDeg)
	assert.Nil(t, second.VecX)
	assert.Nil(t, second.VecY)
	assert.Nil(t, second.VecZ)
	assert.Nil(t, second.ObjectName)
	assert.Nil(t, second.FilterName)
	assert.Nil(t, second.RequestNumber)
	assert.Equal(t, "1x1", second.Binning())

	frames, _, err := e.repo.List(ctx, emptyFilter(), defaultSort(), defaultPage())
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestIngestRejectsEscapingPath(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload(fitsutil.Card{Key: "SITEID", Value: "../.."})), "frame-a.fits")
	require.Error(t, err)
	assert.True(t, services.ErrMalformed.Has(err))

	_, err = e.repo.FindByBasename(ctx, "frame-a")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIngestFilenameTemplate(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "{SITEID|lower}{TELID|lower}-{DATE-OBS|date}-{FILTER}")
	name, err := e.ingest.Ingest(context.Background(), bytes.NewReader(upload()), "whatever.fits")
	require.NoError(t, err)
	assert.Equal(t, "obst1-2024-03-05-V", name)
}

func TestIngestFallsBackToFNAME(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	name, err := e.ingest.Ingest(context.Background(), bytes.NewReader(upload(fitsutil.Card{Key: "FNAME", Value: "from-header.fits"})), "")
	require.NoError(t, err)
	assert.Equal(t, "from-header", name)
}

func TestIngestWithoutPathFormatter(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "", "")
	_, err := e.ingest.Ingest(context.Background(), bytes.NewReader(upload()), "frame.fits")
	require.Error(t, err)
	assert.True(t, services.ErrConfig.Has(err))
}

func TestIngestMissingKeyword(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/{PROPID}/", "")
	_, err := e.ingest.Ingest(context.Background(), bytes.NewReader(upload()), "frame.fits")
	require.Error(t, err)
	assert.True(t, services.ErrMalformed.Has(err))
	assert.Contains(t, e.events.types(), realtime.EventIngestFailed)
}

func TestIngestRejectsNonFITS(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	_, err := e.ingest.Ingest(context.Background(), strings.NewReader("plain text"), "frame.fits")
	require.Error(t, err)
	assert.True(t, services.ErrMalformed.Has(err))
}

func TestIngestCompressorFailureLeavesNoFile(t *testing.T) {
	e := newEnv(t, failingCompressor{}, "{SITEID}/", "")
	_, err := e.ingest.Ingest(context.Background(), bytes.NewReader(upload()), "frame.fits")
	require.Error(t, err)
	assert.True(t, services.ErrCompress.Has(err))

	ok, err := e.store.Exists(media.FramePath("OBS/", "frame"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngestLinksRelatedFrames(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload(fitsutil.Card{Key: "IMAGETYP", Value: "bias"})), "bias-0001.fits")
	require.NoError(t, err)

	name, err := e.ingest.Ingest(ctx, bytes.NewReader(upload(
		fitsutil.Card{Key: "RLEVEL", Value: 1},
		fitsutil.Card{Key: "L1BIAS", Value: "bias-0001"},
		fitsutil.Card{Key: "L1DARK", Value: "dark-missing"},
	)), "sci-0001.fits")
	require.NoError(t, err)

	frame, err := e.repo.FindByBasename(ctx, name)
	require.NoError(t, err)
	full, err := e.archive.Get(ctx, frame.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, full.ReductionLevel)
	require.Len(t, full.Related, 1)
	assert.Equal(t, "bias-0001", full.Related[0].Basename)
}

func TestIngestBatchCollectsErrors(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	noDate := fitstest.New().Image("SCI", 2, 2, fitsutil.Card{Key: "SITEID", Value: "OBS"}).Bytes()

	result := e.ingest.IngestBatch(context.Background(), []services.Upload{
		{Name: "a.fits", Data: bytes.NewReader(upload())},
		{Name: "broken.fits", Data: bytes.NewReader(noDate)},
		{Name: "b.fits", Data: bytes.NewReader(upload())},
		{Name: "broken2.fits", Data: bytes.NewReader(noDate)},
	})

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, []string{"a", "b"}, result.Filenames)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "DATE-OBS")
}

func TestCatalogAndZipEntries(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload()), "frame.fits")
	require.NoError(t, err)
	frame, err := e.repo.FindByBasename(ctx, "frame")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.archive.WriteCatalog(ctx, frame.ID, &buf))
	assert.Equal(t, "x\n1\n2\n", buf.String())

	entries, err := e.archive.ZipEntries(ctx, []uint{frame.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "frame.fits.fz", entries[0].Name)
	assert.FileExists(t, entries[0].Path)

	_, err = e.archive.ZipEntries(ctx, []uint{frame.ID, 999})
	assert.True(t, services.ErrNotFound.Has(err))
}

func TestCatalogWithoutTable(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()
	data := fitstest.New().Image("SCI", 2, 2, scienceCards()...).Bytes()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(data), "nocat.fits")
	require.NoError(t, err)
	frame, err := e.repo.FindByBasename(ctx, "nocat")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.archive.WriteCatalog(ctx, frame.ID, &buf))
	assert.Empty(t, buf.String())
}

func TestOpenMissingFile(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()
	frame := &models.Frame{Basename: "ghost", Path: "OBS/", Night: "2024-03-05", XBinning: 1, YBinning: 1}
	require.NoError(t, e.repo.Save(ctx, frame))

	_, _, _, err := e.archive.Open(ctx, frame.ID)
	assert.True(t, services.ErrNotFound.Has(err))

	_, err = e.archive.Get(ctx, 12345)
	assert.True(t, services.ErrNotFound.Has(err))
}

func TestDeleteFrame(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload()), "gone.fits")
	require.NoError(t, err)
	frame, err := e.repo.FindByBasename(ctx, "gone")
	require.NoError(t, err)
	full, err := e.store.GetFullPath(services.FilePath(frame))
	require.NoError(t, err)

	require.NoError(t, e.archive.DeleteFrame(ctx, frame.ID, "api"))
	_, err = os.Stat(full)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = e.archive.Get(ctx, frame.ID)
	assert.True(t, services.ErrNotFound.Has(err))
	assert.Contains(t, e.events.types(), realtime.EventFrameDeleted)

	err = e.archive.DeleteFrame(ctx, frame.ID, "api")
	assert.True(t, services.ErrNotFound.Has(err))
}

func TestDeleteByBasenames(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()
	for _, n := range []string{"one.fits", "two.fits"} {
		_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload()), n)
		require.NoError(t, err)
	}

	deleted, missing, err := e.archive.DeleteByBasenames(ctx, []string{"one", "nope", "two"}, "cli")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, deleted)
	assert.Equal(t, []string{"nope"}, missing)
}

func TestIntegrityCheck(t *testing.T) {
	e := newEnv(t, copyCompressor{}, "{SITEID}/", "")
	ctx := context.Background()
	for _, n := range []string{"keep.fits", "lost.fits"} {
		_, err := e.ingest.Ingest(ctx, bytes.NewReader(upload()), n)
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(filepath.Join(e.store.Root(), "OBS", "lost.fits.fz")))

	integrity := services.NewIntegrityService(e.repo, e.archive, e.events)

	var calls int
	report, err := integrity.Check(ctx, true, func(services.Progress) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, []string{"OBS/lost.fits.fz"}, report.Files)
	assert.Equal(t, 1, calls)

	_, err = e.repo.FindByBasename(ctx, "lost")
	require.NoError(t, err, "dry run keeps the record")

	report, err = integrity.Check(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	_, err = e.repo.FindByBasename(ctx, "lost")
	assert.Error(t, err)
	_, err = e.repo.FindByBasename(ctx, "keep")
	assert.NoError(t, err)
}

func TestParseAuthorization(t *testing.T) {
	token, ok, err := services.ParseAuthorization("Token abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok, err = services.ParseAuthorization("bearer xyz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "xyz", token)

	_, ok, err = services.ParseAuthorization("Basic dXNlcg==")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = services.ParseAuthorization("Token")
	assert.True(t, ok)
	assert.True(t, services.ErrUnauthorized.Has(err))

	_, _, err = services.ParseAuthorization("Token a b")
	assert.True(t, services.ErrUnauthorized.Has(err))
}

func TestTokenIntrospector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Token staff":
			w.Write([]byte(`{"username":"alice","is_staff":true}`))
		case "Token user":
			w.Write([]byte(`{"username":"bob"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Invalid token."}`))
		}
	}))
	defer srv.Close()

	auth := services.NewTokenIntrospector(srv.URL, srv.Client())
	ctx := context.Background()

	p, err := auth.Lookup(ctx, "staff")
	require.NoError(t, err)
	assert.Equal(t, &services.Profile{Username: "alice", IsStaff: true}, p)

	p, err = auth.Lookup(ctx, "user")
	require.NoError(t, err)
	assert.False(t, p.IsStaff)

	for i := 0; i < 10; i++ {
		_, err = auth.Lookup(ctx, "bad")
		assert.True(t, services.ErrUnauthorized.Has(err), "rejections never open the breaker")
	}
}

func TestTokenIntrospectorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	auth := services.NewTokenIntrospector(srv.URL, srv.Client())
	for i := 0; i < 6; i++ {
		_, err := auth.Lookup(context.Background(), "t")
		assert.True(t, services.ErrAuthUnavailable.Has(err))
	}
}
