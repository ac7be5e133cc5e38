package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/framearchive/database"
	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/media"
	"github.com/camden-git/framearchive/models"
	"github.com/camden-git/framearchive/repository"
	"github.com/camden-git/framearchive/services"
	"github.com/camden-git/framearchive/utils"
)

const multipartMemory = 32 << 20

type FrameHandler struct {
	Frames        repository.FrameRepositoryInterface
	Archive       *services.ArchiveService
	Ingest        *services.IngestService
	URLRoot       models.URLRoot
	ZipPrefix     string
	MaxUploadSize int64
}

type frameListResponse struct {
	Count   int64              `json:"count"`
	Results []models.FrameInfo `json:"results"`
}

func frameID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "frame_id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// setDownloadCookie marks the response for browser download helpers.
func setDownloadCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "fileDownload", Value: "true", Path: "/"})
}

func (h *FrameHandler) ListFrames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := database.ParseFrameFilter(q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	order, err := database.ParseSort(q.Get("sort"), q.Get("order"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page, err := database.ParsePage(q.Get("offset"), q.Get("limit"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	frames, total, err := h.Frames.List(r.Context(), filter, order, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	results := make([]models.FrameInfo, 0, len(frames))
	for i := range frames {
		results = append(results, frames[i].Info(h.URLRoot))
	}
	writeJSON(w, http.StatusOK, frameListResponse{Count: total, Results: results})
}

func (h *FrameHandler) AggregateFrames(w http.ResponseWriter, r *http.Request) {
	filter, err := database.ParseFrameFilter(r.URL.Query())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	facets, err := h.Frames.Aggregate(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, facets)
}

func (h *FrameHandler) GetFrame(w http.ResponseWriter, r *http.Request) {
	id, err := frameID(r)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	frame, err := h.Archive.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, frame.Info(h.URLRoot))
}

func (h *FrameHandler) DownloadFrame(w http.ResponseWriter, r *http.Request) {
	id, err := frameID(r)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	frame, f, info, err := h.Archive.Open(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	filename := media.FrameFilename(frame.Basename)
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	setDownloadCookie(w)
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func (h *FrameHandler) RelatedFrames(w http.ResponseWriter, r *http.Request) {
	id, err := frameID(r)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	frame, err := h.Archive.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	related := make([]models.FrameInfo, 0, len(frame.Related))
	for _, rel := range frame.Related {
		related = append(related, rel.Info(h.URLRoot))
	}
	writeJSON(w, http.StatusOK, related)
}

func (h *FrameHandler) FrameHeaders(w http.ResponseWriter, r *http.Request) {
	id, err := frameID(r)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	headers, err := h.Archive.Headers(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": headers})
}

func (h *FrameHandler) FrameCatalog(w http.ResponseWriter, r *http.Request) {
	id, err := frameID(r)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	var buf bytes.Buffer
	if err := h.Archive.WriteCatalog(r.Context(), id, &buf); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/comma-separated-values")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// CreateFrames ingests every file part of a multipart upload in request order.
// per-file failures are reported in the body, the status stays 200.
func (h *FrameHandler) CreateFrames(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteAPIError(w, http.StatusRequestEntityTooLarge, "upload_too_large", fmt.Sprintf("Upload exceeds %d bytes.", tooLarge.Limit))
			return
		}
		WriteAPIError(w, http.StatusBadRequest, "invalid_upload", "Expected a multipart/form-data upload.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	keys := make([]string, 0, len(r.MultipartForm.File))
	for key := range r.MultipartForm.File {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var uploads []services.Upload
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, key := range keys {
		for _, fh := range r.MultipartForm.File[key] {
			f, err := fh.Open()
			if err != nil {
				logging.Ctx(r.Context()).Error().Err(err).Str("file", fh.Filename).Msg("failed to open uploaded file")
				continue
			}
			opened = append(opened, f)
			uploads = append(uploads, services.Upload{Name: fh.Filename, Data: f})
		}
	}

	writeJSON(w, http.StatusOK, h.Ingest.IngestBatch(r.Context(), uploads))
}

// zipFrameIDs reads ids from frame_ids[] or frame_ids form values.
func zipFrameIDs(r *http.Request) ([]uint, error) {
	var values []string
	values = append(values, r.Form["frame_ids[]"]...)
	values = append(values, r.Form["frame_ids"]...)

	ids := make([]uint, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frame id %q", v)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func (h *FrameHandler) ZipFrames(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", "Could not parse form.")
		return
	}
	ids, err := zipFrameIDs(r)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}

	entries, err := h.Archive.ZipEntries(r.Context(), ids)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	name := utils.ArchiveName(h.ZipPrefix, time.Now())
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", name))
	setDownloadCookie(w)
	w.WriteHeader(http.StatusOK)

	written, err := utils.WriteFrameZip(w, name, entries)
	if err != nil {
		// headers are gone, the client sees a truncated archive
		logging.Ctx(r.Context()).Error().Err(err).Int("written", written).Msg("zip stream aborted")
		return
	}
	logging.Ctx(r.Context()).Info().Int("files", written).Str("archive", name).Msg("streamed zip archive")
}

func (h *FrameHandler) DeleteFrame(w http.ResponseWriter, r *http.Request) {
	id, err := frameID(r)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	if err := h.Archive.DeleteFrame(r.Context(), id, "api"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
