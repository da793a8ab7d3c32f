package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/ocr-workbench/internal/canvas"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/pdf"
)

type pageRequest struct {
	Page int `json:"page"`
}

type zoomRequest struct {
	Zoom      int    `json:"zoom,omitempty"`
	Direction string `json:"direction,omitempty"`
}

type pointRequest struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ViewWidth  float64 `json:"viewWidth"`
	ViewHeight float64 `json:"viewHeight"`
}

func (p pointRequest) point() (canvas.Point, canvas.ViewSize) {
	return canvas.Point{X: p.X, Y: p.Y}, canvas.ViewSize{Width: p.ViewWidth, Height: p.ViewHeight}
}

type extractRequest struct {
	DetectImages *bool `json:"detectImages,omitempty"`
}

type colorizeRequest struct {
	Colorize bool `json:"colorize"`
}

type credentialRequest struct {
	APIKey string `json:"apiKey"`
}

type selectionResponse struct {
	Rect    *domain.CropRect   `json:"rect"`
	Surface domain.SurfaceInfo `json:"surface"`
}

type historyResponse struct {
	Records  []domain.ExtractionRecord `json:"records"`
	ActiveID string                    `json:"activeId,omitempty"`
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.State())
}

func (s *Server) setCredential(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, domain.PreconditionError("The API key is managed by the host."))
		return
	}
	var req credentialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeError(w, domain.ValidationError("apiKey is required", nil))
		return
	}
	s.keys.Set(req.APIKey)
	writeJSON(w, http.StatusOK, s.svc.State())
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	s.svc.SignOut(r.Context())
	writeJSON(w, http.StatusOK, s.svc.State())
}

// loadFile accepts a multipart upload in the "file" field.
func (s *Server) loadFile(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.ValidationError("a file upload is required", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, domain.ValidationError("failed to read upload", err))
		return
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = pdf.DetectMediaType(header.Filename, data)
	}

	st, err := s.svc.LoadFile(r.Context(), header.Filename, mediaType, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) changePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := s.svc.ChangePage(r.Context(), req.Page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) setZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		st  domain.State
		err error
	)
	switch req.Direction {
	case "in":
		st, err = s.svc.ZoomIn(r.Context())
	case "out":
		st, err = s.svc.ZoomOut(r.Context())
	case "":
		st, err = s.svc.SetZoom(r.Context(), req.Zoom)
	default:
		err = domain.ValidationError("direction must be in or out", nil)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) raster(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.Raster()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) beginSelection(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.svc.BeginSelection(req.point())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateSelection(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.svc.UpdateSelection(req.point())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) endSelection(w http.ResponseWriter, r *http.Request) {
	rect, info, err := s.svc.EndSelection()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Rect: rect, Surface: info})
}

func (s *Server) crop(w http.ResponseWriter, r *http.Request) {
	var rect domain.CropRect
	if !decodeBody(w, r, &rect) {
		return
	}
	info, err := s.svc.ApplyCrop(rect)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.RestoreOriginal())
}

func (s *Server) extractText(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.DetectImages != nil {
		s.svc.SetDetectImages(*req.DetectImages)
	}

	rec, err := s.svc.ExtractText(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) runQAC(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.RunQAC(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Progress())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, historyResponse{
		Records:  s.svc.History(),
		ActiveID: s.svc.State().ActiveID,
	})
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.svc.SelectExtraction(id) {
		writeNotFound(w, "extraction not found")
		return
	}
	rec, _ := s.svc.Active()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) enhance(w http.ResponseWriter, r *http.Request) {
	img, err := s.svc.EnhanceImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (s *Server) rawImage(w http.ResponseWriter, r *http.Request) {
	url, ok := s.svc.ReadImage(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "image not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dataUrl": url})
}

func (s *Server) colorize(w http.ResponseWriter, r *http.Request) {
	var req colorizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if !s.svc.SetColorize(id, req.Colorize) {
		writeNotFound(w, "image not found")
		return
	}
	rec, _ := s.svc.Active()
	img, _ := rec.Image(id)
	writeJSON(w, http.StatusOK, img)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, domain.ValidationError("invalid request body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Detail   string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	t := domain.Classify(err)
	resp := errorResponse{
		Error:    string(t),
		Message:  domain.UserMessage(err),
		Category: string(domain.CategoryOf(err)),
	}
	var de *domain.DomainError
	if errors.As(err, &de) && t == domain.ErrorTypeValidation && de.Err != nil {
		resp.Detail = de.Err.Error()
	}
	writeJSON(w, statusFor(t), resp)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusNotFound, errorResponse{
		Error:    "not_found",
		Message:  message,
		Category: string(domain.CategoryInfo),
	})
}

func statusFor(t domain.ErrorType) int {
	switch t {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeCredential:
		return http.StatusUnauthorized
	case domain.ErrorTypePrecondition, domain.ErrorTypeStale:
		return http.StatusConflict
	case domain.ErrorTypeRender:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypeTransient:
		return http.StatusServiceUnavailable
	case domain.ErrorTypeConfig, domain.ErrorTypeIO:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
