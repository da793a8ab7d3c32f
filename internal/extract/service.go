// Package extract sequences the workbench workflows: loading and rendering
// sources, text extraction with optional image detection, the QAC pass and
// per-image enhancement.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/ocr-workbench/internal/canvas"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/history"
	"github.com/spherical/ocr-workbench/internal/llm"
	"github.com/spherical/ocr-workbench/internal/parse"
)

// Opener decodes an uploaded file into a document.
type Opener func(name, mediaType string, data []byte) (domain.Document, domain.FileType, error)

// Deps are the collaborators of a Service.
type Deps struct {
	Open        Opener
	Canvas      *canvas.Manager
	History     *history.Store
	Credentials domain.CredentialProvider
	AI          domain.AIService
	Retrier     *llm.Retrier
	Requests    *llm.Requests
	Parser      parse.Parser

	// Replies, when set, is purged on sign-out.
	Replies ReplyPurger
}

// ReplyPurger drops cached model replies.
type ReplyPurger interface {
	Purge(ctx context.Context) error
}

// Options tunes the workflows.
type Options struct {
	DetectImages bool
	CropWorkers  int
}

// Service is one workbench session. It owns the loaded document, the canvas
// and the extraction history.
type Service struct {
	mu         sync.Mutex
	doc        domain.Document
	fileName   string
	fileType   domain.FileType
	page       int
	generation uint64
	detect     bool
	progress   domain.Progress

	deps   Deps
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a session from its collaborators.
func NewService(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.CropWorkers <= 0 {
		opts.CropWorkers = 4
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		detect: opts.DetectImages,
		logger: logger.With().Str("component", "extract").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// LoadFile opens a new source and renders its first page at 100% zoom.
// The history is cleared only once the new file rendered successfully.
func (s *Service) LoadFile(ctx context.Context, name, mediaType string, data []byte) (domain.State, error) {
	doc, fileType, err := s.deps.Open(name, mediaType, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("failed to open file")
		return s.State(), err
	}

	zoom := s.deps.Canvas.Limits().Baseline()
	img, err := doc.RenderPage(ctx, 1, zoom)
	if err != nil {
		doc.Close()
		s.logger.Warn().Err(err).Str("file", name).Msg("failed to render first page")
		return s.State(), asRenderError(err)
	}

	s.mu.Lock()
	if _, err := s.deps.Canvas.Render(name, 1, zoom, img); err != nil {
		s.mu.Unlock()
		doc.Close()
		s.logger.Warn().Err(err).Str("file", name).Msg("failed to render first page")
		return s.State(), err
	}
	old := s.doc
	s.doc = doc
	s.fileName = name
	s.fileType = fileType
	s.page = 1
	s.generation++
	s.progress = domain.Progress{}
	s.mu.Unlock()

	if old != nil {
		if cerr := old.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("failed to close previous document")
		}
	}
	s.deps.History.Clear()

	s.logger.Info().
		Str("file", name).
		Str("type", string(fileType)).
		Int("pages", doc.PageCount()).
		Msg("file loaded")
	return s.State(), nil
}

// ChangePage renders another page of the loaded document at the current zoom.
func (s *Service) ChangePage(ctx context.Context, page int) (domain.State, error) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return s.State(), domain.PreconditionError("No file is loaded.")
	}
	if page < 1 || page > s.doc.PageCount() {
		total := s.doc.PageCount()
		s.mu.Unlock()
		return s.State(), domain.ValidationError(fmt.Sprintf("page %d out of range 1-%d", page, total), nil)
	}
	err := s.renderLocked(ctx, page, s.deps.Canvas.Zoom())
	s.mu.Unlock()

	return s.State(), err
}

// SetZoom re-renders the current page at zoom, snapped to the zoom step
// and clamped to the zoom bounds.
func (s *Service) SetZoom(ctx context.Context, zoom int) (domain.State, error) {
	zoom = s.deps.Canvas.Limits().Clamp(zoom)

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return s.State(), domain.PreconditionError("No file is loaded.")
	}
	err := s.renderLocked(ctx, s.page, zoom)
	s.mu.Unlock()

	return s.State(), err
}

// ZoomIn moves one zoom step up.
func (s *Service) ZoomIn(ctx context.Context) (domain.State, error) {
	limits := s.deps.Canvas.Limits()
	return s.SetZoom(ctx, limits.In(s.deps.Canvas.Zoom()))
}

// ZoomOut moves one zoom step down.
func (s *Service) ZoomOut(ctx context.Context) (domain.State, error) {
	limits := s.deps.Canvas.Limits()
	return s.SetZoom(ctx, limits.Out(s.deps.Canvas.Zoom()))
}

// renderLocked replaces the surface. Callers hold s.mu.
func (s *Service) renderLocked(ctx context.Context, page, zoom int) error {
	img, err := s.doc.RenderPage(ctx, page, zoom)
	if err != nil {
		return asRenderError(err)
	}
	if _, err := s.deps.Canvas.Render(s.fileName, page, zoom, img); err != nil {
		return err
	}
	s.page = page
	s.generation++
	return nil
}

// SetDetectImages toggles sub-image detection for later extractions.
func (s *Service) SetDetectImages(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detect = on
}

// BeginSelection starts a crop gesture.
func (s *Service) BeginSelection(p canvas.Point, view canvas.ViewSize) {
	s.deps.Canvas.BeginSelection(p, view)
}

// UpdateSelection moves the crop gesture.
func (s *Service) UpdateSelection(p canvas.Point, view canvas.ViewSize) {
	s.deps.Canvas.UpdateSelection(p, view)
}

// EndSelection finishes the gesture and applies the crop. A selection that
// is too small restores the full page instead.
func (s *Service) EndSelection() (*domain.CropRect, domain.SurfaceInfo, error) {
	rect := s.deps.Canvas.EndSelection()
	if rect == nil {
		s.deps.Canvas.RestoreOriginal()
		return nil, s.deps.Canvas.Info(), nil
	}
	info, err := s.deps.Canvas.ApplyCrop(*rect)
	return rect, info, err
}

// ApplyCrop crops the displayed raster. A zero-sized rect restores it.
func (s *Service) ApplyCrop(rect domain.CropRect) (domain.SurfaceInfo, error) {
	return s.deps.Canvas.ApplyCrop(rect)
}

// RestoreOriginal shows the full page again.
func (s *Service) RestoreOriginal() domain.SurfaceInfo {
	s.deps.Canvas.RestoreOriginal()
	return s.deps.Canvas.Info()
}

// Raster returns the displayed raster as PNG.
func (s *Service) Raster() ([]byte, error) {
	return s.deps.Canvas.DisplayedPNG()
}

// SelectExtraction makes a past extraction active. Unknown ids are ignored.
func (s *Service) SelectExtraction(id string) bool {
	return s.deps.History.SetActive(id)
}

// History returns all extractions, newest first.
func (s *Service) History() []domain.ExtractionRecord {
	return s.deps.History.List()
}

// Active returns the active extraction.
func (s *Service) Active() (domain.ExtractionRecord, bool) {
	return s.deps.History.Active()
}

// Progress returns the last progress report.
func (s *Service) Progress() domain.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SignOut ends the session. The credential is dropped, the loaded file,
// raster and history are released and cached replies are purged.
func (s *Service) SignOut(ctx context.Context) {
	s.deps.Credentials.Invalidate()

	s.mu.Lock()
	doc := s.doc
	s.doc = nil
	s.fileName = ""
	s.fileType = ""
	s.page = 0
	s.generation++
	s.progress = domain.Progress{}
	s.mu.Unlock()

	if doc != nil {
		doc.Close()
	}
	s.deps.Canvas.Reset()
	s.deps.History.Clear()
	if s.deps.Replies != nil {
		if err := s.deps.Replies.Purge(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("reply cache purge failed")
		}
	}
	s.logger.Info().Msg("signed out")
}

// Close releases the loaded document.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return nil
	}
	err := s.doc.Close()
	s.doc = nil
	return err
}

// State returns a snapshot for presentation.
func (s *Service) State() domain.State {
	s.mu.Lock()
	st := domain.State{
		FileName:    s.fileName,
		FileType:    s.fileType,
		CurrentPage: s.page,
	}
	if s.doc != nil {
		st.TotalPages = s.doc.PageCount()
	}
	s.mu.Unlock()

	st.Surface = s.deps.Canvas.Info()
	st.ActiveID = s.deps.History.ActiveID()
	st.HistoryLength = s.deps.History.Len()
	st.HasCredential = s.deps.Credentials.HasCredential()
	return st
}

// snapshot captures the source tag together with the displayed and original
// rasters. Renders hold s.mu, so the three always describe the same page.
func (s *Service) snapshot() (domain.SourceTag, *image.RGBA, *image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag := domain.SourceTag{FileName: s.fileName, PageNumber: s.page, Generation: s.generation}
	displayed, err := s.deps.Canvas.Displayed()
	if err != nil {
		return tag, nil, nil, err
	}
	original, err := s.deps.Canvas.Original()
	if err != nil {
		return tag, nil, nil, err
	}
	return tag, displayed, original, nil
}

// current reports whether t still describes the loaded page.
func (s *Service) current(t domain.SourceTag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == t.Generation
}

func (s *Service) setProgress(p domain.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

func (s *Service) fileTypeNow() domain.FileType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileType
}

func (s *Service) detectEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detect
}

// generate sends req through the retrier.
func (s *Service) generate(ctx context.Context, req domain.GenerateRequest, onStatus func(string)) (*domain.Reply, error) {
	var reply *domain.Reply
	err := s.deps.Retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = s.deps.AI.Generate(ctx, req)
		return err
	}, onStatus)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// cropImages cuts every box out of original and encodes the crops concurrently.
func (s *Service) cropImages(ctx context.Context, original *image.RGBA, boxes []domain.Box) ([]domain.DetectedImage, error) {
	out := make([]domain.DetectedImage, len(boxes))
	keep := make([]bool, len(boxes))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.CropWorkers)

	for i, box := range boxes {
		g.Go(func() error {
			_, crop, err := canvas.CropPercent(original, box)
			if err != nil {
				s.logger.Debug().Err(err).Interface("box", box).Msg("dropping detected region")
				return nil
			}
			b64, err := canvas.EncodeBase64(crop)
			if err != nil {
				return err
			}
			out[i] = domain.DetectedImage{
				ID:          s.newID(),
				X:           box.X,
				Y:           box.Y,
				Width:       box.Width,
				Height:      box.Height,
				Base64:      b64,
				Description: box.Description,
			}
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	images := make([]domain.DetectedImage, 0, len(boxes))
	for i := range out {
		if keep[i] {
			images = append(images, out[i])
		}
	}
	return images, nil
}

// classify makes sure nothing unclassified leaves a workflow.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.APIError("The request was cancelled", err)
	}
	return domain.APIError("The AI request failed", err)
}

func asRenderError(err error) error {
	if domain.IsType(err, domain.ErrorTypeRender) {
		return err
	}
	return domain.RenderError("Failed to render the page", err)
}
