package extract

import (
	"context"
	"errors"
	"image"

	"github.com/spherical/ocr-workbench/internal/canvas"
	"github.com/spherical/ocr-workbench/internal/domain"
)

var errNoImage = errors.New("reply carried no image")

// ExtractText runs OCR on the displayed raster and records the result as the
// new active extraction. When image detection is enabled the detected regions
// are cropped from the original full-page raster.
//
// The view is restored to the full page whether or not the extraction
// succeeds, unless another page was rendered in the meantime.
func (s *Service) ExtractText(ctx context.Context, sink domain.ProgressSink) (domain.ExtractionRecord, error) {
	tr := s.newTracker(sink)
	tr.report(domain.StagePreparing, 10, "Preparing image...")

	rec, err := s.extractText(ctx, tr)
	if err != nil {
		if !errors.Is(err, domain.ErrStaleResult) {
			err = classify(err)
		}
		tr.fail(err)
		return domain.ExtractionRecord{}, err
	}

	tr.report(domain.StageComplete, 100, "Extraction complete.")
	return rec, nil
}

func (s *Service) extractText(ctx context.Context, tr *tracker) (domain.ExtractionRecord, error) {
	if !s.deps.Canvas.HasSurface() {
		return domain.ExtractionRecord{}, domain.PreconditionError("Please load a file before extracting text.")
	}

	tag, displayed, original, err := s.snapshot()
	if err != nil {
		return domain.ExtractionRecord{}, err
	}
	defer func() {
		if s.current(tag) {
			s.deps.Canvas.RestoreOriginal()
		}
	}()

	payload, err := canvas.EncodeBase64(displayed)
	if err != nil {
		return domain.ExtractionRecord{}, err
	}

	tr.report(domain.StageContacting, 30, "Contacting AI service...")
	reply, err := s.generate(ctx, s.deps.Requests.OCR(payload), tr.retryStatus(30))
	if err != nil {
		return domain.ExtractionRecord{}, err
	}

	tr.report(domain.StageProcessing, 60, "Processing response...")
	ocr, err := s.deps.Parser.ParseOCR(reply)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", tag.FileName).Int("page", tag.PageNumber).Msg("failed to parse OCR reply")
		return domain.ExtractionRecord{}, err
	}

	images := []domain.DetectedImage{}
	if s.detectEnabled() {
		tr.report(domain.StageDetecting, 70, "Detecting images...")
		images, err = s.detectImages(ctx, original, tr)
		if err != nil {
			return domain.ExtractionRecord{}, err
		}
	}

	if !s.current(tag) {
		s.logger.Info().Str("file", tag.FileName).Int("page", tag.PageNumber).Msg("dropping stale OCR result")
		return domain.ExtractionRecord{}, domain.ErrStaleResult
	}

	rec := domain.ExtractionRecord{
		ID:             s.newID(),
		Text:           ocr.Text,
		Confidence:     ocr.Confidence,
		FileName:       tag.FileName,
		FileType:       s.fileTypeNow(),
		PageNumber:     tag.PageNumber,
		Timestamp:      s.now(),
		DetectedImages: images,
	}
	s.deps.History.Add(rec)

	s.logger.Info().
		Str("id", rec.ID).
		Str("file", rec.FileName).
		Int("page", rec.PageNumber).
		Int("confidence", rec.Confidence).
		Int("images", len(images)).
		Msg("extraction recorded")
	return rec.Clone(), nil
}

// detectImages asks for the regions of non-text content and crops them.
// Detection is best effort: a failed request or an unreadable reply yields
// no images instead of failing the extraction.
func (s *Service) detectImages(ctx context.Context, original *image.RGBA, tr *tracker) ([]domain.DetectedImage, error) {
	payload, err := canvas.EncodeBase64(original)
	if err != nil {
		return nil, err
	}

	reply, err := s.generate(ctx, s.deps.Requests.Detect(payload), tr.retryStatus(70))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("image detection failed, continuing without images")
		return []domain.DetectedImage{}, nil
	}

	boxes, err := s.deps.Parser.ParseDetection(reply)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unreadable detection reply, continuing without images")
		return []domain.DetectedImage{}, nil
	}

	tr.report(domain.StageDetecting, 85, "Cropping detected images...")
	return s.cropImages(ctx, original, boxes)
}

// RunQAC checks the active extraction against the full-page raster and
// stores the corrected text and fixes on the same record.
func (s *Service) RunQAC(ctx context.Context, sink domain.ProgressSink) (domain.ExtractionRecord, error) {
	tr := s.newTracker(sink)
	tr.report(domain.StagePreparing, 10, "Preparing QAC...")

	rec, err := s.runQAC(ctx, tr)
	if err != nil {
		if !errors.Is(err, domain.ErrStaleResult) {
			err = classify(err)
		}
		tr.fail(err)
		return domain.ExtractionRecord{}, err
	}

	tr.report(domain.StageComplete, 100, "QAC complete.")
	return rec, nil
}

func (s *Service) runQAC(ctx context.Context, tr *tracker) (domain.ExtractionRecord, error) {
	active, ok := s.deps.History.Active()
	if !ok {
		return domain.ExtractionRecord{}, domain.PreconditionError("Please extract text before running QAC.")
	}
	tag, _, original, err := s.snapshot()
	if err != nil {
		return domain.ExtractionRecord{}, domain.PreconditionError("The original page image is not available for QAC.")
	}

	payload, err := canvas.EncodeBase64(original)
	if err != nil {
		return domain.ExtractionRecord{}, err
	}

	tr.report(domain.StageContacting, 30, "Contacting AI service...")
	reply, err := s.generate(ctx, s.deps.Requests.QAC(active.Text, payload), tr.retryStatus(30))
	if err != nil {
		return domain.ExtractionRecord{}, err
	}

	tr.report(domain.StageProcessing, 70, "Applying corrections...")
	qac, err := s.deps.Parser.ParseQAC(reply, active.Text)
	if err != nil {
		s.logger.Warn().Err(err).Str("id", active.ID).Msg("failed to parse QAC reply")
		return domain.ExtractionRecord{}, err
	}

	if !s.current(tag) {
		s.logger.Info().Str("id", active.ID).Msg("dropping stale QAC result")
		return domain.ExtractionRecord{}, domain.ErrStaleResult
	}

	updated, ok := s.deps.History.Amend(active.ID, func(r domain.ExtractionRecord) domain.ExtractionRecord {
		r.QACText = qac.CorrectedText
		r.QACFixes = qac.Fixes
		r.IsQACProcessed = true
		return r
	})
	if !ok {
		return domain.ExtractionRecord{}, domain.ErrStaleResult
	}

	s.logger.Info().Str("id", updated.ID).Int("fixes", len(updated.QACFixes)).Msg("QAC applied")
	return updated, nil
}

// EnhanceImage sends one detected image of the active extraction to the
// image model. Only that image is touched: its processing flag is cleared
// whatever the outcome and a failure leaves its cropped payload in place.
func (s *Service) EnhanceImage(ctx context.Context, imageID string) (domain.DetectedImage, error) {
	active, ok := s.deps.History.Active()
	if !ok {
		return domain.DetectedImage{}, domain.PreconditionError("There is no active extraction.")
	}
	recID := active.ID

	var target domain.DetectedImage
	busy := false
	_, ok = s.deps.History.Amend(recID, func(r domain.ExtractionRecord) domain.ExtractionRecord {
		for i := range r.DetectedImages {
			if r.DetectedImages[i].ID != imageID {
				continue
			}
			if r.DetectedImages[i].IsProcessing {
				busy = true
				return r
			}
			r.DetectedImages[i].IsProcessing = true
			target = r.DetectedImages[i]
			return r
		}
		return r
	})
	switch {
	case !ok:
		return domain.DetectedImage{}, domain.PreconditionError("There is no active extraction.")
	case busy:
		return domain.DetectedImage{}, domain.PreconditionError("This image is already being processed.")
	case target.ID == "":
		return domain.DetectedImage{}, domain.PreconditionError("The image was not found in the active extraction.")
	}

	log := s.logger.With().Str("id", recID).Str("image", imageID).Bool("colorize", target.Colorize).Logger()
	log.Debug().Msg("enhancing image")

	reply, err := s.generate(ctx, s.deps.Requests.Enhance(target.Base64, target.Colorize), nil)
	if err == nil && (reply == nil || len(reply.Images) == 0 || reply.Images[0] == "") {
		err = errNoImage
	}
	if err != nil {
		s.updateImage(recID, imageID, func(img *domain.DetectedImage) {
			img.IsProcessing = false
		})
		log.Warn().Err(err).Msg("image enhancement failed")
		if errors.Is(err, errNoImage) {
			return domain.DetectedImage{}, domain.ImageActionError("Image enhancement failed to return an image.", nil)
		}
		return domain.DetectedImage{}, domain.ImageActionError("Image enhancement failed.", err)
	}

	var result domain.DetectedImage
	found := s.updateImage(recID, imageID, func(img *domain.DetectedImage) {
		img.IsProcessing = false
		img.EnhancedDataURL = reply.Images[0]
		result = *img
	})
	if !found {
		log.Info().Msg("dropping stale enhancement result")
		return domain.DetectedImage{}, domain.ErrStaleResult
	}

	log.Info().Msg("image enhanced")
	return result, nil
}

// ReadImage returns the cropped payload of a detected image of the active
// extraction as a PNG data URL.
func (s *Service) ReadImage(imageID string) (string, bool) {
	active, ok := s.deps.History.Active()
	if !ok {
		return "", false
	}
	img, ok := active.Image(imageID)
	if !ok {
		return "", false
	}
	return "data:image/png;base64," + img.Base64, true
}

// SetColorize sets the colorize flag used by the next enhancement of an image.
func (s *Service) SetColorize(imageID string, on bool) bool {
	active, ok := s.deps.History.Active()
	if !ok {
		return false
	}
	return s.updateImage(active.ID, imageID, func(img *domain.DetectedImage) {
		img.Colorize = on
	})
}

// updateImage mutates a single detected image through the history store.
func (s *Service) updateImage(recID, imageID string, fn func(*domain.DetectedImage)) bool {
	found := false
	s.deps.History.Amend(recID, func(r domain.ExtractionRecord) domain.ExtractionRecord {
		for i := range r.DetectedImages {
			if r.DetectedImages[i].ID == imageID {
				fn(&r.DetectedImages[i])
				found = true
				break
			}
		}
		return r
	})
	return found
}
