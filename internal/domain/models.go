package domain

import (
	"time"
)

// FileType identifies the kind of source loaded into the workbench.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeImage FileType = "image"
)

// DefaultConfidence is used when the model omits a confidence score.
const DefaultConfidence = 90

// CropRect is a rectangle in raster pixel coordinates. A zero width or
// height means "no crop".
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsReset reports whether the rect is the "restore full surface" sentinel.
func (r CropRect) IsReset() bool {
	return r.Width == 0 || r.Height == 0
}

// Box is a bounding box expressed as percentages (0-100) of the original raster.
type Box struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Description string  `json:"description,omitempty"`
}

// Fix is a single correction inside a QAC result.
type Fix struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// DetectedImage is a non-text region of a page found during extraction.
type DetectedImage struct {
	ID              string  `json:"id"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Base64          string  `json:"base64"`
	EnhancedDataURL string  `json:"enhancedImageUrl,omitempty"`
	IsProcessing    bool    `json:"isProcessing"`
	Description     string  `json:"description,omitempty"`
	Colorize        bool    `json:"colorize"`
}

// ExtractionRecord is one entry of the extraction history.
type ExtractionRecord struct {
	ID             string          `json:"id"`
	Text           string          `json:"text"`
	Confidence     int             `json:"confidence"`
	FileName       string          `json:"fileName"`
	FileType       FileType        `json:"fileType"`
	PageNumber     int             `json:"pageNumber"`
	Timestamp      time.Time       `json:"timestamp"`
	QACText        string          `json:"qacText,omitempty"`
	QACFixes       []Fix           `json:"qacFixes,omitempty"`
	IsQACProcessed bool            `json:"isQACProcessed"`
	DetectedImages []DetectedImage `json:"detectedImages"`
}

// Clone returns a deep copy so callers can mutate it without touching stored state.
func (r ExtractionRecord) Clone() ExtractionRecord {
	out := r
	if r.QACFixes != nil {
		out.QACFixes = append([]Fix(nil), r.QACFixes...)
	}
	out.DetectedImages = append([]DetectedImage{}, r.DetectedImages...)
	return out
}

// Image returns the detected image with the given id.
func (r ExtractionRecord) Image(id string) (DetectedImage, bool) {
	for _, img := range r.DetectedImages {
		if img.ID == id {
			return img, true
		}
	}
	return DetectedImage{}, false
}

// OCRResult is the parsed reply of a text extraction request.
type OCRResult struct {
	Text       string `json:"text"`
	Confidence int    `json:"confidence"`
}

// QACResult is the parsed reply of a quality assurance/correction request.
type QACResult struct {
	CorrectedText string `json:"correctedText"`
	Fixes         []Fix  `json:"fixes"`
}

// SourceTag identifies the document context a request was dispatched for.
type SourceTag struct {
	FileName   string
	PageNumber int
	Generation uint64
}

// Progress is a coarse progress report emitted during a workflow.
type Progress struct {
	Stage     Stage     `json:"stage"`
	Percent   int       `json:"percent"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Stage names the workflow step a Progress belongs to.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageContacting Stage = "contacting"
	StageRetrying   Stage = "retrying"
	StageProcessing Stage = "processing"
	StageDetecting  Stage = "detecting"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// ProgressSink receives progress reports. It may be nil.
type ProgressSink func(Progress)

// SurfaceInfo describes the current raster for presentation.
type SurfaceInfo struct {
	Width          int `json:"width"`
	Height         int `json:"height"`
	OriginalWidth  int `json:"originalWidth"`
	OriginalHeight int `json:"originalHeight"`
	Zoom           int `json:"zoom"`
}

// State is a snapshot of the workbench exposed to presentation layers.
type State struct {
	FileName      string      `json:"fileName,omitempty"`
	FileType      FileType    `json:"fileType,omitempty"`
	CurrentPage   int         `json:"currentPage"`
	TotalPages    int         `json:"totalPages"`
	Surface       SurfaceInfo `json:"surface"`
	ActiveID      string      `json:"activeId,omitempty"`
	HistoryLength int         `json:"historyLength"`
	HasCredential bool        `json:"hasCredential"`
}
