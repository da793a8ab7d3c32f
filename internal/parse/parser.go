// Package parse turns raw model replies into typed extraction results.
//
// Two grammars exist: schema-validated JSON (Structured) and a labelled
// text template (Delimited). The grammar is chosen by configuration and is
// never guessed from the reply.
package parse

import (
	"fmt"
	"strings"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Response modes.
const (
	ModeStructured = "structured"
	ModeDelimited  = "delimited"
)

// minBoxPercent is the smallest width or height a detected region may have.
const minBoxPercent = 5.0

// Parser decodes replies for the three request kinds.
type Parser interface {
	Mode() string
	ParseOCR(reply *domain.Reply) (domain.OCRResult, error)
	ParseQAC(reply *domain.Reply, originalText string) (domain.QACResult, error)
	ParseDetection(reply *domain.Reply) ([]domain.Box, error)
}

// NewParser returns the parser for mode.
func NewParser(mode string) (Parser, error) {
	switch strings.ToLower(mode) {
	case ModeStructured, "":
		return NewStructured()
	case ModeDelimited:
		return NewDelimited(), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown response mode %q", mode), nil)
	}
}

// requestKind names the request in empty-reply messages.
type requestKind string

const (
	kindOCR    requestKind = ""
	kindQAC    requestKind = "QAC "
	kindDetect requestKind = "image detection "
)

// replyText returns the reply text or the empty/safety error for it.
func replyText(reply *domain.Reply, kind requestKind) (string, error) {
	if reply == nil || strings.TrimSpace(reply.Text) == "" {
		if reply != nil && isSafetyFinish(reply.FinishReason) {
			return "", domain.SafetyBlockedError(fmt.Sprintf("The %srequest was blocked by the API's safety filters.", kind))
		}
		return "", domain.EmptyResponseError(fmt.Sprintf("The AI returned an empty %sresponse.", kind))
	}
	return reply.Text, nil
}

func isSafetyFinish(reason string) bool {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "safety", "content_filter", "prohibited_content", "blocklist", "spii":
		return true
	}
	return false
}

// normalizeConfidence applies the fallback for missing or zero scores and
// bounds the result to 0-100.
func normalizeConfidence(c float64) int {
	if c <= 0 {
		return domain.DefaultConfidence
	}
	if c > 100 {
		return 100
	}
	return int(c + 0.5)
}

// keepBox reports whether a detected region is a usable sub-image.
func keepBox(b domain.Box) bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if v < 0 || v > 100 {
			return false
		}
	}
	return b.Width > minBoxPercent && b.Height > minBoxPercent
}
