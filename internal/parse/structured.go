package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spherical/ocr-workbench/internal/domain"
)

const malformedMessage = "There was an issue processing the AI's response. Please try again."

var (
	openFence  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

// Structured parses JSON replies validated against the declared schemas.
type Structured struct {
	ocr    *jsonschema.Schema
	qac    *jsonschema.Schema
	detect *jsonschema.Schema
}

// NewStructured compiles the reply schemas.
func NewStructured() (*Structured, error) {
	ocr, err := compileSchema("ocr.json", OCRSchema)
	if err != nil {
		return nil, err
	}
	qac, err := compileSchema("qac.json", QACSchema)
	if err != nil {
		return nil, err
	}
	detect, err := compileSchema("detect.json", DetectionSchema)
	if err != nil {
		return nil, err
	}
	return &Structured{ocr: ocr, qac: qac, detect: detect}, nil
}

func (p *Structured) Mode() string { return ModeStructured }

type ocrPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ParseOCR decodes {text, confidence}.
func (p *Structured) ParseOCR(reply *domain.Reply) (domain.OCRResult, error) {
	raw, err := replyText(reply, kindOCR)
	if err != nil {
		return domain.OCRResult{}, err
	}

	var out ocrPayload
	if err := decode(p.ocr, raw, &out); err != nil {
		return domain.OCRResult{}, err
	}

	return domain.OCRResult{
		Text:       out.Text,
		Confidence: normalizeConfidence(out.Confidence),
	}, nil
}

// ParseQAC decodes {correctedText, fixes}. An empty correction falls back
// to originalText.
func (p *Structured) ParseQAC(reply *domain.Reply, originalText string) (domain.QACResult, error) {
	raw, err := replyText(reply, kindQAC)
	if err != nil {
		return domain.QACResult{}, err
	}

	var out domain.QACResult
	if err := decode(p.qac, raw, &out); err != nil {
		return domain.QACResult{}, err
	}

	if out.CorrectedText == "" {
		out.CorrectedText = originalText
	}
	if out.Fixes == nil {
		out.Fixes = []domain.Fix{}
	}
	return out, nil
}

type detectPayload struct {
	Images []domain.Box `json:"images"`
}

// ParseDetection decodes {images: [...]}, dropping regions too small to be images.
func (p *Structured) ParseDetection(reply *domain.Reply) ([]domain.Box, error) {
	raw, err := replyText(reply, kindDetect)
	if err != nil {
		return nil, err
	}

	var out detectPayload
	if err := decode(p.detect, raw, &out); err != nil {
		return nil, err
	}

	boxes := make([]domain.Box, 0, len(out.Images))
	for _, b := range out.Images {
		if keepBox(b) {
			boxes = append(boxes, b)
		}
	}
	return boxes, nil
}

// StripFences removes a surrounding markdown code fence.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = openFence.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// decode strips fences, validates against schema and unmarshals into dst.
func decode(schema *jsonschema.Schema, raw string, dst any) error {
	cleaned := StripFences(raw)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return domain.MalformedResponseError(malformedMessage, raw, err)
	}
	if err := schema.Validate(v); err != nil {
		return domain.MalformedResponseError(malformedMessage, raw, fmt.Errorf("json does not match schema: %w", err))
	}
	if err := json.Unmarshal([]byte(cleaned), dst); err != nil {
		return domain.MalformedResponseError(malformedMessage, raw, err)
	}
	return nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
