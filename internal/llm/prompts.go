package llm

import (
	"fmt"
	"strings"

	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/parse"
)

const ocrInstructions = `You are an expert OCR system. Extract ALL visible text from this image with maximum accuracy.

CRITICAL INSTRUCTIONS:
1. Extract EVERY piece of text, no matter how small.
2. Maintain exact formatting, spacing, and line breaks.
3. Support multiple languages.
4. Identify mathematical equations, formulas, and special characters.
5. Vector notation: recognize vector arrows above characters and represent them by placing a combining overline (U+0305) over EACH character of the vector.
6. Provide a confidence score for your extraction from 0-100.`

const qacInstructions = `You are an expert text and mathematical expression correction specialist. Analyze the following OCR-extracted text, using the provided image as the absolute source of truth.

CRITICAL INSTRUCTIONS:
1. Fix all spelling, grammar, and character recognition errors.
2. Ensure formatting (spacing, line breaks) perfectly matches the image.
3. Format ALL mathematical expressions for word-processor compatibility using proper Unicode symbols (superscripts x², subscripts H₂O, symbols ∫∑√π, and vectors with a combining overline U+0305 over EACH character).
4. List every change you make. If no changes are needed, return an empty list of fixes.

Original Text to Correct:
---
%s
---`

const detectInstructions = `You are a document layout analyst. Find every non-text visual element on this page: photographs, illustrations, diagrams, charts, graphs and figures. Ignore text blocks, tables of text, page decorations and logos smaller than a few percent of the page.

For each element give its bounding box as percentages (0-100) of the full page width and height: x and y of the top-left corner, then width and height. Add a short description.`

const enhanceInstructions = `You are an expert image restoration tool. Your task is to enhance the quality of this image for maximum clarity and readability, as if it were for high-accuracy OCR.

CRITICAL INSTRUCTIONS:
1. Enhance Quality: Improve sharpness, contrast, and resolution. Remove noise or compression artifacts.
2. Preserve Content ABSOLUTELY: DO NOT alter, add, or remove ANY existing text, numbers, symbols, lines, diagrams, or markings.
3. No Creative Changes: This is a technical restoration, not an artistic enhancement.`

const colorizeInstruction = `4. Apply Colorization: Colorize the image realistically, but this must NOT interfere with the legibility or accuracy of the content.`

const (
	structuredSuffix = "Return a JSON object that strictly adheres to the provided schema."

	ocrTemplate = `Respond using EXACTLY this template and nothing else:
TEXT:
<all extracted text>
---
CONFIDENCE: <integer 0-100>`

	qacTemplate = `Respond using EXACTLY this template and nothing else:
CORRECTED_TEXT:
<the fully corrected text>
---
FIXES:
<one fix per line as: original | corrected | type | description, or the single word None>`

	detectTemplate = `Respond using EXACTLY this template and nothing else:
COORDINATES:
<one element per line as: x, y, width, height, description, or the single word None>`
)

// Requests builds the model requests for each workflow in the configured
// response mode.
type Requests struct {
	mode        string
	ocrModel    string
	imageModel  string
	temperature float32
	maxTokens   int
}

// NewRequests creates a request builder from LLM configuration.
func NewRequests(cfg config.LLMConfig) *Requests {
	mode := strings.ToLower(cfg.ResponseMode)
	if mode == "" {
		mode = parse.ModeStructured
	}
	return &Requests{
		mode:        mode,
		ocrModel:    cfg.OCRModel,
		imageModel:  cfg.ImageModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Mode returns the response mode the prompts ask for.
func (b *Requests) Mode() string { return b.mode }

// OCR asks for all text in image.
func (b *Requests) OCR(image string) domain.GenerateRequest {
	return b.build(ocrInstructions, ocrTemplate, "ocr_result", parse.OCRSchema, image)
}

// QAC asks for a corrected version of text checked against the full-page image.
func (b *Requests) QAC(text, image string) domain.GenerateRequest {
	return b.build(fmt.Sprintf(qacInstructions, text), qacTemplate, "qac_result", parse.QACSchema, image)
}

// Detect asks for bounding boxes of the non-text elements in image.
func (b *Requests) Detect(image string) domain.GenerateRequest {
	return b.build(detectInstructions, detectTemplate, "detected_images", parse.DetectionSchema, image)
}

// Enhance asks the image model to restore image, optionally colorizing it.
func (b *Requests) Enhance(image string, colorize bool) domain.GenerateRequest {
	prompt := enhanceInstructions
	if colorize {
		prompt += "\n" + colorizeInstruction
	}
	prompt += "\nReturn ONLY the enhanced image."

	return domain.GenerateRequest{
		Model:     b.imageModel,
		Prompt:    prompt,
		Images:    []string{image},
		WantImage: true,
	}
}

func (b *Requests) build(instructions, template, schemaName string, schema map[string]any, image string) domain.GenerateRequest {
	req := domain.GenerateRequest{
		Model:       b.ocrModel,
		Images:      []string{image},
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	}
	if b.mode == parse.ModeDelimited {
		req.Prompt = instructions + "\n\n" + template
		return req
	}
	req.Prompt = instructions + "\n" + structuredSuffix
	req.Schema = schema
	req.SchemaName = schemaName
	return req
}
