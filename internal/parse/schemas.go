package parse

// OCRSchema is the JSON Schema for text extraction replies.
var OCRSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{
			"type":        "string",
			"description": "All extracted text from the image, preserving original formatting.",
		},
		"confidence": map[string]any{
			"type":        "number",
			"minimum":     0,
			"maximum":     100,
			"description": "Your confidence in the extraction accuracy from 0 to 100.",
		},
	},
	"required": []any{"text"},
}

// QACSchema is the JSON Schema for correction replies.
var QACSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"correctedText": map[string]any{
			"type":        "string",
			"description": "The fully corrected text.",
		},
		"fixes": map[string]any{
			"type":        "array",
			"description": "A list of all corrections made.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"original":    map[string]any{"type": "string"},
					"corrected":   map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []any{"original", "corrected", "type", "description"},
			},
		},
	},
	"required": []any{"correctedText"},
}

// DetectionSchema is the JSON Schema for image detection replies.
// Coordinates are percentages of the page.
var DetectionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"images": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x":           map[string]any{"type": "number"},
					"y":           map[string]any{"type": "number"},
					"width":       map[string]any{"type": "number"},
					"height":      map[string]any{"type": "number"},
					"description": map[string]any{"type": "string"},
				},
				"required": []any{"x", "y", "width", "height"},
			},
		},
	},
	"required": []any{"images"},
}
