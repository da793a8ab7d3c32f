package commands

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/observability"
)

// loadConfig reads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
}

// parseCrop parses "x,y,width,height" in raster pixels.
func parseCrop(s string) (domain.CropRect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.CropRect{}, fmt.Errorf("crop must be x,y,width,height: %q", s)
	}

	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return domain.CropRect{}, fmt.Errorf("crop value %q is not an integer", p)
		}
		if v < 0 {
			return domain.CropRect{}, fmt.Errorf("crop value %d is negative", v)
		}
		vals[i] = v
	}
	return domain.CropRect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

// defaultOutputPath derives "<input>-ocr.md" next to the working directory.
func defaultOutputPath(input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return base + "-ocr.md"
}

// writeOutput saves rec as JSON when path ends in .json and as markdown otherwise.
func writeOutput(path string, rec domain.ExtractionRecord) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var err error
		data, err = json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return domain.IOError("failed to encode record", err)
		}
	} else {
		data = []byte(renderMarkdown(rec))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.IOError(fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

func renderMarkdown(rec domain.ExtractionRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s, page %d\n\n", rec.FileName, rec.PageNumber)
	fmt.Fprintf(&sb, "Extracted %s, confidence %d%%.\n\n", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Confidence)

	text := rec.Text
	if rec.IsQACProcessed {
		text = rec.QACText
	}
	sb.WriteString(text)
	sb.WriteString("\n")

	if rec.IsQACProcessed && len(rec.QACFixes) > 0 {
		sb.WriteString("\n## Corrections\n\n")
		sb.WriteString("| Type | Original | Corrected | Description |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, f := range rec.QACFixes {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				cell(f.Type), cell(f.Original), cell(f.Corrected), cell(f.Description))
		}
	}

	if len(rec.DetectedImages) > 0 {
		sb.WriteString("\n## Images\n\n")
		for i, img := range rec.DetectedImages {
			desc := img.Description
			if desc == "" {
				desc = fmt.Sprintf("Image %d", i+1)
			}
			fmt.Fprintf(&sb, "- %s (x %.1f%%, y %.1f%%, %.1f%% x %.1f%%)\n", desc, img.X, img.Y, img.Width, img.Height)
		}
	}

	return sb.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// saveImages writes each detected image, enhanced when available, as PNG
// into dir and returns the written paths.
func saveImages(dir string, images []domain.DetectedImage) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.IOError("failed to create image directory", err)
	}

	paths := make([]string, 0, len(images))
	for i, img := range images {
		payload := img.Base64
		if img.EnhancedDataURL != "" {
			payload = img.EnhancedDataURL
			if idx := strings.Index(payload, ","); idx >= 0 {
				payload = payload[idx+1:]
			}
		}

		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return paths, domain.IOError(fmt.Sprintf("image %d has an invalid payload", i+1), err)
		}
		path := filepath.Join(dir, fmt.Sprintf("image-%02d.png", i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, domain.IOError(fmt.Sprintf("failed to write %s", path), err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
