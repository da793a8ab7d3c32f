package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/ocr-workbench/cmd/ocr-workbench/ui"
	"github.com/spherical/ocr-workbench/internal/credential"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/pdf"
	"github.com/spherical/ocr-workbench/pkg/workbench"
)

const enhanceWorkers = 3

var (
	extractPage      int
	extractZoom      int
	extractCrop      string
	extractQAC       bool
	extractDetect    bool
	extractEnhance   bool
	extractColorize  bool
	extractMode      string
	extractOutput    string
	extractImagesDir string
	extractPromptKey bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract text from a PDF page or image",
	Long: `Render one page of a PDF or an image, extract its text with the AI model
and print the result. Optionally run the QAC pass, detect embedded images
and enhance them.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.IntVarP(&extractPage, "page", "p", 1, "1-based page to extract")
	f.IntVarP(&extractZoom, "zoom", "z", 100, "render zoom in percent")
	f.StringVar(&extractCrop, "crop", "", "crop rectangle x,y,width,height in pixels at the chosen zoom")
	f.BoolVar(&extractQAC, "qac", false, "run the quality assurance and correction pass")
	f.BoolVar(&extractDetect, "detect-images", false, "detect embedded images")
	f.BoolVar(&extractEnhance, "enhance", false, "enhance every detected image (implies --detect-images)")
	f.BoolVar(&extractColorize, "colorize", false, "colorize enhanced images")
	f.StringVar(&extractMode, "mode", "", "response mode: structured or delimited")
	f.StringVarP(&extractOutput, "output", "o", "", "output file (.md or .json, default: <input>-ocr.md)")
	f.StringVar(&extractImagesDir, "images-dir", "", "directory to save detected images to")
	f.BoolVar(&extractPromptKey, "prompt-key", false, "ask for the API key instead of reading it from the environment")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if extractMode != "" {
		cfg.LLM.ResponseMode = extractMode
	}
	if extractDetect || extractEnhance {
		cfg.Extraction.DetectImages = true
	}

	logger := newLogger(cfg)

	var opts []workbench.Option
	opts = append(opts, workbench.WithLogger(logger))
	if extractPromptKey || cfg.LLM.APIKey == "" {
		opts = append(opts, workbench.WithCredentials(credential.NewPrompt(os.Stdin, os.Stderr)))
	}

	wb, err := workbench.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer wb.Close()

	path := args[0]
	data, mediaType, err := pdf.ReadSource(path)
	if err != nil {
		return err
	}

	sp := ui.NewSpinner("Rendering " + filepath.Base(path) + "...")
	sp.Start()
	st, err := wb.LoadFile(ctx, filepath.Base(path), mediaType, data)
	sp.Stop()
	if err != nil {
		return report(err)
	}
	ui.Info("Loaded %s (%d page(s))", path, st.TotalPages)

	if extractPage != 1 {
		if _, err := wb.ChangePage(ctx, extractPage); err != nil {
			return report(err)
		}
	}
	if extractZoom != st.Surface.Zoom {
		if st, err = wb.SetZoom(ctx, extractZoom); err != nil {
			return report(err)
		}
		if st.Surface.Zoom != extractZoom {
			ui.Warning("Zoom adjusted to %d%%", st.Surface.Zoom)
		}
	}
	if extractCrop != "" {
		rect, err := parseCrop(extractCrop)
		if err != nil {
			return err
		}
		if _, err := wb.ApplyCrop(rect); err != nil {
			return report(err)
		}
	}

	bar := ui.NewProgressBar("Extracting text")
	rec, err := wb.ExtractText(ctx, bar.Sink())
	if err != nil {
		return report(err)
	}
	ui.Success("Extracted %d characters", len(rec.Text))

	if extractQAC {
		bar := ui.NewProgressBar("Running QAC")
		if rec, err = wb.RunQAC(ctx, bar.Sink()); err != nil {
			return report(err)
		}
		ui.Success("QAC applied %d correction(s)", len(rec.QACFixes))
	}

	if extractEnhance {
		rec = enhanceAll(ctx, wb, rec)
	}

	ui.Record(cmd.OutOrStdout(), rec)

	out := extractOutput
	if out == "" {
		out = defaultOutputPath(path)
	}
	if err := writeOutput(out, rec); err != nil {
		return err
	}
	ui.Success("Saved %s", out)

	if extractImagesDir != "" && len(rec.DetectedImages) > 0 {
		paths, err := saveImages(extractImagesDir, rec.DetectedImages)
		if err != nil {
			return err
		}
		ui.Success("Saved %d image(s) to %s", len(paths), extractImagesDir)
	}
	return nil
}

// enhanceAll enhances every detected image concurrently. A failed image is
// reported and skipped.
func enhanceAll(ctx context.Context, wb *workbench.Workbench, rec domain.ExtractionRecord) domain.ExtractionRecord {
	batch := ui.NewBatch()
	errs := make([]error, len(rec.DetectedImages))

	var g errgroup.Group
	g.SetLimit(enhanceWorkers)
	for i, img := range rec.DetectedImages {
		if extractColorize {
			wb.SetColorize(img.ID, true)
		}
		job := batch.Job(fmt.Sprintf("Image %d of %d", i+1, len(rec.DetectedImages)))
		g.Go(func() error {
			_, errs[i] = wb.EnhanceImage(ctx, img.ID)
			job.Done(errs[i] == nil)
			return nil
		})
	}
	_ = g.Wait()
	batch.Wait()

	for i, err := range errs {
		if err != nil {
			ui.Warning("Image %d: %s", i+1, workbench.Message(err))
			continue
		}
		ui.Success("Enhanced image %d", i+1)
	}

	if active, ok := wb.Active(); ok {
		return active
	}
	return rec
}

// report prints a user-facing message for err and returns it.
func report(err error) error {
	switch workbench.Category(err) {
	case string(domain.CategoryNeedsCredential):
		ui.Error("%s", workbench.Message(err))
		ui.Info("Set OPENROUTER_API_KEY or run again with --prompt-key.")
	case string(domain.CategoryRetryLater):
		ui.Warning("%s", workbench.Message(err))
	default:
		ui.Error("%s", workbench.Message(err))
	}
	return err
}
