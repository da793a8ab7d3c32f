// Package commands implements the ocr-workbench command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/ocr-workbench/cmd/ocr-workbench/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "ocr-workbench",
	Short: "OCR workbench - extract, correct and enhance text and images from documents",
	Long: `The OCR workbench renders PDF pages and images, sends them to a multimodal
AI model for text extraction, runs a quality assurance and correction pass
against the page image, and can detect and enhance embedded pictures.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
