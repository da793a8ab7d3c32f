package pdf

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// MaxFileSize bounds the files the workbench will load.
const MaxFileSize = 100 * 1024 * 1024

// DetectMediaType sniffs data first and falls back to the file extension.
func DetectMediaType(name string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed == "application/pdf" || strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return sniffed
}

// ReadSource validates path and returns its contents with the detected media type.
func ReadSource(path string) ([]byte, string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return nil, "", domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}
	if info.IsDir() {
		return nil, "", domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}
	if info.Size() > MaxFileSize {
		return nil, "", domain.ValidationError(fmt.Sprintf("file is too large (%d MB)", info.Size()/(1024*1024)), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", domain.IOError(fmt.Sprintf("cannot read file: %s", path), err)
	}
	return data, DetectMediaType(path, data), nil
}
