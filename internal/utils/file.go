package utils

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var extToMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	_, ok := extToMIME[GetFileExtension(filename)]
	return ok
}

// MIMEFromExtension guesses an image MIME type from a file name. It returns
// "" for unknown extensions.
func MIMEFromExtension(filename string) string {
	return extToMIME[GetFileExtension(filename)]
}

// ExtensionForMIME returns the preferred file extension for an image MIME type
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	}
	return "jpg"
}

// PickMIME returns the explicit MIME type when it names an image, otherwise
// sniffs the bytes.
func PickMIME(explicit string, data []byte) string {
	explicit = strings.TrimSpace(explicit)
	if i := strings.IndexByte(explicit, ';'); i >= 0 {
		explicit = strings.TrimSpace(explicit[:i])
	}
	if strings.HasPrefix(explicit, "image/") {
		return explicit
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

// GenerateOutputFilename generates an output filename based on input and parameters
func GenerateOutputFilename(inputFile, outputDir, prefix, suffix, format string) string {
	baseName := filepath.Base(inputFile)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	if format == "" {
		format = GetFileExtension(inputFile)
		if format == "" {
			format = "jpg"
		}
	}

	outputName := fmt.Sprintf("%s%s%s.%s", prefix, nameWithoutExt, suffix, format)
	return filepath.Join(outputDir, outputName)
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
