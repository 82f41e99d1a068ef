package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/collision-estimator/internal/inference"
)

// ResolveDirectory checks that the path exists and is a directory, then
// returns the absolute path.
func ResolveDirectory(dirPath string) (string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", dirPath)
		}
		return "", fmt.Errorf("access %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", dirPath)
	}
	if abs, err := filepath.Abs(dirPath); err == nil {
		dirPath = abs
	}
	return dirPath, nil
}

// Explain turns a model call failure into advice for the operator.
func Explain(err error) string {
	var ce *inference.CallError
	if !errors.As(err, &ce) {
		return err.Error()
	}
	switch ce.Kind {
	case inference.KindNoKey:
		return "No API key configured. Set GEMINI_API_KEY, gemini.api_key, or store an encrypted key in ~/.collision-estimator/credentials.gpg"
	case inference.KindInvalidKey:
		return "Invalid API key. Please check your API key and try again: " + err.Error()
	case inference.KindNetwork:
		return "Network error. Please check your internet connection: " + err.Error()
	case inference.KindQuota:
		return "API quota exceeded. Please try again later or check your usage limits: " + err.Error()
	default:
		return "API call failed: " + err.Error()
	}
}
