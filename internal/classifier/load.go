package classifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Options selects the classifier to load.
type Options struct {
	// ModelPath is the ONNX model. Empty selects the template classifier.
	ModelPath string
	// MetadataPath defaults to MetadataPath(ModelPath). A missing file
	// falls back to DefaultMetadata.
	MetadataPath string
	// SharedLibraryPath locates the onnxruntime library.
	SharedLibraryPath string
}

// Load constructs the classifier described by opts.
func Load(opts Options) (Classifier, error) {
	if opts.ModelPath == "" {
		return NewTemplateClassifier(), nil
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	metaPath := opts.MetadataPath
	if metaPath == "" {
		metaPath = MetadataPath(opts.ModelPath)
	}

	meta := DefaultMetadata()
	if _, err := os.Stat(metaPath); err == nil {
		meta, err = LoadMetadata(metaPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
	} else if opts.MetadataPath != "" {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	return NewONNX(opts.ModelPath, meta, opts.SharedLibraryPath)
}

// loadFunc is replaced in tests.
var loadFunc = Load

// LoadAttempts is how many times LoadWithRetry tries before giving up.
const LoadAttempts = 2

// LoadWithRetry calls Load, retrying once after delay on failure.
func LoadWithRetry(ctx context.Context, opts Options, delay time.Duration) (Classifier, error) {
	var lastErr error
	for attempt := 1; attempt <= LoadAttempts; attempt++ {
		c, err := loadFunc(opts)
		if err == nil {
			return c, nil
		}
		lastErr = err
		log.Printf("Classifier load attempt %d/%d failed: %v", attempt, LoadAttempts, err)

		if attempt == LoadAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
	}
	if !errors.Is(lastErr, ErrModelLoad) {
		lastErr = fmt.Errorf("%w: %w", ErrModelLoad, lastErr)
	}
	return nil, lastErr
}
