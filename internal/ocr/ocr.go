// Package ocr recovers text from scanned PDF pages. Engines are
// registered by name so the recognizer backing a run stays a config
// choice, not a compile-time one.
package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Region is a rectangle in image pixel coordinates with the origin in
// the upper-left corner.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Input is a single rendered page image submitted for recognition.
type Input struct {
	// ID is echoed back in logs to tie results to their page.
	ID string
	// Image is an encoded PNG payload.
	Image []byte
	// DPI is the resolution the image was rendered at; zero means
	// unknown and leaves the engine to guess.
	DPI int
	// Languages lists trained-data hints such as "eng".
	Languages []string
}

// Word is a single recognized token with its pixel bounds and a
// confidence in [0, 1].
type Word struct {
	Text       string
	Bounds     Region
	Confidence float64
}

// Result is the recognition output for one input image.
type Result struct {
	Words []Word
}

// Text joins the recognized words in reading order as reported by the
// engine.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Words))
	for _, w := range r.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// MeanConfidence averages word confidences; zero when nothing was
// recognized.
func (r Result) MeanConfidence() float64 {
	if len(r.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range r.Words {
		sum += w.Confidence
	}
	return sum / float64(len(r.Words))
}

// Engine is the OCR provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

var (
	regMu   sync.RWMutex
	engines = make(map[string]Engine)
)

// Register adds an engine under its name, replacing any previous
// registration.
func Register(e Engine) {
	regMu.Lock()
	defer regMu.Unlock()
	engines[strings.ToLower(e.Name())] = e
}

// Lookup returns the engine registered under name.
func Lookup(name string) (Engine, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	e, ok := engines[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown ocr engine %q (registered: %s)",
			name, strings.Join(engineNamesLocked(), ", "))
	}
	return e, nil
}

// Engines lists registered engine names, sorted.
func Engines() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	return engineNamesLocked()
}

func engineNamesLocked() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
