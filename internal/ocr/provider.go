// Package ocr extracts race bib numbers from photos using vision language
// models and validates them against per-event rule sets.
package ocr

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/racepix/racepix/internal/config"
)

//go:embed prompts/bib_detection.txt
var bibDetectionPrompt string

// Strategy selects the model tier used for a detection pass. Reprocessing
// a photo typically upgrades from the fast tier to the stronger one.
type Strategy string

const (
	StrategyFlash Strategy = "flash"
	StrategyPro   Strategy = "pro"
)

// Detection is a single bib candidate read from a photo.
type Detection struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// bibResponse is the JSON shape the model is asked to produce.
type bibResponse struct {
	Bibs []Detection `json:"bibs"`
}

// Provider reads bib numbers from an encoded image.
type Provider interface {
	Name() string
	DetectBibs(ctx context.Context, imageData []byte, strategy Strategy) ([]Detection, error)
}

// New builds the provider named in the configuration.
func New(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.OCR.Provider {
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Gemini)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf("unknown ocr provider: %q", cfg.OCR.Provider)
	}
}

// ParseStrategy validates a strategy string, defaulting empty to flash.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyFlash, nil
	case StrategyFlash, StrategyPro:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown ocr strategy: %q", s)
	}
}
