package ocr

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"

	"github.com/racepix/racepix/internal/faults"
)

// Rules is a per-event bib validation rule set. All fields are optional;
// zero values do not constrain. The struct is stored as JSONB alongside the
// event configuration.
type Rules struct {
	DigitsOnly bool     `json:"digits_only"`
	MinLength  int      `json:"min_length"`
	MaxLength  int      `json:"max_length"`
	Pattern    string   `json:"pattern"`
	Whitelist  []string `json:"whitelist"`
	MinNumber  *int     `json:"min_number"`
	MaxNumber  *int     `json:"max_number"`

	// NormalizeConfusions controls digit look-alike mapping. When unset it
	// follows DigitsOnly.
	NormalizeConfusions *bool `json:"normalize_confusions"`
}

// DefaultRules matches the common case of numeric bibs with no further
// event-specific constraints.
func DefaultRules() *Rules {
	return &Rules{DigitsOnly: true}
}

// Check rejects rule sets that could never accept anything or would blow
// up at detection time.
func (r *Rules) Check() error {
	if r.MinLength < 0 || r.MaxLength < 0 {
		return faults.Validationf("length bounds must not be negative")
	}
	if r.MinLength > 0 && r.MaxLength > 0 && r.MinLength > r.MaxLength {
		return faults.Validationf("min_length %d exceeds max_length %d", r.MinLength, r.MaxLength)
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return faults.Validationf("invalid pattern: %v", err)
		}
	}
	if r.MinNumber != nil && r.MaxNumber != nil && *r.MinNumber > *r.MaxNumber {
		return faults.Validationf("min_number %d exceeds max_number %d", *r.MinNumber, *r.MaxNumber)
	}
	return nil
}

func (r *Rules) normalizeEnabled() bool {
	if r.NormalizeConfusions != nil {
		return *r.NormalizeConfusions
	}
	return r.DigitsOnly
}

// Validate checks a normalized bib value against the rule set. Checks run
// cheapest first; the first failing check wins. A rejection is a
// faults.ValidationError, a broken Pattern is a plain error.
func (r *Rules) Validate(value string) error {
	if value == "" {
		return faults.Validationf("empty bib value")
	}
	if len(value) > normalizedMaxLength {
		return faults.Validationf("bib %q longer than %d characters", value, normalizedMaxLength)
	}

	if r.DigitsOnly {
		for _, c := range value {
			if c < '0' || c > '9' {
				return faults.Validationf("bib %q contains non-digit characters", value)
			}
		}
	}

	if r.MinLength > 0 && len(value) < r.MinLength {
		return faults.Validationf("bib %q shorter than %d characters", value, r.MinLength)
	}
	if r.MaxLength > 0 && len(value) > r.MaxLength {
		return faults.Validationf("bib %q longer than %d characters", value, r.MaxLength)
	}

	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("invalid bib pattern %q: %w", r.Pattern, err)
		}
		if !re.MatchString(value) {
			return faults.Validationf("bib %q does not match pattern %s", value, r.Pattern)
		}
	}

	if len(r.Whitelist) > 0 && !slices.Contains(r.Whitelist, value) {
		return faults.Validationf("bib %q not in whitelist", value)
	}

	if r.MinNumber != nil || r.MaxNumber != nil {
		n, err := strconv.Atoi(value)
		if err != nil {
			return faults.Validationf("bib %q is not numeric for range check", value)
		}
		if r.MinNumber != nil && n < *r.MinNumber {
			return faults.Validationf("bib %d below minimum %d", n, *r.MinNumber)
		}
		if r.MaxNumber != nil && n > *r.MaxNumber {
			return faults.Validationf("bib %d above maximum %d", n, *r.MaxNumber)
		}
	}

	return nil
}

// ApplyRules normalizes raw detections and drops the ones the rule set
// rejects. A normalization that changed the value lowers its confidence.
// A nil rule set falls back to DefaultRules.
func ApplyRules(detections []Detection, rules *Rules) []Detection {
	if rules == nil {
		rules = DefaultRules()
	}

	out := make([]Detection, 0, len(detections))
	for _, det := range detections {
		value, changed := normalizeValue(det.Value, rules.normalizeEnabled(), rules.DigitsOnly)
		conf := det.Confidence
		if changed {
			conf *= confusionPenalty
			if conf < confidenceFloor {
				conf = confidenceFloor
			}
		}

		if err := rules.Validate(value); err != nil {
			slog.Debug("bib detection rejected", "raw", det.Value, "normalized", value, "error", err)
			continue
		}

		out = append(out, Detection{Value: value, Confidence: conf})
	}
	return out
}
