package ocr

import (
	"testing"

	"github.com/racepix/racepix/internal/faults"
)

func intPtr(n int) *int { return &n }

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		confusions  bool
		digitsOnly  bool
		want        string
		wantChanged bool
	}{
		{"plain digits", "1234", true, true, "1234", false},
		{"look-alike letters", "l2B", true, true, "128", true},
		{"letter O", "1O5", true, true, "105", true},
		{"fullwidth digits", "１２３", true, true, "123", false},
		{"whitespace", "  42 ", true, true, "42", false},
		{"stray letters stripped", "A128", true, true, "128", true},
		{"no strip without digits-only", "A128", true, false, "A128", false},
		{"confusions disabled", "l2B", false, true, "l2B", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := normalizeValue(tt.in, tt.confusions, tt.digitsOnly)
			if got != tt.want || changed != tt.wantChanged {
				t.Errorf("normalizeValue(%q, %v, %v) = (%q, %v), want (%q, %v)",
					tt.in, tt.confusions, tt.digitsOnly, got, changed, tt.want, tt.wantChanged)
			}
		})
	}
}

func TestRulesValidate(t *testing.T) {
	tests := []struct {
		name    string
		rules   Rules
		value   string
		wantErr bool
	}{
		{"no constraints", Rules{}, "A-12", false},
		{"digits only ok", Rules{DigitsOnly: true}, "1234", false},
		{"digits only rejects letters", Rules{DigitsOnly: true}, "12A", true},
		{"min length", Rules{MinLength: 3}, "12", true},
		{"max length", Rules{MaxLength: 4}, "12345", true},
		{"length in range", Rules{MinLength: 2, MaxLength: 4}, "123", false},
		{"pattern match", Rules{Pattern: `^M-\d+$`}, "M-42", false},
		{"pattern reject", Rules{Pattern: `^M-\d+$`}, "42", true},
		{"whitelist hit", Rules{Whitelist: []string{"11", "22"}}, "22", false},
		{"whitelist miss", Rules{Whitelist: []string{"11", "22"}}, "33", true},
		{"range ok", Rules{MinNumber: intPtr(100), MaxNumber: intPtr(999)}, "500", false},
		{"range below", Rules{MinNumber: intPtr(100)}, "99", true},
		{"range above", Rules{MaxNumber: intPtr(999)}, "1000", true},
		{"range needs number", Rules{MinNumber: intPtr(1)}, "abc", true},
		{"empty value", Rules{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rules.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !faults.IsValidation(err) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestRulesValidateBrokenPattern(t *testing.T) {
	r := Rules{Pattern: `([`}
	err := r.Validate("123")
	if err == nil {
		t.Fatal("expected error for broken pattern")
	}
	if faults.IsValidation(err) {
		t.Error("broken pattern is a configuration error, not a validation rejection")
	}
}

func TestApplyRules(t *testing.T) {
	rules := &Rules{DigitsOnly: true, MinLength: 3}

	in := []Detection{
		{Value: "l2B", Confidence: 0.9},  // normalized to 128, penalized
		{Value: "12", Confidence: 0.95},  // too short after normalization
		{Value: "456", Confidence: 0.8},  // clean pass
		{Value: "A-77", Confidence: 0.9}, // strips to 77, still too short
	}

	got := ApplyRules(in, rules)
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving detections, got %d: %v", len(got), got)
	}

	if got[0].Value != "128" {
		t.Errorf("expected normalized value 128, got %q", got[0].Value)
	}
	wantConf := 0.9 * confusionPenalty
	if diff := got[0].Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected penalized confidence %.3f, got %.3f", wantConf, got[0].Confidence)
	}

	if got[1].Value != "456" || got[1].Confidence != 0.8 {
		t.Errorf("clean detection altered: %+v", got[1])
	}
}

func TestApplyRulesStripsStrayCharacters(t *testing.T) {
	got := ApplyRules([]Detection{{Value: "A128", Confidence: 0.9}}, DefaultRules())
	if len(got) != 1 {
		t.Fatalf("expected the stripped detection to survive, got %d", len(got))
	}
	if got[0].Value != "128" {
		t.Errorf("expected 128, got %q", got[0].Value)
	}
	wantConf := 0.9 * confusionPenalty
	if diff := got[0].Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("stripping must penalize confidence: got %.3f, want %.3f", got[0].Confidence, wantConf)
	}
}

func TestApplyRulesConfidenceFloor(t *testing.T) {
	got := ApplyRules([]Detection{{Value: "l0l", Confidence: 0.05}}, DefaultRules())
	if len(got) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(got))
	}
	if got[0].Value != "101" {
		t.Errorf("expected 101, got %q", got[0].Value)
	}
	if got[0].Confidence != confidenceFloor {
		t.Errorf("expected floored confidence %.2f, got %.3f", confidenceFloor, got[0].Confidence)
	}
}

func TestApplyRulesNilFallsBackToDigitsOnly(t *testing.T) {
	got := ApplyRules([]Detection{
		{Value: "123", Confidence: 0.9},
		{Value: "abc", Confidence: 0.9},
	}, nil)
	if len(got) != 1 || got[0].Value != "123" {
		t.Errorf("expected only the numeric detection, got %v", got)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyFlash, false},
		{"flash", StrategyFlash, false},
		{"pro", StrategyPro, false},
		{"turbo", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = (%q, %v), want (%q, wantErr=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
