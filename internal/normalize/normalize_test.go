package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"agesignal/internal/config"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	det, err := Normalize(EventFields{Age: "31.5", Confidence: "0.7"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if det.Source != "default" {
		t.Fatalf("source = %q, want default", det.Source)
	}
	if !det.Timestamp.IsZero() {
		t.Fatalf("missing timestamp should stay zero for the engine to stamp, got %v", det.Timestamp)
	}
	if det.Confidence != 0.7 || det.Slot != 0 || det.Age != 31.5 {
		t.Fatalf("unexpected detection: %+v", det)
	}
}

func TestNormalizeFields(t *testing.T) {
	cfg := config.DefaultConfig()
	det, err := Normalize(EventFields{
		Timestamp:  "1760000000123",
		Source:     " cam1 ",
		Slot:       "2",
		Age:        "44",
		Confidence: "85%",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if det.Source != "cam1" || det.Slot != 2 {
		t.Fatalf("unexpected source/slot: %+v", det)
	}
	if math.Abs(det.Confidence-0.85) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.85", det.Confidence)
	}
	if want := time.UnixMilli(1760000000123).UTC(); !det.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", det.Timestamp, want)
	}
}

func TestNormalizeErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := Normalize(EventFields{}, cfg); !errors.Is(err, ErrMissingAge) {
		t.Fatalf("expected ErrMissingAge, got %v", err)
	}
	if _, err := Normalize(EventFields{Age: "30"}, cfg); !errors.Is(err, ErrMissingConfidence) {
		t.Fatalf("expected ErrMissingConfidence, got %v", err)
	}
	if _, err := Normalize(EventFields{Age: "30", Confidence: " "}, cfg); !errors.Is(err, ErrMissingConfidence) {
		t.Fatalf("blank confidence: expected ErrMissingConfidence, got %v", err)
	}
	if _, err := Normalize(EventFields{Age: "30", Confidence: "sure"}, cfg); err == nil {
		t.Fatalf("expected confidence parse error")
	}
	if _, err := Normalize(EventFields{Age: "old", Confidence: "0.9"}, cfg); err == nil {
		t.Fatalf("expected age parse error")
	}
	if _, err := Normalize(EventFields{Age: "30", Confidence: "0.9", Timestamp: "yesterday"}, cfg); err == nil {
		t.Fatalf("expected timestamp parse error")
	}
	if _, err := Normalize(EventFields{Age: "30", Confidence: "0.9", Slot: "first"}, cfg); err == nil {
		t.Fatalf("expected slot parse error")
	}
}

func TestNormalizeKeepsNaNForEngine(t *testing.T) {
	det, err := Normalize(EventFields{Age: "NaN", Confidence: "0.9"}, config.DefaultConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !math.IsNaN(det.Age) {
		t.Fatalf("expected NaN age to pass through, got %v", det.Age)
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, v := range []string{"2026-02-23T12:34:56Z", "2026-02-23 12:34:56", "2026-02-23T12:34:56.250", "1771850096"} {
		if _, err := ParseTimestamp(v, time.UTC); err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", v, err)
		}
	}
}
