package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

// EventFields is the untyped field bag a parser extracts from one line.
type EventFields struct {
	Timestamp  string
	Source     string
	Slot       string
	Age        string
	Confidence string
	Extras     map[string]string
	Raw        string
}

var (
	ErrMissingAge        = errors.New("detection has no age field")
	ErrMissingConfidence = errors.New("detection has no confidence field")
)

// Normalize converts a field bag into a typed Detection. Range checks on age
// and confidence happen later, at the engine's ingest boundary.
func Normalize(fields EventFields, cfg *config.Config) (model.Detection, error) {
	source := strings.TrimSpace(fields.Source)
	if source == "" {
		source = cfg.Ingest.Parser.DefaultSource
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	var ts time.Time
	if strings.TrimSpace(fields.Timestamp) != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Detection{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	ageStr := strings.TrimSpace(fields.Age)
	if ageStr == "" {
		return model.Detection{}, ErrMissingAge
	}
	age, err := strconv.ParseFloat(ageStr, 64)
	if err != nil {
		return model.Detection{}, fmt.Errorf("parse age: %w", err)
	}

	// Without a confidence the detection cannot be gated, so it is refused
	// rather than assumed certain.
	confStr := strings.TrimSpace(fields.Confidence)
	if confStr == "" {
		return model.Detection{}, ErrMissingConfidence
	}
	confidence, err := ParseConfidence(confStr)
	if err != nil {
		return model.Detection{}, fmt.Errorf("parse confidence: %w", err)
	}

	slot := 0
	if s := strings.TrimSpace(fields.Slot); s != "" {
		slot, err = strconv.Atoi(s)
		if err != nil {
			return model.Detection{}, fmt.Errorf("parse slot: %w", err)
		}
	}

	return model.Detection{
		Timestamp:  ts,
		Source:     source,
		Slot:       slot,
		Age:        age,
		Confidence: confidence,
		Via:        "log",
		Raw:        fields.Raw,
	}, nil
}

// ParseConfidence accepts a fraction ("0.82") or a percentage ("82%").
func ParseConfidence(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if pct, ok := strings.CutSuffix(value, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, err
		}
		return v / 100, nil
	}
	return strconv.ParseFloat(value, 64)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339 variants and unix seconds or
// milliseconds (13+ digits, as produced by Date.now()).
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
