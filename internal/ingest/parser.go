package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"agesignal/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,]+)`)
)

var (
	timestampKeys  = []string{"timestamp", "time", "ts"}
	sourceKeys     = []string{"source", "camera", "camera_id", "device", "sensor"}
	slotKeys       = []string{"slot", "face", "face_id", "index", "track"}
	ageKeys        = []string{"age", "estimated_age", "age_estimate", "value"}
	confidenceKeys = []string{"confidence", "score", "conf", "probability"}
)

// Parser turns one text line into zero or more field bags. It recognises
// JSON (objects, arrays and frames), CSV with an optional header row, and
// key=value text with a leading timestamp.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) ([]normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if batch, err := ParseJSONBytes([]byte(trim)); err == nil {
			for i := range batch {
				batch[i].Raw = line
			}
			return batch, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return []normalize.EventFields{*fields}, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return []normalize.EventFields{fields}, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) normalize.EventFields {
	fields := normalize.EventFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	assignAliases(&fields, kv)
	for k, v := range kv {
		fields.Extras[k] = v
	}
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}
	if fields.Source == "" && rest != "" {
		if tokens := strings.Fields(rest); len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.Source = tokens[0]
		}
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func assignAliases(fields *normalize.EventFields, m map[string]string) {
	fields.Timestamp = firstNonEmpty(m, timestampKeys...)
	fields.Source = firstNonEmpty(m, sourceKeys...)
	fields.Slot = firstNonEmpty(m, slotKeys...)
	fields.Age = firstNonEmpty(m, ageKeys...)
	fields.Confidence = firstNonEmpty(m, confidenceKeys...)
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees. Without a header the
// column order is timestamp,source,slot,age,confidence.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{Extras: map[string]string{}}
	if p.header != nil {
		row := make(map[string]string, len(p.header))
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			row[name] = strings.TrimSpace(record[i])
			fields.Extras[name] = row[name]
		}
		assignAliases(fields, row)
		return fields, nil
	}
	positional := []*string{&fields.Timestamp, &fields.Source, &fields.Slot, &fields.Age, &fields.Confidence}
	for i, dst := range positional {
		if i >= len(record) {
			break
		}
		*dst = strings.TrimSpace(record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, group := range [][]string{timestampKeys, sourceKeys, ageKeys, confidenceKeys} {
			for _, k := range group {
				if v == k {
					return true
				}
			}
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
