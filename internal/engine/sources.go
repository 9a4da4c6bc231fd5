package engine

import (
	"strings"

	"agesignal/internal/config"
)

// SourceFilter decides which detector sources feed the engine. A non-empty
// allow list admits only its members; the deny list always wins.
type SourceFilter struct {
	Enabled bool
	Allow   map[string]struct{}
	Deny    map[string]struct{}
}

func buildSourceFilter(cfg *config.Config) *SourceFilter {
	f := &SourceFilter{Enabled: cfg.Sources.Enabled}
	if !f.Enabled {
		return f
	}
	f.Allow = buildSourceSet(cfg.Sources.Allow)
	f.Deny = buildSourceSet(cfg.Sources.Deny)
	return f
}

func buildSourceSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		src := normalizeSource(v)
		if src == "" {
			continue
		}
		set[src] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (f *SourceFilter) Allowed(source string) bool {
	if f == nil || !f.Enabled {
		return true
	}
	src := normalizeSource(source)
	if _, ok := f.Deny[src]; ok {
		return false
	}
	if f.Allow == nil {
		return true
	}
	_, ok := f.Allow[src]
	return ok
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
