package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/ytchat-export/internal/core"
)

// Filters captures the parsed query parameters that narrow a live tail.
type Filters struct {
	Variants []core.Variant
	Authors  []string
	Since    *time.Time
}

// ParseFilters parses query parameters into a Filters struct.
//
//	variant=superchat,supersticker   (or "paid"; "all" resets)
//	author=alice                     (case-insensitive substring of name or channel id)
//	since=2024-01-01T00:00:00Z | unix seconds | 10m
func ParseFilters(values url.Values) (Filters, error) {
	var f Filters

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	if variants := values["variant"]; len(variants) > 0 {
		seen := make(map[core.Variant]struct{})
		var out []core.Variant
		var allowAll bool
		for _, raw := range variants {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				matched, ok := normalizeVariant(part)
				if !ok {
					return Filters{}, errors.New("invalid variant filter")
				}
				if matched == nil {
					allowAll = true
					out = nil
					continue
				}
				for _, v := range matched {
					if _, exists := seen[v]; !exists && !allowAll {
						out = append(out, v)
						seen[v] = struct{}{}
					}
				}
			}
		}
		if !allowAll {
			f.Variants = out
		}
	}

	if authors := values["author"]; len(authors) > 0 {
		seen := make(map[string]struct{})
		for _, raw := range authors {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				lowered := strings.ToLower(part)
				if _, exists := seen[lowered]; !exists {
					f.Authors = append(f.Authors, lowered)
					seen[lowered] = struct{}{}
				}
			}
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

// normalizeVariant maps a filter token to variants. A nil slice with ok set
// means every variant.
func normalizeVariant(p string) ([]core.Variant, bool) {
	switch strings.ToLower(p) {
	case "message", "plain", "text":
		return []core.Variant{core.VariantPlain}, true
	case "superchat", "sc":
		return []core.Variant{core.VariantSuperChat}, true
	case "supersticker", "sticker":
		return []core.Variant{core.VariantSuperSticker}, true
	case "newsponsor", "member", "membership":
		return []core.Variant{core.VariantNewSponsor}, true
	case "paid":
		return []core.Variant{core.VariantSuperChat, core.VariantSuperSticker}, true
	case "all", "*":
		return nil, true
	default:
		return nil, false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether the provided message satisfies the filters.
func (f Filters) Matches(msg core.Message) bool {
	if len(f.Variants) > 0 {
		match := false
		for _, v := range f.Variants {
			if msg.Variant == v {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Authors) > 0 {
		name := strings.ToLower(msg.Author.Name)
		id := strings.ToLower(msg.Author.ID)
		match := false
		for _, a := range f.Authors {
			if strings.Contains(name, a) || strings.Contains(id, a) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.Since != nil && msg.Timestamp.Before(*f.Since) {
		return false
	}

	return true
}
