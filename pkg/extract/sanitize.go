package extract

import "unicode/utf8"

// Preview sanitization bounds. Sample rows are operator-facing display data,
// so long strings, wide containers and deep nesting are clipped with an
// explicit marker rather than retained whole.
const (
	maxPreviewStringLen  = 256
	maxPreviewArrayItems = 20
	maxPreviewObjectKeys = 50
	maxPreviewDepth      = 6

	truncationMarker = "…[truncated]"
)

// sanitizePreview bounds a decoded row value for display. The original value
// is never mutated; staging always receives the full row.
func sanitizePreview(v any) any {
	return sanitizeValue(v, 0)
}

// truncateString cuts s to at most limit bytes without splitting a multi-byte
// rune, so clipped previews stay valid UTF-8.
func truncateString(s string, limit int) string {
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func sanitizeValue(v any, depth int) any {
	if depth >= maxPreviewDepth {
		return truncationMarker
	}

	switch t := v.(type) {
	case string:
		if len(t) > maxPreviewStringLen {
			return truncateString(t, maxPreviewStringLen) + truncationMarker
		}
		return t

	case []any:
		n := len(t)
		limit := n
		if limit > maxPreviewArrayItems {
			limit = maxPreviewArrayItems
		}
		out := make([]any, 0, limit+1)
		for _, item := range t[:limit] {
			out = append(out, sanitizeValue(item, depth+1))
		}
		if n > limit {
			out = append(out, truncationMarker)
		}
		return out

	case map[string]any:
		out := make(map[string]any, len(t))
		kept := 0
		for k, item := range t {
			if kept >= maxPreviewObjectKeys {
				out[truncationMarker] = true
				break
			}
			out[k] = sanitizeValue(item, depth+1)
			kept++
		}
		return out

	default:
		return v
	}
}
