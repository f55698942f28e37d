package stream

import "github.com/ferro-labs/llm-gateway-core/convert"

// mergeUsage applies the defensive-update rule from §4.9: a later value of
// zero (or a missing counter) never overwrites a previously recorded
// non-zero value for the same counter.
func mergeUsage(dst *convert.Usage, src *convert.Usage) {
	if src == nil {
		return
	}
	if src.InputTokens != 0 {
		dst.InputTokens = src.InputTokens
	}
	if src.OutputTokens != 0 {
		dst.OutputTokens = src.OutputTokens
	}
	if src.CacheReadTokens != 0 {
		dst.CacheReadTokens = src.CacheReadTokens
	}
	if src.CacheWriteTokens != 0 {
		dst.CacheWriteTokens = src.CacheWriteTokens
	}
}
