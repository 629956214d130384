package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The tool-loop system prompt and the chunk extraction prompt are
// identical across turns, so every call after the first reads the cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
