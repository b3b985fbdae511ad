package polymarket

import "strings"

// Categories scanned by the prediction worker, in keyword-matching order.
var Categories = []string{
	"crypto", "politics", "economics", "sports", "tech",
	"finance", "geopolitics", "culture", "climate", "entertainment",
}

// CategoryOther is assigned when no keyword matches.
const CategoryOther = "other"

var categoryKeywords = map[string][]string{
	"crypto":        {"btc", "bitcoin", "eth", "ethereum", "sol", "solana", "crypto", "token", "coin", "defi", "nft"},
	"politics":      {"election", "president", "trump", "biden", "senate", "congress", "vote", "political", "democrat", "republican"},
	"economics":     {"gdp", "inflation", "unemployment", "fed", "federal reserve", "interest rate", "economic", "economy", "recession", "cpi", "ppi"},
	"sports":        {"nfl", "nba", "mlb", "soccer", "football", "basketball", "baseball", "championship", "world cup", "olympics", "super bowl", "stanley cup", "world series"},
	"tech":          {"ai", "artificial intelligence", "chatgpt", "openai", "tech", "technology", "apple", "google", "microsoft", "meta", "tesla", "ipo", "startup"},
	"finance":       {"stock", "s&p", "dow", "nasdaq", "market cap", "earnings", "revenue", "profit", "bank", "banking", "financial", "trading"},
	"geopolitics":   {"war", "conflict", "russia", "ukraine", "china", "taiwan", "north korea", "iran", "israel", "palestine", "middle east", "nato", "sanctions"},
	"culture":       {"movie", "film", "oscar", "grammy", "award", "celebrity", "music", "album", "tv show", "series", "netflix", "disney"},
	"climate":       {"climate", "global warming", "temperature", "carbon", "emission", "renewable", "solar", "wind energy", "paris agreement", "cop"},
	"entertainment": {"game", "gaming", "esports", "tournament", "streaming", "youtube", "twitch", "podcast", "comic", "anime", "manga"},
}

// InferCategory classifies a market question by substring keyword match.
// The first category in Categories order with a hit wins.
func InferCategory(question string) string {
	q := strings.ToLower(question)
	for _, category := range Categories {
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(q, kw) {
				return category
			}
		}
	}
	return CategoryOther
}
