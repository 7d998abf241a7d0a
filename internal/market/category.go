package market

import "strings"

const (
	CategoryCrypto    = "Crypto"
	CategoryPolitics  = "Politics"
	CategoryEconomics = "Economics"
	CategoryTech      = "Tech"
	CategoryStocks    = "Stocks"
	CategorySports    = "Sports"
	CategoryOther     = "Other"
)

// checked in order; the first category with a matching keyword wins
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryCrypto, []string{"bitcoin", "btc", "ethereum", "eth ", "crypto", "solana", "xrp", "doge"}},
	{CategoryPolitics, []string{"trump", "biden", "election", "president", "senate", "congress", "governor", "vote", "democrat", "republican"}},
	{CategoryEconomics, []string{"fed ", "fed?", "federal reserve", "interest rate", "inflation", "cpi", "gdp", "recession", "unemployment", "rate cut"}},
	{CategoryTech, []string{"ai ", "openai", "gpt", "apple", "google", "microsoft", "nvidia", "tesla", "spacex"}},
	{CategoryStocks, []string{"s&p", "nasdaq", "dow ", "stock", "shares", "ipo"}},
	{CategorySports, []string{"nfl", "nba", "mlb", "nhl", "super bowl", "world cup", "championship", "playoffs", "ufc", "premier league"}},
}

// Categorize assigns a coarse category from keywords in a market title.
func Categorize(title string) string {
	t := " " + strings.ToLower(title) + " "
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(t, kw) {
				return c.category
			}
		}
	}
	return CategoryOther
}
