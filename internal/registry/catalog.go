package registry

import "strings"

// DefaultBaseURL is where the seeded catalog points. Channel pages live at
// <base>/<slug>.
const DefaultBaseURL = "https://tamashaweb.com"

// catalogSlugs is the confirmed free/no-login channel list. Channels that
// require login or a Pro plan must never be added here; flag them premium
// through the admin surface instead if they regress.
var catalogSlugs = []string{
	// News
	"ary-news",
	"geo-news-live",
	"express-news-live",
	"dunya-news-live",
	"samaa-news-live",
	"92-news-live",
	"24-news-hd-live",
	"hum-news-live",
	"aaj-news-live",
	"bol-news-live",
	"neo-news-live",
	"public-news-live",
	"gnn-news-live",
	"capital-news-live",
	"ab-tak-news-live",
	"city-42-live",
	"dawn-news-live",
	"din-news-live",
	"such-news-live",
	"k-21-news-live",
	"roze-news-live",
	"sun-news-hd",

	// Entertainment
	"green-entertainment",
	"geo-entertainment-live",
	"ary-digital-live",
	"hum-tv-live",
	"see-tv-live",
	"play-tv-live",
	"express-entertainment-live",
	"a-plus-live",
	"tv-one-live",
	"urdu-1-live",

	// Tamasha original / misc
	"tamasha-life-hd",

	// Regional
	"khyber-news-live",
	"avt-khyber-live",
	"sindh-tv-news-live",
	"ktn-news-live",
	"waseb-tv-live",

	// Religious
	"madani-channel-live",
	"qtv-live",
	"paigham-tv-live",
	"ary-qtv-live",

	// Kids / music
	"ary-zindagi-live",
}

// Catalog builds the seedable channel list against the given base URL.
func Catalog(baseURL string) []Channel {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	out := make([]Channel, 0, len(catalogSlugs))
	for _, slug := range catalogSlugs {
		out = append(out, Channel{
			Slug:     slug,
			Name:     Humanize(slug),
			PageURL:  baseURL + "/" + slug,
			Category: Categorize(slug),
		})
	}
	return out
}

// Categorize buckets a slug into a listing category by keyword.
func Categorize(slug string) string {
	l := strings.ToLower(slug)
	switch {
	case strings.Contains(l, "news") || strings.Contains(l, "city-42"):
		return "news"
	case containsKeyword(l, "entertainment", "digital", "tv-one", "urdu", "play-tv", "see-tv", "hum-tv", "a-plus", "zindagi"):
		return "entertainment"
	case containsKeyword(l, "madani", "qtv", "paigham", "ary-qtv"):
		return "religious"
	case containsKeyword(l, "khyber", "avt", "sindh", "ktn", "waseb"):
		return "regional"
	default:
		return "other"
	}
}

// Humanize turns "ary-news" into "Ary News" for listings.
func Humanize(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		if len(w) <= 3 && !isNumeric(w) {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func containsKeyword(s string, kws ...string) bool {
	for _, kw := range kws {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
