package extract

import (
	"regexp"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Token Extractor — pure text -> candidate meme-coin names
// Three independent pattern families are applied and their matches unioned:
// cashtags ($XYZ), names followed by coin-speak keywords, and a static
// vocabulary of known meme-coin-style names.
// ---------------------------------------------------------------------------

const (
	minTokenLen = 2
	maxTokenLen = 10
)

var (
	// $TOKEN cashtag format.
	cashtagPattern = regexp.MustCompile(`(?i)\$([A-Z]{2,10})\b`)

	// TOKEN followed by a coin-speak keyword.
	keywordPattern = regexp.MustCompile(`(?i)\b([A-Z]{2,10})\s+(?:coin|token|gem|moon|pump|lambo|rocket|bullish|hodl)\b`)
)

// stopWords are common words the pattern families would otherwise match.
var stopWords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "WITH": {}, "THIS": {}, "THAT": {},
	"NEW": {}, "BUY": {}, "SELL": {}, "NOT": {}, "ALL": {}, "ANY": {},
	"YOU": {}, "ARE": {}, "WAS": {}, "HAS": {}, "OUR": {}, "ITS": {},
}

// vocabulary is the static set of known meme-coin-style names matched as
// bare words, without a cashtag or keyword suffix.
var vocabulary = buildVocabulary(
	"PEPE", "DOGE", "SHIB", "BONK", "WIF", "FLOKI", "MEME", "APE",
	"WOJAK", "TURBO", "BRETT", "POPCAT", "DEGEN", "MEW", "BOBO",
	"LADYS", "BABYDOGE", "DOGELON", "AKITA", "KISHU", "SAFEMOON",
	"HOGE", "MILADY", "TOSHI", "HOPPY", "MUMU", "BENJI", "SPURDO",
	"BODEN", "MAGA", "SLERF", "MYRO", "PONKE", "GIGACHAD", "CHAD",
	"BASED",
)

func buildVocabulary(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

var wordPattern = regexp.MustCompile(`(?i)\b[A-Z]{2,10}\b`)

// Extract returns the deduplicated, upper-cased candidate token names found
// in text. Pure function: no I/O, no state. Output is sorted for stable
// downstream processing.
func Extract(text string) []string {
	if text == "" {
		return nil
	}

	found := make(map[string]struct{})

	for _, m := range cashtagPattern.FindAllStringSubmatch(text, -1) {
		add(found, m[1])
	}
	for _, m := range keywordPattern.FindAllStringSubmatch(text, -1) {
		add(found, m[1])
	}
	for _, w := range wordPattern.FindAllString(text, -1) {
		upper := strings.ToUpper(w)
		if _, ok := vocabulary[upper]; ok {
			add(found, upper)
		}
	}

	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func add(set map[string]struct{}, raw string) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if len(name) < minTokenLen || len(name) > maxTokenLen {
		return
	}
	if isNumeric(name) {
		return
	}
	if _, stop := stopWords[name]; stop {
		return
	}
	set[name] = struct{}{}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
