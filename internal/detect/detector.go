// Package detect implements keyword-based entity detection for memory
// cards. No embeddings, no semantic search — names, relationship labels,
// and keyword lists, with word-boundary matching to avoid false positives.
package detect

import (
	"regexp"
	"strings"

	"github.com/confidanthq/confidant/internal/store"
)

// Match is a detected card reference in a message.
type Match struct {
	CardID    int64
	CardKind  string
	MatchType string // name, label, keyword, title, event_type
}

// relationshipKeywords maps broad relationship types to the generic terms
// that imply them.
var relationshipKeywords = map[string][]string{
	"family": {
		"mom", "mother", "mama", "mum", "mommy",
		"dad", "father", "papa", "pop", "daddy",
		"parent",
		"brother", "sister", "sibling",
		"grandmother", "grandma", "grandfather", "grandpa",
		"grandparent",
		"aunt", "uncle", "cousin",
		"niece", "nephew",
	},
	"friend": {
		"friend", "best friend", "bestfriend",
		"buddy", "pal", "bff", "homie",
	},
	"romantic": {
		"partner", "boyfriend", "bf", "girlfriend", "gf",
		"wife", "husband", "spouse", "fiancé", "fiancée",
		"significant other",
	},
	"coworker": {
		"boss", "manager", "supervisor", "director",
		"coworker", "colleague", "teammate",
		"teacher", "professor", "instructor", "coach", "mentor",
	},
}

// singularize maps common plural forms to their singular for matching.
var singularize = map[string]string{
	"wives": "wife", "lives": "life",
	"bosses": "boss", "colleagues": "colleague", "coaches": "coach",
	"universities": "university", "activities": "activity",
	"friends": "friend", "parents": "parent", "siblings": "sibling",
	"cousins": "cousin", "teachers": "teacher", "classmates": "classmate",
	"teammates": "teammate", "neighbors": "neighbor", "kids": "kid",
	"boys": "boy", "girls": "girl", "achievements": "achievement",
	"colleges": "college", "goals": "goal", "coworkers": "coworker",
	"brothers": "brother", "sisters": "sister",
}

var possessiveRe = regexp.MustCompile(`'s?\b`)
var wordRe = regexp.MustCompile(`[a-z0-9]+(?:['-][a-z0-9]+)*`)

// normalize lowercases the text, strips possessives, and folds common
// plurals so "my wife's" matches a card labeled "wife".
func normalize(text string) string {
	text = strings.ToLower(text)
	text = possessiveRe.ReplaceAllString(text, "")

	return wordRe.ReplaceAllStringFunc(text, func(w string) string {
		if s, ok := singularize[w]; ok {
			return s
		}
		return w
	})
}

// wordBoundaryMatch reports whether needle appears as a whole word (or
// word sequence) in haystack. "achievement" must not match
// "overachievement".
func wordBoundaryMatch(needle, haystack string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(needle) + `\b`)
	if err != nil {
		return strings.Contains(haystack, needle)
	}
	return re.MatchString(haystack)
}

// Detect scans a message and returns the set of cards it plausibly
// mentions, deduplicated by card. Character cards match by name first,
// then a custom relationship label, then generic relationship keywords;
// a keyword claimed by a specific label is excluded from the generic pass.
// World-event cards match by title, event type, then keyword list.
func Detect(text string, characters, events []store.Card) []Match {
	normalized := normalize(text)

	var matches []Match
	matchedCards := map[int64]bool{}
	labelMatched := map[string]bool{}

	// First pass: character names and specific relationship labels.
	for _, c := range characters {
		if wordBoundaryMatch(strings.ToLower(c.Name), normalized) {
			matches = append(matches, Match{c.ID, store.KindCharacter, "name"})
			matchedCards[c.ID] = true
			continue
		}
		label := strings.ToLower(c.RelationshipLabel)
		if label != "" && wordBoundaryMatch(label, normalized) {
			matches = append(matches, Match{c.ID, store.KindCharacter, "label"})
			matchedCards[c.ID] = true
			labelMatched[label] = true
		}
	}

	// Second pass: generic relationship keywords for unmatched characters.
	for _, c := range characters {
		if matchedCards[c.ID] {
			continue
		}
		for _, kw := range relationshipKeywords[strings.ToLower(c.RelationshipType)] {
			if labelMatched[kw] {
				continue
			}
			if wordBoundaryMatch(kw, normalized) {
				matches = append(matches, Match{c.ID, store.KindCharacter, "keyword"})
				matchedCards[c.ID] = true
				break
			}
		}
	}

	// World events: title, event type, then keyword list.
	for _, e := range events {
		if matchedCards[e.ID] {
			continue
		}
		if wordBoundaryMatch(strings.ToLower(e.Name), normalized) {
			matches = append(matches, Match{e.ID, store.KindWorldEvent, "title"})
			matchedCards[e.ID] = true
			continue
		}
		eventType := strings.ToLower(e.EventType)
		if eventType != "" && wordBoundaryMatch(eventType, normalized) {
			matches = append(matches, Match{e.ID, store.KindWorldEvent, "event_type"})
			matchedCards[e.ID] = true
			continue
		}
		if kw, ok := e.Payload.Fields["keywords"]; ok && kw.IsList() {
			for _, k := range kw.List {
				if wordBoundaryMatch(strings.ToLower(k), normalized) {
					matches = append(matches, Match{e.ID, store.KindWorldEvent, "keyword"})
					matchedCards[e.ID] = true
					break
				}
			}
		}
	}

	return matches
}
