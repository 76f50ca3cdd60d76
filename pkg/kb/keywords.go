package kb

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopWords are tokens too generic to be useful as substring filters.
// Hebrew function words are included because the bot serves mixed
// Hebrew/English groups.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "whom": {},
	"why": {}, "how": {}, "does": {}, "did": {}, "can": {}, "could": {},
	"should": {}, "would": {}, "will": {}, "has": {}, "have": {}, "had": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "with": {}, "from": {},
	"about": {}, "into": {}, "over": {}, "under": {}, "then": {}, "than": {},
	"there": {}, "here": {}, "they": {}, "them": {}, "you": {}, "your": {},
	"someone": {}, "anyone": {}, "please": {}, "tell": {},
	"האם": {}, "איך": {}, "למה": {}, "מתי": {}, "איפה": {}, "כמה": {},
	"מישהו": {}, "אפשר": {}, "בבקשה": {},
}

// ExtractKeywords tokenizes a question into at most max search keywords,
// lowercased, dropping stop-words and tokens of 2 runes or fewer. Returns nil
// when nothing useful survives, in which case the keyword branch is skipped.
func ExtractKeywords(question string, max int) []string {
	if max <= 0 {
		return nil
	}

	var keywords []string
	seen := make(map[string]struct{})

	for _, token := range splitWords(question) {
		token = strings.ToLower(token)
		if utf8.RuneCountInString(token) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
		if len(keywords) >= max {
			break
		}
	}

	return keywords
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
