package core

import (
	"regexp"
	"strings"
)

// nonMedicalKeywords are topics the assistant refuses outright.  Matching is
// case-insensitive on word boundaries.
var nonMedicalKeywords = []string{
	"cuaca", "weather",
	"sejarah",
	"politik", "politics", "presiden", "pemilu",
	"matematika", "math",
	"bioskop", "movie",
	"sepak bola", "football",
	"resep masakan", "recipe",
	"siapa kamu", "siapa anda", "who are you",
	"1+1", "1 + 1",
}

var (
	nonMedicalPattern = buildKeywordPattern(nonMedicalKeywords)

	// arithmeticPattern catches "berapa 12 x 4?" / "how much is 3 + 5".  The
	// expression must end the message, so dose ranges such as "berapa 2-3 kali
	// sehari" stay in domain.
	arithmeticPattern = regexp.MustCompile(`(?i)\b(berapa|how much is|what is)\s+(hasil(nya)?\s+)?-?\d+(\.\d+)?\s*[-+*/x×:]\s*-?\d+(\.\d+)?\s*[?.!]*\s*$`)
)

func buildKeywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		quoted = append(quoted, regexp.QuoteMeta(k))
	}
	// (^|\W) instead of \b so keywords that start or end with a symbol
	// ("1+1") still match.
	return regexp.MustCompile(`(?i)(^|\W)(` + strings.Join(quoted, "|") + `)($|\W)`)
}

// IsOutOfDomain reports whether the patient's latest message is outside the
// medical domain and must be answered with RefusalMessage.
func IsOutOfDomain(lastUserText string) bool {
	text := strings.TrimSpace(lastUserText)
	if text == "" {
		return false
	}
	return nonMedicalPattern.MatchString(text) || arithmeticPattern.MatchString(text)
}
