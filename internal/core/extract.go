package core

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"medintake-chatbot/pkg"
)

const unknownName = "unknown"

var (
	agePattern    = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(tahun|thn|th|years?|yrs?)\b`)
	genderPattern = regexp.MustCompile(`(?i)\b(laki-laki|pria|perempuan|wanita)\b`)

	punctuation = strings.NewReplacer(
		",", " ", ".", " ", ";", " ", ":", " ", "!", " ", "?", " ",
		"(", " ", ")", " ", "\"", " ", "/", " ",
	)
)

var genderTokens = map[string]pkg.Gender{
	"pria":      pkg.GenderMale,
	"laki-laki": pkg.GenderMale,
	"wanita":    pkg.GenderFemale,
	"perempuan": pkg.GenderFemale,
}

// PatientInfo is what the extractor could read from a free-text introduction.
type PatientInfo struct {
	Name      string     `json:"name"`
	Age       int        `json:"age"`
	Gender    pkg.Gender `json:"gender"`
	Complaint string     `json:"complaint"`
}

// ExtractPatientInfo reads name, age, gender and complaint out of a message
// such as "Eka, 30 tahun, pria, sakit perut parah".  It never fails; fields it
// cannot find keep their defaults.  A name is only taken when an age or a
// gender was found, so a bare greeting like "halo" is not mistaken for one.
func ExtractPatientInfo(text string) PatientInfo {
	info := PatientInfo{Name: unknownName, Gender: pkg.GenderUnknown}
	rest := text
	structured := false

	if m := agePattern.FindStringSubmatchIndex(rest); m != nil {
		if age, err := strconv.Atoi(rest[m[2]:m[3]]); err == nil {
			info.Age = age
		}
		rest = rest[:m[0]] + " " + rest[m[1]:]
		structured = true
	}
	if m := genderPattern.FindStringSubmatchIndex(rest); m != nil {
		info.Gender = genderTokens[strings.ToLower(rest[m[2]:m[3]])]
		rest = rest[:m[0]] + " " + rest[m[1]:]
		structured = true
	}

	words := strings.Fields(punctuation.Replace(rest))
	if structured && len(words) > 0 {
		info.Name = capitalize(words[0])
		words = words[1:]
	}
	info.Complaint = strings.Join(words, " ")
	return info
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

// ParseGender normalises a gender typed into the patient form.
func ParseGender(s string) pkg.Gender {
	s = strings.ToLower(strings.TrimSpace(s))
	if g, ok := genderTokens[s]; ok {
		return g
	}
	switch s {
	case "male", "l":
		return pkg.GenderMale
	case "female", "p":
		return pkg.GenderFemale
	}
	return pkg.GenderUnknown
}
