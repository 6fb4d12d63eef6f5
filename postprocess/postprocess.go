// Package postprocess cleans up transcribed text before it is delivered.
package postprocess

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// maxPhraseWords bounds the repeated-phrase search.
const maxPhraseWords = 8

var DefaultFillerWords = []string{"um", "uh", "er", "ah", "hmm", "like", "you know", "i mean"}

type Rule struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

type Options struct {
	RemoveFillerWords     bool     `json:"remove_filler_words"`
	FillerWords           []string `json:"filler_words,omitempty"`
	Replacements          []Rule   `json:"custom_replacements,omitempty"`
	RemovePunctuation     bool     `json:"remove_punctuation"`
	DedupeRepeatedPhrases bool     `json:"dedupe_repeated_phrases"`
	AutoCapitalize        bool     `json:"auto_capitalize"`
}

// Enabled reports whether any step would change text.
func (o Options) Enabled() bool {
	return o.RemoveFillerWords || len(o.Replacements) > 0 || o.RemovePunctuation ||
		o.DedupeRepeatedPhrases || o.AutoCapitalize
}

// Apply runs the enabled steps in a fixed order: fillers, replacements,
// punctuation, dedupe, capitalization.
func Apply(text string, o Options) string {
	if text == "" {
		return ""
	}
	if o.RemoveFillerWords {
		fillers := o.FillerWords
		if len(fillers) == 0 {
			fillers = DefaultFillerWords
		}
		text = RemoveFillerWords(text, fillers)
	}
	if len(o.Replacements) > 0 {
		text = ApplyReplacements(text, o.Replacements)
	}
	if o.RemovePunctuation {
		text = RemovePunctuation(text)
	}
	if o.DedupeRepeatedPhrases {
		text = DedupeRepeatedPhrases(text)
	}
	if o.AutoCapitalize {
		text = CapitalizeSentences(text)
	}
	return text
}

var whitespace = regexp.MustCompile(`\s+`)

func squash(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// RemoveFillerWords drops whole-word, case-insensitive matches, longest
// filler first so "you know" wins over "you".
func RemoveFillerWords(text string, fillers []string) string {
	if len(fillers) == 0 {
		return text
	}
	sorted := append([]string(nil), fillers...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, f := range sorted {
		if f == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(f) + `\b\s*`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, " ")
	}
	return squash(text)
}

func ApplyReplacements(text string, rules []Rule) string {
	for _, r := range rules {
		if r.Find == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(r.Find))
		if err != nil {
			continue
		}
		text = re.ReplaceAllLiteralString(text, r.Replace)
	}
	return text
}

func RemovePunctuation(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < unicode.MaxASCII && (unicode.IsPunct(r) || unicode.IsSymbol(r)) {
			continue
		}
		b.WriteRune(r)
	}
	return squash(b.String())
}

func CapitalizeSentences(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	next := true
	for _, r := range text {
		if next && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			next = false
			continue
		}
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			next = true
		}
	}
	return b.String()
}

// DedupeRepeatedPhrases collapses consecutive repeats of phrases up to eight
// words ("I need you, I need you" -> "I need you,") and then of single words.
func DedupeRepeatedPhrases(text string) string {
	return collapseWords(collapsePhrases(text))
}

func normalize(word string) string {
	var b strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func collapsePhrases(text string) string {
	words := strings.Fields(text)
	if len(words) < 4 {
		return text
	}
	norm := make([]string, len(words))
	for i, w := range words {
		norm[i] = normalize(w)
	}
	same := func(a, b, n int) bool {
		for k := 0; k < n; k++ {
			if norm[a+k] != norm[b+k] {
				return false
			}
		}
		return true
	}

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		maxN := min((len(words)-i)/2, maxPhraseWords)
		collapsed := false
		for n := maxN; n >= 2; n-- {
			repeats := 1
			for j := i + n; j+n <= len(words) && same(i, j, n); j += n {
				repeats++
			}
			if repeats > 1 {
				out = append(out, words[i:i+n]...)
				i += n * repeats
				collapsed = true
				break
			}
		}
		if !collapsed {
			out = append(out, words[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

func collapseWords(text string) string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	prev, have := "", false
	for _, w := range words {
		n := normalize(w)
		if have && n == prev {
			continue
		}
		out = append(out, w)
		prev, have = n, true
	}
	return strings.Join(out, " ")
}
