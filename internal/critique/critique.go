// Package critique runs cheap prose heuristics over draft text:
// adverb density, sentence length distribution, and repeated sentence
// openings. It is advisory only and never blocks a write.
package critique

import (
	"sort"
	"strings"
	"unicode"
)

// Report summarizes one analysis pass.
type Report struct {
	WordCount     int      `json:"word_count"`
	SentenceCount int      `json:"sentence_count"`

	// AdverbDensity is the share of words ending in "ly", 0..1.
	AdverbDensity float64 `json:"adverb_density"`

	// Sentence length distribution, in words.
	MeanSentenceLength float64 `json:"mean_sentence_length"`
	LongestSentence    int     `json:"longest_sentence"`
	ShortestSentence   int     `json:"shortest_sentence"`

	// RepeatedOpenings lists first words that start three or more
	// sentences, most frequent first.
	RepeatedOpenings []Opening `json:"repeated_openings,omitempty"`

	// Warnings are human-readable findings derived from the numbers.
	Warnings []string `json:"warnings,omitempty"`
}

// Opening is a sentence-initial word and how often it occurs.
type Opening struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

const (
	adverbWarnThreshold  = 0.06
	longSentenceWords    = 40
	repeatedOpeningCount = 3
)

// Analyze runs all heuristics over text. Front matter fences are
// skipped so metadata does not skew the numbers.
func Analyze(text string) Report {
	body := stripFrontMatter(text)
	sentences := splitSentences(body)

	var rep Report
	rep.SentenceCount = len(sentences)

	openings := map[string]int{}
	adverbs := 0
	for _, s := range sentences {
		words := strings.Fields(s)
		n := len(words)
		rep.WordCount += n
		if n > rep.LongestSentence {
			rep.LongestSentence = n
		}
		if rep.ShortestSentence == 0 || n < rep.ShortestSentence {
			rep.ShortestSentence = n
		}
		if n > 0 {
			openings[normalizeWord(words[0])]++
		}
		for _, w := range words {
			if isAdverb(normalizeWord(w)) {
				adverbs++
			}
		}
	}
	if rep.WordCount > 0 {
		rep.AdverbDensity = float64(adverbs) / float64(rep.WordCount)
	}
	if rep.SentenceCount > 0 {
		rep.MeanSentenceLength = float64(rep.WordCount) / float64(rep.SentenceCount)
	}

	for word, count := range openings {
		if count >= repeatedOpeningCount && word != "" {
			rep.RepeatedOpenings = append(rep.RepeatedOpenings, Opening{Word: word, Count: count})
		}
	}
	sort.Slice(rep.RepeatedOpenings, func(i, j int) bool {
		a, b := rep.RepeatedOpenings[i], rep.RepeatedOpenings[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Word < b.Word
	})

	rep.Warnings = warnings(&rep)
	return rep
}

func warnings(rep *Report) []string {
	var out []string
	if rep.AdverbDensity > adverbWarnThreshold {
		out = append(out, "heavy adverb use; consider stronger verbs")
	}
	if rep.LongestSentence > longSentenceWords {
		out = append(out, "very long sentences present; consider splitting")
	}
	for _, o := range rep.RepeatedOpenings {
		out = append(out, "many sentences open with \""+o.Word+"\"")
	}
	return out
}

// stripFrontMatter removes a leading ---\n...\n---\n fence.
func stripFrontMatter(text string) string {
	if !strings.HasPrefix(text, "---\n") {
		return text
	}
	rest := text[len("---\n"):]
	if i := strings.Index(rest, "\n---\n"); i >= 0 {
		return rest[i+len("\n---\n"):]
	}
	if i := strings.Index(rest, "---\n"); i >= 0 {
		return rest[i+len("---\n"):]
	}
	return text
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

// isAdverb is a crude "-ly" test with a short stoplist of common
// non-adverb ly-words.
func isAdverb(w string) bool {
	if len(w) < 4 || !strings.HasSuffix(w, "ly") {
		return false
	}
	switch w {
	case "only", "family", "early", "reply", "supply", "apply", "fly", "rely", "likely", "italy":
		return false
	}
	return true
}
