// Package stopwords extracts significant words from free-form moderation
// comments so ban reasons can be aggregated across instances.
package stopwords

import (
	"embed"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed words/*.txt
var wordFS embed.FS

// Stop lists are keyed by the language names instance APIs report.
var languageFiles = map[string]string{
	"english": "english.txt",
	"en":      "english.txt",
}

var (
	wordPattern = regexp.MustCompile(`[\w-]+`)

	mu      sync.Mutex
	loaded  = map[string]map[string]struct{}{}
	noWords = map[string]struct{}{}
)

// stopSet returns the stop list for language. Unknown languages get an
// empty set so keyword extraction still runs.
func stopSet(language string) map[string]struct{} {
	mu.Lock()
	defer mu.Unlock()

	if set, ok := loaded[language]; ok {
		return set
	}

	file, ok := languageFiles[strings.ToLower(language)]
	if !ok {
		loaded[language] = noWords
		return noWords
	}

	raw, err := wordFS.ReadFile("words/" + file)
	if err != nil {
		loaded[language] = noWords
		return noWords
	}

	set := make(map[string]struct{})
	for _, w := range strings.Split(string(raw), "\n") {
		w = strings.TrimSpace(w)
		if w != "" {
			set[w] = struct{}{}
		}
	}
	loaded[language] = set
	return set
}

// Keywords returns the significant words of text: tokens of letters,
// digits, underscores and hyphens, longer than two characters, lowercased,
// minus the language's stop list. Sorted and deduplicated.
func Keywords(language, text string) []string {
	stops := stopSet(language)

	seen := make(map[string]struct{})
	for _, word := range wordPattern.FindAllString(text, -1) {
		if len(word) <= 2 {
			continue
		}
		word = strings.ToLower(word)
		if _, stop := stops[word]; stop {
			continue
		}
		seen[word] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
