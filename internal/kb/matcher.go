package kb

import (
	"sort"
	"strings"
)

// Entry is one curated question/answer item.
type Entry struct {
	Title  string   `json:"title"`
	Answer string   `json:"answer"`
	Tags   []string `json:"tags"`
}

// Synonyms maps a canonical term to its equivalent terms. Expansion is
// bidirectional: a query term matching any member of a group pulls in the
// whole group.
type Synonyms map[string][]string

type Match struct {
	Entry Entry `json:"entry"`
	Score int   `json:"score"`
}

type Result struct {
	Found        bool    `json:"found"`
	Best         Match   `json:"best"`
	Alternatives []Match `json:"alternatives"`
}

const (
	substringBonus = 3
	minTokenLen    = 3
	maxAlternates  = 2
)

// Answer scores the question against every entry and returns the best
// match plus up to two runners-up. Zero-scoring entries are excluded;
// ties keep the entry that appears first in the KB.
func Answer(question string, entries []Entry, syn Synonyms) Result {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" || len(entries) == 0 {
		return Result{}
	}

	tokens := expandTokens(tokenize(q), syn)

	var matches []Match
	for _, e := range entries {
		text := searchableText(e)
		score := 0
		if strings.Contains(text, q) {
			score += substringBonus
		}
		for tok := range tokens {
			if len([]rune(tok)) < minTokenLen {
				continue
			}
			if strings.Contains(text, tok) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, Match{Entry: e, Score: score})
		}
	}
	if len(matches) == 0 {
		return Result{}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	res := Result{Found: true, Best: matches[0]}
	for _, m := range matches[1:] {
		if len(res.Alternatives) == maxAlternates {
			break
		}
		res.Alternatives = append(res.Alternatives, m)
	}
	return res
}

func searchableText(e Entry) string {
	parts := make([]string, 0, 2+len(e.Tags))
	parts = append(parts, e.Title, e.Answer)
	parts = append(parts, e.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

func tokenize(q string) []string {
	fields := strings.Fields(q)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `?!.,:;"'()`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// expandTokens adds every member of a synonym group whenever a token
// matches the canonical term or any listed synonym.
func expandTokens(tokens []string, syn Synonyms) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	for canonical, members := range syn {
		group := make([]string, 0, len(members)+1)
		group = append(group, strings.ToLower(canonical))
		for _, m := range members {
			group = append(group, strings.ToLower(m))
		}
		hit := false
		for _, g := range group {
			if _, ok := set[g]; ok {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		for _, g := range group {
			set[g] = struct{}{}
		}
	}
	return set
}
