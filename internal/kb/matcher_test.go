package kb

import "testing"

func TestAnswerSubstringBonus(t *testing.T) {
	with := Entry{Title: "shipping times", Answer: "orders ship within 3 days"}
	without := Entry{Title: "shipping times", Answer: "we ship fast"}

	q := "orders ship within 3 days"
	scoreWith := Answer(q, []Entry{with}, nil).Best.Score
	scoreWithout := Answer(q, []Entry{without}, nil).Best.Score

	if scoreWith-scoreWithout < 3 {
		t.Fatalf("substring entry scored %d vs %d, want at least +3", scoreWith, scoreWithout)
	}
}

func TestAnswerSynonymExpansionIsSymmetric(t *testing.T) {
	syn := Synonyms{"refund": {"return"}}
	entryCanonical := Entry{Title: "refund policy", Answer: "full refund within 14 days"}
	entrySynonym := Entry{Title: "return policy", Answer: "send the item back within 14 days"}

	// Query uses the synonym, entry contains the canonical term.
	if res := Answer("return please", []Entry{entryCanonical}, syn); !res.Found {
		t.Fatalf("synonym query did not match canonical entry")
	}
	// Query uses the canonical term, entry contains the synonym.
	if res := Answer("refund please", []Entry{entrySynonym}, syn); !res.Found {
		t.Fatalf("canonical query did not match synonym entry")
	}
}

func TestAnswerHebrewTags(t *testing.T) {
	entry := Entry{
		Title:  "מדיניות החזרות",
		Answer: "ניתן להחזיר מוצר תוך 14 יום",
		Tags:   []string{"החזרה", "מדיניות"},
	}

	res := Answer("מה מדיניות ההחזרה?", []Entry{entry}, nil)
	if !res.Found {
		t.Fatalf("Hebrew question did not match tagged entry")
	}
	if res.Best.Score <= 0 {
		t.Fatalf("score = %d, want > 0", res.Best.Score)
	}
	if res.Best.Entry.Answer != entry.Answer {
		t.Fatalf("best answer = %q", res.Best.Entry.Answer)
	}
}

func TestAnswerTieBreaksByKBOrder(t *testing.T) {
	first := Entry{Title: "delivery info", Answer: "delivery takes a week"}
	second := Entry{Title: "delivery info", Answer: "delivery takes a week"}
	second.Tags = []string{"dup"}

	res := Answer("delivery", []Entry{first, second}, nil)
	if !res.Found {
		t.Fatalf("no match")
	}
	if len(res.Best.Entry.Tags) != 0 {
		t.Fatalf("tie should keep the first-seen entry")
	}
}

func TestAnswerExcludesZeroScores(t *testing.T) {
	entries := []Entry{
		{Title: "pricing", Answer: "rollup banners cost 199"},
		{Title: "unrelated", Answer: "something else entirely"},
	}
	res := Answer("pricing", entries, nil)
	if !res.Found {
		t.Fatalf("no match")
	}
	if len(res.Alternatives) != 0 {
		t.Fatalf("zero-scoring entry leaked into alternatives: %+v", res.Alternatives)
	}
}

func TestAnswerAlternativesCappedAtTwo(t *testing.T) {
	entries := []Entry{
		{Title: "delivery a", Answer: "delivery"},
		{Title: "delivery b", Answer: "delivery"},
		{Title: "delivery c", Answer: "delivery"},
		{Title: "delivery d", Answer: "delivery"},
	}
	res := Answer("delivery", entries, nil)
	if len(res.Alternatives) != 2 {
		t.Fatalf("alternatives = %d, want 2", len(res.Alternatives))
	}
}

func TestAnswerEmptyInputs(t *testing.T) {
	if res := Answer("", []Entry{{Title: "x", Answer: "y"}}, nil); res.Found {
		t.Fatalf("empty question matched")
	}
	if res := Answer("anything", nil, nil); res.Found {
		t.Fatalf("empty KB matched")
	}
}
