package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// minBaselineScore drops candidate pairs with effectively no lexical
// overlap before they reach the expensive scoring node.
const minBaselineScore = 0.01

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"we": {}, "our": {}, "their": {}, "these": {}, "those": {}, "which": {},
	"not": {}, "but": {}, "can": {}, "may": {}, "such": {}, "other": {},
}

// preFilter reduces the researcher x opportunity cross product to at most
// topN candidates per researcher, ranked by TF-IDF cosine similarity over
// the profile text. This bound keeps reasoning-call volume linear in
// researcher count.
func preFilter(researchers []domain.ResearcherProfile, opportunities []domain.OpportunityProfile, topN int) []domain.CandidatePair {
	if len(researchers) == 0 || len(opportunities) == 0 {
		return nil
	}

	docs := make([][]string, 0, len(researchers)+len(opportunities))
	for _, r := range researchers {
		docs = append(docs, tokenize(researcherText(r)))
	}
	for _, o := range opportunities {
		docs = append(docs, tokenize(o.Title+" "+o.Synopsis))
	}

	vectors := tfidfVectors(docs)
	rVectors := vectors[:len(researchers)]
	oVectors := vectors[len(researchers):]

	var pairs []domain.CandidatePair
	for i, r := range researchers {
		type scored struct {
			idx   int
			score float64
		}
		ranked := make([]scored, 0, len(opportunities))
		for j := range opportunities {
			s := cosine(rVectors[i], oVectors[j])
			if s > minBaselineScore {
				ranked = append(ranked, scored{idx: j, score: s})
			}
		}
		sort.Slice(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
		if len(ranked) > topN {
			ranked = ranked[:topN]
		}
		for _, cand := range ranked {
			pairs = append(pairs, domain.CandidatePair{
				ResearcherID:  r.ID,
				OpportunityID: opportunities[cand.idx].ID,
				BaselineScore: math.Round(cand.score*10000) / 10000,
			})
		}
	}
	return pairs
}

func researcherText(r domain.ResearcherProfile) string {
	parts := []string{r.Summary, r.Position}
	parts = append(parts, r.Keywords...)
	parts = append(parts, r.ExpandedKeywords...)
	parts = append(parts, r.Themes...)
	return strings.Join(parts, " ")
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// tfidfVectors computes a sparse TF-IDF vector per document.
func tfidfVectors(docs [][]string) []map[string]float64 {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, t := range doc {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}

	n := float64(len(docs))
	vectors := make([]map[string]float64, len(docs))
	for i, doc := range docs {
		tf := make(map[string]int, len(doc))
		for _, t := range doc {
			tf[t]++
		}
		vec := make(map[string]float64, len(tf))
		for t, count := range tf {
			idf := math.Log(n/float64(df[t])) + 1
			vec[t] = float64(count) * idf
		}
		vectors[i] = vec
	}
	return vectors
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, normA, normB float64
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	for t, v := range a {
		if w, ok := b[t]; ok {
			dot += v * w
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// splitKeywords breaks a stored comma- or semicolon-separated keyword
// string into individual keywords.
func splitKeywords(text string) []string {
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ';' })
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			keywords = append(keywords, f)
		}
	}
	return keywords
}
