package classify

import (
	"strings"

	"github.com/poiesic/insightmail/core"
)

type phrase struct {
	text   string
	weight float64
}

// Phrase weights approximate how strongly a phrase alone implies the category.
var categoryPhrases = map[core.Category][]phrase{
	core.CategoryOffer: {
		{"pleased to offer", 0.8},
		{"offer letter", 0.8},
		{"job offer", 0.75},
		{"extend an offer", 0.8},
		{"compensation package", 0.6},
		{"congratulations", 0.5},
		{"offer", 0.35},
	},
	core.CategoryRejection: {
		{"decided to move forward with other candidates", 0.85},
		{"regret to inform", 0.8},
		{"not been selected", 0.8},
		{"not selected", 0.8},
		{"not moving forward", 0.8},
		{"position has been filled", 0.8},
		{"other candidates", 0.6},
		{"unfortunately", 0.5},
		{"reject", 0.5},
	},
	core.CategoryInterview: {
		{"technical interview", 0.8},
		{"phone screen", 0.75},
		{"schedule an interview", 0.8},
		{"interview", 0.6},
		{"your availability", 0.45},
		{"calendar invite", 0.45},
		{"meeting", 0.3},
		{"call", 0.2},
	},
	core.CategoryRecruiterResponse: {
		{"talent acquisition", 0.6},
		{"came across your profile", 0.7},
		{"your background", 0.5},
		{"reaching out", 0.5},
		{"recruiter", 0.5},
		{"hiring manager", 0.45},
		{"hiring", 0.3},
	},
	core.CategoryApplicationSent: {
		{"we received your application", 0.85},
		{"thank you for applying", 0.8},
		{"application received", 0.8},
		{"thanks for applying", 0.8},
		{"your application", 0.5},
		{"applied", 0.4},
		{"application", 0.35},
	},
}

const (
	heuristicBaseConfidence = 0.2
	heuristicMaxConfidence  = 0.95
	heuristicMatchBonus     = 0.05
)

// Heuristic categorizes a record by weighted phrase scoring over its subject
// and body. The category with the highest total weight wins; confidence is
// the strongest matched weight plus a small bonus per additional match.
// Records with no matching phrase are Other.
func Heuristic(record *core.EmailRecord) core.ClassificationResult {
	text := strings.ToLower(record.Subject + "\n" + record.BodyText)

	best := core.CategoryOther
	bestTotal, bestStrongest, bestMatches := 0.0, 0.0, 0
	for _, category := range core.Categories {
		total, strongest, matches := 0.0, 0.0, 0
		for _, p := range categoryPhrases[category] {
			if strings.Contains(text, p.text) {
				total += p.weight
				strongest = max(strongest, p.weight)
				matches++
			}
		}
		if total > bestTotal {
			best, bestTotal, bestStrongest, bestMatches = category, total, strongest, matches
		}
	}

	confidence := heuristicBaseConfidence
	if bestMatches > 0 {
		confidence = min(heuristicMaxConfidence, bestStrongest+heuristicMatchBonus*float64(bestMatches-1))
	}

	return core.ClassificationResult{
		Category:   best,
		Confidence: confidence,
		Summary:    heuristicSummary(record),
		Method:     core.MethodHeuristic,
	}
}

func heuristicSummary(record *core.EmailRecord) string {
	if s := strings.TrimSpace(record.Subject); s != "" {
		return truncateRunes(s, MaxSummaryRunes)
	}
	for _, line := range strings.Split(record.BodyText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return truncateRunes(line, MaxSummaryRunes)
		}
	}
	return ""
}
