package classify

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/insightmail/core"
)

// PipelineStats counts records per category and processing state.
type PipelineStats struct {
	Total      int
	ByCategory map[core.Category]int
	Pending    int
	Processed  int
}

// ComputeStats tallies records.
func ComputeStats(records []*core.EmailRecord) PipelineStats {
	stats := PipelineStats{ByCategory: make(map[core.Category]int, len(core.Categories))}
	for _, r := range records {
		stats.Total++
		stats.ByCategory[r.Category]++
		switch r.State {
		case core.StatePending:
			stats.Pending++
		case core.StateProcessed:
			stats.Processed++
		}
	}
	return stats
}

// String renders one line per category in prompt order.
func (s PipelineStats) String() string {
	var sb strings.Builder
	for _, c := range core.Categories {
		fmt.Fprintf(&sb, "- %s: %d\n", c, s.ByCategory[c])
	}
	fmt.Fprintf(&sb, "- Total: %d", s.Total)
	return sb.String()
}

// Progress summarizes job-search activity over a trailing window.
type Progress struct {
	PeriodDays      int
	TotalEmails     int
	Categories      map[core.Category]int
	UniqueCompanies int
	// Companies lists up to ten companies contacted, alphabetically.
	Companies     []string
	Applications  int
	Responses     int
	Interviews    int
	Offers        int
	Rejections    int
	ResponseRate  float64
	InterviewRate float64
	OfferRate     float64
}

const maxListedCompanies = 10

// AnalyzeProgress computes activity metrics for records received in the last
// days days before now. Rates are percentages of applications sent, rounded
// to one decimal; they are zero when no application was sent.
func AnalyzeProgress(records []*core.EmailRecord, now time.Time, days int) Progress {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	p := Progress{PeriodDays: days, Categories: map[core.Category]int{}}
	companies := map[string]struct{}{}

	for _, r := range records {
		if r.ReceivedAt.IsZero() || r.ReceivedAt.Before(cutoff) {
			continue
		}
		p.TotalEmails++
		p.Categories[r.Category]++
		if company := Company(r); company != "" {
			companies[company] = struct{}{}
		}
	}

	p.Applications = p.Categories[core.CategoryApplicationSent]
	p.Responses = p.Categories[core.CategoryRecruiterResponse]
	p.Interviews = p.Categories[core.CategoryInterview]
	p.Offers = p.Categories[core.CategoryOffer]
	p.Rejections = p.Categories[core.CategoryRejection]
	p.ResponseRate = rate(p.Responses, p.Applications)
	p.InterviewRate = rate(p.Interviews, p.Applications)
	p.OfferRate = rate(p.Offers, p.Applications)

	p.UniqueCompanies = len(companies)
	for c := range companies {
		p.Companies = append(p.Companies, c)
	}
	slices.Sort(p.Companies)
	if len(p.Companies) > maxListedCompanies {
		p.Companies = p.Companies[:maxListedCompanies]
	}
	return p
}

// Company names the employer behind a job-related record: the extracted
// company field when the model provided one, otherwise the counterparty
// domain. Other-category records and freemail counterparties yield "".
func Company(r *core.EmailRecord) string {
	if r.Category == core.CategoryOther {
		return ""
	}
	for _, key := range []string{"company", "company_name", "Company"} {
		if v := strings.TrimSpace(r.ExtractedFields[key]); v != "" {
			return v
		}
	}
	cp := Counterparty(r)
	if strings.Contains(cp, "@") {
		return ""
	}
	return cp
}

func rate(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(of)*1000) / 10
}
