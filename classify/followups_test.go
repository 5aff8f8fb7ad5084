package classify_test

import (
	"testing"
	"time"

	"github.com/poiesic/insightmail/ai/mock"
	"github.com/poiesic/insightmail/classify"
	"github.com/poiesic/insightmail/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sent(to, subject string, daysAgo int) *core.EmailRecord {
	r := core.NewEmailRecord(&core.RawEmail{
		Account:    "me@example.com",
		Subject:    subject,
		Sender:     "me@example.com",
		Recipient:  to,
		BodyText:   subject,
		ReceivedAt: now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
	})
	r.Category = core.CategoryApplicationSent
	return r
}

func received(from, subject string, category core.Category, daysAgo int) *core.EmailRecord {
	r := core.NewEmailRecord(&core.RawEmail{
		Account:    "me@example.com",
		Subject:    subject,
		Sender:     from,
		Recipient:  "me@example.com",
		BodyText:   subject,
		ReceivedAt: now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
	})
	r.Category = category
	return r
}

func TestCounterpartyOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jobs@acme.com", "acme.com"},
		{"Jane Doe <Jane@Globex.COM>", "globex.com"},
		{"bob.smith@gmail.com", "bob.smith@gmail.com"},
		{"<Recruiter@Outlook.com>", "recruiter@outlook.com"},
		{"not-an-address", "not-an-address"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, classify.CounterpartyOf(tt.in))
		})
	}
}

func TestExtractFollowUps(t *testing.T) {
	acme := sent("jobs@acme.com", "Application: Backend Engineer", 10)
	globex := sent("careers@globex.com", "Application: SRE", 12)
	globexReply := received("hr@globex.com", "Thanks, but no", core.CategoryRejection, 5)
	recent := sent("jobs@initech.com", "Application: Go Developer", 2)
	freemail := sent("bob@gmail.com", "Application: Contract role", 9)
	otherFreemailReply := received("alice@gmail.com", "Interview?", core.CategoryInterview, 1)
	stale := sent("jobs@hooli.com", "Application: Platform", 20)
	staleOldReply := received("hr@hooli.com", "Recruiter note", core.CategoryRecruiterResponse, 25)

	records := []*core.EmailRecord{acme, globex, globexReply, recent, freemail, otherFreemailReply, stale, staleOldReply}
	followUps := classify.ExtractFollowUps(records, now, 7*24*time.Hour)

	require.Len(t, followUps, 3)
	assert.Equal(t, stale.Id, followUps[0].RecordID)
	assert.Equal(t, "hooli.com", followUps[0].Counterparty)
	assert.Equal(t, 20, followUps[0].DaysSince)
	assert.Equal(t, acme.Id, followUps[1].RecordID)
	assert.Equal(t, freemail.Id, followUps[2].RecordID)
	assert.Equal(t, "bob@gmail.com", followUps[2].Counterparty)

	// A longer window keeps only the oldest.
	assert.Len(t, classify.ExtractFollowUps(records, now, 15*24*time.Hour), 1)
}

func TestSuggestActions(t *testing.T) {
	c := newClassifier(t, mock.NewMockBackend())

	records := []*core.EmailRecord{
		sent("jobs@acme.com", "Application: Backend Engineer", 10),
		received("jane@techcorp.com", "Interview recap", core.CategoryInterview, 4),
		received("jane@techcorp.com", "Interview tomorrow", core.CategoryInterview, 1),
		received("sam@recruit.io", "Quick question", core.CategoryRecruiterResponse, 3),
		received("sam@recruit.io", "Opportunity", core.CategoryRecruiterResponse, 8),
	}

	suggestions := c.SuggestActions(records, now)
	require.Len(t, suggestions, 4)

	assert.Equal(t, classify.ActionRespond, suggestions[0].Type)
	assert.Equal(t, 3, suggestions[0].DaysSince)
	assert.Equal(t, classify.ActionThankYou, suggestions[1].Type)
	assert.Equal(t, "Send thank you note for interview with jane@techcorp.com", suggestions[1].Action)
	assert.Equal(t, classify.ActionRespond, suggestions[2].Type)
	assert.Equal(t, 8, suggestions[2].DaysSince)
	assert.Equal(t, classify.ActionFollowUp, suggestions[3].Type)
	assert.Equal(t, classify.PriorityMedium, suggestions[3].Priority)
	assert.Equal(t, "Follow up on application to acme.com", suggestions[3].Action)

	var many []*core.EmailRecord
	for i := 0; i < 15; i++ {
		many = append(many, received("sam@recruit.io", "Ping", core.CategoryRecruiterResponse, 2+i))
	}
	assert.Len(t, c.SuggestActions(many, now), 10)
}

func TestAnalyzeProgress(t *testing.T) {
	acme := sent("jobs@acme.com", "Application A", 3)
	globex := sent("careers@globex.com", "Application B", 4)
	initech := sent("jobs@initech.com", "Application C", 5)
	old := sent("jobs@oldco.com", "Application D", 60)
	interview := received("hr@globex.com", "Interview", core.CategoryInterview, 2)
	offer := received("hr@acme.com", "Offer", core.CategoryOffer, 1)
	offer.ExtractedFields = map[string]string{"company": "Acme Corp"}
	noise := received("news@letters.com", "Newsletter", core.CategoryOther, 1)

	p := classify.AnalyzeProgress([]*core.EmailRecord{acme, globex, initech, old, interview, offer, noise}, now, 30)

	assert.Equal(t, 30, p.PeriodDays)
	assert.Equal(t, 6, p.TotalEmails)
	assert.Equal(t, 3, p.Applications)
	assert.Equal(t, 1, p.Interviews)
	assert.Equal(t, 1, p.Offers)
	assert.Equal(t, 0, p.Responses)
	assert.Equal(t, 33.3, p.InterviewRate)
	assert.Equal(t, 33.3, p.OfferRate)
	assert.Equal(t, 0.0, p.ResponseRate)
	assert.Equal(t, []string{"Acme Corp", "acme.com", "globex.com", "initech.com"}, p.Companies)
	assert.Equal(t, 4, p.UniqueCompanies)

	empty := classify.AnalyzeProgress(nil, now, 7)
	assert.Equal(t, 0.0, empty.ResponseRate)
	assert.Equal(t, 0, empty.TotalEmails)
}

func TestComputeStats(t *testing.T) {
	a := sent("jobs@acme.com", "A", 1)
	b := received("hr@acme.com", "B", core.CategoryOffer, 1)
	b.State = core.StateProcessed

	stats := classify.ComputeStats([]*core.EmailRecord{a, b})
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.ByCategory[core.CategoryOffer])
	assert.Contains(t, stats.String(), "- Offer: 1")
	assert.Contains(t, stats.String(), "- Rejection: 0")
}
