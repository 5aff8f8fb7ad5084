package classify

import (
	"cmp"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/insightmail/core"
)

// freemailDomains are shared mailbox providers; a counterparty there is the
// full address rather than the domain.
var freemailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"mail.com":       true,
}

// FollowUp is an application that has gone unanswered for too long.
type FollowUp struct {
	RecordID     core.ID
	Subject      string
	Counterparty string
	SentAt       time.Time
	DaysSince    int
}

// Address normalizes an email address, accepting "Name <addr>" forms.
func Address(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), "<>"))
}

// CounterpartyOf reduces an address to its organization: the domain, or the
// full address for freemail providers.
func CounterpartyOf(address string) string {
	addr := Address(address)
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr
	}
	domain := addr[at+1:]
	if freemailDomains[domain] {
		return addr
	}
	return domain
}

// Counterparty returns the other side of a record's conversation. Messages the
// account owner sent point at their recipient; everything else at its sender.
func Counterparty(r *core.EmailRecord) string {
	if r.Account != "" && r.Recipient != "" && Address(r.Sender) == Address(r.Account) {
		return CounterpartyOf(r.Recipient)
	}
	return CounterpartyOf(r.Sender)
}

// ExtractFollowUps flags ApplicationSent records older than window with no
// reply-category record from the same counterparty received after them.
// Results are ordered oldest application first.
func ExtractFollowUps(records []*core.EmailRecord, now time.Time, window time.Duration) []FollowUp {
	// latest reply time per counterparty
	replies := map[string]time.Time{}
	for _, r := range records {
		if !r.Category.IsReply() {
			continue
		}
		cp := Counterparty(r)
		if r.ReceivedAt.After(replies[cp]) {
			replies[cp] = r.ReceivedAt
		}
	}

	var out []FollowUp
	for _, r := range records {
		if r.Category != core.CategoryApplicationSent || r.ReceivedAt.IsZero() {
			continue
		}
		age := now.Sub(r.ReceivedAt)
		if age < window {
			continue
		}
		cp := Counterparty(r)
		if last, ok := replies[cp]; ok && last.After(r.ReceivedAt) {
			continue
		}
		out = append(out, FollowUp{
			RecordID:     r.Id,
			Subject:      r.Subject,
			Counterparty: cp,
			SentAt:       r.ReceivedAt,
			DaysSince:    int(age.Hours() / 24),
		})
	}

	slices.SortFunc(out, func(a, b FollowUp) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})
	return out
}

// FollowUps runs ExtractFollowUps with the classifier's staleness window.
func (c *Classifier) FollowUps(records []*core.EmailRecord, now time.Time) []FollowUp {
	return ExtractFollowUps(records, now, c.stalenessWindow)
}

// ActionType is the kind of suggested action.
type ActionType string

const (
	ActionFollowUp ActionType = "follow_up"
	ActionThankYou ActionType = "thank_you"
	ActionRespond  ActionType = "response"
)

// Priority orders suggestions; lower values come first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Suggestion is a recommended next step for one record.
type Suggestion struct {
	Type      ActionType
	Priority  Priority
	Action    string
	RecordID  core.ID
	Subject   string
	DaysSince int
	Reasoning string
}

const (
	maxSuggestions    = 10
	thankYouAfterDays = 3
	respondAfterDays  = 2
)

// SuggestActions proposes follow-ups for stale applications, thank-you notes
// after interviews and replies to recruiters, sorted by priority then by
// fewest days elapsed, capped at ten.
func (c *Classifier) SuggestActions(records []*core.EmailRecord, now time.Time) []Suggestion {
	var out []Suggestion
	for _, f := range c.FollowUps(records, now) {
		out = append(out, Suggestion{
			Type:      ActionFollowUp,
			Priority:  PriorityMedium,
			Action:    "Follow up on application to " + f.Counterparty,
			RecordID:  f.RecordID,
			Subject:   f.Subject,
			DaysSince: f.DaysSince,
			Reasoning: fmt.Sprintf("No response received after %d days", f.DaysSince),
		})
	}

	for _, r := range records {
		if r.ReceivedAt.IsZero() {
			continue
		}
		days := int(now.Sub(r.ReceivedAt).Hours() / 24)
		switch {
		case r.Category == core.CategoryInterview && days >= thankYouAfterDays:
			out = append(out, Suggestion{
				Type:      ActionThankYou,
				Priority:  PriorityHigh,
				Action:    "Send thank you note for interview with " + Address(r.Sender),
				RecordID:  r.Id,
				Subject:   r.Subject,
				DaysSince: days,
				Reasoning: "Interview follow-up is overdue",
			})
		case r.Category == core.CategoryRecruiterResponse && days >= respondAfterDays:
			out = append(out, Suggestion{
				Type:      ActionRespond,
				Priority:  PriorityHigh,
				Action:    "Respond to recruiter " + Address(r.Sender),
				RecordID:  r.Id,
				Subject:   r.Subject,
				DaysSince: days,
				Reasoning: "Recruiter response requires timely reply",
			})
		}
	}

	slices.SortStableFunc(out, func(a, b Suggestion) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.DaysSince, b.DaysSince)
	})
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}
