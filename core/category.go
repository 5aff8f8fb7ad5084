package core

import (
	"fmt"
	"strings"
)

// Category is the job-search classification of an email.
type Category int

const (
	CategoryOther Category = iota
	CategoryApplicationSent
	CategoryRecruiterResponse
	CategoryInterview
	CategoryOffer
	CategoryRejection
)

// Categories lists every category in prompt order.
var Categories = []Category{
	CategoryApplicationSent,
	CategoryRecruiterResponse,
	CategoryInterview,
	CategoryOffer,
	CategoryRejection,
	CategoryOther,
}

var categoryNames = map[Category]string{
	CategoryApplicationSent:   "Application Sent",
	CategoryRecruiterResponse: "Recruiter Response",
	CategoryInterview:         "Interview",
	CategoryOffer:             "Offer",
	CategoryRejection:         "Rejection",
	CategoryOther:             "Other",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// IsReply reports whether the category represents an employer-side reply to an application.
func (c Category) IsReply() bool {
	switch c {
	case CategoryRecruiterResponse, CategoryInterview, CategoryOffer, CategoryRejection:
		return true
	}
	return false
}

// CategoryNames returns the display names of all categories in prompt order.
func CategoryNames() []string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = c.String()
	}
	return names
}

// ParseCategory resolves a category from its display name.
// Matching ignores case, spaces, underscores and hyphens, so "application_sent"
// and "ApplicationSent" both resolve.
func ParseCategory(s string) (Category, error) {
	key := normalizeCategoryKey(s)
	for c, name := range categoryNames {
		if normalizeCategoryKey(name) == key {
			return c, nil
		}
	}
	return CategoryOther, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func normalizeCategoryKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}
