package search

import (
	"context"
	"time"
)

// Member is the document indexed for one member in the staff directory.
type Member struct {
	MemberID  string    `json:"memberId"`
	FullName  string    `json:"fullName"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Country   string    `json:"country"`
	Tier      string    `json:"tier"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Result is a single directory hit returned to staff.
type Result struct {
	MemberID string `json:"memberId"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Location string `json:"location"`
	Tier     string `json:"tier"`
	Snippet  string `json:"snippet,omitempty"`
}

// Query describes a directory search request.
type Query struct {
	Text   string
	Tier   string // empty = all tiers
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a directory search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// Engine is a search backend that also accepts documents.
type Engine interface {
	Searcher
	Healthy() bool
	IndexMembers(members []Member) error
	DeleteMember(id string) error
}

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func location(city, state, country string) string {
	out := ""
	for _, part := range []string{city, state, country} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}
