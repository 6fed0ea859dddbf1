package store

import "time"

// SectionSave is one row of the append-only save audit log.
type SectionSave struct {
	ID            string
	MemberID      string
	Section       string
	Tier          string
	Categories    []string
	ChangedFields []string
	SavedBy       string
	SavedAt       time.Time
}

// DirectoryEntry is the staff-searchable summary of a member.
type DirectoryEntry struct {
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
