// Package member holds the member-record data model shared by the CRM client,
// the fetch cache and the section orchestrator.
package member

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID identifies one member record in the CRM. It is opaque to the portal.
type ID string

func (id ID) String() string { return string(id) }

// Category is a CRM sub-record kind. Each category has its own endpoint.
type Category string

const (
	CategoryPersonal         Category = "personal"
	CategoryContact          Category = "contact"
	CategoryAddresses        Category = "addresses"
	CategoryFamily           Category = "family"
	CategoryOccupation       Category = "occupation"
	CategoryMedical          Category = "medical"
	CategoryCryoArrangements Category = "cryo-arrangements"
	CategoryLegal            Category = "legal"
	CategoryNextOfKin        Category = "next-of-kin"
	CategoryFunding          Category = "funding"
	CategoryInsurance        Category = "insurance"
)

// AllCategories lists every CRM category in a stable order.
var AllCategories = []Category{
	CategoryPersonal,
	CategoryContact,
	CategoryAddresses,
	CategoryFamily,
	CategoryOccupation,
	CategoryMedical,
	CategoryCryoArrangements,
	CategoryLegal,
	CategoryNextOfKin,
	CategoryFunding,
	CategoryInsurance,
}

// Section is one editable group of member fields with its own edit lifecycle.
type Section string

const (
	SectionPersonal         Section = "personal"
	SectionContact          Section = "contact"
	SectionAddresses        Section = "addresses"
	SectionFamily           Section = "family"
	SectionOccupation       Section = "occupation"
	SectionMedical          Section = "medical"
	SectionCryoArrangements Section = "cryoArrangements"
	SectionFunding          Section = "funding"
	SectionLegal            Section = "legal"
	SectionNextOfKin        Section = "nextOfKin"
)

// AllSections lists the editable sections in display order.
var AllSections = []Section{
	SectionPersonal,
	SectionContact,
	SectionAddresses,
	SectionFamily,
	SectionOccupation,
	SectionMedical,
	SectionCryoArrangements,
	SectionFunding,
	SectionLegal,
	SectionNextOfKin,
}

// ParseSection accepts a section name as used in URLs.
func ParseSection(raw string) (Section, error) {
	candidate := Section(strings.TrimSpace(raw))
	for _, section := range AllSections {
		if section == candidate {
			return section, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", raw)
}

// Tier is the member classification that drives section visibility and
// required fields.
type Tier string

const (
	TierBasic     Tier = "Basic"
	TierApplicant Tier = "Applicant"
	TierMember    Tier = "Full Member"
)

// KnownTiers lists the tiers the portal has rules for, least to most privileged.
var KnownTiers = []Tier{TierBasic, TierApplicant, TierMember}

// Known reports whether the tier is one the portal has rules for.
func (t Tier) Known() bool {
	switch t {
	case TierBasic, TierApplicant, TierMember:
		return true
	default:
		return false
	}
}

var visibleSections = map[Tier][]Section{
	TierBasic: {SectionPersonal, SectionContact, SectionAddresses},
	TierApplicant: {
		SectionPersonal, SectionContact, SectionAddresses, SectionFamily,
		SectionOccupation, SectionMedical, SectionNextOfKin,
	},
	TierMember: AllSections,
}

// VisibleSections returns the sections a tier may see. Unknown tiers get the
// Basic set.
func VisibleSections(tier Tier) []Section {
	if sections, ok := visibleSections[tier]; ok {
		return sections
	}
	return visibleSections[TierBasic]
}

// Visible reports whether section is shown to members of tier.
func Visible(tier Tier, section Section) bool {
	for _, candidate := range VisibleSections(tier) {
		if candidate == section {
			return true
		}
	}
	return false
}

// Envelope is the uniform wrapper returned by every CRM call.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HasData reports whether the envelope carries a non-null payload.
func (e Envelope) HasData() bool {
	trimmed := strings.TrimSpace(string(e.Data))
	return trimmed != "" && trimmed != "null"
}
