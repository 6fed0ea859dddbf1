// Package validate holds the per-tier required-field table and the save-time
// checks run against a section record.
package validate

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"memberportal/api/internal/member"
)

// EntriesField is the pseudo-field that requires a list section to have at
// least one entry.
const EntriesField = "entries"

// Rules maps a tier and section to the fields that must be present at save time.
type Rules map[member.Tier]map[member.Section][]string

// DefaultRules is the table used when no override file is configured.
func DefaultRules() Rules {
	basic := map[member.Section][]string{
		member.SectionPersonal: {"firstName", "lastName"},
		member.SectionContact:  {"personalEmail"},
	}
	applicant := map[member.Section][]string{
		member.SectionPersonal:   {"firstName", "lastName", "gender", "dateOfBirth"},
		member.SectionContact:    {"mobilePhone", "personalEmail"},
		member.SectionAddresses:  {"home.street1", "home.city", "home.postalCode", "home.country"},
		member.SectionFamily:     {"maritalStatus"},
		member.SectionOccupation: {"occupation"},
		member.SectionNextOfKin:  {"firstName", "lastName", "relationship"},
	}
	full := map[member.Section][]string{
		member.SectionPersonal:         {"firstName", "lastName", "gender", "dateOfBirth", "citizenship"},
		member.SectionContact:          {"mobilePhone", "personalEmail"},
		member.SectionAddresses:        {"home.street1", "home.city", "home.postalCode", "home.country"},
		member.SectionFamily:           {"maritalStatus"},
		member.SectionOccupation:       {"occupation"},
		member.SectionMedical:          {"primaryPhysician"},
		member.SectionCryoArrangements: {"method", "remainsRetention"},
		member.SectionFunding:          {"fundingMethod"},
		member.SectionNextOfKin:        {EntriesField, "firstName", "lastName", "relationship", "mobilePhone"},
	}
	return Rules{
		member.TierBasic:     basic,
		member.TierApplicant: applicant,
		member.TierMember:    full,
	}
}

// Required returns the required fields for a tier and section. An unknown
// tier gets the union across every tier so that it is asked for more, never less.
func (r Rules) Required(tier member.Tier, section member.Section) []string {
	if sections, ok := r[tier]; ok {
		return sections[section]
	}
	seen := make(map[string]struct{})
	var union []string
	for _, sections := range r {
		for _, field := range sections[section] {
			if _, ok := seen[field]; ok {
				continue
			}
			seen[field] = struct{}{}
			union = append(union, field)
		}
	}
	sort.Strings(union)
	return union
}

// Merge overlays other onto a copy of r. A section listed in other replaces
// the section in r entirely.
func (r Rules) Merge(other Rules) Rules {
	out := make(Rules, len(r))
	for tier, sections := range r {
		out[tier] = make(map[member.Section][]string, len(sections))
		for section, fields := range sections {
			out[tier][section] = append([]string(nil), fields...)
		}
	}
	for tier, sections := range other {
		if out[tier] == nil {
			out[tier] = make(map[member.Section][]string, len(sections))
		}
		for section, fields := range sections {
			out[tier][section] = append([]string(nil), fields...)
		}
	}
	return out
}

// LoadRules reads a YAML override file and merges it over DefaultRules.
// An empty path returns the defaults.
//
//	Full Member:
//	  contact: [mobilePhone, personalEmail]
func LoadRules(path string) (Rules, error) {
	defaults := DefaultRules()
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read required fields file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes a YAML override document and merges it over DefaultRules.
func ParseRules(raw []byte) (Rules, error) {
	var doc map[string]map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse required fields: %w", err)
	}
	overrides := make(Rules, len(doc))
	for tierName, sections := range doc {
		tier := member.Tier(tierName)
		overrides[tier] = make(map[member.Section][]string, len(sections))
		for sectionName, fields := range sections {
			section, err := member.ParseSection(sectionName)
			if err != nil {
				return nil, fmt.Errorf("required fields for %s: %w", tierName, err)
			}
			overrides[tier][section] = fields
		}
	}
	return DefaultRules().Merge(overrides), nil
}
