package portal

import (
	"fmt"

	"memberportal/api/internal/member"
)

// write is one category a section persists on save.
type write struct {
	category member.Category
	payload  func(member.Record) any
}

// sectionDef describes where a section's record comes from and where it goes.
type sectionDef struct {
	section member.Section
	// reads are fetched through the cache and handed to decode together.
	reads  []member.Category
	decode func(envs map[member.Category]member.Envelope) (member.Record, error)
	writes []write
}

func (d *sectionDef) readsCategory(category member.Category) bool {
	for _, c := range d.reads {
		if c == category {
			return true
		}
	}
	return false
}

func (d *sectionDef) writeCategories() []member.Category {
	out := make([]member.Category, 0, len(d.writes))
	for _, w := range d.writes {
		out = append(out, w.category)
	}
	return out
}

// single is the common shape: one category read and written as a whole.
func single(section member.Section, category member.Category) *sectionDef {
	return &sectionDef{
		section: section,
		reads:   []member.Category{category},
		decode: func(envs map[member.Category]member.Envelope) (member.Record, error) {
			return member.Decode(section, envs[category].Data)
		},
		writes: []write{{category: category, payload: wholeRecord}},
	}
}

func wholeRecord(r member.Record) any { return r }

// contactDef reads the contact category plus the name fragment of the
// personal category, and writes each part back to where it came from.
func contactDef() *sectionDef {
	return &sectionDef{
		section: member.SectionContact,
		reads:   []member.Category{member.CategoryContact, member.CategoryPersonal},
		decode: func(envs map[member.Category]member.Envelope) (member.Record, error) {
			record, err := member.Decode(member.SectionContact, envs[member.CategoryContact].Data)
			if err != nil {
				return nil, err
			}
			contact := record.(*member.Contact)
			if err := member.DecodeInto(&contact.NameFields, envs[member.CategoryPersonal].Data); err != nil {
				return nil, fmt.Errorf("decode name: %w", err)
			}
			contact.Derive()
			return contact, nil
		},
		writes: []write{
			{category: member.CategoryContact, payload: func(r member.Record) any {
				c := r.(*member.Contact)
				return struct {
					member.Base
					member.ContactInfo
				}{c.Base, c.ContactInfo}
			}},
			{category: member.CategoryPersonal, payload: func(r member.Record) any {
				return r.(*member.Contact).NameFields
			}},
		},
	}
}

var definitions = map[member.Section]*sectionDef{
	member.SectionPersonal:         single(member.SectionPersonal, member.CategoryPersonal),
	member.SectionContact:          contactDef(),
	member.SectionAddresses:        single(member.SectionAddresses, member.CategoryAddresses),
	member.SectionFamily:           single(member.SectionFamily, member.CategoryFamily),
	member.SectionOccupation:       single(member.SectionOccupation, member.CategoryOccupation),
	member.SectionMedical:          single(member.SectionMedical, member.CategoryMedical),
	member.SectionCryoArrangements: single(member.SectionCryoArrangements, member.CategoryCryoArrangements),
	member.SectionFunding:          single(member.SectionFunding, member.CategoryFunding),
	member.SectionLegal:            single(member.SectionLegal, member.CategoryLegal),
	member.SectionNextOfKin:        single(member.SectionNextOfKin, member.CategoryNextOfKin),
}
