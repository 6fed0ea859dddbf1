package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberportal/api/internal/member"
)

func TestFullMemberContactRequiresMobileAndEmail(t *testing.T) {
	record := &member.Contact{ContactInfo: member.ContactInfo{PersonalEmail: "jane@example.org"}}

	errs := Check(DefaultRules(), member.TierMember, record)

	require.Len(t, errs, 1)
	assert.Contains(t, errs, "mobilePhone")
}

func TestBasicContactDoesNotRequireMobile(t *testing.T) {
	record := &member.Contact{ContactInfo: member.ContactInfo{PersonalEmail: "jane@example.org"}}
	assert.Nil(t, Check(DefaultRules(), member.TierBasic, record))
}

func TestWhitespaceCountsAsMissing(t *testing.T) {
	record := &member.Personal{NameFields: member.NameFields{FirstName: "  ", LastName: "Doe"}}
	errs := Check(DefaultRules(), member.TierBasic, record)
	assert.Equal(t, FieldErrors{"firstName": msgRequired}, errs)
}

func TestUnknownTierGetsUnionOfRequiredFields(t *testing.T) {
	rules := DefaultRules()
	required := rules.Required(member.Tier("Suspended"), member.SectionPersonal)
	assert.ElementsMatch(t, []string{"firstName", "lastName", "gender", "dateOfBirth", "citizenship"}, required)

	for _, tier := range member.KnownTiers {
		for _, field := range rules.Required(tier, member.SectionNextOfKin) {
			assert.Contains(t, rules.Required(member.Tier(""), member.SectionNextOfKin), field)
		}
	}
}

func TestInvalidEmailIsReported(t *testing.T) {
	record := &member.Contact{ContactInfo: member.ContactInfo{
		PersonalEmail: "jane@example.org",
		WorkEmail:     "jane at work",
	}}
	errs := Check(DefaultRules(), member.TierBasic, record)
	assert.Equal(t, FieldErrors{"workEmail": msgInvalidEmail}, errs)
}

func TestNextOfKinRulesApplyPerEntry(t *testing.T) {
	list := &member.NextOfKin{}
	errs := Check(DefaultRules(), member.TierMember, list)
	assert.Equal(t, FieldErrors{EntriesField: msgNoEntries}, errs)

	list.Entries = []member.Kin{
		{NameFields: member.NameFields{FirstName: "Ann", LastName: "Lee"}, Relationship: "Sister", MobilePhone: "(555) 123-4567"},
		{NameFields: member.NameFields{FirstName: "Bo"}, Email: "bad"},
	}
	errs = Check(DefaultRules(), member.TierMember, list)
	assert.Equal(t, FieldErrors{
		"1.lastName":     msgRequired,
		"1.relationship": msgRequired,
		"1.mobilePhone":  msgRequired,
		"1.email":        msgInvalidEmail,
	}, errs)
}

func TestParseRulesOverridesSection(t *testing.T) {
	rules, err := ParseRules([]byte(`
Basic:
  contact: [personalEmail, homePhone]
Lapsed:
  personal: [lastName]
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"personalEmail", "homePhone"}, rules.Required(member.TierBasic, member.SectionContact))
	assert.Equal(t, []string{"firstName", "lastName"}, rules.Required(member.TierBasic, member.SectionPersonal))
	assert.Equal(t, []string{"lastName"}, rules.Required(member.Tier("Lapsed"), member.SectionPersonal))
	assert.Equal(t, []string{"mobilePhone", "personalEmail"}, DefaultRules().Required(member.TierMember, member.SectionContact))
}

func TestParseRulesRejectsUnknownSection(t *testing.T) {
	_, err := ParseRules([]byte("Basic:\n  payroll: [iban]\n"))
	assert.Error(t, err)
}

func TestLoadRulesWithoutPathReturnsDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}
