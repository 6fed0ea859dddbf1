package member

import (
	"fmt"
	"strings"

	"memberportal/api/internal/clean"
)

// Personal is the member's identity record.
type Personal struct {
	Base
	NameFields
	Gender       string `json:"gender"`
	DateOfBirth  string `json:"dateOfBirth"`
	PlaceOfBirth string `json:"placeOfBirth"`
	Citizenship  string `json:"citizenship"`
}

var personalFields = fields(
	nameFields("", func(r *Personal) *NameFields { return &r.NameFields }),
	[]fieldDef[Personal]{
		text("gender", func(r *Personal) *string { return &r.Gender }, clean.Text),
		text("dateOfBirth", func(r *Personal) *string { return &r.DateOfBirth }, clean.Text),
		text("placeOfBirth", func(r *Personal) *string { return &r.PlaceOfBirth }, clean.Collapse),
		text("citizenship", func(r *Personal) *string { return &r.Citizenship }, clean.Code),
	},
)

func (r *Personal) Section() Section { return SectionPersonal }
func (r *Personal) Fields() []string { return personalFields.names() }
func (r *Personal) Get(field string) (any, error) { return personalFields.get(r, field) }
func (r *Personal) Derive() { r.NameFields.derive() }
func (r *Personal) Clean() { personalFields.cleanAll(r); r.Derive() }
func (r *Personal) Clone() Record { c := *r; return &c }
func (r *Personal) Set(field string, value any) error {
	if err := personalFields.set(r, field, value); err != nil {
		return err
	}
	r.Derive()
	return nil
}

// ContactInfo is the part of the contact section stored in the contact category.
type ContactInfo struct {
	PersonalEmail  string `json:"personalEmail"`
	WorkEmail      string `json:"workEmail"`
	MobilePhone    string `json:"mobilePhone"`
	HomePhone      string `json:"homePhone"`
	WorkPhone      string `json:"workPhone"`
	PreferredPhone string `json:"preferredPhone"`
}

// Contact combines contact details with the member's name, which lives in
// the personal category.
type Contact struct {
	Base
	NameFields
	ContactInfo
}

var contactFields = fields(
	nameFields("", func(r *Contact) *NameFields { return &r.NameFields }),
	[]fieldDef[Contact]{
		text("personalEmail", func(r *Contact) *string { return &r.PersonalEmail }, clean.Email),
		text("workEmail", func(r *Contact) *string { return &r.WorkEmail }, clean.Email),
		text("mobilePhone", func(r *Contact) *string { return &r.MobilePhone }, clean.Phone),
		text("homePhone", func(r *Contact) *string { return &r.HomePhone }, clean.Phone),
		text("workPhone", func(r *Contact) *string { return &r.WorkPhone }, clean.Phone),
		text("preferredPhone", func(r *Contact) *string { return &r.PreferredPhone }, clean.Text),
	},
)

func (r *Contact) Section() Section { return SectionContact }
func (r *Contact) Fields() []string { return contactFields.names() }
func (r *Contact) Get(field string) (any, error) { return contactFields.get(r, field) }
func (r *Contact) Derive() { r.NameFields.derive() }
func (r *Contact) Clean() { contactFields.cleanAll(r); r.Derive() }
func (r *Contact) Clone() Record { c := *r; return &c }
func (r *Contact) Set(field string, value any) error {
	if err := contactFields.set(r, field, value); err != nil {
		return err
	}
	r.Derive()
	return nil
}

// Addresses holds the home and mailing addresses. When MailingSameAsHome is
// set the mailing address mirrors home.
type Addresses struct {
	Base
	Home              Address `json:"home"`
	Mailing           Address `json:"mailing"`
	MailingSameAsHome bool    `json:"mailingSameAsHome"`
}

var addressesFields = fields(
	addressFields("home.", func(r *Addresses) *Address { return &r.Home }),
	addressFields("mailing.", func(r *Addresses) *Address { return &r.Mailing }),
	[]fieldDef[Addresses]{
		flag("mailingSameAsHome", func(r *Addresses) *bool { return &r.MailingSameAsHome }),
	},
)

func (r *Addresses) Section() Section { return SectionAddresses }
func (r *Addresses) Fields() []string { return addressesFields.names() }
func (r *Addresses) Get(field string) (any, error) { return addressesFields.get(r, field) }
func (r *Addresses) Clean() { addressesFields.cleanAll(r); r.Derive() }
func (r *Addresses) Clone() Record { c := *r; return &c }
func (r *Addresses) Derive() {
	if r.MailingSameAsHome {
		r.Mailing = r.Home
	}
}
func (r *Addresses) Set(field string, value any) error {
	if r.MailingSameAsHome && strings.HasPrefix(field, "mailing.") {
		return fmt.Errorf("%w: %s mirrors the home address", ErrReadOnly, field)
	}
	if err := addressesFields.set(r, field, value); err != nil {
		return err
	}
	r.Derive()
	return nil
}

// Family records marital status and parents.
type Family struct {
	Base
	MaritalStatus    string     `json:"maritalStatus"`
	Spouse           NameFields `json:"spouse"`
	FatherFullName   string     `json:"fatherFullName"`
	MotherFullName   string     `json:"motherFullName"`
	MotherMaidenName string     `json:"motherMaidenName"`
}

var familyFields = fields(
	[]fieldDef[Family]{
		text("maritalStatus", func(r *Family) *string { return &r.MaritalStatus }, clean.Text),
	},
	nameFields("spouse.", func(r *Family) *NameFields { return &r.Spouse }),
	[]fieldDef[Family]{
		text("fatherFullName", func(r *Family) *string { return &r.FatherFullName }, clean.Name),
		text("motherFullName", func(r *Family) *string { return &r.MotherFullName }, clean.Name),
		text("motherMaidenName", func(r *Family) *string { return &r.MotherMaidenName }, clean.Name),
	},
)

func (r *Family) Section() Section { return SectionFamily }
func (r *Family) Fields() []string { return familyFields.names() }
func (r *Family) Get(field string) (any, error) { return familyFields.get(r, field) }
func (r *Family) Derive() { r.Spouse.derive() }
func (r *Family) Clean() { familyFields.cleanAll(r); r.Derive() }
func (r *Family) Clone() Record { c := *r; return &c }
func (r *Family) Set(field string, value any) error {
	if err := familyFields.set(r, field, value); err != nil {
		return err
	}
	r.Derive()
	return nil
}

// Occupation records employment and military service.
type Occupation struct {
	Base
	Occupation       string `json:"occupation"`
	Industry         string `json:"industry"`
	Employer         string `json:"employer"`
	MilitaryService  bool   `json:"militaryService"`
	MilitaryBranch   string `json:"militaryBranch"`
	ServiceStartYear string `json:"serviceStartYear"`
	ServiceEndYear   string `json:"serviceEndYear"`
}

var occupationFields = fields([]fieldDef[Occupation]{
	text("occupation", func(r *Occupation) *string { return &r.Occupation }, clean.Collapse),
	text("industry", func(r *Occupation) *string { return &r.Industry }, clean.Collapse),
	text("employer", func(r *Occupation) *string { return &r.Employer }, clean.Collapse),
	flag("militaryService", func(r *Occupation) *bool { return &r.MilitaryService }),
	text("militaryBranch", func(r *Occupation) *string { return &r.MilitaryBranch }, clean.Collapse),
	text("serviceStartYear", func(r *Occupation) *string { return &r.ServiceStartYear }, clean.Digits),
	text("serviceEndYear", func(r *Occupation) *string { return &r.ServiceEndYear }, clean.Digits),
})

func (r *Occupation) Section() Section { return SectionOccupation }
func (r *Occupation) Fields() []string { return occupationFields.names() }
func (r *Occupation) Get(field string) (any, error) { return occupationFields.get(r, field) }
func (r *Occupation) Derive() {}
func (r *Occupation) Clean() { occupationFields.cleanAll(r) }
func (r *Occupation) Clone() Record { c := *r; return &c }
func (r *Occupation) Set(field string, value any) error {
	return occupationFields.set(r, field, value)
}

// Medical holds the member's health background.
type Medical struct {
	Base
	Height           string `json:"height"`
	Weight           string `json:"weight"`
	BloodType        string `json:"bloodType"`
	PrimaryPhysician string `json:"primaryPhysician"`
	PhysicianPhone   string `json:"physicianPhone"`
	HealthProblems   string `json:"healthProblems"`
	Allergies        string `json:"allergies"`
	Medications      string `json:"medications"`
}

var medicalFields = fields([]fieldDef[Medical]{
	text("height", func(r *Medical) *string { return &r.Height }, clean.Collapse),
	text("weight", func(r *Medical) *string { return &r.Weight }, clean.Collapse),
	text("bloodType", func(r *Medical) *string { return &r.BloodType }, clean.Code),
	text("primaryPhysician", func(r *Medical) *string { return &r.PrimaryPhysician }, clean.Name),
	text("physicianPhone", func(r *Medical) *string { return &r.PhysicianPhone }, clean.Phone),
	text("healthProblems", func(r *Medical) *string { return &r.HealthProblems }, clean.Text),
	text("allergies", func(r *Medical) *string { return &r.Allergies }, clean.Text),
	text("medications", func(r *Medical) *string { return &r.Medications }, clean.Text),
})

func (r *Medical) Section() Section { return SectionMedical }
func (r *Medical) Fields() []string { return medicalFields.names() }
func (r *Medical) Get(field string) (any, error) { return medicalFields.get(r, field) }
func (r *Medical) Derive() {}
func (r *Medical) Clean() { medicalFields.cleanAll(r) }
func (r *Medical) Clone() Record { c := *r; return &c }
func (r *Medical) Set(field string, value any) error {
	return medicalFields.set(r, field, value)
}

// CryoArrangements records the member's preservation choices.
type CryoArrangements struct {
	Base
	Method                 string `json:"method"`
	RemainsRetention       string `json:"remainsRetention"`
	CMSWaiver              bool   `json:"cmsWaiver"`
	PublicDisclosure       string `json:"publicDisclosure"`
	MemberPublicDisclosure string `json:"memberPublicDisclosure"`
}

var cryoFields = fields([]fieldDef[CryoArrangements]{
	text("method", func(r *CryoArrangements) *string { return &r.Method }, clean.Collapse),
	text("remainsRetention", func(r *CryoArrangements) *string { return &r.RemainsRetention }, clean.Collapse),
	flag("cmsWaiver", func(r *CryoArrangements) *bool { return &r.CMSWaiver }),
	text("publicDisclosure", func(r *CryoArrangements) *string { return &r.PublicDisclosure }, clean.Collapse),
	text("memberPublicDisclosure", func(r *CryoArrangements) *string { return &r.MemberPublicDisclosure }, clean.Collapse),
})

func (r *CryoArrangements) Section() Section { return SectionCryoArrangements }
func (r *CryoArrangements) Fields() []string { return cryoFields.names() }
func (r *CryoArrangements) Get(field string) (any, error) { return cryoFields.get(r, field) }
func (r *CryoArrangements) Derive() {}
func (r *CryoArrangements) Clean() { cryoFields.cleanAll(r) }
func (r *CryoArrangements) Clone() Record { c := *r; return &c }
func (r *CryoArrangements) Set(field string, value any) error {
	return cryoFields.set(r, field, value)
}

// Funding describes how the member's arrangements are paid for.
type Funding struct {
	Base
	FundingMethod string `json:"fundingMethod"`
	Carrier       string `json:"carrier"`
	PolicyNumber  string `json:"policyNumber"`
	FaceAmount    string `json:"faceAmount"`
	AnnualPremium string `json:"annualPremium"`
	Beneficiary   string `json:"beneficiary"`
}

var fundingFields = fields([]fieldDef[Funding]{
	text("fundingMethod", func(r *Funding) *string { return &r.FundingMethod }, clean.Collapse),
	text("carrier", func(r *Funding) *string { return &r.Carrier }, clean.Collapse),
	text("policyNumber", func(r *Funding) *string { return &r.PolicyNumber }, clean.Code),
	text("faceAmount", func(r *Funding) *string { return &r.FaceAmount }, clean.Collapse),
	text("annualPremium", func(r *Funding) *string { return &r.AnnualPremium }, clean.Collapse),
	text("beneficiary", func(r *Funding) *string { return &r.Beneficiary }, clean.Collapse),
})

func (r *Funding) Section() Section { return SectionFunding }
func (r *Funding) Fields() []string { return fundingFields.names() }
func (r *Funding) Get(field string) (any, error) { return fundingFields.get(r, field) }
func (r *Funding) Derive() {}
func (r *Funding) Clean() { fundingFields.cleanAll(r) }
func (r *Funding) Clone() Record { c := *r; return &c }
func (r *Funding) Set(field string, value any) error {
	return fundingFields.set(r, field, value)
}

// Legal records wills and powers of attorney.
type Legal struct {
	Base
	HasWill            bool   `json:"hasWill"`
	WillContraryToCryo bool   `json:"willContraryToCryo"`
	HasPowerOfAttorney bool   `json:"hasPowerOfAttorney"`
	AttorneyName       string `json:"attorneyName"`
	AttorneyPhone      string `json:"attorneyPhone"`
}

var legalFields = fields([]fieldDef[Legal]{
	flag("hasWill", func(r *Legal) *bool { return &r.HasWill }),
	flag("willContraryToCryo", func(r *Legal) *bool { return &r.WillContraryToCryo }),
	flag("hasPowerOfAttorney", func(r *Legal) *bool { return &r.HasPowerOfAttorney }),
	text("attorneyName", func(r *Legal) *string { return &r.AttorneyName }, clean.Name),
	text("attorneyPhone", func(r *Legal) *string { return &r.AttorneyPhone }, clean.Phone),
})

func (r *Legal) Section() Section { return SectionLegal }
func (r *Legal) Fields() []string { return legalFields.names() }
func (r *Legal) Get(field string) (any, error) { return legalFields.get(r, field) }
func (r *Legal) Clean() { legalFields.cleanAll(r); r.Derive() }
func (r *Legal) Clone() Record { c := *r; return &c }
func (r *Legal) Derive() {
	if !r.HasWill {
		r.WillContraryToCryo = false
	}
}
func (r *Legal) Set(field string, value any) error {
	if err := legalFields.set(r, field, value); err != nil {
		return err
	}
	r.Derive()
	return nil
}
