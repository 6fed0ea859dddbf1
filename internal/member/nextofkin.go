package member

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"memberportal/api/internal/clean"
)

// Kin is one next-of-kin contact.
type Kin struct {
	Base
	NameFields
	Relationship         string  `json:"relationship"`
	Email                string  `json:"email"`
	MobilePhone          string  `json:"mobilePhone"`
	HomePhone            string  `json:"homePhone"`
	Address              Address `json:"address"`
	WillingToBeContacted bool    `json:"willingToBeContacted"`
}

var kinFields = fields(
	nameFields("", func(k *Kin) *NameFields { return &k.NameFields }),
	[]fieldDef[Kin]{
		text("relationship", func(k *Kin) *string { return &k.Relationship }, clean.Collapse),
		text("email", func(k *Kin) *string { return &k.Email }, clean.Email),
		text("mobilePhone", func(k *Kin) *string { return &k.MobilePhone }, clean.Phone),
		text("homePhone", func(k *Kin) *string { return &k.HomePhone }, clean.Phone),
	},
	addressFields("address.", func(k *Kin) *Address { return &k.Address }),
	[]fieldDef[Kin]{
		flag("willingToBeContacted", func(k *Kin) *bool { return &k.WillingToBeContacted }),
	},
)

// NextOfKin is the list-valued next-of-kin section. On the wire it is a bare
// JSON array.
type NextOfKin struct {
	Entries []Kin
}

func (r *NextOfKin) Section() Section { return SectionNextOfKin }

// Fields lists the addressable paths of every current entry.
func (r *NextOfKin) Fields() []string {
	names := kinFields.names()
	out := make([]string, 0, len(r.Entries)*len(names))
	for i := range r.Entries {
		for _, name := range names {
			out = append(out, strconv.Itoa(i)+"."+name)
		}
	}
	return out
}

func (r *NextOfKin) Len() int { return len(r.Entries) }

func (r *NextOfKin) Get(field string) (any, error) {
	kin, name, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	return kinFields.get(kin, name)
}

func (r *NextOfKin) Set(field string, value any) error {
	kin, name, err := r.entry(field)
	if err != nil {
		return err
	}
	if err := kinFields.set(kin, name, value); err != nil {
		return err
	}
	kin.NameFields.derive()
	return nil
}

func (r *NextOfKin) entry(path string) (*Kin, string, error) {
	index, name, ok := strings.Cut(path, ".")
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 || i >= len(r.Entries) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	return &r.Entries[i], name, nil
}

func (r *NextOfKin) Append() {
	r.Entries = append(r.Entries, Kin{})
}

func (r *NextOfKin) Remove(index int) error {
	if index < 0 || index >= len(r.Entries) {
		return fmt.Errorf("%w: no entry %d", ErrInvalidValue, index)
	}
	r.Entries = append(r.Entries[:index:index], r.Entries[index+1:]...)
	return nil
}

func (r *NextOfKin) Derive() {
	for i := range r.Entries {
		r.Entries[i].NameFields.derive()
	}
}

func (r *NextOfKin) Clean() {
	for i := range r.Entries {
		kinFields.cleanAll(&r.Entries[i])
	}
	r.Derive()
}

func (r *NextOfKin) Clone() Record {
	c := &NextOfKin{}
	if r.Entries != nil {
		c.Entries = make([]Kin, len(r.Entries))
		copy(c.Entries, r.Entries)
	}
	return c
}

func (r NextOfKin) MarshalJSON() ([]byte, error) {
	if r.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Entries)
}

// UnmarshalJSON accepts either a bare array or {"entries": [...]}.
func (r *NextOfKin) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Entries []Kin `json:"entries"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		r.Entries = wrapped.Entries
		return nil
	}
	var entries []Kin
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	r.Entries = entries
	return nil
}
