package member

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"memberportal/api/internal/clean"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid value")
	ErrReadOnly     = errors.New("field is derived")
)

// Record is the typed value of one section. Set applies the field's cleaner
// and recomputes derived fields in the same call.
type Record interface {
	Section() Section
	Fields() []string
	Get(field string) (any, error)
	Set(field string, value any) error
	Clean()
	Derive()
	Clone() Record
}

// ListRecord is a list-valued section. Entry fields are addressed as
// "<index>.<field>".
type ListRecord interface {
	Record
	Len() int
	Append()
	Remove(index int) error
}

// Base carries the CRM bookkeeping every record has.
type Base struct {
	ID           string `json:"id,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// NameFields is the name fragment shared by personal, contact and next-of-kin
// records. FullName is always derived from the parts.
type NameFields struct {
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	LastName   string `json:"lastName"`
	FullName   string `json:"fullName"`
}

func (n *NameFields) derive() {
	parts := make([]string, 0, 3)
	for _, part := range []string{n.FirstName, n.MiddleName, n.LastName} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	n.FullName = strings.Join(parts, " ")
}

// Address is a postal address sub-object.
type Address struct {
	Street1    string `json:"street1"`
	Street2    string `json:"street2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// New returns an empty record for section.
func New(section Section) (Record, error) {
	switch section {
	case SectionPersonal:
		return &Personal{}, nil
	case SectionContact:
		return &Contact{}, nil
	case SectionAddresses:
		return &Addresses{}, nil
	case SectionFamily:
		return &Family{}, nil
	case SectionOccupation:
		return &Occupation{}, nil
	case SectionMedical:
		return &Medical{}, nil
	case SectionCryoArrangements:
		return &CryoArrangements{}, nil
	case SectionFunding:
		return &Funding{}, nil
	case SectionLegal:
		return &Legal{}, nil
	case SectionNextOfKin:
		return &NextOfKin{}, nil
	default:
		return nil, fmt.Errorf("unknown section %q", section)
	}
}

// fieldDef binds a field name to accessors on a concrete record type.
type fieldDef[R any] struct {
	name  string
	get   func(*R) any
	set   func(*R, any) error
	clean func(*R)
}

type fieldSet[R any] []fieldDef[R]

func (fs fieldSet[R]) names() []string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.name)
	}
	return names
}

func (fs fieldSet[R]) lookup(name string) (fieldDef[R], error) {
	for _, f := range fs {
		if f.name == name {
			return f, nil
		}
	}
	return fieldDef[R]{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
}

func (fs fieldSet[R]) get(r *R, name string) (any, error) {
	f, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	return f.get(r), nil
}

func (fs fieldSet[R]) set(r *R, name string, value any) error {
	f, err := fs.lookup(name)
	if err != nil {
		return err
	}
	return f.set(r, value)
}

func (fs fieldSet[R]) cleanAll(r *R) {
	for _, f := range fs {
		if f.clean != nil {
			f.clean(r)
		}
	}
}

func text[R any](name string, ptr func(*R) *string, fn clean.Func) fieldDef[R] {
	return fieldDef[R]{
		name: name,
		get:  func(r *R) any { return *ptr(r) },
		set: func(r *R, value any) error {
			s, err := asString(name, value)
			if err != nil {
				return err
			}
			*ptr(r) = fn(s)
			return nil
		},
		clean: func(r *R) {
			p := ptr(r)
			*p = fn(*p)
		},
	}
}

func flag[R any](name string, ptr func(*R) *bool) fieldDef[R] {
	return fieldDef[R]{
		name: name,
		get:  func(r *R) any { return *ptr(r) },
		set: func(r *R, value any) error {
			switch v := value.(type) {
			case nil:
				*ptr(r) = false
			case bool:
				*ptr(r) = v
			default:
				return fmt.Errorf("%w: %s expects a boolean", ErrInvalidValue, name)
			}
			return nil
		},
	}
}

func derived[R any](name string, ptr func(*R) *string) fieldDef[R] {
	return fieldDef[R]{
		name: name,
		get:  func(r *R) any { return *ptr(r) },
		set: func(*R, any) error {
			return fmt.Errorf("%w: %s", ErrReadOnly, name)
		},
	}
}

func nameFields[R any](prefix string, ptr func(*R) *NameFields) []fieldDef[R] {
	return []fieldDef[R]{
		text(prefix+"firstName", func(r *R) *string { return &ptr(r).FirstName }, clean.Name),
		text(prefix+"middleName", func(r *R) *string { return &ptr(r).MiddleName }, clean.Name),
		text(prefix+"lastName", func(r *R) *string { return &ptr(r).LastName }, clean.Name),
		derived(prefix+"fullName", func(r *R) *string { return &ptr(r).FullName }),
	}
}

func addressFields[R any](prefix string, ptr func(*R) *Address) []fieldDef[R] {
	return []fieldDef[R]{
		text(prefix+"street1", func(r *R) *string { return &ptr(r).Street1 }, clean.Collapse),
		text(prefix+"street2", func(r *R) *string { return &ptr(r).Street2 }, clean.Collapse),
		text(prefix+"city", func(r *R) *string { return &ptr(r).City }, clean.Collapse),
		text(prefix+"state", func(r *R) *string { return &ptr(r).State }, clean.Code),
		text(prefix+"postalCode", func(r *R) *string { return &ptr(r).PostalCode }, clean.PostalCode),
		text(prefix+"country", func(r *R) *string { return &ptr(r).Country }, clean.Code),
	}
}

func fields[R any](groups ...[]fieldDef[R]) fieldSet[R] {
	var out fieldSet[R]
	for _, group := range groups {
		out = append(out, group...)
	}
	return out
}

func asString(name string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return fmt.Sprintf("%v", v), nil
	case int:
		return fmt.Sprintf("%d", v), nil
	default:
		return "", fmt.Errorf("%w: %s expects a string", ErrInvalidValue, name)
	}
}

// Decode builds a record for section from one CRM payload. A null payload
// yields an empty record.
func Decode(section Section, data json.RawMessage) (Record, error) {
	record, err := New(section)
	if err != nil {
		return nil, err
	}
	if err := DecodeInto(record, data); err != nil {
		return nil, err
	}
	record.Derive()
	return record, nil
}

// DecodeInto overlays a CRM payload onto an existing value.
func DecodeInto(target any, data json.RawMessage) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// IsEmpty reports whether a field value counts as missing.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}
