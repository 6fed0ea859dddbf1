package validate

import (
	"net/mail"
	"strconv"
	"strings"

	"memberportal/api/internal/member"
)

// FieldErrors maps a field path to a human-readable message.
type FieldErrors map[string]string

const (
	msgRequired     = "This field is required"
	msgInvalidEmail = "Enter a valid email address"
	msgNoEntries    = "Add at least one entry"
)

// Check validates record for tier. It is consulted only at save time; an
// empty result means the record may be written.
func Check(rules Rules, tier member.Tier, record member.Record) FieldErrors {
	errs := FieldErrors{}
	required := rules.Required(tier, record.Section())

	if list, ok := record.(member.ListRecord); ok {
		checkList(errs, required, list)
	} else {
		for _, field := range required {
			value, err := record.Get(field)
			if err != nil || member.IsEmpty(value) {
				errs[field] = msgRequired
			}
		}
		checkEmails(errs, record, record.Fields())
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func checkList(errs FieldErrors, required []string, list member.ListRecord) {
	var perEntry []string
	for _, field := range required {
		if field == EntriesField {
			if list.Len() == 0 {
				errs[EntriesField] = msgNoEntries
			}
			continue
		}
		perEntry = append(perEntry, field)
	}
	for i := 0; i < list.Len(); i++ {
		prefix := strconv.Itoa(i) + "."
		for _, field := range perEntry {
			value, err := list.Get(prefix + field)
			if err != nil || member.IsEmpty(value) {
				errs[prefix+field] = msgRequired
			}
		}
	}
	checkEmails(errs, list, list.Fields())
}

func checkEmails(errs FieldErrors, record member.Record, fields []string) {
	for _, field := range fields {
		if !isEmailField(field) {
			continue
		}
		if _, exists := errs[field]; exists {
			continue
		}
		value, err := record.Get(field)
		if err != nil {
			continue
		}
		address, _ := value.(string)
		if strings.TrimSpace(address) == "" {
			continue
		}
		if !ValidEmail(address) {
			errs[field] = msgInvalidEmail
		}
	}
}

func isEmailField(field string) bool {
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return field == "email" || strings.HasSuffix(field, "Email")
}

// ValidEmail accepts a bare address with a dotted domain.
func ValidEmail(address string) bool {
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return false
	}
	at := strings.LastIndex(address, "@")
	return at > 0 && strings.Contains(address[at+1:], ".")
}
