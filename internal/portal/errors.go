package portal

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"memberportal/api/internal/crm"
	"memberportal/api/internal/member"
	"memberportal/api/internal/validate"
)

var (
	ErrNotEditing     = errors.New("section is not in edit mode")
	ErrEditing        = errors.New("section has unsaved edits")
	ErrSaveInProgress = errors.New("section save in progress")
	ErrSectionHidden  = errors.New("section not available for this member")
	ErrNotLoaded      = errors.New("section failed to load")
	ErrNotList        = errors.New("section has no entries")
	ErrClosed         = errors.New("portal closed")
)

// ValidationError is returned by Save when required or malformed fields block
// the write. The same errors are kept on the section until the next edit.
type ValidationError struct {
	Section member.Section
	Fields  validate.FieldErrors
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: invalid fields: %s", e.Section, strings.Join(names, ", "))
}

// userMessage turns a load or save failure into the section-level message
// shown to the member.
func userMessage(err error) string {
	var (
		transportErr *crm.TransportError
		serviceErr   *crm.ServiceError
	)
	switch {
	case errors.Is(err, crm.ErrUnauthorized):
		return "Your session has expired. Sign in again."
	case errors.As(err, &transportErr):
		return "Could not reach the member records service. Try again."
	case errors.As(err, &serviceErr) && serviceErr.Message != "":
		return serviceErr.Message
	default:
		return "Something went wrong. Try again."
	}
}
