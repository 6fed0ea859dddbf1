package portal

import (
	"errors"

	"memberportal/api/internal/member"
	"memberportal/api/internal/validate"
)

// rebase replays the member's edits (the fields that differ between original
// and edited) onto latest, the record as the CRM holds it now. Fields another
// save changed in the meantime survive unless the member edited them too.
// List records whose entry count moved underneath are not merged; the
// member's list is written as edited.
func rebase(original, edited, latest member.Record) member.Record {
	if sameRecord(original, latest) {
		return edited
	}
	if le, ok := edited.(member.ListRecord); ok {
		ll, ok := latest.(member.ListRecord)
		if !ok || ll.Len() != le.Len() {
			return edited
		}
	}

	out := latest.Clone()
	pending := changedFields(original, edited)
	// A field can be read-only until another one is set (mailing address
	// fields follow mailingSameAsHome), so read-only fields get a second pass.
	// Derived fields stay read-only and are recomputed by Set.
	for pass := 0; pass < 2 && len(pending) > 0; pass++ {
		var retry []string
		for _, field := range pending {
			if field == validate.EntriesField {
				continue
			}
			value, err := edited.Get(field)
			if err != nil {
				continue
			}
			if err := out.Set(field, value); err != nil {
				if errors.Is(err, member.ErrReadOnly) {
					retry = append(retry, field)
					continue
				}
				return edited
			}
		}
		pending = retry
	}
	out.Clean()
	return out
}
