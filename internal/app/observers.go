package app

import (
	"context"
	"errors"
	"fmt"

	"memberportal/api/internal/classify"
	"memberportal/api/internal/member"
	"memberportal/api/internal/notify"
	"memberportal/api/internal/portal"
	"memberportal/api/internal/search"
	"memberportal/api/internal/store"
	"memberportal/api/internal/util"
)

func (s *Service) saveObservers() []portal.SaveObserver {
	var observers []portal.SaveObserver
	if s.store != nil {
		observers = append(observers,
			auditObserver{store: s.store},
			directoryObserver{store: s.store, search: s.search},
		)
	}
	if s.notify != nil && s.notify.IsConfigured() {
		observers = append(observers, noticeObserver{notify: s.notify})
	}
	return observers
}

// auditObserver appends every confirmed save to section_saves.
type auditObserver struct {
	store dataStore
}

func (o auditObserver) SectionSaved(ctx context.Context, event portal.SaveEvent) error {
	categories := make([]string, len(event.Categories))
	for i, category := range event.Categories {
		categories[i] = string(category)
	}
	return o.store.InsertSectionSave(ctx, store.SectionSave{
		ID:            util.NewID("save"),
		MemberID:      string(event.Member),
		Section:       string(event.Section),
		Tier:          string(event.Tier),
		Categories:    categories,
		ChangedFields: event.Changed,
		SavedBy:       string(event.Member),
		SavedAt:       event.SavedAt,
	})
}

// directoryObserver keeps member_directory and the search index in step with
// saves that touch the directory's fields or the tier.
type directoryObserver struct {
	store  dataStore
	search *search.Service
}

func (o directoryObserver) SectionSaved(ctx context.Context, event portal.SaveEvent) error {
	entry, ok := directoryEntry(event)
	if !ok {
		return nil
	}
	if err := o.store.UpsertDirectoryEntry(ctx, entry); err != nil {
		return err
	}
	if o.search == nil {
		return nil
	}
	merged, err := o.store.GetDirectoryEntry(ctx, entry.MemberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reload directory entry: %w", err)
	}
	o.search.IndexMember(search.FromEntry(merged))
	return nil
}

// directoryEntry extracts the directory columns a save contributes. Empty
// columns are left alone by the upsert.
func directoryEntry(event portal.SaveEvent) (store.DirectoryEntry, bool) {
	entry := store.DirectoryEntry{MemberID: string(event.Member), Tier: string(event.Tier)}
	switch rec := event.Record.(type) {
	case *member.Personal:
		entry.FullName = rec.FullName
		entry.FirstName = rec.FirstName
		entry.LastName = rec.LastName
	case *member.Contact:
		entry.FullName = rec.FullName
		entry.FirstName = rec.FirstName
		entry.LastName = rec.LastName
		entry.Email = firstNonBlank(rec.PersonalEmail, rec.WorkEmail)
		entry.Phone = firstNonBlank(rec.MobilePhone, rec.HomePhone, rec.WorkPhone)
	case *member.Addresses:
		entry.City = rec.Home.City
		entry.State = rec.Home.State
		entry.Country = rec.Home.Country
	default:
		if !classify.AffectsTier(event.Section) {
			return store.DirectoryEntry{}, false
		}
	}
	return entry, true
}

// noticeObserver emails the member after their contact details change.
type noticeObserver struct {
	notify *notify.Service
}

func (o noticeObserver) SectionSaved(_ context.Context, event portal.SaveEvent) error {
	rec, ok := event.Record.(*member.Contact)
	if !ok {
		return nil
	}
	o.notify.ProfileUpdated(firstNonBlank(rec.PersonalEmail, rec.WorkEmail), rec.FullName, "contact", event.Changed, event.SavedAt)
	return nil
}
