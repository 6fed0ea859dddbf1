package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberportal/api/internal/classify"
	"memberportal/api/internal/crm"
	"memberportal/api/internal/member"
)

func TestLoadFillsVisibleSectionsAndSharesFetches(t *testing.T) {
	h := newHarness(t, member.TierBasic)

	view, err := h.portal.View()
	require.NoError(t, err)
	assert.Equal(t, member.TierBasic, view.Tier)
	require.Len(t, view.Sections, 3)
	for _, section := range view.Sections {
		assert.True(t, section.Loaded, section.Section)
		assert.Empty(t, section.Error)
	}

	contact := h.section(t, member.SectionContact).Data.(*member.Contact)
	assert.Equal(t, "Jane Doe", contact.FullName)
	assert.Equal(t, "jane@example.org", contact.PersonalEmail)

	// personal is read by both the personal and the contact sections
	assert.Equal(t, 1, h.crm.fetchCount(member.CategoryPersonal))
	assert.Equal(t, 0, h.crm.fetchCount(member.CategoryMedical))
}

func TestHiddenSectionsAreRejected(t *testing.T) {
	h := newHarness(t, member.TierBasic)

	assert.ErrorIs(t, h.portal.ToggleEdit(member.SectionMedical), ErrSectionHidden)
	_, err := h.portal.Section(member.SectionFunding)
	assert.ErrorIs(t, err, ErrSectionHidden)
}

func TestLoadFailureIsPerSection(t *testing.T) {
	fake := newFakeCRM()
	fake.fetchErr[member.CategoryMedical] = &crm.TransportError{Op: "GET", Err: errors.New("connection reset")}
	p := New("m1", Deps{Records: newCache(t, fake), Writer: fake, Classifier: &fixedTier{tier: member.TierMember}})
	require.NoError(t, p.Load(context.Background()))

	medical, err := p.Section(member.SectionMedical)
	require.NoError(t, err)
	assert.False(t, medical.Loaded)
	assert.Equal(t, "Could not reach the member records service. Try again.", medical.Error)
	assert.ErrorIs(t, p.ToggleEdit(member.SectionMedical), ErrNotLoaded)

	personal, err := p.Section(member.SectionPersonal)
	require.NoError(t, err)
	assert.True(t, personal.Loaded)

	fake.mu.Lock()
	delete(fake.fetchErr, member.CategoryMedical)
	fake.mu.Unlock()
	require.NoError(t, p.Reload(context.Background(), member.SectionMedical))

	medical, err = p.Section(member.SectionMedical)
	require.NoError(t, err)
	assert.True(t, medical.Loaded)
	assert.Empty(t, medical.Error)
}

func TestMutateRequiresEditMode(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	assert.ErrorIs(t, h.portal.Mutate(member.SectionPersonal, "firstName", "Joan"), ErrNotEditing)
}

func TestMutateRecomputesFullNameImmediately(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	h.crm.mu.Lock()
	h.crm.data[member.CategoryPersonal] = []byte(`{"firstName":"","lastName":"Doe"}`)
	h.crm.mu.Unlock()
	h.cache.Invalidate("m1", member.CategoryPersonal)
	require.NoError(t, h.portal.Reload(context.Background(), member.SectionPersonal))

	require.NoError(t, h.portal.ToggleEdit(member.SectionPersonal))
	require.NoError(t, h.portal.Mutate(member.SectionPersonal, "firstName", "  jane "))

	view := h.section(t, member.SectionPersonal)
	personal := view.Data.(*member.Personal)
	assert.Equal(t, "Jane", personal.FirstName)
	assert.Equal(t, "Jane Doe", personal.FullName)
	assert.True(t, view.Dirty)
	assert.Equal(t, 0, h.crm.updateCount())
}

func TestMutateRejectsDerivedAndUnknownFields(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	require.NoError(t, h.portal.ToggleEdit(member.SectionPersonal))

	assert.ErrorIs(t, h.portal.Mutate(member.SectionPersonal, "fullName", "X"), member.ErrReadOnly)
	assert.ErrorIs(t, h.portal.Mutate(member.SectionPersonal, "shoeSize", "9"), member.ErrUnknownField)
}

func TestCancelRestoresOriginalExactly(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	before := h.section(t, member.SectionContact).Data

	require.NoError(t, h.portal.ToggleEdit(member.SectionContact))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "mobilePhone", "5559876543"))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "firstName", "Joan"))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "personalEmail", ""))
	require.NoError(t, h.portal.Cancel(member.SectionContact))

	view := h.section(t, member.SectionContact)
	assert.False(t, view.EditMode)
	assert.False(t, view.Dirty)
	assert.Equal(t, before, view.Data)
	assert.Equal(t, 0, h.crm.updateCount())
}

func TestCancelWhenNotEditingIsNoop(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	assert.NoError(t, h.portal.Cancel(member.SectionAddresses))
}

func TestSaveGatesOnRequiredFields(t *testing.T) {
	h := newHarness(t, member.TierMember)

	require.NoError(t, h.portal.ToggleEdit(member.SectionContact))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "mobilePhone", ""))
	err := h.portal.Save(context.Background(), member.SectionContact)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields, "mobilePhone")
	assert.Equal(t, 0, h.crm.updateCount())

	view := h.section(t, member.SectionContact)
	assert.True(t, view.EditMode)
	assert.False(t, view.Saving)
	assert.Contains(t, view.FieldErrors, "mobilePhone")

	require.NoError(t, h.portal.Mutate(member.SectionContact, "mobilePhone", "5550001111"))
	assert.NotContains(t, h.section(t, member.SectionContact).FieldErrors, "mobilePhone")
}

func TestSaveInvalidatesExactlyWrittenCategories(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	ctx := context.Background()

	require.NoError(t, h.portal.ToggleEdit(member.SectionContact))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "mobilePhone", "5559876543"))
	require.NoError(t, h.portal.Save(ctx, member.SectionContact))

	view := h.section(t, member.SectionContact)
	assert.False(t, view.EditMode)
	assert.False(t, view.Saving)
	assert.Equal(t, "(555) 987-6543", view.Data.(*member.Contact).MobilePhone)

	_, cached := h.cache.Cached("m1", member.CategoryContact)
	assert.False(t, cached)
	_, cached = h.cache.Cached("m1", member.CategoryPersonal)
	assert.True(t, cached, "name fragment unchanged so personal was not written")
	_, cached = h.cache.Cached("m1", member.CategoryAddresses)
	assert.True(t, cached)

	contactFetches := h.crm.fetchCount(member.CategoryContact)
	env, err := h.cache.Get(ctx, "m1", member.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, contactFetches+1, h.crm.fetchCount(member.CategoryContact))
	assert.Contains(t, string(env.Data), "(555) 987-6543")
}

func TestContactNameEditWritesPersonalAndRefreshesSibling(t *testing.T) {
	h := newHarness(t, member.TierBasic)

	require.NoError(t, h.portal.ToggleEdit(member.SectionContact))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "firstName", "joan"))
	require.NoError(t, h.portal.Save(context.Background(), member.SectionContact))

	h.crm.mu.Lock()
	var categories []member.Category
	for _, u := range h.crm.updates {
		categories = append(categories, u.category)
	}
	h.crm.mu.Unlock()
	assert.Equal(t, []member.Category{member.CategoryPersonal}, categories, "contact details are unchanged")

	personal := h.section(t, member.SectionPersonal).Data.(*member.Personal)
	assert.Equal(t, "Joan Doe", personal.FullName)
	assert.Equal(t, "F", personal.Gender)
}

func TestSaveFailureKeepsEditsAndStaysEditing(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	h.crm.mu.Lock()
	h.crm.updateErr[member.CategoryAddresses] = &crm.ServiceError{Status: 500, Message: "CRM is read-only right now"}
	h.crm.mu.Unlock()

	require.NoError(t, h.portal.ToggleEdit(member.SectionAddresses))
	require.NoError(t, h.portal.Mutate(member.SectionAddresses, "home.city", "Shelbyville"))
	err := h.portal.Save(context.Background(), member.SectionAddresses)
	require.Error(t, err)

	view := h.section(t, member.SectionAddresses)
	assert.True(t, view.EditMode)
	assert.False(t, view.Saving)
	assert.Equal(t, "CRM is read-only right now", view.Error)
	assert.Equal(t, "Shelbyville", view.Data.(*member.Addresses).Home.City)

	_, cached := h.cache.Cached("m1", member.CategoryAddresses)
	assert.True(t, cached, "nothing was written so nothing is invalidated")

	h.crm.mu.Lock()
	delete(h.crm.updateErr, member.CategoryAddresses)
	h.crm.mu.Unlock()
	require.NoError(t, h.portal.Save(context.Background(), member.SectionAddresses))
	assert.False(t, h.section(t, member.SectionAddresses).EditMode)
}

func TestPartialWriteInvalidatesWhatWasWritten(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	h.crm.mu.Lock()
	h.crm.updateErr[member.CategoryPersonal] = crm.ErrUnauthorized
	h.crm.mu.Unlock()

	require.NoError(t, h.portal.ToggleEdit(member.SectionContact))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "workEmail", "JANE@WORK.EXAMPLE"))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "lastName", "Roe"))
	require.Error(t, h.portal.Save(context.Background(), member.SectionContact))

	_, cached := h.cache.Cached("m1", member.CategoryContact)
	assert.False(t, cached)
	_, cached = h.cache.Cached("m1", member.CategoryPersonal)
	assert.True(t, cached)
	assert.Equal(t, "Your session has expired. Sign in again.", h.section(t, member.SectionContact).Error)
}

func TestSaveOfUnchangedRecordSkipsNetwork(t *testing.T) {
	h := newHarness(t, member.TierBasic)

	require.NoError(t, h.portal.ToggleEdit(member.SectionPersonal))
	require.NoError(t, h.portal.Mutate(member.SectionPersonal, "firstName", "Joan"))
	require.NoError(t, h.portal.Mutate(member.SectionPersonal, "firstName", "Jane"))
	require.NoError(t, h.portal.Save(context.Background(), member.SectionPersonal))

	assert.Equal(t, 0, h.crm.updateCount())
	assert.False(t, h.section(t, member.SectionPersonal).EditMode)
}

func TestSaveWhenNotEditing(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	assert.ErrorIs(t, h.portal.Save(context.Background(), member.SectionPersonal), ErrNotEditing)
}

func TestOverlappingSavesSerializeAndDisjointSavesDoNot(t *testing.T) {
	require.True(t, Overlaps(member.SectionPersonal, member.SectionContact))
	require.False(t, Overlaps(member.SectionContact, member.SectionAddresses))

	h := newHarness(t, member.TierBasic)
	ctx := context.Background()
	release := h.crm.gate(member.CategoryPersonal)

	edits := []struct {
		section member.Section
		field   string
	}{
		{member.SectionPersonal, "lastName"},
		{member.SectionContact, "firstName"},
		{member.SectionAddresses, "home.city"},
	}
	for _, e := range edits {
		require.NoError(t, h.portal.ToggleEdit(e.section))
		require.NoError(t, h.portal.Mutate(e.section, e.field, "Smith"))
	}

	var wg sync.WaitGroup
	save := func(section member.Section) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.portal.Save(ctx, section))
		}()
	}

	save(member.SectionPersonal)
	require.Equal(t, member.CategoryPersonal, <-h.crm.started)
	assert.True(t, h.section(t, member.SectionPersonal).Saving)

	save(member.SectionContact)
	select {
	case got := <-h.crm.started:
		require.Fail(t, "contact save started while personal save held the name", "started %s", got)
	case <-time.After(50 * time.Millisecond):
	}

	save(member.SectionAddresses)
	select {
	case got := <-h.crm.started:
		assert.Equal(t, member.CategoryAddresses, got)
	case <-time.After(time.Second):
		require.Fail(t, "disjoint save did not run concurrently")
	}

	assert.ErrorIs(t, h.portal.Mutate(member.SectionPersonal, "lastName", "Jones"), ErrSaveInProgress)
	require.NoError(t, h.portal.ToggleEdit(member.SectionPersonal))

	close(release)
	wg.Wait()

	assert.Equal(t, member.CategoryPersonal, <-h.crm.started)
	for _, section := range []member.Section{member.SectionPersonal, member.SectionContact, member.SectionAddresses} {
		view := h.section(t, section)
		assert.False(t, view.Saving, section)
		assert.False(t, view.EditMode, section)
	}

	stored := h.crm.personal(t)
	assert.Equal(t, "Smith", stored.FirstName, "contact edit")
	assert.Equal(t, "Smith", stored.LastName, "personal edit survives the later contact save")
}

func TestSaveReplaysEditsOnTopOfOverlappingSave(t *testing.T) {
	h := newHarness(t, member.TierBasic)
	ctx := context.Background()

	require.NoError(t, h.portal.ToggleEdit(member.SectionPersonal))
	require.NoError(t, h.portal.ToggleEdit(member.SectionContact))
	require.NoError(t, h.portal.Mutate(member.SectionContact, "firstName", "joan"))
	require.NoError(t, h.portal.Save(ctx, member.SectionContact))

	require.NoError(t, h.portal.Mutate(member.SectionPersonal, "gender", "X"))
	require.NoError(t, h.portal.Save(ctx, member.SectionPersonal))

	stored := h.crm.personal(t)
	assert.Equal(t, "Joan", stored.FirstName)
	assert.Equal(t, "Joan Doe", stored.FullName)
	assert.Equal(t, "X", stored.Gender)
	assert.Equal(t, "1970-01-01", stored.DateOfBirth)

	view := h.section(t, member.SectionPersonal).Data.(*member.Personal)
	assert.Equal(t, "Joan Doe", view.FullName)
	assert.Equal(t, "X", view.Gender)
}

// panickingInvalidate fails after the CRM has accepted the write.
type panickingInvalidate struct {
	Records
}

func (panickingInvalidate) Invalidate(member.ID, member.Category) {
	panic("cache unavailable")
}

func TestSavingClearsWhenInvalidationPanics(t *testing.T) {
	h := newHarness(t, member.TierBasic, func(d *Deps) {
		d.Records = panickingInvalidate{Records: d.Records}
	})

	require.NoError(t, h.portal.ToggleEdit(member.SectionAddresses))
	require.NoError(t, h.portal.Mutate(member.SectionAddresses, "home.city", "Shelbyville"))

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_ = h.portal.Save(context.Background(), member.SectionAddresses)
	}()
	require.NotNil(t, recovered)
	assert.Equal(t, 1, h.crm.updateCount())

	view := h.section(t, member.SectionAddresses)
	assert.False(t, view.Saving)
	assert.Equal(t, "Shelbyville", view.Data.(*member.Addresses).Home.City)
}

func TestClosedPortalStillInvalidatesInFlightSave(t *testing.T) {
	observer := &recordingObserver{}
	h := newHarness(t, member.TierBasic, func(d *Deps) { d.Observers = []SaveObserver{observer} })
	release := h.crm.gate(member.CategoryAddresses)

	require.NoError(t, h.portal.ToggleEdit(member.SectionAddresses))
	require.NoError(t, h.portal.Mutate(member.SectionAddresses, "home.city", "Ogdenville"))

	done := make(chan error, 1)
	go func() { done <- h.portal.Save(context.Background(), member.SectionAddresses) }()
	<-h.crm.started

	h.portal.Close()
	close(release)
	require.NoError(t, <-done)

	_, cached := h.cache.Cached("m1", member.CategoryAddresses)
	assert.False(t, cached)
	_, err := h.portal.View()
	assert.ErrorIs(t, err, ErrClosed)
	require.Len(t, observer.events, 1, "the write happened, so it is still audited")
	assert.Equal(t, member.SectionAddresses, observer.events[0].Section)
}

func TestNextOfKinEntries(t *testing.T) {
	h := newHarness(t, member.TierMember)
	section := member.SectionNextOfKin

	require.NoError(t, h.portal.ToggleEdit(section))
	index, err := h.portal.AddEntry(section)
	require.NoError(t, err)
	assert.Equal(t, 1, index)

	err = h.portal.Save(context.Background(), section)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields, "1.firstName")

	require.NoError(t, h.portal.Mutate(section, "1.firstName", "bo"))
	require.NoError(t, h.portal.Mutate(section, "1.lastName", "lee"))
	require.NoError(t, h.portal.Mutate(section, "1.relationship", "Brother"))
	require.NoError(t, h.portal.Mutate(section, "1.mobilePhone", "555 444 5555"))
	require.NoError(t, h.portal.RemoveEntry(section, 0))
	require.NoError(t, h.portal.Save(context.Background(), section))

	list := h.section(t, section).Data.(*member.NextOfKin)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "Bo Lee", list.Entries[0].FullName)
	assert.Equal(t, "(555) 444-5555", list.Entries[0].MobilePhone)

	_, err = h.portal.AddEntry(member.SectionPersonal)
	assert.ErrorIs(t, err, ErrNotEditing)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []SaveEvent
	err    error
}

func (o *recordingObserver) SectionSaved(ctx context.Context, event SaveEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return o.err
}

func TestObserversSeeChangedFields(t *testing.T) {
	observer := &recordingObserver{err: errors.New("audit table missing")}
	h := newHarness(t, member.TierBasic, func(d *Deps) { d.Observers = []SaveObserver{observer} })

	require.NoError(t, h.portal.ToggleEdit(member.SectionPersonal))
	require.NoError(t, h.portal.Mutate(member.SectionPersonal, "middleName", "q"))
	require.NoError(t, h.portal.Save(context.Background(), member.SectionPersonal))

	require.Len(t, observer.events, 1)
	event := observer.events[0]
	assert.Equal(t, member.SectionPersonal, event.Section)
	assert.Equal(t, []member.Category{member.CategoryPersonal}, event.Categories)
	assert.Equal(t, []string{"fullName", "middleName"}, event.Changed)
}

func TestTierAffectingSaveReclassifies(t *testing.T) {
	h := newHarness(t, member.TierMember)
	require.Equal(t, 1, h.classifier.calls)

	h.classifier.set(member.TierApplicant)
	require.NoError(t, h.portal.ToggleEdit(member.SectionFunding))
	require.NoError(t, h.portal.Mutate(member.SectionFunding, "carrier", "Acme Life"))
	require.NoError(t, h.portal.Save(context.Background(), member.SectionFunding))

	assert.Equal(t, 2, h.classifier.calls)
	assert.Equal(t, member.TierApplicant, h.portal.Tier().Tier)
	_, err := h.portal.Section(member.SectionFunding)
	assert.ErrorIs(t, err, ErrSectionHidden)
}

func TestPresetTierSkipsClassification(t *testing.T) {
	fake := newFakeCRM()
	classifier := &fixedTier{tier: member.TierMember}
	p := New("m1", Deps{Records: newCache(t, fake), Writer: fake, Classifier: classifier})
	p.SetTier(classify.Result{Tier: member.TierApplicant})

	require.NoError(t, p.Load(context.Background()))

	assert.Equal(t, 0, classifier.calls)
	view, err := p.View()
	require.NoError(t, err)
	assert.Len(t, view.Sections, len(member.VisibleSections(member.TierApplicant)))
}
