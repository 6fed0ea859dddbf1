package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"memberportal/api/internal/classify"
	"memberportal/api/internal/member"
	"memberportal/api/internal/validate"
)

// Save validates the section for the member's tier and writes it. On
// validation failure no call is made and the section stays Editing with
// field errors. On a write failure the edits are kept and the section stays
// Editing with a section-level error. On success the written categories are
// invalidated, the cleaned record becomes the new original and the section
// returns to Viewing.
func (p *Portal) Save(ctx context.Context, section member.Section) error {
	state, err := p.visible(section)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if state.saving {
		p.mu.Unlock()
		return ErrSaveInProgress
	}
	if !state.editing {
		p.mu.Unlock()
		return ErrNotEditing
	}
	tier := p.tier.Tier
	record := state.current.Clone()
	record.Clean()

	if errs := validate.Check(p.deps.Rules, tier, record); errs != nil {
		state.fieldErrors = errs
		p.mu.Unlock()
		return &ValidationError{Section: section, Fields: errs}
	}
	if sameRecord(record, state.original) {
		state.current = state.original.Clone()
		state.editing = false
		state.fieldErrors = nil
		state.err = ""
		p.mu.Unlock()
		return nil
	}
	original := state.original.Clone()
	state.saving = true
	state.fieldErrors = nil
	state.err = ""
	p.mu.Unlock()

	written, saved, saveErr := p.commit(ctx, state, original, record)
	if saveErr != nil {
		p.log.Warn("section save failed",
			zap.String("section", string(section)),
			zap.Strings("written", categoryNames(written)),
			zap.Error(saveErr),
		)
		return fmt.Errorf("save %s: %w", section, saveErr)
	}

	p.log.Info("section saved",
		zap.String("section", string(section)),
		zap.Strings("categories", categoryNames(written)),
	)
	event := SaveEvent{
		Member:     p.id,
		Section:    section,
		Tier:       tier,
		Categories: written,
		Changed:    changedFields(original, record),
		Record:     saved.Clone(),
		SavedAt:    time.Now().UTC(),
	}
	p.afterSave(context.WithoutCancel(ctx), event)
	return nil
}

// commit writes record and invalidates what was written. The deferred
// cleanup always clears the saving flag, however the write settles. saved is
// the record as written, which becomes the new original.
func (p *Portal) commit(ctx context.Context, state *sectionState, original, record member.Record) (written []member.Category, saved member.Record, err error) {
	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		state.saving = false
		if p.closed {
			return
		}
		if err != nil {
			state.err = userMessage(err)
			return
		}
		state.original = saved
		state.current = saved.Clone()
		state.editing = false
		state.fieldErrors = nil
		state.err = ""
		state.loadedAt = time.Now().UTC()
	}()

	written, saved, err = p.write(ctx, state.def, original, record)
	for _, category := range written {
		p.deps.Records.Invalidate(p.id, category)
	}
	return written, saved, err
}

// write persists each category of def whose part of the record changed. It
// holds the section's entity locks throughout and returns the categories
// that were written, even when a later one failed.
//
// Under the locks the section is read again through the cache. A save of an
// overlapping section has invalidated what it wrote, so that read sees its
// result; the member's own edits are replayed on top before anything is
// sent.
func (p *Portal) write(ctx context.Context, def *sectionDef, original, record member.Record) ([]member.Category, member.Record, error) {
	release, err := p.deps.Locks.Acquire(ctx, p.id, Entities(def.section))
	if err != nil {
		return nil, nil, err
	}
	defer release()
	// Once the locks are held the writes run to completion even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	latest, err := p.fetch(ctx, def)
	if err != nil {
		return nil, nil, err
	}
	record = rebase(original, record, latest)

	var written []member.Category
	for _, w := range def.writes {
		payload := w.payload(record)
		if cmp.Equal(payload, w.payload(latest), recordCompare...) {
			continue
		}
		if _, err := p.deps.Writer.Update(ctx, p.id, w.category, payload); err != nil {
			return written, record, fmt.Errorf("update %s: %w", w.category, err)
		}
		written = append(written, w.category)
	}
	return written, record, nil
}

// afterSave runs once the write is confirmed. Sibling sections reading a
// written category are refreshed and the tier is re-evaluated when the saved
// section can affect it. Observers see the tier as it stands afterwards. A
// closed portal skips the refresh, but observers still run because the CRM
// holds the new data.
func (p *Portal) afterSave(ctx context.Context, event SaveEvent) {
	if p.isClosed() {
		p.notify(ctx, event)
		return
	}

	retier := classify.AffectsTier(event.Section) && p.deps.Classifier != nil
	if retier {
		p.classify(ctx)
	}
	p.refreshSiblings(ctx, event.Section, event.Categories)
	if retier {
		_ = p.loadMissing(ctx)
		event.Tier = p.Tier().Tier
	}
	p.notify(ctx, event)
}

func (p *Portal) refreshSiblings(ctx context.Context, saved member.Section, written []member.Category) {
	p.mu.Lock()
	var stale []*sectionState
	for _, section := range member.VisibleSections(p.tier.Tier) {
		state := p.sections[section]
		if section == saved || !state.loaded || state.editing || state.saving {
			continue
		}
		for _, category := range written {
			if state.def.readsCategory(category) {
				stale = append(stale, state)
				break
			}
		}
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, state := range stale {
		state := state
		g.Go(func() error {
			p.load(ctx, state)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Portal) notify(ctx context.Context, event SaveEvent) {
	for _, observer := range p.deps.Observers {
		if err := observer.SectionSaved(ctx, event); err != nil {
			p.log.Warn("save observer failed",
				zap.String("section", string(event.Section)),
				zap.Error(err),
			)
		}
	}
}

func categoryNames(categories []member.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
