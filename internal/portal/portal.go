// Package portal keeps the per-section edit state of one member's portal
// session. Each section moves Viewing -> Editing -> Saving and back; the
// original snapshot is replaced only after the CRM confirms a write.
package portal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"memberportal/api/internal/classify"
	"memberportal/api/internal/member"
	"memberportal/api/internal/validate"
)

// Records is the read side: the process-wide fetch cache.
type Records interface {
	Get(ctx context.Context, id member.ID, category member.Category) (member.Envelope, error)
	Invalidate(id member.ID, category member.Category)
}

// Writer persists one category.
type Writer interface {
	Update(ctx context.Context, id member.ID, category member.Category, payload any) (member.Envelope, error)
}

type Classifier interface {
	Classify(ctx context.Context, id member.ID) classify.Result
}

// SaveEvent describes a confirmed save.
type SaveEvent struct {
	Member     member.ID
	Section    member.Section
	Tier       member.Tier
	Categories []member.Category
	Changed    []string
	Record     member.Record
	SavedAt    time.Time
}

// SaveObserver is notified after every successful save. Errors are logged and
// never reach the member.
type SaveObserver interface {
	SectionSaved(ctx context.Context, event SaveEvent) error
}

type Deps struct {
	Records    Records
	Writer     Writer
	Classifier Classifier
	Rules      validate.Rules
	Locks      *Locks
	Observers  []SaveObserver
	Logger     *zap.Logger
}

// sectionState is guarded by Portal.mu.
type sectionState struct {
	def         *sectionDef
	current     member.Record
	original    member.Record
	loaded      bool
	editing     bool
	saving      bool
	fieldErrors validate.FieldErrors
	err         string
	loadedAt    time.Time
}

// Portal is safe for concurrent use; saves of sections with disjoint
// entities run in parallel.
type Portal struct {
	id   member.ID
	deps Deps
	log  *zap.Logger

	mu       sync.Mutex
	tier     classify.Result
	hasTier  bool
	sections map[member.Section]*sectionState
	closed   bool
}

var recordCompare = []cmp.Option{cmpopts.EquateEmpty()}

func New(id member.ID, deps Deps) *Portal {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locks == nil {
		deps.Locks = NewLocks()
	}
	if deps.Rules == nil {
		deps.Rules = validate.DefaultRules()
	}
	p := &Portal{
		id:       id,
		deps:     deps,
		log:      deps.Logger.With(zap.String("member", id.String())),
		sections: make(map[member.Section]*sectionState, len(member.AllSections)),
	}
	for _, section := range member.AllSections {
		p.sections[section] = &sectionState{def: definitions[section]}
	}
	return p
}

func (p *Portal) Member() member.ID { return p.id }

// Tier returns the session's classification.
func (p *Portal) Tier() classify.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tier
}

// SetTier installs a classification cached elsewhere for this session, so
// Load does not classify again.
func (p *Portal) SetTier(result classify.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tier = result
	p.hasTier = true
}

// Load classifies the member (unless a tier is already set) and fills every
// visible section that is not loaded yet. A section that fails to load keeps
// its own error; Load itself only fails when the portal is closed.
func (p *Portal) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	needTier := !p.hasTier
	p.mu.Unlock()

	if needTier {
		p.classify(ctx)
	}
	return p.loadMissing(ctx)
}

func (p *Portal) classify(ctx context.Context) {
	result := classify.Result{Tier: member.TierBasic, Degraded: true, ClassifiedAt: time.Now().UTC()}
	if p.deps.Classifier != nil {
		result = p.deps.Classifier.Classify(ctx, p.id)
	}
	p.SetTier(result)
}

func (p *Portal) loadMissing(ctx context.Context) error {
	p.mu.Lock()
	var pending []*sectionState
	for _, section := range member.VisibleSections(p.tier.Tier) {
		if state := p.sections[section]; !state.loaded {
			pending = append(pending, state)
		}
	}
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, state := range pending {
		state := state
		g.Go(func() error {
			p.load(ctx, state)
			return nil
		})
	}
	return g.Wait()
}

// load fetches and decodes one section. The result is applied only while the
// section is Viewing, so edits in progress are never overwritten.
func (p *Portal) load(ctx context.Context, state *sectionState) {
	record, err := p.fetch(ctx, state.def)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || state.editing || state.saving {
		return
	}
	if err != nil {
		p.log.Warn("section load failed",
			zap.String("section", string(state.def.section)),
			zap.Error(err),
		)
		state.err = userMessage(err)
		return
	}
	state.original = record
	state.current = record.Clone()
	state.loaded = true
	state.err = ""
	state.fieldErrors = nil
	state.loadedAt = time.Now().UTC()
}

func (p *Portal) fetch(ctx context.Context, def *sectionDef) (member.Record, error) {
	envs := make(map[member.Category]member.Envelope, len(def.reads))
	for _, category := range def.reads {
		env, err := p.deps.Records.Get(ctx, p.id, category)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", category, err)
		}
		envs[category] = env
	}
	return def.decode(envs)
}

// Reload refetches a Viewing section. Cached categories are served from the
// cache; invalidated ones go to the network.
func (p *Portal) Reload(ctx context.Context, section member.Section) error {
	state, err := p.visible(section)
	if err != nil {
		return err
	}
	p.mu.Lock()
	busy := state.editing || state.saving
	p.mu.Unlock()
	if busy {
		return ErrEditing
	}
	p.load(ctx, state)
	return nil
}

// visible resolves a section the member may see.
func (p *Portal) visible(section member.Section) (*sectionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	state, ok := p.sections[section]
	if !ok {
		return nil, fmt.Errorf("unknown section %q", section)
	}
	if !member.Visible(p.tier.Tier, section) {
		return nil, ErrSectionHidden
	}
	return state, nil
}

// ToggleEdit enters edit mode. It is a no-op while the section is saving or
// already editing.
func (p *Portal) ToggleEdit(section member.Section) error {
	state, err := p.visible(section)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.saving || state.editing {
		return nil
	}
	if !state.loaded {
		return ErrNotLoaded
	}
	state.editing = true
	state.current = state.original.Clone()
	state.fieldErrors = nil
	state.err = ""
	return nil
}

// Mutate sets one field of the section being edited. The value is cleaned
// and derived fields are recomputed before Mutate returns.
func (p *Portal) Mutate(section member.Section, field string, value any) error {
	return p.edit(section, func(state *sectionState) error {
		if err := state.current.Set(field, value); err != nil {
			return err
		}
		delete(state.fieldErrors, field)
		return nil
	})
}

// AddEntry appends an empty entry to a list section and returns its index.
func (p *Portal) AddEntry(section member.Section) (int, error) {
	index := -1
	err := p.edit(section, func(state *sectionState) error {
		list, ok := state.current.(member.ListRecord)
		if !ok {
			return ErrNotList
		}
		list.Append()
		index = list.Len() - 1
		return nil
	})
	return index, err
}

// RemoveEntry drops entry index from a list section. Field errors are
// cleared because their paths are positional.
func (p *Portal) RemoveEntry(section member.Section, index int) error {
	return p.edit(section, func(state *sectionState) error {
		list, ok := state.current.(member.ListRecord)
		if !ok {
			return ErrNotList
		}
		if err := list.Remove(index); err != nil {
			return err
		}
		state.fieldErrors = nil
		return nil
	})
}

func (p *Portal) edit(section member.Section, fn func(*sectionState) error) error {
	state, err := p.visible(section)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.saving {
		return ErrSaveInProgress
	}
	if !state.editing {
		return ErrNotEditing
	}
	return fn(state)
}

// Cancel discards edits and returns to Viewing. Cancelling a section that is
// not editing is a no-op.
func (p *Portal) Cancel(section member.Section) error {
	state, err := p.visible(section)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.saving {
		return ErrSaveInProgress
	}
	if !state.editing {
		return nil
	}
	state.current = state.original.Clone()
	state.fieldErrors = nil
	state.err = ""
	state.editing = false
	return nil
}

// Close unmounts the portal. Saves still in flight finish their writes and
// cache invalidation but no longer touch section state.
func (p *Portal) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Portal) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// changedFields lists the field paths whose values differ between two
// records of the same section.
func changedFields(before, after member.Record) []string {
	seen := make(map[string]struct{})
	var changed []string
	for _, record := range []member.Record{before, after} {
		for _, field := range record.Fields() {
			if _, ok := seen[field]; ok {
				continue
			}
			seen[field] = struct{}{}
			a, _ := before.Get(field)
			b, _ := after.Get(field)
			if !cmp.Equal(a, b) {
				changed = append(changed, field)
			}
		}
	}
	if lb, ok := before.(member.ListRecord); ok {
		if la, ok := after.(member.ListRecord); ok && lb.Len() != la.Len() {
			changed = append(changed, validate.EntriesField)
		}
	}
	sort.Strings(changed)
	return changed
}

func sameRecord(a, b member.Record) bool {
	return cmp.Equal(a, b, recordCompare...)
}
