package portal

import (
	"time"

	"memberportal/api/internal/member"
	"memberportal/api/internal/validate"
)

// SectionView is the read model of one section handed to the presentation
// layer. Data is a copy; changing it has no effect on the portal.
type SectionView struct {
	Section     member.Section       `json:"section"`
	Data        member.Record        `json:"data"`
	Loaded      bool                 `json:"loaded"`
	EditMode    bool                 `json:"editMode"`
	Saving      bool                 `json:"saving"`
	Dirty       bool                 `json:"dirty"`
	FieldErrors validate.FieldErrors `json:"fieldErrors,omitempty"`
	Error       string               `json:"error,omitempty"`
	Required    []string             `json:"required"`
	Reads       []member.Category    `json:"reads"`
	Writes      []member.Category    `json:"writes"`
	LoadedAt    *time.Time           `json:"loadedAt,omitempty"`
}

type View struct {
	Member   member.ID     `json:"memberId"`
	Tier     member.Tier   `json:"tier"`
	Degraded bool          `json:"degraded"`
	Sections []SectionView `json:"sections"`
}

// View returns every section visible to the member's tier.
func (p *Portal) View() (View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return View{}, ErrClosed
	}
	out := View{Member: p.id, Tier: p.tier.Tier, Degraded: p.tier.Degraded}
	for _, section := range member.VisibleSections(p.tier.Tier) {
		out.Sections = append(out.Sections, p.sectionView(p.sections[section]))
	}
	return out, nil
}

// Section returns the view of one section.
func (p *Portal) Section(section member.Section) (SectionView, error) {
	state, err := p.visible(section)
	if err != nil {
		return SectionView{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sectionView(state), nil
}

// sectionView must be called with p.mu held.
func (p *Portal) sectionView(state *sectionState) SectionView {
	section := state.def.section
	view := SectionView{
		Section:  section,
		Loaded:   state.loaded,
		EditMode: state.editing,
		Saving:   state.saving,
		Error:    state.err,
		Required: p.deps.Rules.Required(p.tier.Tier, section),
		Reads:    state.def.reads,
		Writes:   state.def.writeCategories(),
	}
	if state.current != nil {
		view.Data = state.current.Clone()
		view.Dirty = state.editing && !sameRecord(state.current, state.original)
	} else {
		view.Data, _ = member.New(section)
	}
	if len(state.fieldErrors) > 0 {
		view.FieldErrors = make(validate.FieldErrors, len(state.fieldErrors))
		for k, v := range state.fieldErrors {
			view.FieldErrors[k] = v
		}
	}
	if !state.loadedAt.IsZero() {
		at := state.loadedAt
		view.LoadedAt = &at
	}
	if view.Required == nil {
		view.Required = []string{}
	}
	return view
}
