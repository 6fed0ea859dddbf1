package portal

import (
	"context"
	"sort"
	"sync"

	"memberportal/api/internal/member"
)

// Shared sub-entities a save can write. Two sections that own a common entity
// never save at the same time for the same member.
const (
	EntityPersonalName    = "personal.name"
	EntityPersonalDetails = "personal.details"
	EntityContactInfo     = "contact.info"
	EntityAddresses       = "addresses"
	EntityFamily          = "family"
	EntityOccupation      = "occupation"
	EntityMedical         = "medical"
	EntityCryo            = "cryo-arrangements"
	EntityFunding         = "funding"
	EntityLegal           = "legal"
	EntityNextOfKin       = "next-of-kin"
)

var owners = map[member.Section][]string{
	member.SectionPersonal:         {EntityPersonalName, EntityPersonalDetails},
	member.SectionContact:          {EntityContactInfo, EntityPersonalName},
	member.SectionAddresses:        {EntityAddresses},
	member.SectionFamily:           {EntityFamily},
	member.SectionOccupation:       {EntityOccupation},
	member.SectionMedical:          {EntityMedical},
	member.SectionCryoArrangements: {EntityCryo},
	member.SectionFunding:          {EntityFunding},
	member.SectionLegal:            {EntityLegal},
	member.SectionNextOfKin:        {EntityNextOfKin},
}

// Entities returns the sub-entities section writes, sorted.
func Entities(section member.Section) []string {
	out := append([]string(nil), owners[section]...)
	sort.Strings(out)
	return out
}

// Overlaps reports whether saves of a and b must be serialized.
func Overlaps(a, b member.Section) bool {
	for _, x := range owners[a] {
		for _, y := range owners[b] {
			if x == y {
				return true
			}
		}
	}
	return false
}

type lockKey struct {
	member member.ID
	entity string
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Locks hands out per-member entity locks. One instance is shared by every
// portal in the process so that two sessions of the same member serialize too.
type Locks struct {
	mu    sync.Mutex
	slots map[lockKey]*slot
}

func NewLocks() *Locks {
	return &Locks{slots: make(map[lockKey]*slot)}
}

// Acquire locks every entity in sorted order, waiting under ctx. The returned
// func releases them.
func (l *Locks) Acquire(ctx context.Context, id member.ID, entities []string) (func(), error) {
	sorted := append([]string(nil), entities...)
	sort.Strings(sorted)

	var held []lockKey
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}
	for _, entity := range sorted {
		key := lockKey{member: id, entity: entity}
		s := l.ref(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.unref(key)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (l *Locks) ref(key lockKey) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locks) unref(key lockKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Locks) unlock(key lockKey) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.unref(key)
}
