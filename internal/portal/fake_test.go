package portal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"memberportal/api/internal/classify"
	"memberportal/api/internal/member"
	"memberportal/api/internal/recordcache"
)

var seed = map[member.Category]string{
	member.CategoryPersonal:         `{"firstName":"Jane","lastName":"Doe","gender":"F","dateOfBirth":"1970-01-01","citizenship":"US"}`,
	member.CategoryContact:          `{"personalEmail":"jane@example.org","mobilePhone":"(555) 123-4567"}`,
	member.CategoryAddresses:        `{"home":{"street1":"1 Main St","city":"Springfield","postalCode":"12345","country":"US"}}`,
	member.CategoryFamily:           `{"maritalStatus":"Married"}`,
	member.CategoryOccupation:       `{"occupation":"Engineer"}`,
	member.CategoryMedical:          `{"primaryPhysician":"Ann Smith"}`,
	member.CategoryCryoArrangements: `{"method":"Whole Body","remainsRetention":"Return"}`,
	member.CategoryFunding:          `{"fundingMethod":"Insurance"}`,
	member.CategoryLegal:            `{"hasWill":true}`,
	member.CategoryNextOfKin:        `[{"firstName":"Ann","lastName":"Lee","relationship":"Sister","mobilePhone":"(555) 222-3333"}]`,
}

type update struct {
	category member.Category
	payload  json.RawMessage
}

// fakeCRM stores one JSON document per category. Updates merge object
// payloads into the stored document and replace everything else.
type fakeCRM struct {
	mu        sync.Mutex
	data      map[member.Category]json.RawMessage
	fetches   map[member.Category]int
	updates   []update
	fetchErr  map[member.Category]error
	updateErr map[member.Category]error
	gates     map[member.Category]chan struct{}
	started   chan member.Category
}

func newFakeCRM() *fakeCRM {
	f := &fakeCRM{
		data:      make(map[member.Category]json.RawMessage),
		fetches:   make(map[member.Category]int),
		fetchErr:  make(map[member.Category]error),
		updateErr: make(map[member.Category]error),
		gates:     make(map[member.Category]chan struct{}),
		started:   make(chan member.Category, 32),
	}
	for category, doc := range seed {
		f.data[category] = json.RawMessage(doc)
	}
	return f
}

func (f *fakeCRM) Fetch(ctx context.Context, id member.ID, category member.Category) (member.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[category]++
	if err := f.fetchErr[category]; err != nil {
		return member.Envelope{}, err
	}
	return member.Envelope{Success: true, Data: f.data[category]}, nil
}

func (f *fakeCRM) Update(ctx context.Context, id member.ID, category member.Category, payload any) (member.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return member.Envelope{}, err
	}
	f.started <- category

	f.mu.Lock()
	gate := f.gates[category]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{category: category, payload: body})
	if err := f.updateErr[category]; err != nil {
		return member.Envelope{}, err
	}
	f.data[category] = merge(f.data[category], body)
	return member.Envelope{Success: true}, nil
}

func merge(stored, patch json.RawMessage) json.RawMessage {
	var base, overlay map[string]json.RawMessage
	if json.Unmarshal(stored, &base) != nil || json.Unmarshal(patch, &overlay) != nil {
		return patch
	}
	for k, v := range overlay {
		base[k] = v
	}
	out, _ := json.Marshal(base)
	return out
}

func (f *fakeCRM) fetchCount(category member.Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[category]
}

// personal decodes the stored personal document.
func (f *fakeCRM) personal(t *testing.T) member.Personal {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out member.Personal
	require.NoError(t, json.Unmarshal(f.data[member.CategoryPersonal], &out))
	return out
}

func (f *fakeCRM) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeCRM) gate(category member.Category) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[category] = ch
	return ch
}

type fixedTier struct {
	mu    sync.Mutex
	tier  member.Tier
	calls int
}

func (c *fixedTier) Classify(ctx context.Context, id member.ID) classify.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return classify.Result{Tier: c.tier}
}

func (c *fixedTier) set(tier member.Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier = tier
}

func newCache(t *testing.T, fetcher recordcache.Fetcher) *recordcache.Cache {
	t.Helper()
	cache := recordcache.New(fetcher)
	t.Cleanup(cache.Close)
	return cache
}

type harness struct {
	portal     *Portal
	crm        *fakeCRM
	cache      *recordcache.Cache
	classifier *fixedTier
}

func newHarness(t *testing.T, tier member.Tier, configure ...func(*Deps)) *harness {
	t.Helper()
	crm := newFakeCRM()
	cache := newCache(t, crm)
	classifier := &fixedTier{tier: tier}

	deps := Deps{Records: cache, Writer: crm, Classifier: classifier}
	for _, fn := range configure {
		fn(&deps)
	}
	p := New("m1", deps)
	require.NoError(t, p.Load(context.Background()))
	return &harness{portal: p, crm: crm, cache: cache, classifier: classifier}
}

func (h *harness) section(t *testing.T, section member.Section) SectionView {
	t.Helper()
	view, err := h.portal.Section(section)
	require.NoError(t, err)
	return view
}
