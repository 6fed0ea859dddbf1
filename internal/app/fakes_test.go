package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"memberportal/api/internal/config"
	"memberportal/api/internal/crm"
	"memberportal/api/internal/member"
	"memberportal/api/internal/recordcache"
	"memberportal/api/internal/session"
	"memberportal/api/internal/store"
)

const (
	testSecret    = "test-secret"
	testSyncToken = "test-sync-token"
)

type fakeCRM struct {
	mu            sync.Mutex
	data          map[member.Category]json.RawMessage
	fetches       map[member.Category]int
	updates       []member.Category
	tier          member.Tier
	classifyCalls int
	updateErr     error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		data: map[member.Category]json.RawMessage{
			member.CategoryPersonal:  json.RawMessage(`{"firstName":"Jane","lastName":"Doe"}`),
			member.CategoryContact:   json.RawMessage(`{"personalEmail":"jane@example.org","mobilePhone":"(555) 123-4567"}`),
			member.CategoryAddresses: json.RawMessage(`{"home":{"street1":"1 Main St","city":"Springfield","state":"IL","country":"US"}}`),
		},
		fetches: make(map[member.Category]int),
		tier:    member.TierBasic,
	}
}

func (f *fakeCRM) Fetch(_ context.Context, _ member.ID, category member.Category) (member.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[category]++
	return member.Envelope{Success: true, Data: f.data[category]}, nil
}

func (f *fakeCRM) Update(_ context.Context, _ member.ID, category member.Category, payload any) (member.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return member.Envelope{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return member.Envelope{}, f.updateErr
	}
	f.updates = append(f.updates, category)
	f.data[category] = body
	return member.Envelope{Success: true}, nil
}

func (f *fakeCRM) Classify(context.Context, member.ID) (crm.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls++
	return crm.Classification{Category: f.tier}, nil
}

func (f *fakeCRM) fetchCount(category member.Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[category]
}

func (f *fakeCRM) classifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls
}

type fakeStore struct {
	mu        sync.Mutex
	saves     []store.SectionSave
	directory map[string]store.DirectoryEntry
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{directory: make(map[string]store.DirectoryEntry)}
}

func (f *fakeStore) InsertSectionSave(_ context.Context, item store.SectionSave) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, item)
	return nil
}

func (f *fakeStore) ListSectionSaves(_ context.Context, memberID string, limit int) ([]store.SectionSave, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.SectionSave, 0)
	for i := len(f.saves) - 1; i >= 0 && len(items) < limit; i-- {
		if f.saves[i].MemberID == memberID {
			items = append(items, f.saves[i])
		}
	}
	return items, nil
}

func (f *fakeStore) UpsertDirectoryEntry(_ context.Context, entry store.DirectoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.directory[entry.MemberID]
	current.MemberID = entry.MemberID
	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&current.FullName, entry.FullName)
	merge(&current.FirstName, entry.FirstName)
	merge(&current.LastName, entry.LastName)
	merge(&current.Email, entry.Email)
	merge(&current.Phone, entry.Phone)
	merge(&current.City, entry.City)
	merge(&current.State, entry.State)
	merge(&current.Country, entry.Country)
	merge(&current.Tier, entry.Tier)
	current.UpdatedAt = time.Now().UTC()
	f.directory[entry.MemberID] = current
	return nil
}

func (f *fakeStore) GetDirectoryEntry(_ context.Context, memberID string) (store.DirectoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.directory[memberID]
	if !ok {
		return store.DirectoryEntry{}, store.ErrNotFound
	}
	return entry, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type testEnv struct {
	service *Service
	handler http.Handler
	crm     *fakeCRM
	store   *fakeStore
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("create session store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	fc := newFakeCRM()
	fs := newFakeStore()
	cache := recordcache.New(fc)
	t.Cleanup(cache.Close)

	deps := Deps{
		Config: config.Config{
			JWTSecret:  testSecret,
			SyncToken:  testSyncToken,
			SessionTTL: time.Hour,
		},
		Sessions: sessions,
		Store:    fs,
		CRM:      fc,
		Cache:    cache,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	svc := New(deps)
	t.Cleanup(svc.Close)
	return &testEnv{
		service: svc,
		handler: NewHTTPServer(svc, "*").Handler(),
		crm:     fc,
		store:   fs,
		redis:   mr,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func (e *testEnv) login(t *testing.T, memberID, role string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/internal/session",
		bytes.NewBufferString(`{"memberId":"`+memberID+`","role":"`+role+`"}`))
	req.Header.Set("x-portal-sync-token", testSyncToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("mint session: status %d body=%s", rr.Code, rr.Body.String())
	}
	var token SessionToken
	if err := json.Unmarshal(rr.Body.Bytes(), &token); err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if token.Token == "" {
		t.Fatal("expected token")
	}
	return token.Token
}

func sectionOf(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	section, ok := payload["section"].(map[string]any)
	if !ok {
		t.Fatalf("expected section in payload, got %v", payload)
	}
	return section
}

var errCRMDown = errors.New("connection refused")

func newRawRequest(method, path string) (*http.Request, *httptest.ResponseRecorder) {
	return httptest.NewRequest(method, path, nil), httptest.NewRecorder()
}
