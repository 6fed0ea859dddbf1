package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"memberportal/api/internal/auth"
	"memberportal/api/internal/classify"
	"memberportal/api/internal/config"
	"memberportal/api/internal/member"
	"memberportal/api/internal/notify"
	"memberportal/api/internal/portal"
	"memberportal/api/internal/rbac"
	"memberportal/api/internal/recordcache"
	"memberportal/api/internal/search"
	"memberportal/api/internal/session"
	"memberportal/api/internal/store"
	"memberportal/api/internal/util"
	"memberportal/api/internal/validate"
)

type sessionStore interface {
	Save(context.Context, session.Session) error
	Lookup(context.Context, string) (session.Session, error)
	SetTier(context.Context, string, classify.Result) error
	Revoke(context.Context, string) error
	Ping(context.Context) error
}

type dataStore interface {
	InsertSectionSave(context.Context, store.SectionSave) error
	ListSectionSaves(context.Context, string, int) ([]store.SectionSave, error)
	UpsertDirectoryEntry(context.Context, store.DirectoryEntry) error
	GetDirectoryEntry(context.Context, string) (store.DirectoryEntry, error)
	Ping(context.Context) error
}

// recordClient is the CRM: reads feed the cache, writes go straight through
// and classification backs the tier classifier.
type recordClient interface {
	recordcache.Fetcher
	portal.Writer
	classify.Source
}

// Deps wires a Service. Store, Search and Notify are optional.
type Deps struct {
	Config   config.Config
	Logger   *zap.Logger
	Sessions sessionStore
	Store    dataStore
	CRM      recordClient
	Cache    *recordcache.Cache
	Rules    validate.Rules
	Search   *search.Service
	Notify   *notify.Service
	// Gatherer backs /metrics; Registerer receives the HTTP metrics.
	Gatherer   prometheus.Gatherer
	Registerer prometheus.Registerer
}

type portalEntry struct {
	portal    *portal.Portal
	ready     chan struct{}
	expiresAt time.Time
}

type Service struct {
	cfg        config.Config
	log        *zap.Logger
	sessions   sessionStore
	store      dataStore
	crm        recordClient
	cache      *recordcache.Cache
	classifier *classify.Classifier
	rules      validate.Rules
	locks      *portal.Locks
	search     *search.Service
	notify     *notify.Service
	observers  []portal.SaveObserver
	gatherer   prometheus.Gatherer
	registerer prometheus.Registerer

	mu      sync.Mutex
	portals map[string]*portalEntry
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := deps.Rules
	if rules == nil {
		rules = validate.DefaultRules()
	}
	cache := deps.Cache
	if cache == nil {
		cache = recordcache.New(deps.CRM, recordcache.WithLogger(logger))
	}
	s := &Service{
		cfg:        deps.Config,
		log:        logger,
		sessions:   deps.Sessions,
		store:      deps.Store,
		crm:        deps.CRM,
		cache:      cache,
		classifier: classify.New(deps.CRM, logger),
		rules:      rules,
		locks:      portal.NewLocks(),
		search:     deps.Search,
		notify:     deps.Notify,
		gatherer:   deps.Gatherer,
		registerer: deps.Registerer,
		portals:    make(map[string]*portalEntry),
	}
	s.observers = s.saveObservers()
	return s
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ping checks the health of service dependencies. The returned map is keyed
// by dependency and holds nil for healthy ones.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"sessions": s.sessions.Ping(ctx)}
	if s.store != nil {
		checks["database"] = s.store.Ping(ctx)
	}
	return checks
}

// SessionToken is returned when a session is minted.
type SessionToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	MemberID  member.ID `json:"memberId"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StartSession mints a portal session for a member the auth provider has
// already authenticated.
func (s *Service) StartSession(ctx context.Context, memberID, role string) (SessionToken, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return SessionToken{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "memberId is required", nil)
	}
	normalized := string(rbac.Normalize(strings.TrimSpace(role)))
	now := time.Now().UTC()
	sess := session.Session{
		ID:        util.NewID("sess"),
		MemberID:  member.ID(memberID),
		Role:      normalized,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL()),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return SessionToken{}, fmt.Errorf("start session: %w", err)
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), memberID, normalized, sess.ID, sess.ExpiresAt)
	if err != nil {
		return SessionToken{}, err
	}
	s.log.Info("session started",
		zap.String("session", sess.ID),
		zap.String("member", memberID),
		zap.String("role", normalized),
	)
	return SessionToken{
		Token:     token,
		SessionID: sess.ID,
		MemberID:  sess.MemberID,
		Role:      normalized,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *Service) sessionTTL() time.Duration {
	if s.cfg.SessionTTL <= 0 {
		return time.Hour
	}
	return s.cfg.SessionTTL
}

// SessionFromToken resolves a bearer token to its live session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (session.Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return session.Session{}, err
	}
	sess, err := s.sessions.Lookup(ctx, claims.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		s.dropPortal(claims.SessionID)
		return session.Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return session.Session{}, err
	}
	if string(sess.MemberID) != claims.Subject {
		return session.Session{}, auth.ErrInvalidToken
	}
	return sess, nil
}

// Logout revokes the session and unmounts its portal.
func (s *Service) Logout(ctx context.Context, sess session.Session) error {
	s.dropPortal(sess.ID)
	return s.sessions.Revoke(ctx, sess.ID)
}

// Portal returns the loaded portal of a session, creating it on first use.
// Concurrent first requests share one load.
func (s *Service) Portal(ctx context.Context, sess session.Session) (*portal.Portal, error) {
	s.mu.Lock()
	s.sweepLocked(time.Now())
	entry, ok := s.portals[sess.ID]
	if !ok {
		entry = &portalEntry{
			portal:    s.newPortal(sess),
			ready:     make(chan struct{}),
			expiresAt: sess.ExpiresAt,
		}
		s.portals[sess.ID] = entry
	}
	s.mu.Unlock()

	if !ok {
		err := entry.portal.Load(ctx)
		close(entry.ready)
		if err != nil {
			return nil, err
		}
		return entry.portal, nil
	}

	select {
	case <-entry.ready:
		return entry.portal, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) newPortal(sess session.Session) *portal.Portal {
	p := portal.New(sess.MemberID, portal.Deps{
		Records: s.cache,
		Writer:  s.crm,
		Classifier: &sessionClassifier{
			inner:     s.classifier,
			sessions:  s.sessions,
			sessionID: sess.ID,
			log:       s.log,
		},
		Rules:     s.rules,
		Locks:     s.locks,
		Observers: s.observers,
		Logger:    s.log.With(zap.String("session", sess.ID)),
	})
	if sess.Tier != nil {
		p.SetTier(*sess.Tier)
	}
	return p
}

func (s *Service) dropPortal(sessionID string) {
	s.mu.Lock()
	entry, ok := s.portals[sessionID]
	delete(s.portals, sessionID)
	s.mu.Unlock()
	if ok {
		entry.portal.Close()
	}
}

// sweepLocked unmounts portals whose session has expired.
func (s *Service) sweepLocked(now time.Time) {
	for id, entry := range s.portals {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			entry.portal.Close()
			delete(s.portals, id)
		}
	}
}

// Close unmounts every portal and waits for background notices and indexing.
func (s *Service) Close() {
	s.mu.Lock()
	for id, entry := range s.portals {
		entry.portal.Close()
		delete(s.portals, id)
	}
	s.mu.Unlock()
	if s.search != nil {
		s.search.Wait()
	}
	if s.notify != nil {
		s.notify.Wait()
	}
}

// History lists the session member's recent saves.
func (s *Service) History(ctx context.Context, sess session.Session, limit int) ([]store.SectionSave, error) {
	if s.store == nil {
		return []store.SectionSave{}, nil
	}
	return s.store.ListSectionSaves(ctx, string(sess.MemberID), limit)
}

// sessionClassifier classifies through the shared classifier and caches the
// result on the session, so a later portal for the same session skips the
// CRM call. Degraded results are not cached.
type sessionClassifier struct {
	inner     *classify.Classifier
	sessions  sessionStore
	sessionID string
	log       *zap.Logger
}

func (c *sessionClassifier) Classify(ctx context.Context, id member.ID) classify.Result {
	result := c.inner.Classify(ctx, id)
	if result.Degraded {
		return result
	}
	if err := c.sessions.SetTier(ctx, c.sessionID, result); err != nil {
		c.log.Warn("cache session tier", zap.String("session", c.sessionID), zap.Error(err))
	}
	return result
}
