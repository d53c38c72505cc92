package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
)

type registryMetrics interface {
	SetActiveSessions(n int)
}

// RegistryConfig tunes session lifetime.
type RegistryConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Session is the per-user state kept between requests.
type Session struct {
	UserID   string
	Provider *Provider
	Tracker  *Tracker

	mu       sync.Mutex
	lastSeen time.Time
	notices  map[int]chan models.Announcement
	nextID   int
}

// Announcements subscribes to foreground announcement notices for this
// session. Notices are dropped for readers that fall behind.
func (s *Session) Announcements() (<-chan models.Announcement, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan models.Announcement, 8)
	id := s.nextID
	s.nextID++
	s.notices[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.notices[id]; ok {
				delete(s.notices, id)
				close(c)
			}
		})
	}
}

func (s *Session) notify(ann models.Announcement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.notices {
		select {
		case ch <- ann:
		default:
		}
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *Session) close() {
	s.Provider.SignOut()
	s.Tracker.Close()
	s.Provider.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.notices {
		delete(s.notices, id)
		close(ch)
	}
}

// Registry owns every live session. It is created once at startup and torn
// down with Close.
type Registry struct {
	agg     Aggregator
	cfg     RegistryConfig
	logger  *zap.Logger
	metrics registryMetrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry constructs an empty registry.
func NewRegistry(agg Aggregator, cfg RegistryConfig, metrics registryMetrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Registry{
		agg:      agg,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		sessions: map[string]*Session{},
	}
}

// Start launches the idle sweeper.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					r.logger.Debug("idle sessions evicted", zap.Int("count", n))
				}
			}
		}
	}()
}

// Acquire returns the session for principal, creating and authenticating it
// when needed.
func (r *Registry) Acquire(principal models.Principal) *Session {
	r.mu.Lock()
	sess, ok := r.sessions[principal.ID]
	if !ok {
		provider := NewProvider()
		sess = &Session{
			UserID:   principal.ID,
			Provider: provider,
			Tracker:  NewTracker(provider, r.agg, r.logger.With(zap.String("user_id", principal.ID))),
			notices:  map[int]chan models.Announcement{},
		}
		r.sessions[principal.ID] = sess
	}
	// touched under r.mu so a concurrent Sweep sees the session as active
	sess.touch(r.now())
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}
	sess.Provider.Authenticate(principal)
	return sess
}

// Lookup returns an existing session.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// SignOut ends the user's session; trackers zero their counts and streams are
// told to redirect.
func (r *Registry) SignOut(userID string) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	if r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}
}

// Broadcast delivers a new announcement to every live session.
func (r *Registry) Broadcast(ann models.Announcement) {
	for _, sess := range r.all() {
		sess.notify(ann)
	}
}

// Sweep evicts sessions idle for longer than IdleTTL that have no open
// streams. It returns the number evicted.
func (r *Registry) Sweep() int {
	evicted := 0
	for _, sess := range r.all() {
		if r.signOutIfIdle(sess) {
			evicted++
		}
	}
	return evicted
}

// signOutIfIdle evicts sess only if, under the registry lock, it is still the
// registered session for its user, has no streams and has been idle for
// IdleTTL.
func (r *Registry) signOutIfIdle(sess *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[sess.UserID]
	if !ok || current != sess || sess.Tracker.Subscribers() > 0 || sess.idleSince(r.now()) < r.cfg.IdleTTL {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sess.UserID)
	count := len(r.sessions)
	r.mu.Unlock()

	sess.close()
	if r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the sweeper and signs every session out.
func (r *Registry) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	for _, sess := range r.all() {
		r.SignOut(sess.UserID)
	}
}

func (r *Registry) all() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}
