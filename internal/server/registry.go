package server

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"Pantry/internal/catalog"
	"Pantry/internal/shop"
)

// Session is one visitor's live state: the persisted cart/compare lists and
// the in-memory product listing.
type Session struct {
	ID     string
	Shop   *shop.State
	Browse *catalog.Controller

	lastSeen time.Time
}

// Registry owns the live sessions. Shop state is rebuilt from the KV on
// first access, so dropping an idle session loses nothing durable.
type Registry struct {
	kv   shop.KV
	src  catalog.Source
	opts catalog.Options
	log  *zap.Logger
	now  func() time.Time

	active prometheus.Gauge

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(kv shop.KV, src catalog.Source, opts catalog.Options, log *zap.Logger, reg prometheus.Registerer) *Registry {
	if log == nil {
		log = zap.NewNop()
	}

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pantry",
		Name:      "sessions_active",
		Help:      "Sessions currently held in memory",
	})
	if reg != nil {
		reg.MustRegister(active)
	}

	return &Registry{
		kv:       kv,
		src:      src,
		opts:     opts,
		log:      log,
		now:      time.Now,
		active:   active,
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for id, hydrating it on first use. A new
// session's listing starts its first debounced load.
func (r *Registry) Get(ctx context.Context, id string) *Session {
	if s, ok := r.touch(id); ok {
		return s
	}

	log := r.log.With(zap.String("session", id))
	st := shop.Load(ctx, shop.Namespace(r.kv, id), log)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.lastSeen = r.now()
		return s
	}

	opts := r.opts
	opts.Log = log
	browse := catalog.NewController(r.src, opts)
	browse.Refresh()

	s := &Session{ID: id, Shop: st, Browse: browse, lastSeen: r.now()}
	r.sessions[id] = s
	r.active.Set(float64(len(r.sessions)))
	return s
}

func (r *Registry) touch(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		s.lastSeen = r.now()
	}
	return s, ok
}

// Sweep drops sessions unseen for longer than idle and returns how many.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.lastSeen.After(cutoff) {
			continue
		}
		s.Browse.Close()
		delete(r.sessions, id)
		n++
	}
	r.active.Set(float64(len(r.sessions)))
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.Browse.Close()
		delete(r.sessions, id)
	}
	r.active.Set(0)
}
