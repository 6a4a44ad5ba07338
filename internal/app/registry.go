package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

type PendingOptions struct {
	MaxFrames int
	MaxBytes  int
	TTL       time.Duration
}

type Options struct {
	// ConsumerQueueSize bounds each consumer's outbound frame queue.
	ConsumerQueueSize int
	// MaxConsumers caps consumers per identity and direction; 0 is unlimited.
	MaxConsumers int
	Pending      PendingOptions
}

func DefaultOptions() Options {
	return Options{
		ConsumerQueueSize: 64,
		MaxConsumers:      16,
		Pending: PendingOptions{
			MaxFrames: 3,
			MaxBytes:  8 << 10,
			TTL:       30 * time.Second,
		},
	}
}

// Declaration is what a transport claims at connect time.
type Declaration struct {
	Identity domain.DeviceIdentity
	Role     domain.Role
	Format   string
	ClientID string
}

// bucket holds everything routed under one identity. All access goes through
// mu; a dead bucket has been removed from the table and must not be used.
type bucket struct {
	mu        sync.Mutex
	identity  domain.DeviceIdentity
	dead      bool
	producers [domain.NumDirections]*Session
	consumers [domain.NumDirections][]*Session
	pending   [domain.NumDirections]*PendingBuffer
}

func (b *bucket) empty() bool {
	for d := 0; d < domain.NumDirections; d++ {
		if b.producers[d] != nil || len(b.consumers[d]) > 0 || b.pending[d] != nil {
			return false
		}
	}
	return true
}

// Registry maps (identity, role) to live sessions. It is sharded per identity
// so unrelated devices never contend on a lock.
type Registry struct {
	opts    Options
	stats   *Stats
	buckets *xsync.MapOf[string, *bucket]
	now     func() time.Time
}

func NewRegistry(opts Options, stats *Stats) *Registry {
	if opts.ConsumerQueueSize <= 0 {
		opts.ConsumerQueueSize = DefaultOptions().ConsumerQueueSize
	}
	if stats == nil {
		stats = NewStats()
	}
	return &Registry{
		opts:    opts,
		stats:   stats,
		buckets: xsync.NewMapOf[string, *bucket](),
		now:     time.Now,
	}
}

func (r *Registry) Options() Options { return r.opts }

func (r *Registry) Stats() *Stats { return r.stats }

// lockBucket returns the locked live bucket for id, creating it if needed.
func (r *Registry) lockBucket(id domain.DeviceIdentity) *bucket {
	for {
		b, _ := r.buckets.LoadOrCompute(id.Key(), func() *bucket {
			r.stats.buckets.Inc()
			return &bucket{identity: id}
		})
		b.mu.Lock()
		if !b.dead {
			return b
		}
		b.mu.Unlock()
	}
}

// lockExisting is lockBucket without creation. Returns nil if absent.
func (r *Registry) lockExisting(id domain.DeviceIdentity) *bucket {
	b, ok := r.buckets.Load(id.Key())
	if !ok {
		return nil
	}
	b.mu.Lock()
	if b.dead {
		b.mu.Unlock()
		return nil
	}
	return b
}

// Register installs a session for d on transport t. A producer replaces the
// current producer of the same role, which is superseded and closed. A
// consumer is added alongside existing ones and receives the pending tail.
func (r *Registry) Register(d Declaration, t core.Transport) (*Session, error) {
	if !d.Role.Valid() {
		return nil, core.NewError(core.KindMalformedDeclaration, nil, "role %q", d.Role)
	}
	if d.Identity == "" {
		return nil, core.NewError(core.KindMalformedDeclaration, domain.ErrIdentityEmpty, "identity")
	}

	sess := newSession(d, t, r.opts.ConsumerQueueSize, r.now())
	dir := d.Role.Direction()
	ready := core.Ready{
		Session:  string(sess.ID),
		Identity: d.Identity.String(),
		Role:     d.Role.String(),
		Format:   d.Format,
	}

	var displaced *Session
	b := r.lockBucket(d.Identity)
	if d.Role.IsProducer() {
		displaced = b.producers[dir]
		if displaced != nil {
			displaced.supersede()
		}
		b.producers[dir] = sess
		sess.activate()
		sess.Send(ready)
		consumers := b.consumers[dir]
		for _, c := range consumers {
			c.Send(core.PeerConnected{Peer: string(sess.ID), Role: sess.Role.String(), Count: 1})
			sess.Send(core.PeerConnected{Peer: string(c.ID), Role: c.Role.String(), Count: len(consumers)})
		}
	} else {
		if limit := r.opts.MaxConsumers; limit > 0 && len(b.consumers[dir]) >= limit {
			b.mu.Unlock()
			return nil, core.NewError(core.KindCapacity, nil, "%d %s sessions on %s", limit, d.Role, d.Identity)
		}
		sess.activate()
		sess.Send(ready)
		if p := b.pending[dir]; p != nil {
			if n := p.DrainTo(sess); n > 0 {
				log.Debug().Str("module", "app.registry").Str("sid", string(sess.ID)).Int("frames", n).Msg("pending replayed")
			}
		}
		b.consumers[dir] = append(b.consumers[dir], sess)
		if p := b.producers[dir]; p != nil {
			p.Send(core.PeerConnected{Peer: string(sess.ID), Role: sess.Role.String(), Count: len(b.consumers[dir])})
			sess.Send(core.PeerConnected{Peer: string(p.ID), Role: p.Role.String(), Count: 1})
		}
	}
	b.mu.Unlock()

	r.stats.sessions.WithLabelValues(d.Role.String()).Inc()
	log.Info().
		Str("module", "app.registry").
		Str("sid", string(sess.ID)).
		Str("identity", d.Identity.String()).
		Str("role", d.Role.String()).
		Msg("session registered")

	if displaced != nil {
		r.stats.supersessions.Inc()
		r.stats.sessions.WithLabelValues(displaced.Role.String()).Dec()
		r.CloseSession(displaced, core.ReasonSuperseded)
		log.Info().
			Str("module", "app.registry").
			Str("sid", string(displaced.ID)).
			Str("by", string(sess.ID)).
			Str("identity", d.Identity.String()).
			Msg("producer superseded")
	}
	return sess, nil
}

// Unregister removes s. It reports false if s was not registered, which makes
// repeated teardown of the same session a no-op.
func (r *Registry) Unregister(s *Session) bool {
	b := r.lockExisting(s.Identity)
	if b == nil {
		return false
	}
	defer b.mu.Unlock()

	dir := s.Role.Direction()
	gone := core.PeerDisconnected{Peer: string(s.ID), Role: s.Role.String()}
	if s.Role.IsProducer() {
		if b.producers[dir] != s {
			return false
		}
		b.producers[dir] = nil
		for _, c := range b.consumers[dir] {
			c.Send(gone)
		}
	} else {
		list := b.consumers[dir]
		idx := -1
		for i, c := range list {
			if c == s {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}
		copy(list[idx:], list[idx+1:])
		list[len(list)-1] = nil
		b.consumers[dir] = list[:len(list)-1]
		if len(b.consumers[dir]) == 0 && b.producers[dir] != nil {
			b.producers[dir].Send(gone)
		}
	}

	r.stats.sessions.WithLabelValues(s.Role.String()).Dec()
	log.Info().
		Str("module", "app.registry").
		Str("sid", string(s.ID)).
		Str("identity", s.Identity.String()).
		Str("role", s.Role.String()).
		Msg("session unregistered")
	return true
}

// CloseSession closes s once and counts the reason.
func (r *Registry) CloseSession(s *Session, reason core.CloseReason) bool {
	if !s.Close(reason) {
		return false
	}
	r.stats.Closed(reason.String())
	return true
}

// Lookup returns the sessions bound to (id, role).
func (r *Registry) Lookup(id domain.DeviceIdentity, role domain.Role) []*Session {
	if !role.Valid() {
		return nil
	}
	b := r.lockExisting(id)
	if b == nil {
		return nil
	}
	defer b.mu.Unlock()
	return b.sessionsFor(role)
}

func (b *bucket) sessionsFor(role domain.Role) []*Session {
	dir := role.Direction()
	if role.IsProducer() {
		if p := b.producers[dir]; p != nil {
			return []*Session{p}
		}
		return nil
	}
	return append([]*Session(nil), b.consumers[dir]...)
}

// AppendPending stores f in the pending buffer of (id, dir).
func (r *Registry) AppendPending(id domain.DeviceIdentity, dir domain.Direction, f core.Frame) {
	b := r.lockBucket(id)
	defer b.mu.Unlock()
	r.appendPendingLocked(b, dir, f)
}

func (r *Registry) appendPendingLocked(b *bucket, dir domain.Direction, f core.Frame) {
	p := b.pending[dir]
	if p == nil {
		p = NewPendingBuffer(r.opts.Pending.MaxFrames, r.opts.Pending.MaxBytes)
		b.pending[dir] = p
	}
	stored, evicted := p.Append(f, r.now())
	if evicted > 0 {
		r.stats.pendingEvicted.Add(float64(evicted))
	}
	if stored {
		r.stats.framesBuffered.Inc()
	}
}

// ClearPending drops the pending buffer of (id, dir).
func (r *Registry) ClearPending(id domain.DeviceIdentity, dir domain.Direction) {
	b := r.lockExisting(id)
	if b == nil {
		return
	}
	defer b.mu.Unlock()
	b.pending[dir] = nil
}

// PendingLen reports the number of buffered frames for (id, dir).
func (r *Registry) PendingLen(id domain.DeviceIdentity, dir domain.Direction) int {
	b := r.lockExisting(id)
	if b == nil {
		return 0
	}
	defer b.mu.Unlock()
	if p := b.pending[dir]; p != nil {
		return p.Len()
	}
	return 0
}

// Sessions returns every registered session.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	r.buckets.Range(func(_ string, b *bucket) bool {
		b.mu.Lock()
		if !b.dead {
			for d := 0; d < domain.NumDirections; d++ {
				if p := b.producers[d]; p != nil {
					out = append(out, p)
				}
				out = append(out, b.consumers[d]...)
			}
		}
		b.mu.Unlock()
		return true
	})
	return out
}

// Sweep drops pending buffers idle past their TTL and removes empty buckets.
// It returns the number of buffers dropped.
func (r *Registry) Sweep(now time.Time) int {
	dropped := 0
	r.buckets.Range(func(key string, b *bucket) bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.dead {
			return true
		}
		for d := 0; d < domain.NumDirections; d++ {
			if p := b.pending[d]; p != nil && p.Stale(now, r.opts.Pending.TTL) {
				b.pending[d] = nil
				dropped++
			}
		}
		if b.empty() {
			b.dead = true
			r.buckets.Delete(key)
			r.stats.buckets.Dec()
		}
		return true
	})
	if dropped > 0 {
		log.Debug().Str("module", "app.registry").Int("buffers", dropped).Msg("stale pending dropped")
	}
	return dropped
}

// DeviceInfo is a snapshot of one identity.
type DeviceInfo struct {
	Identity     string         `json:"identity"`
	Sessions     []Info         `json:"sessions"`
	Pending      map[string]int `json:"pending,omitempty"`
	PendingBytes map[string]int `json:"pending_bytes,omitempty"`
}

func (b *bucket) info() DeviceInfo {
	di := DeviceInfo{Identity: b.identity.String(), Sessions: []Info{}}
	for d := 0; d < domain.NumDirections; d++ {
		if p := b.producers[d]; p != nil {
			di.Sessions = append(di.Sessions, p.Info())
		}
		for _, c := range b.consumers[d] {
			di.Sessions = append(di.Sessions, c.Info())
		}
		if p := b.pending[d]; p != nil && p.Len() > 0 {
			if di.Pending == nil {
				di.Pending = make(map[string]int)
				di.PendingBytes = make(map[string]int)
			}
			dir := domain.Direction(d).String()
			di.Pending[dir] = p.Len()
			di.PendingBytes[dir] = p.Bytes()
		}
	}
	return di
}

// Devices snapshots every identity, sorted by identity.
func (r *Registry) Devices() []DeviceInfo {
	out := []DeviceInfo{}
	r.buckets.Range(func(_ string, b *bucket) bool {
		b.mu.Lock()
		if !b.dead {
			out = append(out, b.info())
		}
		b.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func (r *Registry) Device(id domain.DeviceIdentity) (DeviceInfo, bool) {
	b := r.lockExisting(id)
	if b == nil {
		return DeviceInfo{}, false
	}
	defer b.mu.Unlock()
	return b.info(), true
}
