package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"chatrelay/internal/models"

	"github.com/rs/zerolog/log"
)

const maxIDLength = 256

// ErrInvalidSessionID is returned for identifiers the store refuses to key on.
var ErrInvalidSessionID = errors.New("invalid session id")

// Mirror keeps an external copy of session snapshots.
type Mirror interface {
	Load(ctx context.Context, id string) (*models.Snapshot, bool)
	Save(ctx context.Context, snap models.Snapshot) error
}

// Store is the process-wide session registry. Sessions are created lazily and
// never evicted.
type Store struct {
	systemPrompt string
	mirror       Mirror

	mu       sync.RWMutex
	sessions map[string]*Session
}

type Option func(*Store)

// WithMirror seeds unseen ids from, and persists commits to, the given mirror.
func WithMirror(m Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

// NewStore builds an empty store whose sessions start with systemPrompt.
func NewStore(systemPrompt string, opts ...Option) *Store {
	st := &Store{
		systemPrompt: systemPrompt,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// ValidateID reports whether id can key a session.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength || !utf8.ValidString(id) {
		return ErrInvalidSessionID
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return ErrInvalidSessionID
	}
	return nil
}

// GetOrCreate returns the session for id, inserting a fresh one on first reference.
// Every caller passing the same id receives the same *Session.
func (st *Store) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	st.mu.RLock()
	se, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return se, nil
	}

	// mirror lookup stays outside the lock; the insert below re-checks
	var seeded *Session
	if st.mirror != nil {
		if snap, found := st.mirror.Load(ctx, id); found && snap.Valid() && snap.ID == id {
			seeded = fromSnapshot(snap)
			log.Debug().Str("session_id", id).Msg("session rehydrated from mirror")
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if se, ok := st.sessions[id]; ok {
		return se, nil
	}
	if seeded == nil {
		seeded = newSession(id, st.systemPrompt)
	}
	st.sessions[id] = seeded
	return seeded, nil
}

// Persist pushes the session's current snapshot to the mirror, if any. Saves of
// one session are serialized and each takes its snapshot inside the critical
// section, so the mirror never ends on an older state.
func (st *Store) Persist(ctx context.Context, se *Session) {
	if st.mirror == nil || se == nil {
		return
	}
	se.saveMu.Lock()
	defer se.saveMu.Unlock()
	if err := st.mirror.Save(ctx, se.Snapshot()); err != nil {
		log.Warn().Err(err).Str("session_id", se.ID()).Msg("session mirror save failed")
	}
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
