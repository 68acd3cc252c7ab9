package session

import (
	"sync"

	"chatrelay/internal/models"
)

// Session is the per-browser state record. All methods are safe for concurrent use;
// accessors return copies so callers never alias the stored slices.
type Session struct {
	id string

	mu         sync.RWMutex
	transcript []models.Message
	displayLog []string
	// displayRoles[i] is the author of displayLog[i]; a failed turn leaves a
	// user entry without a reply, so position alone does not tell.
	displayRoles []models.Role
	imageLog     []string

	// turnMu serializes complete chat turns when one id is driven by several connections.
	turnMu sync.Mutex
	// saveMu orders mirror writes so the last stored snapshot is the newest.
	saveMu sync.Mutex
}

func newSession(id, systemPrompt string) *Session {
	system := models.Message{Role: models.RoleSystem, Content: systemPrompt}
	return &Session{
		id:           id,
		transcript:   []models.Message{system},
		displayLog:   make([]string, 0),
		displayRoles: make([]models.Role, 0),
		imageLog:     make([]string, 0),
	}
}

func fromSnapshot(snap *models.Snapshot) *Session {
	return &Session{
		id:           snap.ID,
		transcript:   append([]models.Message(nil), snap.Transcript...),
		displayLog:   append(make([]string, 0, len(snap.DisplayLog)), snap.DisplayLog...),
		displayRoles: append(make([]models.Role, 0, len(snap.DisplayRoles)), snap.DisplayRoles...),
		imageLog:     append(make([]string, 0, len(snap.ImageLog)), snap.ImageLog...),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Transcript() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.transcript...)
}

func (s *Session) DisplayLog() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]string, 0, len(s.displayLog)), s.displayLog...)
}

// DisplayEntries returns the display log with the author of every entry.
func (s *Session) DisplayEntries() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]models.Message, len(s.displayLog))
	for i, text := range s.displayLog {
		entries[i] = models.Message{Role: s.displayRoles[i], Content: text}
	}
	return entries
}

func (s *Session) ImageLog() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]string, 0, len(s.imageLog)), s.imageLog...)
}

// Snapshot copies the whole record under one read lock.
func (s *Session) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Snapshot{
		ID:           s.id,
		Transcript:   append([]models.Message(nil), s.transcript...),
		DisplayLog:   append(make([]string, 0, len(s.displayLog)), s.displayLog...),
		DisplayRoles: append(make([]models.Role, 0, len(s.displayRoles)), s.displayRoles...),
		ImageLog:     append(make([]string, 0, len(s.imageLog)), s.imageLog...),
	}
}

// AppendUser records client input in both the transcript and the display log and
// returns the transcript to submit upstream, ending with the new record.
func (s *Session) AppendUser(content string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, models.Message{Role: models.RoleUser, Content: content})
	s.displayLog = append(s.displayLog, content)
	s.displayRoles = append(s.displayRoles, models.RoleUser)
	return append([]models.Message(nil), s.transcript...)
}

// AppendAssistant commits a complete reply.
func (s *Session) AppendAssistant(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, models.Message{Role: models.RoleAssistant, Content: content})
	s.displayLog = append(s.displayLog, content)
	s.displayRoles = append(s.displayRoles, models.RoleAssistant)
}

func (s *Session) AppendImage(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageLog = append(s.imageLog, url)
}

// LockTurn blocks until no other chat turn runs on this session and returns the unlock func.
func (s *Session) LockTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}
