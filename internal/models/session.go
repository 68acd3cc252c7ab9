package models

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	ID           string    `json:"id"`
	Transcript   []Message `json:"transcript"`
	DisplayLog   []string  `json:"display_log"`
	DisplayRoles []Role    `json:"display_roles"`
	ImageLog     []string  `json:"image_log"`
}

// Valid reports whether the snapshot keeps the leading system record and an
// author for every display entry.
func (s *Snapshot) Valid() bool {
	if s == nil || s.ID == "" || len(s.Transcript) == 0 || s.Transcript[0].Role != RoleSystem {
		return false
	}
	return len(s.DisplayRoles) == len(s.DisplayLog)
}
