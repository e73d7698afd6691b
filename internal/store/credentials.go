package store

import "fmt"

// Credentials identify the user to claude.ai. Empty fields are absent.
type Credentials struct {
	SessionKey     string `json:"sessionKey"`
	OrganizationID string `json:"organizationId"`
}

// Valid reports whether both fields are present. It is the only valid-session
// predicate: the two fields are written separately.
func (c Credentials) Valid() bool {
	return c.SessionKey != "" && c.OrganizationID != ""
}

// Position is the last saved widget position.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Credentials returns the stored credentials; missing fields are empty.
func (s *Store) Credentials() (Credentials, error) {
	var c Credentials
	if _, err := s.Get(KeySessionKey, &c.SessionKey); err != nil {
		return Credentials{}, fmt.Errorf("read session key: %w", err)
	}
	if _, err := s.Get(KeyOrganizationID, &c.OrganizationID); err != nil {
		return Credentials{}, fmt.Errorf("read organization id: %w", err)
	}
	return c, nil
}

// SaveCredentials writes both credential fields. An empty organization id
// deletes the stored one so a new key never pairs with an old org. The
// writes are independent; last write wins.
func (s *Store) SaveCredentials(c Credentials) error {
	if err := s.Set(KeySessionKey, c.SessionKey); err != nil {
		return fmt.Errorf("save session key: %w", err)
	}
	if c.OrganizationID == "" {
		if err := s.Delete(KeyOrganizationID); err != nil {
			return fmt.Errorf("clear organization id: %w", err)
		}
		return nil
	}
	if err := s.Set(KeyOrganizationID, c.OrganizationID); err != nil {
		return fmt.Errorf("save organization id: %w", err)
	}
	return nil
}

// DeleteCredentials removes both credential fields.
func (s *Store) DeleteCredentials() error {
	return s.Delete(KeySessionKey, KeyOrganizationID)
}

// WindowPosition returns the saved position, if any.
func (s *Store) WindowPosition() (Position, bool, error) {
	var p Position
	ok, err := s.Get(KeyWindowPosition, &p)
	return p, ok, err
}

// SetWindowPosition saves the widget position.
func (s *Store) SetWindowPosition(p Position) error {
	return s.Set(KeyWindowPosition, p)
}
