// Package storetest provides in-memory stores that behave like the Postgres
// repositories, row change notifications included.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/realtime"
	"wesal-sync-backend/internal/repository"
)

// Publisher receives the changes the row triggers would send
type Publisher func(realtime.Change) int

func publish(p Publisher, table string, t realtime.ChangeType, record any) {
	if p == nil {
		return
	}
	data, _ := json.Marshal(record)
	c := realtime.Change{Table: table, Type: t, CommitTimestamp: time.Now().UTC()}
	if t == realtime.ChangeDelete {
		c.OldRecord = data
	} else {
		c.Record = data
	}
	p(c)
}

// Users is an in-memory user store
type Users struct {
	Publish Publisher

	mu    sync.Mutex
	users map[string]*models.User
}

func NewUsers() *Users {
	return &Users{users: make(map[string]*models.User)}
}

func (s *Users) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users[u.ID] = &u
	return nil
}

func (s *Users) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *Users) GetByCode(ctx context.Context, code string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Code == code {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Users) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.GetByCode(ctx, code)
	return err == nil, nil
}

func (s *Users) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PushToken = pushToken
	return nil
}

func (s *Users) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	return s.updatePresence(userID, func(u *models.User) {
		u.IsOnline = online
		u.LastSeenAt = at
	})
}

func (s *Users) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	return s.updatePresence(userID, func(u *models.User) {
		u.LastSeenAt = at
	})
}

func (s *Users) updatePresence(userID string, fn func(*models.User)) error {
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return repository.ErrNotFound
	}
	fn(u)
	p := presenceOf(u)
	s.mu.Unlock()

	publish(s.Publish, repository.TableUsers, realtime.ChangeUpdate, p)
	return nil
}

func (s *Users) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return presenceOf(u), nil
}

func presenceOf(u *models.User) *models.Presence {
	return &models.Presence{UserID: u.ID, IsOnline: u.IsOnline, LastSeenAt: u.LastSeenAt}
}

// Couples is an in-memory couple store
type Couples struct {
	mu      sync.Mutex
	couples map[string]*models.Couple
}

func NewCouples() *Couples {
	return &Couples{couples: make(map[string]*models.Couple)}
}

func (s *Couples) Create(ctx context.Context, couple *models.Couple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *couple
	s.couples[c.ID] = &c
	return nil
}

func (s *Couples) GetByID(ctx context.Context, id string) (*models.Couple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couples[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Couples) GetByUserID(ctx context.Context, userID string) (*models.Couple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.couples {
		if c.HasMember(userID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Couples) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.couples[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.couples, id)
	return nil
}

func (s *Couples) UserHasPair(ctx context.Context, userID string) (bool, error) {
	_, err := s.GetByUserID(ctx, userID)
	return err == nil, nil
}

// Sessions is an in-memory session store with the unique (couple, type, id) key
type Sessions struct {
	Publish Publisher

	mu       sync.Mutex
	sessions map[string]*models.Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*models.Session)}
}

func (s *Sessions) GetByID(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *Sessions) GetByKey(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.sessions {
		if row.Key() == key {
			return row.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Sessions) CreateOrGet(ctx context.Context, session *models.Session) (*models.Session, bool, error) {
	s.mu.Lock()
	for _, row := range s.sessions {
		if row.Key() == session.Key() {
			s.mu.Unlock()
			return row.Clone(), false, nil
		}
	}
	s.sessions[session.ID] = session.Clone()
	out := session.Clone()
	s.mu.Unlock()

	publish(s.Publish, repository.TableSessions, realtime.ChangeInsert, out)
	return out, true, nil
}

func (s *Sessions) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	row, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	row.State = append(json.RawMessage(nil), state...)
	row.UpdatedAt = at
	out := row.Clone()
	s.mu.Unlock()

	publish(s.Publish, repository.TableSessions, realtime.ChangeUpdate, out)
	return out, nil
}

func (s *Sessions) ListIdle(ctx context.Context, before time.Time, after models.IdleCursor, limit int) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, row := range s.sessions {
		if row.UpdatedAt.Before(before) && after.Precedes(row) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Precedes(out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	row, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return repository.ErrNotFound
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	publish(s.Publish, repository.TableSessions, realtime.ChangeDelete, map[string]string{"id": row.ID})
	return nil
}

// Len returns the number of session rows
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
