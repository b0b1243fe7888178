package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/repository"

	"github.com/stretchr/testify/mock"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{users: map[string]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) GetByCode(ctx context.Context, code string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Code == code {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByCode(ctx, code)
	return err == nil, nil
}

func (m *memUsers) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PushToken = pushToken
	return nil
}

func (m *memUsers) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeenAt = at
	return nil
}

func (m *memUsers) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastSeenAt = at
	return nil
}

func (m *memUsers) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	u, err := m.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Presence{UserID: u.ID, IsOnline: u.IsOnline, LastSeenAt: u.LastSeenAt}, nil
}

type memCouples struct {
	mu      sync.Mutex
	couples map[string]*models.Couple
	lookups int
}

func newMemCouples(couples ...*models.Couple) *memCouples {
	m := &memCouples{couples: map[string]*models.Couple{}}
	for _, c := range couples {
		m.couples[c.ID] = c
	}
	return m
}

func (m *memCouples) Create(ctx context.Context, couple *models.Couple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *couple
	m.couples[c.ID] = &c
	return nil
}

func (m *memCouples) GetByID(ctx context.Context, id string) (*models.Couple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.couples[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCouples) GetByUserID(ctx context.Context, userID string) (*models.Couple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, c := range m.couples {
		if c.HasMember(userID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memCouples) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.couples[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.couples, id)
	return nil
}

func (m *memCouples) UserHasPair(ctx context.Context, userID string) (bool, error) {
	_, err := m.GetByUserID(ctx, userID)
	return err == nil, nil
}

func (m *memCouples) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	deleted  []string
}

func newMemSessions(sessions ...*models.Session) *memSessions {
	m := &memSessions{sessions: map[string]*models.Session{}}
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return m
}

func (m *memSessions) GetByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memSessions) GetByKey(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Key() == key {
			return s.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSessions) CreateOrGet(ctx context.Context, session *models.Session) (*models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Key() == session.Key() {
			return s.Clone(), false, nil
		}
	}
	m.sessions[session.ID] = session.Clone()
	return session.Clone(), true, nil
}

func (m *memSessions) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s.State = append([]byte(nil), state...)
	s.UpdatedAt = at
	return s.Clone(), nil
}

func (m *memSessions) ListIdle(ctx context.Context, before time.Time, after models.IdleCursor, limit int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.UpdatedAt.Before(before) && after.Precedes(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Precedes(out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, deviceToken string, n Notification) error {
	args := m.Called(ctx, deviceToken, n)
	return args.Error(0)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

const (
	aliceID  = "00000000-0000-0000-0000-00000000000a"
	bobID    = "00000000-0000-0000-0000-00000000000b"
	carolID  = "00000000-0000-0000-0000-00000000000c"
	coupleID = "c0000000-0000-0000-0000-000000000001"
)

func pairedFixture() (*memUsers, *memCouples) {
	now := time.Now().UTC()
	users := newMemUsers(
		&models.User{ID: aliceID, Code: "ALICE1", CreatedAt: now},
		&models.User{ID: bobID, Code: "BOB222", CreatedAt: now},
		&models.User{ID: carolID, Code: "CAROL3", CreatedAt: now},
	)
	couples := newMemCouples(&models.Couple{ID: coupleID, UserAID: aliceID, UserBID: bobID, CreatedAt: now})
	return users, couples
}
