package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/repo"
)

// Memory is a process-local backend. Records are copied on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	settings map[string]*domain.DigestSettings // by user id
	history  map[string]*domain.DigestHistory  // by digest id
	idem     map[string]*domain.Idempotency    // by user|scope|key
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		settings: map[string]*domain.DigestSettings{},
		history:  map[string]*domain.DigestHistory{},
		idem:     map[string]*domain.Idempotency{},
	}
}

func (m *Memory) GetSettings(_ context.Context, userID string) (*domain.DigestSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) UpsertSettings(_ context.Context, s *domain.DigestSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := m.settings[s.UserID]; ok {
		s.ID, s.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
	}
	s.UpdatedAt = now
	m.settings[s.UserID] = s.Clone()
	return nil
}

func (m *Memory) SetPushToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		return repo.ErrNotFound
	}
	s.PushToken = token
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListDue(_ context.Context, utcHour int) ([]domain.DigestSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.DigestSettings{}
	for _, s := range m.settings {
		if s.DueAt(utcHour) {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) CreateHistory(_ context.Context, h *domain.DigestHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.SentAt.IsZero() {
		h.SentAt = time.Now().UTC()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	m.history[h.ID] = h.Clone()
	return nil
}

func (m *Memory) GetHistory(_ context.Context, id, userID string) (*domain.DigestHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.history[id]
	if !ok || h.UserID != userID {
		return nil, repo.ErrNotFound
	}
	return h.Clone(), nil
}

func (m *Memory) ListHistoryPage(_ context.Context, userID string, offset, limit int) ([]domain.DigestHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.userHistory(userID)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []domain.DigestHistory{}, nil
	}
	end := len(all)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]domain.DigestHistory, 0, end-offset)
	for _, h := range all[offset:end] {
		out = append(out, *h.Clone())
	}
	return out, nil
}

func (m *Memory) CountHistory(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.userHistory(userID))), nil
}

func (m *Memory) MarkRead(_ context.Context, id, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[id]
	if !ok || h.UserID != userID {
		return false, repo.ErrNotFound
	}
	if h.ReadAt != nil {
		return false, nil
	}
	t := at.UTC()
	h.ReadAt = &t
	return true, nil
}

func (m *Memory) SetNotificationID(_ context.Context, id, userID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[id]
	if !ok || h.UserID != userID {
		return repo.ErrNotFound
	}
	h.NotificationID = &notificationID
	return nil
}

func (m *Memory) HistoryStats(_ context.Context, userID string) (int64, *time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.userHistory(userID)
	if len(all) == 0 {
		return 0, nil, nil
	}
	latest := all[0].SentAt
	return int64(len(all)), &latest, nil
}

func (m *Memory) UnreadCount(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, h := range m.userHistory(userID) {
		if h.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetIdempotency(_ context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(key) == "" {
		return nil, repo.ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.idem[idemKey(userID, scope, key)]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, repo.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *Memory) CreateIdempotency(_ context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(userID, scope, key)
	if _, ok := m.idem[k]; ok {
		return nil, repo.ErrDuplicate
	}
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		UserID:     userID,
		Scope:      scope,
		Key:        key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	m.idem[k] = rec
	c := *rec
	return &c, nil
}

func (m *Memory) PurgeExpiredIdempotency(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.idem {
		if !rec.ExpiresAt.After(now) {
			delete(m.idem, k)
			n++
		}
	}
	return n, nil
}

// userHistory returns the user's records newest first (SentAt, then ID,
// both descending). Callers must hold m.mu.
func (m *Memory) userHistory(userID string) []*domain.DigestHistory {
	var out []*domain.DigestHistory
	for _, h := range m.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func idemKey(userID, scope, key string) string {
	return userID + "\x00" + scope + "\x00" + key
}
