package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/repo"
)

// ---------- settings ----------

type fakeSettings struct {
	mu      sync.Mutex
	byUser  map[string]*domain.DigestSettings
	listErr error
	upErr   error
	upserts int
}

func newFakeSettings(rows ...*domain.DigestSettings) *fakeSettings {
	f := &fakeSettings{byUser: map[string]*domain.DigestSettings{}}
	for _, r := range rows {
		f.byUser[r.UserID] = r.Clone()
	}
	return f
}

func (f *fakeSettings) GetSettings(_ context.Context, userID string) (*domain.DigestSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byUser[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *fakeSettings) UpsertSettings(_ context.Context, s *domain.DigestSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upErr != nil {
		return f.upErr
	}
	f.upserts++
	if prev, ok := f.byUser[s.UserID]; ok {
		s.ID, s.CreatedAt = prev.ID, prev.CreatedAt
	} else if s.ID == "" {
		s.ID = uuid.NewString()
	}
	f.byUser[s.UserID] = s.Clone()
	return nil
}

func (f *fakeSettings) SetPushToken(_ context.Context, userID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byUser[userID]
	if !ok {
		return repo.ErrNotFound
	}
	s.PushToken = token
	return nil
}

func (f *fakeSettings) ListDue(_ context.Context, hour int) ([]domain.DigestSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []domain.DigestSettings{}
	for _, s := range f.byUser {
		if s.DueAt(hour) {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ---------- history ----------

type fakeHistory struct {
	mu        sync.Mutex
	rows      []*domain.DigestHistory
	createErr error
}

func (f *fakeHistory) CreateHistory(_ context.Context, h *domain.DigestHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	f.rows = append(f.rows, h.Clone())
	return nil
}

func (f *fakeHistory) GetHistory(_ context.Context, id, userID string) (*domain.DigestHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.rows {
		if h.ID == id && h.UserID == userID {
			return h.Clone(), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeHistory) ListHistoryPage(_ context.Context, userID string, offset, limit int) ([]domain.DigestHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.DigestHistory
	for _, h := range f.rows {
		if h.UserID == userID {
			all = append(all, *h.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SentAt.After(all[j].SentAt) })
	if offset >= len(all) {
		return []domain.DigestHistory{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeHistory) CountHistory(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, h := range f.rows {
		if h.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeHistory) MarkRead(_ context.Context, id, userID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.rows {
		if h.ID == id && h.UserID == userID {
			if h.ReadAt != nil {
				return false, nil
			}
			t := at
			h.ReadAt = &t
			return true, nil
		}
	}
	return false, repo.ErrNotFound
}

func (f *fakeHistory) SetNotificationID(_ context.Context, id, userID, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.rows {
		if h.ID == id && h.UserID == userID {
			h.NotificationID = &notificationID
			return nil
		}
	}
	return repo.ErrNotFound
}

func (f *fakeHistory) forUser(userID string) []*domain.DigestHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.DigestHistory
	for _, h := range f.rows {
		if h.UserID == userID {
			out = append(out, h.Clone())
		}
	}
	return out
}

// ---------- idempotency ----------

type fakeIdem struct {
	mu   sync.Mutex
	recs map[string]*domain.Idempotency
}

func newFakeIdem() *fakeIdem { return &fakeIdem{recs: map[string]*domain.Idempotency{}} }

func (f *fakeIdem) GetIdempotency(_ context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[userID+"|"+scope+"|"+key]
	if !ok || !r.ExpiresAt.After(now) {
		return nil, repo.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeIdem) CreateIdempotency(_ context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := userID + "|" + scope + "|" + key
	if _, ok := f.recs[k]; ok {
		return nil, repo.ErrDuplicate
	}
	now := time.Now().UTC()
	r := &domain.Idempotency{ID: uuid.NewString(), UserID: userID, Scope: scope, Key: key, ResourceID: resourceID, Status: status, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	f.recs[k] = r
	return r, nil
}

// ---------- provider / notifier ----------

type genCall struct {
	Topics       []string
	Language     string
	CustomPrompt string
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []genCall
	failFor map[string]error // keyed by custom prompt
	nilFor  map[string]bool  // answer (nil, nil)
	panicOn map[string]bool
	content string
}

var errGenerate = errors.New("generation failed")

func (f *fakeProvider) Generate(_ context.Context, topics []string, lang, custom string) (*domain.DigestContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, genCall{Topics: topics, Language: lang, CustomPrompt: custom})
	if err, ok := f.failFor[custom]; ok {
		return nil, err
	}
	if f.nilFor[custom] {
		return nil, nil
	}
	if f.panicOn[custom] {
		panic("provider exploded for " + custom)
	}
	body := f.content
	if body == "" {
		body = "# Heading\n\nFirst real line.\nSecond line."
	}
	return &domain.DigestContent{
		Title:   "Daily Digest: " + strings.Join(topics, ", "),
		Content: body,
		Sources: []domain.Source{{Title: "Example", URL: "https://example.com"}},
	}, nil
}

func (f *fakeProvider) Ping(context.Context) (*domain.DigestContent, error) {
	return &domain.DigestContent{Title: "ping", Content: "pong"}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sentPush struct {
	Token, DigestID, Title, Preview string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentPush
	status  string
	panicOn string // token that makes SendDigest panic
}

func (f *fakeNotifier) SendDigest(_ context.Context, token, digestID, title, preview string) domain.PushTicket {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{token, digestID, title, preview})
	if f.panicOn != "" && token == f.panicOn {
		panic("push client exploded")
	}
	if f.status == domain.TicketError {
		return domain.PushTicket{Status: domain.TicketError, Message: "DeviceNotRegistered"}
	}
	return domain.PushTicket{ID: "ticket-" + digestID, Status: domain.TicketOK}
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// ---------- builders ----------

func settingsAt(userID, clock, tz string, enabled bool, token string) *domain.DigestSettings {
	s := domain.NewDefaultSettings(userID)
	s.ScheduleTime, s.Timezone, s.Enabled, s.PushToken = clock, tz, enabled, token
	_ = s.RecomputeUTC()
	return s
}
