package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func newTestService() (*DigestService, *fakeSettings, *fakeHistory, *fakeProvider, *fakeNotifier) {
	settings := newFakeSettings()
	history := &fakeHistory{}
	p := &fakeProvider{}
	n := &fakeNotifier{}
	svc := NewDigestService(settings, history, p, n)
	svc.Pinger = p
	svc.Idem = newFakeIdem()
	return svc, settings, history, p, n
}

func TestOptions(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	o := svc.Options()
	assert.Len(t, o.Topics, len(domain.DigestTopics))
	assert.Len(t, o.Languages, len(domain.DigestLanguages))
	assert.Contains(t, o.Timezones, "Asia/Jakarta")
}

func TestGetSettings_CreatesDefaultsOnce(t *testing.T) {
	svc, settings, _, _, _ := newTestService()
	ctx := context.Background()

	got, err := svc.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, domain.DefaultScheduleTime, got.ScheduleTime)
	assert.Equal(t, domain.DefaultTimezone, got.Timezone)
	assert.Equal(t, []string{domain.DefaultTopic}, []string(got.Topics))
	assert.Equal(t, 1, got.UTCHour)

	_, err = svc.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, settings.upserts, "defaults are persisted only on first read")

	_, err = svc.GetSettings(ctx, " ")
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestUpdateSettings_MergesAndRecomputesUTC(t *testing.T) {
	svc, settings, _, _, _ := newTestService()
	ctx := context.Background()

	got, err := svc.UpdateSettings(ctx, "u1", SettingsPatch{
		Enabled:      boolp(true),
		ScheduleTime: strp("05:00"),
	})
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 22, got.UTCHour, "05:00 WIB wraps to 22:00 UTC")

	// Timezone-only change keeps the schedule and still recomputes UTC.
	got, err = svc.UpdateSettings(ctx, "u1", SettingsPatch{Timezone: strp("Asia/Tokyo")})
	require.NoError(t, err)
	assert.Equal(t, "05:00", got.ScheduleTime)
	assert.Equal(t, 20, got.UTCHour)
	assert.True(t, got.Enabled, "unpatched fields are preserved")

	// Language tags are normalized to their base.
	got, err = svc.UpdateSettings(ctx, "u1", SettingsPatch{Language: strp("en-US"), Topics: []string{"science", " health "}})
	require.NoError(t, err)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, []string{"science", "health"}, []string(got.Topics))

	stored, _ := settings.GetSettings(ctx, "u1")
	assert.Equal(t, got.UTCHour, stored.UTCHour)
	assert.Equal(t, "Asia/Tokyo", stored.Timezone)
}

func TestUpdateSettings_UnknownTimezoneUsesDefaultOffset(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	got, err := svc.UpdateSettings(context.Background(), "u1", SettingsPatch{
		ScheduleTime: strp("08:00"),
		Timezone:     strp("Mars/Olympus"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.UTCHour)
}

func TestUpdateSettings_Validation(t *testing.T) {
	svc, settings, _, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name  string
		patch SettingsPatch
		field string
	}{
		{"bad clock", SettingsPatch{ScheduleTime: strp("25:00")}, "scheduleTime"},
		{"bad clock text", SettingsPatch{ScheduleTime: strp("8am")}, "scheduleTime"},
		{"no topics", SettingsPatch{Topics: []string{}}, "topics"},
		{"too many topics", SettingsPatch{Topics: []string{"a", "b", "c", "d", "e", "f"}}, "topics"},
		{"blank topic", SettingsPatch{Topics: []string{"  "}}, "topics"},
		{"unsupported language", SettingsPatch{Language: strp("xx")}, "language"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateSettings(ctx, "u1", tc.patch)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.Zero(t, settings.upserts, "invalid updates never reach the store")

	_, err := svc.UpdateSettings(ctx, "", SettingsPatch{})
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestUpdateSettings_PersistenceError(t *testing.T) {
	svc, settings, _, _, _ := newTestService()
	settings.upErr = errors.New("locked")

	_, err := svc.UpdateSettings(context.Background(), "u1", SettingsPatch{Enabled: boolp(true)})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "upsert settings", pe.Op)
}

func TestRegisterPushToken(t *testing.T) {
	svc, settings, _, _, _ := newTestService()
	ctx := context.Background()

	assert.ErrorIs(t, svc.RegisterPushToken(ctx, "", "tok"), ErrMissingUserID)
	assert.ErrorIs(t, svc.RegisterPushToken(ctx, "u1", " "), ErrMissingPushToken)

	// New user: defaults are created with the token.
	require.NoError(t, svc.RegisterPushToken(ctx, "u1", "ExponentPushToken[1]"))
	st, err := settings.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[1]", st.PushToken)
	assert.False(t, st.Enabled)

	// Existing user: only the token changes.
	_, err = svc.UpdateSettings(ctx, "u1", SettingsPatch{Enabled: boolp(true)})
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPushToken(ctx, "u1", "ExponentPushToken[2]"))
	st, _ = settings.GetSettings(ctx, "u1")
	assert.Equal(t, "ExponentPushToken[2]", st.PushToken)
	assert.True(t, st.Enabled)
}

func TestListHistory_PagingAndClamp(t *testing.T) {
	svc, _, history, _, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, history.CreateHistory(ctx, &domain.DigestHistory{UserID: "u1", Title: "t", SentAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	items, total, limit, offset, err := svc.ListHistory(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Equal(t, 2, limit)
	assert.Equal(t, 0, offset)
	require.Len(t, items, 2)
	assert.True(t, items[0].SentAt.After(items[1].SentAt), "newest first")

	_, _, limit, offset, err = svc.ListHistory(ctx, "u1", 0, -3)
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryLimit, limit)
	assert.Equal(t, 0, offset)

	_, _, limit, _, err = svc.ListHistory(ctx, "u1", 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxHistoryLimit, limit)

	items, total, _, _, err = svc.ListHistory(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestGetDigest_MarksReadOnce(t *testing.T) {
	svc, _, history, _, _ := newTestService()
	ctx := context.Background()

	h := &domain.DigestHistory{UserID: "u1", Title: "t", Content: "c", SentAt: time.Now().UTC()}
	require.NoError(t, history.CreateHistory(ctx, h))

	first := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return first }
	got, err := svc.GetDigest(ctx, "u1", h.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(first))

	svc.Now = func() time.Time { return first.Add(time.Hour) }
	got, err = svc.GetDigest(ctx, "u1", h.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadAt.Equal(first), "readAt is set only once")

	_, err = svc.GetDigest(ctx, "u2", h.ID)
	assert.ErrorIs(t, err, ErrDigestNotFound)
	_, err = svc.GetDigest(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrDigestNotFound)
}

func TestGenerateTest_AnonymousDoesNotPersist(t *testing.T) {
	svc, _, history, p, n := newTestService()

	res, err := svc.GenerateTest(context.Background(), TestRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.DigestID)
	assert.Equal(t, "Daily Digest: technology", res.Content.Title)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "id", p.calls[0].Language)
	assert.Empty(t, history.rows)
	assert.Zero(t, n.sentCount())
}

func TestGenerateTest_WithUserPersistsAndNotifies(t *testing.T) {
	svc, _, history, _, n := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.RegisterPushToken(ctx, "u1", "ExponentPushToken[1]"))

	res, err := svc.GenerateTest(ctx, TestRequest{UserID: "u1", Topics: []string{"science"}, Language: "en"})
	require.NoError(t, err)
	require.NotEmpty(t, res.DigestID)

	rows := history.forUser("u1")
	require.Len(t, rows, 1)
	assert.Equal(t, "en", rows[0].Language)
	require.Equal(t, 1, n.sentCount())
	assert.Equal(t, res.DigestID, n.sent[0].DigestID)
}

func TestGenerateTest_IdempotentReplay(t *testing.T) {
	svc, _, history, p, _ := newTestService()
	ctx := context.Background()

	first, err := svc.GenerateTest(ctx, TestRequest{UserID: "u1", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := svc.GenerateTest(ctx, TestRequest{UserID: "u1", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.DigestID, again.DigestID)
	assert.Equal(t, first.Content.Content, again.Content.Content)

	assert.Equal(t, 1, p.callCount(), "replay skips generation")
	assert.Len(t, history.forUser("u1"), 1)

	// Same key for another user is independent.
	other, err := svc.GenerateTest(ctx, TestRequest{UserID: "u2", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.False(t, other.Replayed)
}

func TestGenerateTest_ProviderError(t *testing.T) {
	svc, _, history, p, _ := newTestService()
	p.failFor = map[string]error{"x": errGenerate}

	_, err := svc.GenerateTest(context.Background(), TestRequest{UserID: "u1", CustomPrompt: "x"})
	assert.ErrorIs(t, err, errGenerate)
	assert.Empty(t, history.rows)
}

func TestPingProvider(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	c, err := svc.PingProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", c.Content)

	svc.Pinger = nil
	_, err = svc.PingProvider(context.Background())
	assert.Error(t, err)
}
