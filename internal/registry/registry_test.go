package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"morningbot/internal/content"
	"morningbot/internal/storage"
	logx "morningbot/pkg/logx"
)

type fakeScheduler struct {
	mu      sync.Mutex
	entries map[string]string
	calls   int
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{entries: map[string]string{}} }

func (f *fakeScheduler) Schedule(id, hhmm string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.entries[id] = hhmm
	return nil
}

func (f *fakeScheduler) Unschedule(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	delete(f.entries, id)
	return ok
}

func load(t *testing.T, st storage.Store, s Scheduler) *Registry {
	t.Helper()
	r, err := Load(context.Background(), st, s, logx.Nop())
	require.NoError(t, err)
	return r
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"07:30", "07:30", true},
		{"7:5", "07:05", true},
		{" 23:59 ", "23:59", true},
		{"00:00", "00:00", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"-1:30", "", false},
		{"12", "", false},
		{"12:30:00", "", false},
		{"ab:cd", "", false},
		{"", "", false},
		{"123:00", "", false},
	}
	for _, tc := range cases {
		_, _, got, err := ParseClock(tc.in)
		if !tc.ok {
			require.ErrorIs(t, err, ErrValidation, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestSetTimeSchedulesAndDefaultsLanguage(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sch := newFakeScheduler()
	r := load(t, st, sch)

	got, err := r.SetTime(ctx, "-100", "6:45", "de-DE")
	require.NoError(t, err)
	require.Equal(t, "06:45", got)
	require.Equal(t, "06:45", sch.entries["-100"])

	g, ok := r.Group("-100")
	require.True(t, ok)
	require.Equal(t, Group{ID: "-100", SendTime: "06:45", Mode: content.ModeMixed, Language: "de"}, g)

	// language is only defaulted once
	_, err = r.SetTime(ctx, "-100", "07:00", "fr")
	require.NoError(t, err)
	g, _ = r.Group("-100")
	require.Equal(t, "de", g.Language)

	_, err = r.SetTime(ctx, "-200", "07:00", "xx")
	require.NoError(t, err)
	g, _ = r.Group("-200")
	require.Equal(t, content.DefaultLanguage, g.Language)
}

func TestRestartReconstructsSchedules(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	r := load(t, st, newFakeScheduler())
	for id, tm := range map[string]string{"-1": "05:00", "-2": "23:59", "-3": "0:7"} {
		_, err := r.SetTime(ctx, id, tm, "")
		require.NoError(t, err)
	}

	sch := newFakeScheduler()
	r2 := load(t, st, sch)
	require.Equal(t, 3, r2.RestoreSchedules())
	require.Equal(t, map[string]string{"-1": "05:00", "-2": "23:59", "-3": "00:07"}, sch.entries)
	require.Equal(t, 3, sch.calls)
}

func TestSetModeRejectsUnknownAndKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	r := load(t, storage.NewMemory(), newFakeScheduler())

	_, err := r.SetMode(ctx, "-1", "image")
	require.NoError(t, err)

	_, err = r.SetMode(ctx, "-1", "banana")
	require.ErrorIs(t, err, ErrValidation)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "mode", ve.Field)

	g, _ := r.Group("-1")
	require.Equal(t, content.ModeImage, g.Mode)
}

func TestSetLanguage(t *testing.T) {
	ctx := context.Background()
	r := load(t, storage.NewMemory(), newFakeScheduler())

	got, err := r.SetLanguage(ctx, "-1", "HI")
	require.NoError(t, err)
	require.Equal(t, "hi", got)

	got, err = r.SetLanguage(ctx, "-1", "fr_CA")
	require.NoError(t, err)
	require.Equal(t, "fr", got)

	for _, raw := range []string{"klingon", "deadbeef", "english", "hindi", "e1", "-en"} {
		_, err = r.SetLanguage(ctx, "-1", raw)
		require.ErrorIs(t, err, ErrValidation, raw)
	}
	g, _ := r.Group("-1")
	require.Equal(t, "fr", g.Language)
}

func TestSkipIsConsumedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	r := load(t, st, newFakeScheduler())

	require.NoError(t, r.MarkSkip(ctx, "-1"))
	require.NoError(t, r.MarkSkip(ctx, "-1"))

	var persisted []string
	_, err := st.Load(ctx, storage.DocSkipGroups, &persisted)
	require.NoError(t, err)
	require.Equal(t, []string{"-1"}, persisted)

	skip, err := r.ConsumeSkip(ctx, "-1")
	require.NoError(t, err)
	require.True(t, skip)
	skip, err = r.ConsumeSkip(ctx, "-1")
	require.NoError(t, err)
	require.False(t, skip)

	_, err = st.Load(ctx, storage.DocSkipGroups, &persisted)
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sch := newFakeScheduler()
	r := load(t, st, sch)

	_, err := r.SetTime(ctx, "-1", "08:00", "en")
	require.NoError(t, err)
	_, err = r.SetMode(ctx, "-1", "text")
	require.NoError(t, err)
	require.NoError(t, r.MarkSkip(ctx, "-1"))

	removed, err := r.Unsubscribe(ctx, "-1")
	require.NoError(t, err)
	require.True(t, removed)
	require.Empty(t, sch.entries)

	_, ok := r.Group("-1")
	require.False(t, ok)

	var times map[string]string
	_, err = st.Load(ctx, storage.DocGroupTimes, &times)
	require.NoError(t, err)
	require.Empty(t, times)

	// no timer: still a success
	removed, err = r.Unsubscribe(ctx, "-1")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestStoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sch := newFakeScheduler()
	r := load(t, st, sch)

	_, err := r.SetTime(ctx, "-1", "08:00", "en")
	require.NoError(t, err)
	_, err = r.SetMode(ctx, "-1", "text")
	require.NoError(t, err)

	st.SetFailSave(errors.New("disk full"))

	_, err = r.SetTime(ctx, "-1", "09:30", "en")
	require.ErrorIs(t, err, storage.ErrStore)
	_, err = r.SetMode(ctx, "-1", "sticker")
	require.ErrorIs(t, err, storage.ErrStore)
	require.ErrorIs(t, r.MarkSkip(ctx, "-1"), storage.ErrStore)
	_, err = r.Unsubscribe(ctx, "-1")
	require.ErrorIs(t, err, storage.ErrStore)

	g, ok := r.Group("-1")
	require.True(t, ok)
	require.Equal(t, Group{ID: "-1", SendTime: "08:00", Mode: content.ModeText, Language: "en"}, g)
	require.Equal(t, "08:00", sch.entries["-1"])

	// a new group whose first write fails leaves nothing behind
	_, err = r.SetTime(ctx, "-2", "06:00", "en")
	require.Error(t, err)
	_, ok = r.Group("-2")
	require.False(t, ok)
	_, scheduled := sch.entries["-2"]
	require.False(t, scheduled)
}

func TestFestival(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.Save(ctx, storage.DocFestivals, map[string]string{
		"01-01": "Happy New Year!",
		"10-31": "",
	}))
	r := load(t, st, newFakeScheduler())

	msg, ok := r.Festival(time.Date(2031, 1, 1, 6, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, "Happy New Year!", msg)

	_, ok = r.Festival(time.Date(2031, 10, 31, 6, 0, 0, 0, time.UTC))
	require.False(t, ok)
	_, ok = r.Festival(time.Date(2031, 1, 2, 6, 0, 0, 0, time.UTC))
	require.False(t, ok)
	require.Equal(t, 2, r.FestivalCount())
}

func TestGroupsSorted(t *testing.T) {
	ctx := context.Background()
	r := load(t, storage.NewMemory(), newFakeScheduler())
	_, err := r.SetMode(ctx, "-3", "text")
	require.NoError(t, err)
	_, err = r.SetTime(ctx, "-1", "08:00", "")
	require.NoError(t, err)
	require.NoError(t, r.MarkSkip(ctx, "-2"))

	gs := r.Groups()
	require.Len(t, gs, 3)
	require.Equal(t, []string{"-1", "-2", "-3"}, []string{gs[0].ID, gs[1].ID, gs[2].ID})
	require.True(t, gs[1].SkipNext)
	require.False(t, gs[2].Scheduled())
}
