// Package registry holds the durable per-group configuration: send time,
// mode, language, the one-shot skip set and the festival calendar.
//
// Memory is the source of truth; every mutation is written through to the
// store before it is acknowledged. A failed write restores the previous
// in-memory value and fails the command.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"morningbot/internal/content"
	"morningbot/internal/storage"
	logx "morningbot/pkg/logx"
)

// FestivalLayout keys the festival calendar.
const FestivalLayout = "01-02"

// Scheduler installs and removes per-group timers.
type Scheduler interface {
	Schedule(groupID, hhmm string) error
	Unschedule(groupID string) bool
}

// Group is a snapshot of one group's configuration.
type Group struct {
	ID       string
	SendTime string
	Mode     content.Mode
	Language string
	SkipNext bool
}

// Scheduled reports whether the group has an active send time.
func (g Group) Scheduled() bool { return g.SendTime != "" }

type Registry struct {
	store storage.Store
	sched Scheduler
	log   logx.Logger

	// mu serializes every load-mutate-save cycle.
	mu        sync.Mutex
	times     map[string]string
	modes     map[string]string
	langs     map[string]string
	skip      map[string]struct{}
	festivals map[string]string
}

// Load reads every registry document. Absent documents start empty.
func Load(ctx context.Context, st storage.Store, sched Scheduler, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		store:     st,
		sched:     sched,
		log:       log,
		times:     map[string]string{},
		modes:     map[string]string{},
		langs:     map[string]string{},
		skip:      map[string]struct{}{},
		festivals: map[string]string{},
	}
	for name, doc := range map[string]*map[string]string{
		storage.DocGroupTimes:     &r.times,
		storage.DocGroupModes:     &r.modes,
		storage.DocGroupLanguages: &r.langs,
		storage.DocFestivals:      &r.festivals,
	} {
		if _, err := st.Load(ctx, name, doc); err != nil {
			return nil, err
		}
		if *doc == nil {
			*doc = map[string]string{}
		}
	}
	var skip []string
	if _, err := st.Load(ctx, storage.DocSkipGroups, &skip); err != nil {
		return nil, err
	}
	for _, id := range skip {
		r.skip[id] = struct{}{}
	}
	log.Info("registry loaded",
		logx.Int("groups", len(r.times)),
		logx.Int("skip", len(r.skip)),
		logx.Int("festivals", len(r.festivals)))
	return r, nil
}

// RestoreSchedules re-registers a timer for every group with a send time.
// Entries that no longer parse are logged and left unscheduled.
func (r *Registry) RestoreSchedules() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.times))
	for id := range r.times {
		ids = append(ids, id)
	}
	times := make(map[string]string, len(r.times))
	for id, t := range r.times {
		times[id] = t
	}
	r.mu.Unlock()
	sort.Strings(ids)

	n := 0
	for _, id := range ids {
		_, _, hhmm, err := ParseClock(times[id])
		if err != nil {
			r.log.Warn("stored send time invalid; not scheduling", logx.String("group", id), logx.Err(err))
			continue
		}
		if err := r.sched.Schedule(id, hhmm); err != nil {
			r.log.Error("restore schedule failed", logx.String("group", id), logx.Err(err))
			continue
		}
		n++
	}
	return n
}

// SetTime validates raw, persists it and installs (or replaces) the group's
// timer. When the group has no language yet, langHint (the caller's locale)
// is adopted if supported, English otherwise.
func (r *Registry) SetTime(ctx context.Context, groupID, raw, langHint string) (string, error) {
	if err := checkGroup(groupID); err != nil {
		return "", err
	}
	_, _, hhmm, err := ParseClock(raw)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevTime, hadTime := r.times[groupID]
	r.times[groupID] = hhmm
	if err := r.store.Save(ctx, storage.DocGroupTimes, r.times); err != nil {
		restore(r.times, groupID, prevTime, hadTime)
		return "", err
	}

	if _, ok := r.langs[groupID]; !ok {
		lang := content.NormalizeLanguage(langHint)
		if !content.SupportedLanguage(lang) {
			lang = content.DefaultLanguage
		}
		r.langs[groupID] = lang
		if err := r.store.Save(ctx, storage.DocGroupLanguages, r.langs); err != nil {
			delete(r.langs, groupID)
			restore(r.times, groupID, prevTime, hadTime)
			r.saveBestEffort(ctx, storage.DocGroupTimes, r.times)
			return "", err
		}
	}

	if err := r.sched.Schedule(groupID, hhmm); err != nil {
		return "", err
	}
	r.log.Info("send time set", logx.String("group", groupID), logx.String("time", hhmm))
	return hhmm, nil
}

// SetMode accepts exactly one of the four content modes.
func (r *Registry) SetMode(ctx context.Context, groupID, raw string) (content.Mode, error) {
	if err := checkGroup(groupID); err != nil {
		return "", err
	}
	m, err := content.ParseMode(raw)
	if err != nil {
		return "", invalid("mode", raw, "use text, image, sticker or mixed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.modes[groupID]
	r.modes[groupID] = string(m)
	if err := r.store.Save(ctx, storage.DocGroupModes, r.modes); err != nil {
		restore(r.modes, groupID, prev, had)
		return "", err
	}
	r.log.Info("mode set", logx.String("group", groupID), logx.String("mode", string(m)))
	return m, nil
}

// SetLanguage accepts one of content.Languages; locale tags are reduced to
// their language prefix.
func (r *Registry) SetLanguage(ctx context.Context, groupID, raw string) (string, error) {
	if err := checkGroup(groupID); err != nil {
		return "", err
	}
	lang := content.NormalizeLanguage(raw)
	if !content.SupportedLanguage(lang) {
		return "", invalid("language", raw, "use one of "+strings.Join(content.Languages, ", "))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.langs[groupID]
	r.langs[groupID] = lang
	if err := r.store.Save(ctx, storage.DocGroupLanguages, r.langs); err != nil {
		restore(r.langs, groupID, prev, had)
		return "", err
	}
	return lang, nil
}

// MarkSkip suppresses the group's next firing. Marking twice is the same as
// marking once.
func (r *Registry) MarkSkip(ctx context.Context, groupID string) error {
	if err := checkGroup(groupID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skip[groupID]; ok {
		return nil
	}
	r.skip[groupID] = struct{}{}
	if err := r.store.Save(ctx, storage.DocSkipGroups, r.skipList()); err != nil {
		delete(r.skip, groupID)
		return err
	}
	return nil
}

// ConsumeSkip reports whether the group's next firing was marked for
// skipping and clears the mark. The mark stays cleared in memory even when
// the write fails, so one mark never suppresses two firings in this process.
func (r *Registry) ConsumeSkip(ctx context.Context, groupID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skip[groupID]; !ok {
		return false, nil
	}
	delete(r.skip, groupID)
	return true, r.store.Save(ctx, storage.DocSkipGroups, r.skipList())
}

// Unsubscribe removes the group's time, mode, language and skip mark and
// cancels its timer. It reports whether a timer was removed; a group
// without one is not an error.
func (r *Registry) Unsubscribe(ctx context.Context, groupID string) (bool, error) {
	if err := checkGroup(groupID); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prevTime, hadTime := r.times[groupID]
	prevMode, hadMode := r.modes[groupID]
	prevLang, hadLang := r.langs[groupID]
	_, hadSkip := r.skip[groupID]

	rollback := func() {
		restore(r.times, groupID, prevTime, hadTime)
		restore(r.modes, groupID, prevMode, hadMode)
		restore(r.langs, groupID, prevLang, hadLang)
		if hadSkip {
			r.skip[groupID] = struct{}{}
		}
	}

	delete(r.times, groupID)
	delete(r.modes, groupID)
	delete(r.langs, groupID)
	delete(r.skip, groupID)

	saved := make([]string, 0, 4)
	for _, w := range []struct {
		name    string
		changed bool
		doc     any
	}{
		{storage.DocGroupTimes, hadTime, r.times},
		{storage.DocGroupModes, hadMode, r.modes},
		{storage.DocGroupLanguages, hadLang, r.langs},
		{storage.DocSkipGroups, hadSkip, r.skipList()},
	} {
		if !w.changed {
			continue
		}
		if err := r.store.Save(ctx, w.name, w.doc); err != nil {
			rollback()
			for _, name := range saved {
				r.saveBestEffort(ctx, name, r.docFor(name))
			}
			return false, err
		}
		saved = append(saved, w.name)
	}

	removed := r.sched.Unschedule(groupID)
	r.log.Info("group unsubscribed", logx.String("group", groupID), logx.Bool("timer_removed", removed))
	return removed, nil
}

// Group returns the group's configuration with defaults applied. ok is false
// when nothing is stored for the group.
func (r *Registry) Group(groupID string) (Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groupLocked(groupID)
}

// Groups returns every group with any stored configuration, sorted by ID.
func (r *Registry) Groups() []Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	for _, m := range []map[string]string{r.times, r.modes, r.langs} {
		for id := range m {
			seen[id] = struct{}{}
		}
	}
	for id := range r.skip {
		seen[id] = struct{}{}
	}
	out := make([]Group, 0, len(seen))
	for id := range seen {
		g, _ := r.groupLocked(id)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Festival returns the greeting for day's month and day, if any.
func (r *Registry) Festival(day time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.festivals[day.Format(FestivalLayout)]
	if ok && strings.TrimSpace(msg) == "" {
		return "", false
	}
	return msg, ok
}

// FestivalCount reports the size of the festival calendar.
func (r *Registry) FestivalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.festivals)
}

func (r *Registry) groupLocked(id string) (Group, bool) {
	t, hasT := r.times[id]
	m, hasM := r.modes[id]
	l, hasL := r.langs[id]
	_, skip := r.skip[id]
	g := Group{ID: id, SendTime: t, Mode: content.DefaultMode, Language: content.DefaultLanguage, SkipNext: skip}
	if mode, err := content.ParseMode(m); hasM && err == nil {
		g.Mode = mode
	}
	if hasL && l != "" {
		g.Language = l
	}
	return g, hasT || hasM || hasL || skip
}

func (r *Registry) skipList() []string {
	out := make([]string, 0, len(r.skip))
	for id := range r.skip {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) docFor(name string) any {
	switch name {
	case storage.DocGroupTimes:
		return r.times
	case storage.DocGroupModes:
		return r.modes
	case storage.DocGroupLanguages:
		return r.langs
	case storage.DocSkipGroups:
		return r.skipList()
	}
	return nil
}

// saveBestEffort re-writes a document after a rollback.
func (r *Registry) saveBestEffort(ctx context.Context, name string, doc any) {
	if err := r.store.Save(ctx, name, doc); err != nil {
		r.log.Error("rollback write failed; store and memory differ",
			logx.String("document", name), logx.Err(err))
	}
}

func restore(m map[string]string, key, prev string, had bool) {
	if had {
		m[key] = prev
		return
	}
	delete(m, key)
}

func checkGroup(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("group", id, "empty group id")
	}
	return nil
}
