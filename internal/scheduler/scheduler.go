// Package scheduler keeps one daily cron entry per group and, when an entry
// triggers, enqueues that group's firing into the task engine.
//
// Entries are keyed by group. Scheduling a group again replaces its entry,
// so a group never carries two triggers. Definitions survive Stop and are
// registered again on Start.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"morningbot/internal/eventbus"
	"morningbot/internal/task/engine"
	logx "morningbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

type Config struct {
	// Timezone is an IANA name; empty means the process's local zone.
	Timezone    string
	FireTimeout time.Duration
}

// FireFunc runs one firing for a group.
type FireFunc func(ctx context.Context, groupID string) error

// Enqueuer is the part of the task engine the scheduler uses.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Observer is told how many groups are scheduled after every change.
type Observer interface {
	ScheduledGroups(n int)
}

// ScheduleEvent is published on schedule.changed.
type ScheduleEvent struct {
	GroupID string `json:"group_id"`
	Time    string `json:"time,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

type groupDef struct {
	groupID string
	hhmm    string
	spec    string
	entryID cron.EntryID
	state   *engine.RunState
}

type Service struct {
	log  logx.Logger
	cfg  Config
	bus  eventbus.Bus
	eng  Enqueuer
	fire FireFunc
	obs  Observer

	mu     sync.Mutex
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*groupDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// New builds a stopped scheduler. bus and obs may be nil.
func New(cfg Config, eng Enqueuer, fire FireFunc, log logx.Logger, bus eventbus.Bus, obs Observer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = engine.DefaultTimeout
	}
	s := &Service{
		log:         log,
		cfg:         cfg,
		bus:         bus,
		eng:         eng,
		fire:        fire,
		obs:         obs,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defs:        map[string]*groupDef{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocation()
	return s
}

// TaskName is the engine task and log name of a group's firing.
func TaskName(groupID string) string { return "group_" + groupID }

// Location is the zone triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Now is the current time in the scheduler's zone. Firings use it for the
// calendar date and weekday.
func (s *Service) Now() time.Time { return time.Now().In(s.Location()) }

// Schedule installs a daily trigger for groupID at hhmm, replacing any
// previous trigger for the group.
func (s *Service) Schedule(groupID, hhmm string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return errors.New("group id required")
	}
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("%d %d * * *", m, h)

	s.mu.Lock()
	d := &groupDef{groupID: groupID, hhmm: fmt.Sprintf("%02d:%02d", h, m), spec: spec, state: &engine.RunState{}}
	if prev, ok := s.defs[groupID]; ok {
		s.removeEntryLocked(prev)
		// Keep the overlap gate so a firing in flight still blocks the next.
		d.state = prev.state
	}
	s.defs[groupID] = d
	if s.c != nil {
		if err := s.addEntryLocked(d); err != nil {
			delete(s.defs, groupID)
			s.mu.Unlock()
			return err
		}
	}
	n := len(s.defs)
	next := s.nextLocked(d)
	s.mu.Unlock()

	s.log.Debug("schedule registered",
		logx.String("group", groupID), logx.String("time", d.hhmm), logx.Time("next", next))
	s.changed(ScheduleEvent{GroupID: groupID, Time: d.hhmm}, n)
	return nil
}

// Unschedule removes the group's trigger. It reports whether one existed;
// removing an absent trigger is not an error.
func (s *Service) Unschedule(groupID string) bool {
	s.mu.Lock()
	d, ok := s.defs[groupID]
	if ok {
		s.removeEntryLocked(d)
		delete(s.defs, groupID)
	}
	n := len(s.defs)
	s.mu.Unlock()

	if ok {
		s.log.Debug("schedule removed", logx.String("group", groupID))
		s.changed(ScheduleEvent{GroupID: groupID, Removed: true}, n)
	}
	return ok
}

// Next returns the group's next trigger time.
func (s *Service) Next(groupID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[groupID]
	if !ok {
		return time.Time{}, false
	}
	return s.nextLocked(d), true
}

// Start begins triggering. It is a no-op when already started.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addEntryLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("group", d.groupID), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("groups", len(s.defs)))
}

// Stop stops triggering. Firings already handed to the engine are not
// affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

type ScheduleInfo struct {
	GroupID string
	Name    string
	Time    string
	Spec    string
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{GroupID: d.groupID, Name: TaskName(d.groupID), Time: d.hhmm, Spec: d.spec, Next: s.nextLocked(d)}
		if s.c != nil && d.entryID != 0 {
			it.Prev = s.c.Entry(d.entryID).Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].GroupID < snap.Schedules[j].GroupID })
	return snap
}

func (s *Service) addEntryLocked(d *groupDef) error {
	eid, err := s.c.AddFunc(d.spec, func() { s.trigger(d) })
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) removeEntryLocked(d *groupDef) {
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
}

func (s *Service) nextLocked(d *groupDef) time.Time {
	if s.c != nil && d.entryID != 0 {
		if e := s.c.Entry(d.entryID); !e.Next.IsZero() {
			return e.Next
		}
	}
	sched, err := s.parser.Parse(d.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now().In(s.loc))
}

// trigger hands one firing to the engine.
func (s *Service) trigger(d *groupDef) {
	name := TaskName(d.groupID)
	groupID := d.groupID
	err := s.eng.Enqueue(engine.Task{
		Name:    name,
		Timeout: s.cfg.FireTimeout,
		State:   d.state,
		Run: func(ctx context.Context) error {
			return s.fire(ctx, groupID)
		},
	})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Info("firing skipped; previous still running", logx.String("task", name))
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("firing not enqueued", logx.String("task", name), logx.Err(err))
}

func (s *Service) changed(ev ScheduleEvent, n int) {
	if s.obs != nil {
		s.obs.ScheduledGroups(n)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduled, Data: ev})
	}
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
