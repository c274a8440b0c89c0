// Package scheduler holds the activated campaign schedules of every page and
// dispatches them through the Graph gateway. User-group and knowledge-group
// schedules run in two separate loops; admin changes are applied inside the
// owning loop so they never race a tick.
package scheduler

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/sirupsen/logrus"
)

// Graph is the part of the Graph gateway the scheduler uses.
type Graph interface {
	ListConversations(ctx context.Context, pageID, token string, limit, messageLimit int, after string) (*services.ConversationPage, error)
	SendText(ctx context.Context, token, psid, text string) (*services.SendResult, error)
	SendAttachment(ctx context.Context, token, psid, kind, filename string, content io.Reader) (*services.SendResult, error)
}

// TokenSource resolves the access token of a page.
type TokenSource interface {
	Get(ctx context.Context, pageID string) (string, error)
}

// PageStore loads a page row by its Facebook page id.
type PageStore interface {
	ByPageID(ctx context.Context, pageID string) (*models.Page, error)
}

// CustomerStore reads recipients and records the group they were moved to.
type CustomerStore interface {
	ByPageAndPSID(ctx context.Context, pageID uint, psid string) (*models.Customer, error)
	ListByKnowledgeGroups(ctx context.Context, pageID uint, knowledgeTypeIDs []uint) ([]*models.Customer, error)
	AssignGroup(ctx context.Context, customerID uint, kind models.GroupKind, groupID uint) error
}

// ClassificationStore keeps the history of group assignments.
type ClassificationStore interface {
	LatestByCustomer(ctx context.Context, customerID uint, kind models.GroupKind) (*models.Classification, error)
	Save(ctx context.Context, c *models.Classification) error
}

// BindingStore lists the knowledge groups a page has enabled.
type BindingStore interface {
	EnabledByPage(ctx context.Context, pageID uint) ([]*models.PageKnowledgeBinding, error)
}

// Renderer fills the placeholders of a text message.
type Renderer interface {
	Render(content string, bindings map[string]any) (string, error)
}

// Locker is the cross-process lease used to warn about a second scheduler.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Graph           Graph
	Tokens          TokenSource
	Pages           PageStore
	Customers       CustomerStore
	Classifications ClassificationStore
	Bindings        BindingStore
	Assets          services.AssetStore
	Renderer        Renderer
	Bus             services.ChangePublisher
	Lock            Locker
}

// Scheduler owns the in-memory schedules and the two cohort loops.
type Scheduler struct {
	cfg   config.SchedulerConfig
	deps  Deps
	retry services.RetryPolicy
	log   *logrus.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	hints   *InactivityTable
	runners map[Cohort]*cohortRunner

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a Scheduler with defaults for unset config. Call Start to run it.
func New(cfg config.SchedulerConfig, deps Deps, retry services.RetryPolicy, log *logrus.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 64
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.LeaderLockTTL <= 0 {
		cfg.LeaderLockTTL = 2 * time.Minute
	}

	s := &Scheduler{
		cfg:   cfg,
		deps:  deps,
		retry: retry,
		log:   log,
		now:   utils.UTCNow,
		sleep: sleepContext,
		hints: NewInactivityTable(),
	}
	s.runners = map[Cohort]*cohortRunner{
		CohortUser:      newCohortRunner(CohortUser, s),
		CohortKnowledge: newCohortRunner(CohortKnowledge, s),
	}
	return s
}

// Start runs both cohort loops and returns a stop func that waits for them.
func (s *Scheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	if s.deps.Lock != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchLeader(ctx)
		}()
	}

	for _, r := range s.runners {
		s.wg.Add(1)
		go func(r *cohortRunner) {
			defer s.wg.Done()
			r.loop(ctx)
		}(r)
	}
	s.log.WithField("poll_interval", s.cfg.PollInterval.String()).Info("Campaign scheduler started")

	return func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		cancel()
		s.wg.Wait()

		if s.deps.Lock != nil {
			releaseCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.deps.Lock.Release(releaseCtx); err != nil {
				s.log.WithError(err).Warn("Failed to release scheduler lease")
			}
			done()
		}
		s.log.Info("Campaign scheduler stopped")
	}
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// watchLeader keeps the lease alive and warns while another process holds it.
func (s *Scheduler) watchLeader(ctx context.Context) {
	held := s.acquireLeader(ctx)

	ticker := time.NewTicker(s.cfg.LeaderLockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if held {
				err := s.deps.Lock.Extend(ctx)
				if err == nil {
					continue
				}
				if !errors.Is(err, services.ErrLockNotHeld) {
					s.log.WithError(err).Warn("Failed to extend scheduler lease")
					continue
				}
			}
			held = s.acquireLeader(ctx)
		}
	}
}

func (s *Scheduler) acquireLeader(ctx context.Context) bool {
	ok, err := s.deps.Lock.Acquire(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to acquire scheduler lease")
		return false
	}
	if !ok {
		s.log.Warn("Another process holds the scheduler lease; duplicate sends are possible")
	}
	return ok
}

// exec runs fn inside the cohort loop and waits for it. A command that times
// out before the loop picks it up is abandoned and never runs.
func (s *Scheduler) exec(ctx context.Context, cohort Cohort, fn func(r *cohortRunner)) error {
	if !s.isRunning() {
		return ErrNotRunning
	}
	r := s.runners[cohort]
	cmd := &command{run: fn, done: make(chan struct{})}

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case r.commands <- cmd:
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	select {
	case <-cmd.done:
		return nil
	case <-timer.C:
		err = ErrBusy
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cmd.state.CompareAndSwap(commandQueued, commandAbandoned) {
		return err
	}
	// The loop already started it, so its outcome stands.
	<-cmd.done
	return nil
}

// Activate registers a schedule, replacing one with the same id on the page.
func (s *Scheduler) Activate(ctx context.Context, schedule Schedule) (Cohort, error) {
	if err := schedule.Validate(); err != nil {
		return "", err
	}
	cohort := schedule.Cohort()
	other := CohortUser
	if cohort == CohortUser {
		other = CohortKnowledge
	}

	if err := s.exec(ctx, other, func(r *cohortRunner) {
		r.remove(schedule.PageID, schedule.ID)
	}); err != nil {
		return "", err
	}
	err := s.exec(ctx, cohort, func(r *cohortRunner) {
		r.upsert(schedule, s.now())
	})
	if err != nil {
		return "", err
	}

	s.log.WithFields(logrus.Fields{
		"page_id":     schedule.PageID,
		"schedule_id": schedule.ID,
		"cohort":      cohort,
		"send_type":   schedule.SendType(),
	}).Info("Schedule activated")
	return cohort, nil
}

// Deactivate removes a schedule, active or suspended.
func (s *Scheduler) Deactivate(ctx context.Context, pageID, scheduleID string) error {
	found := false
	for _, cohort := range []Cohort{CohortUser, CohortKnowledge} {
		var removed bool
		if err := s.exec(ctx, cohort, func(r *cohortRunner) {
			removed = r.remove(pageID, scheduleID)
		}); err != nil {
			return err
		}
		found = found || removed
	}
	if !found {
		return ErrScheduleNotFound
	}
	s.log.WithFields(logrus.Fields{"page_id": pageID, "schedule_id": scheduleID}).Info("Schedule deactivated")
	return nil
}

// SuspendKnowledge parks every knowledge schedule of the page that targets knowledgeID.
func (s *Scheduler) SuspendKnowledge(ctx context.Context, pageID string, knowledgeID uint) (int, error) {
	var n int
	err := s.exec(ctx, CohortKnowledge, func(r *cohortRunner) {
		n = r.suspend(pageID, knowledgeID)
	})
	return n, err
}

// ResumeKnowledge puts the schedules parked by SuspendKnowledge back in the loop.
func (s *Scheduler) ResumeKnowledge(ctx context.Context, pageID string, knowledgeID uint) (int, error) {
	var n int
	err := s.exec(ctx, CohortKnowledge, func(r *cohortRunner) {
		n = r.resume(pageID, knowledgeID)
	})
	return n, err
}

// List returns the schedules of a page from both cohorts.
func (s *Scheduler) List(ctx context.Context, pageID string) ([]Snapshot, error) {
	var out []Snapshot
	for _, cohort := range []Cohort{CohortUser, CohortKnowledge} {
		var snaps []Snapshot
		if err := s.exec(ctx, cohort, func(r *cohortRunner) {
			snaps = r.snapshots(pageID)
		}); err != nil {
			return nil, err
		}
		out = append(out, snaps...)
	}
	return out, nil
}

// Tick evaluates both cohorts now, outside of their timers.
func (s *Scheduler) Tick(ctx context.Context) error {
	for _, cohort := range []Cohort{CohortUser, CohortKnowledge} {
		if err := s.exec(ctx, cohort, func(r *cohortRunner) { r.tick() }); err != nil {
			return err
		}
	}
	return nil
}

// UpdateInactivity stores inactivity hints for a page.
func (s *Scheduler) UpdateInactivity(pageID string, hints []InactivityHint) int {
	return s.hints.Update(pageID, hints, s.now())
}

const (
	commandQueued int32 = iota
	commandStarted
	commandAbandoned
)

type command struct {
	run   func(r *cohortRunner)
	done  chan struct{}
	state atomic.Int32
}

// cohortRunner is one evaluation loop. Everything below is only touched from loop.
type cohortRunner struct {
	cohort   Cohort
	s        *Scheduler
	commands chan *command
	ctx      context.Context
	ticking  bool

	active    map[string][]*record
	suspended map[string]map[uint][]*record
}

func newCohortRunner(cohort Cohort, s *Scheduler) *cohortRunner {
	return &cohortRunner{
		cohort:    cohort,
		s:         s,
		commands:  make(chan *command, s.cfg.CommandBuffer),
		ctx:       context.Background(),
		active:    make(map[string][]*record),
		suspended: make(map[string]map[uint][]*record),
	}
}

func (r *cohortRunner) loop(ctx context.Context) {
	r.ctx = ctx
	ticker := time.NewTicker(r.s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		case cmd := <-r.commands:
			r.runCommand(cmd)
		}
	}
}

func (r *cohortRunner) runCommand(cmd *command) {
	defer close(cmd.done)
	if !cmd.state.CompareAndSwap(commandQueued, commandStarted) {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.s.log.WithField("cohort", r.cohort).Errorf("Scheduler command panicked: %v", rec)
		}
	}()
	cmd.run(r)
}

// drainCommands serves the commands queued while a dispatch was in flight.
func (r *cohortRunner) drainCommands() {
	for {
		select {
		case cmd := <-r.commands:
			r.runCommand(cmd)
		default:
			return
		}
	}
}

func (r *cohortRunner) upsert(schedule Schedule, now time.Time) {
	rec := newRecord(schedule, now)
	recs := r.active[schedule.PageID]
	for i, existing := range recs {
		if existing.schedule.ID == schedule.ID {
			recs[i] = rec
			r.dropSuspended(schedule.PageID, schedule.ID)
			r.updateGauge()
			return
		}
	}
	r.dropSuspended(schedule.PageID, schedule.ID)
	r.active[schedule.PageID] = append(recs, rec)
	r.updateGauge()
}

func (r *cohortRunner) remove(pageID, scheduleID string) bool {
	removed := r.dropSuspended(pageID, scheduleID)
	recs := r.active[pageID]
	for i, rec := range recs {
		if rec.schedule.ID == scheduleID {
			r.active[pageID] = append(recs[:i:i], recs[i+1:]...)
			removed = true
			break
		}
	}
	if len(r.active[pageID]) == 0 {
		delete(r.active, pageID)
	}
	r.updateGauge()
	return removed
}

func (r *cohortRunner) dropSuspended(pageID, scheduleID string) bool {
	removed := false
	for kid, recs := range r.suspended[pageID] {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.schedule.ID == scheduleID {
				removed = true
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(r.suspended[pageID], kid)
		} else {
			r.suspended[pageID][kid] = kept
		}
	}
	return removed
}

func (r *cohortRunner) suspend(pageID string, knowledgeID uint) int {
	var kept, parked []*record
	for _, rec := range r.active[pageID] {
		if rec.schedule.References(knowledgeID) {
			parked = append(parked, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	if len(parked) == 0 {
		return 0
	}

	r.active[pageID] = kept
	if len(kept) == 0 {
		delete(r.active, pageID)
	}
	if r.suspended[pageID] == nil {
		r.suspended[pageID] = make(map[uint][]*record)
	}
	r.suspended[pageID][knowledgeID] = append(r.suspended[pageID][knowledgeID], parked...)
	r.updateGauge()
	return len(parked)
}

func (r *cohortRunner) resume(pageID string, knowledgeID uint) int {
	parked := r.suspended[pageID][knowledgeID]
	delete(r.suspended[pageID], knowledgeID)
	if len(r.suspended[pageID]) == 0 {
		delete(r.suspended, pageID)
	}

	n := 0
	for _, rec := range parked {
		if r.has(pageID, rec.schedule.ID) {
			continue
		}
		r.active[pageID] = append(r.active[pageID], rec)
		n++
	}
	r.updateGauge()
	return n
}

func (r *cohortRunner) has(pageID, scheduleID string) bool {
	for _, rec := range r.active[pageID] {
		if rec.schedule.ID == scheduleID {
			return true
		}
	}
	return false
}

func (r *cohortRunner) snapshots(pageID string) []Snapshot {
	var out []Snapshot
	for _, rec := range r.active[pageID] {
		out = append(out, rec.snapshot(r.cohort, false))
	}
	kids := make([]uint, 0, len(r.suspended[pageID]))
	for kid := range r.suspended[pageID] {
		kids = append(kids, kid)
	}
	sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
	for _, kid := range kids {
		for _, rec := range r.suspended[pageID][kid] {
			out = append(out, rec.snapshot(r.cohort, true))
		}
	}
	return out
}

func (r *cohortRunner) updateGauge() {
	n := 0
	for _, recs := range r.active {
		n += len(recs)
	}
	activeSchedules.WithLabelValues(string(r.cohort)).Set(float64(n))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
