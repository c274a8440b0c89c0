package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ReZill392/Thesit-sub000/models"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidSchedule  = errors.New("invalid schedule")
	ErrNotRunning       = errors.New("scheduler is not running")
	ErrBusy             = errors.New("scheduler did not answer in time")
)

// Cohort is one of the two loops a schedule is evaluated in
type Cohort string

const (
	CohortUser      Cohort = "user"
	CohortKnowledge Cohort = "knowledge"
)

// GroupRef points a schedule at a custom group or a knowledge type
type GroupRef struct {
	Kind models.GroupKind
	ID   uint
}

func (g GroupRef) String() string {
	if g.Kind == models.GroupKindKnowledge {
		return fmt.Sprintf("knowledge_%d", g.ID)
	}
	return fmt.Sprintf("%d", g.ID)
}

// Trigger decides when a schedule fires. It is one of Immediate, Scheduled or AfterInactive.
type Trigger interface {
	sendType() models.SendType
}

// Immediate fires on the first evaluation after activation
type Immediate struct{}

func (Immediate) sendType() models.SendType { return models.SendTypeImmediate }

// Scheduled fires at At and repeats by Frequency until EndDate
type Scheduled struct {
	At        time.Time
	Frequency models.Frequency
	EndDate   *time.Time
}

func (Scheduled) sendType() models.SendType { return models.SendTypeScheduled }

// AfterInactive fires for users whose inactivity is close to Target
type AfterInactive struct {
	Target time.Duration
}

func (AfterInactive) sendType() models.SendType { return models.SendTypeAfterInactive }

// MessageStep is one message sent to every recipient, in Order
type MessageStep struct {
	Kind    models.StepKind
	Content string
	Order   int
}

// Schedule is an activated campaign held in memory
type Schedule struct {
	ID       string
	PageID   string
	Groups   []GroupRef
	Trigger  Trigger
	Messages []MessageStep
}

// SendType names the trigger kind
func (s Schedule) SendType() models.SendType {
	if s.Trigger == nil {
		return ""
	}
	return s.Trigger.sendType()
}

// Cohort returns the loop the schedule belongs to: any knowledge reference
// puts it in the knowledge cohort
func (s Schedule) Cohort() Cohort {
	for _, g := range s.Groups {
		if g.Kind == models.GroupKindKnowledge {
			return CohortKnowledge
		}
	}
	return CohortUser
}

// KnowledgeIDs returns the referenced knowledge type ids
func (s Schedule) KnowledgeIDs() []uint {
	return s.groupIDs(models.GroupKindKnowledge)
}

// CustomGroupIDs returns the referenced custom group ids
func (s Schedule) CustomGroupIDs() []uint {
	return s.groupIDs(models.GroupKindCustom)
}

func (s Schedule) groupIDs(kind models.GroupKind) []uint {
	var out []uint
	for _, g := range s.Groups {
		if g.Kind == kind {
			out = append(out, g.ID)
		}
	}
	return out
}

// References reports whether the schedule targets the given knowledge type
func (s Schedule) References(knowledgeID uint) bool {
	for _, id := range s.KnowledgeIDs() {
		if id == knowledgeID {
			return true
		}
	}
	return false
}

// Validate checks the trigger-specific requirements
func (s Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSchedule)
	}
	if s.PageID == "" {
		return fmt.Errorf("%w: page id is required", ErrInvalidSchedule)
	}
	if len(s.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidSchedule)
	}
	for _, m := range s.Messages {
		if !m.Kind.Valid() {
			return fmt.Errorf("%w: message kind %q", ErrInvalidSchedule, m.Kind)
		}
	}

	switch t := s.Trigger.(type) {
	case Immediate:
	case Scheduled:
		if t.At.IsZero() {
			return fmt.Errorf("%w: scheduled time is required", ErrInvalidSchedule)
		}
		if !t.Frequency.Valid() {
			return fmt.Errorf("%w: frequency %q", ErrInvalidSchedule, t.Frequency)
		}
	case AfterInactive:
		if t.Target <= 0 {
			return fmt.Errorf("%w: inactivity period must be positive", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown trigger", ErrInvalidSchedule)
	}
	return nil
}

// sortedMessages returns the steps in display order; equal orders keep input order
func (s Schedule) sortedMessages() []MessageStep {
	out := make([]MessageStep, len(s.Messages))
	copy(out, s.Messages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// State is where a schedule record is in its activation
type State string

const (
	StatePending State = "pending"
	StateWaiting State = "waiting"
	StateFiring  State = "firing"
	StateSent    State = "sent"
)

// Snapshot is a read-only view of a record for listings
type Snapshot struct {
	Schedule  Schedule
	Cohort    Cohort
	State     State
	SentCount int
	LastSent  *time.Time
	NextRun   *time.Time
	Suspended bool
}

// record is the mutable per-activation state owned by one cohort loop.
type record struct {
	schedule    Schedule
	state       State
	sent        bool
	lastSent    *time.Time
	undelivered bool // scheduled occurrence fired with failures, retried until its window closes
	lastCheck   time.Time
	tracking    map[string]struct{}
	activatedAt time.Time
}

func newRecord(s Schedule, now time.Time) *record {
	return &record{
		schedule:    s,
		state:       StatePending,
		tracking:    make(map[string]struct{}),
		activatedAt: now,
	}
}

func (r *record) served(psid string) bool {
	_, ok := r.tracking[psid]
	return ok
}

// rearm moves a scheduled record to its next occurrence with a fresh cycle.
func (r *record) rearm(next Scheduled) {
	r.schedule.Trigger = next
	r.tracking = make(map[string]struct{})
	r.undelivered = false
	r.state = StatePending
}

func (r *record) snapshot(cohort Cohort, suspended bool) Snapshot {
	snap := Snapshot{
		Schedule:  r.schedule,
		Cohort:    cohort,
		State:     r.state,
		SentCount: len(r.tracking),
		Suspended: suspended,
	}
	if r.lastSent != nil {
		t := *r.lastSent
		snap.LastSent = &t
	}
	if t, ok := r.schedule.Trigger.(Scheduled); ok {
		at := t.At
		snap.NextRun = &at
	}
	return snap
}
