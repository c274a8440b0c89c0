package businessflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/ReZill392/Thesit-sub000/app/logger"
	"github.com/ReZill392/Thesit-sub000/app/scheduler"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fakeEngine struct {
	mu        sync.Mutex
	active    map[string]scheduler.Schedule
	order     []string
	suspended []uint
	resumed   []uint
	affected  int
	snaps     []scheduler.Snapshot
	hints     []scheduler.InactivityHint
	err       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{active: map[string]scheduler.Schedule{}}
}

func (e *fakeEngine) Activate(_ context.Context, s scheduler.Schedule) (scheduler.Cohort, error) {
	if e.err != nil {
		return "", e.err
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[s.ID] = s
	e.order = append(e.order, s.ID)
	return s.Cohort(), nil
}

func (e *fakeEngine) Deactivate(_ context.Context, _, id string) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; !ok {
		return scheduler.ErrScheduleNotFound
	}
	delete(e.active, id)
	return nil
}

func (e *fakeEngine) SuspendKnowledge(_ context.Context, _ string, kid uint) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.suspended = append(e.suspended, kid)
	return e.affected, nil
}

func (e *fakeEngine) ResumeKnowledge(_ context.Context, _ string, kid uint) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.resumed = append(e.resumed, kid)
	return e.affected, nil
}

func (e *fakeEngine) List(context.Context, string) ([]scheduler.Snapshot, error) {
	return e.snaps, e.err
}

func (e *fakeEngine) UpdateInactivity(_ string, hints []scheduler.InactivityHint) int {
	e.hints = append(e.hints, hints...)
	return len(hints)
}

type fakeBindingRepo struct {
	repository.PageKnowledgeBindingRepository
	bindings []*models.PageKnowledgeBinding
	toggles  []bool
}

func (f *fakeBindingRepo) ByPageAndType(_ context.Context, pageID, kid uint) (*models.PageKnowledgeBinding, error) {
	for _, b := range f.bindings {
		if b.PageID == pageID && b.KnowledgeTypeID == kid {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeBindingRepo) ByID(_ context.Context, id uint) (*models.PageKnowledgeBinding, error) {
	for _, b := range f.bindings {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeBindingRepo) SetEnabled(_ context.Context, pageID, kid uint, enabled bool) error {
	f.toggles = append(f.toggles, enabled)
	for _, b := range f.bindings {
		if b.PageID == pageID && b.KnowledgeTypeID == kid {
			b.IsEnabled = enabled
		}
	}
	return nil
}

type fakeStepRepo struct {
	repository.CustomerTypeMessageRepository
	steps         []*models.CustomerTypeMessage
	gotCustom     []uint
	gotKnowledges []uint
}

func (f *fakeStepRepo) ByGroups(_ context.Context, _ uint, custom, bindings []uint) ([]*models.CustomerTypeMessage, error) {
	f.gotCustom = custom
	f.gotKnowledges = bindings
	return f.steps, nil
}

type fakeScheduleRepo struct {
	repository.MessageScheduleRepository
	rows []*models.MessageSchedule
}

func (f *fakeScheduleRepo) ByPage(context.Context, uint) ([]*models.MessageSchedule, error) {
	return f.rows, nil
}

type scheduleFixture struct {
	flow      *ScheduleFlowImpl
	engine    *fakeEngine
	bindings  *fakeBindingRepo
	steps     *fakeStepRepo
	schedules *fakeScheduleRepo
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	fx := &scheduleFixture{
		engine: newFakeEngine(),
		bindings: &fakeBindingRepo{bindings: []*models.PageKnowledgeBinding{
			{ID: 70, PageID: 1, KnowledgeTypeID: 7, IsEnabled: true},
			{ID: 30, PageID: 1, KnowledgeTypeID: 3, IsEnabled: true},
		}},
		steps:     &fakeStepRepo{},
		schedules: &fakeScheduleRepo{},
	}
	pages := &fakePageRepo{pages: map[string]*models.Page{"p1": {ID: 1, PageID: "p1"}}}
	fx.flow = NewScheduleFlow(fx.engine, pages, fx.bindings, fx.steps, fx.schedules, "Asia/Bangkok", logger.Discard()).(*ScheduleFlowImpl)
	fx.flow.now = func() time.Time { return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC) }
	return fx
}

func textMessage(content string, order int) dto.ScheduleMessageRequest {
	return dto.ScheduleMessageRequest{Type: "text", Content: content, Order: order}
}

func TestScheduleFlow_ActivateKnowledgeAfterInactive(t *testing.T) {
	fx := newScheduleFixture(t)

	resp, err := fx.flow.Activate(context.Background(), &dto.ActivateScheduleRequest{
		PageID: "p1",
		Schedule: dto.ScheduleRequest{
			ID:               "s1",
			Type:             "user-inactive",
			InactivityPeriod: 2,
			InactivityUnit:   "hours",
			Groups:           []dto.FlexibleID{"knowledge_7", "4"},
			Messages:         []dto.ScheduleMessageRequest{textMessage("hi", 0)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "knowledge", resp.Cohort)
	assert.Equal(t, 1, resp.Steps)

	got := fx.engine.active["s1"]
	assert.Equal(t, scheduler.AfterInactive{Target: 2 * time.Hour}, got.Trigger)
	assert.Equal(t, []scheduler.GroupRef{
		{Kind: models.GroupKindKnowledge, ID: 7},
		{Kind: models.GroupKindCustom, ID: 4},
	}, got.Groups)
}

func TestScheduleFlow_ActivateScheduledUsesTimezone(t *testing.T) {
	fx := newScheduleFixture(t)

	_, err := fx.flow.Activate(context.Background(), &dto.ActivateScheduleRequest{
		PageID: "p1",
		Schedule: dto.ScheduleRequest{
			ID:        "42",
			Type:      "scheduled",
			Date:      "2025-01-15",
			Time:      "09:30",
			Frequency: "weekly",
			EndDate:   "2025-02-28",
			Groups:    []dto.FlexibleID{"4"},
			Messages:  []dto.ScheduleMessageRequest{textMessage("sale", 0)},
		},
	})
	require.NoError(t, err)

	trigger, ok := fx.engine.active["42"].Trigger.(scheduler.Scheduled)
	require.True(t, ok)
	assert.True(t, trigger.At.Equal(time.Date(2025, 1, 15, 2, 30, 0, 0, time.UTC)))
	assert.Equal(t, models.FrequencyWeekly, trigger.Frequency)
	require.NotNil(t, trigger.EndDate)
	assert.True(t, trigger.EndDate.Equal(time.Date(2025, 2, 27, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, scheduler.CohortUser, fx.engine.active["42"].Cohort())
}

func TestScheduleFlow_ActivateLoadsStoredSteps(t *testing.T) {
	fx := newScheduleFixture(t)
	fx.steps.steps = []*models.CustomerTypeMessage{
		{ID: 1, Kind: models.StepKindText, Content: "first", DisplayOrder: 0},
		{ID: 2, Kind: models.StepKindImage, Content: "promo.jpg", DisplayOrder: 1},
	}

	resp, err := fx.flow.Activate(context.Background(), &dto.ActivateScheduleRequest{
		PageID: "p1",
		Schedule: dto.ScheduleRequest{
			ID:     "s2",
			Type:   "immediate",
			Groups: []dto.FlexibleID{"knowledge_7", "knowledge_9", "5"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Steps)
	assert.Equal(t, []uint{5}, fx.steps.gotCustom)
	// knowledge 9 has no binding on the page
	assert.Equal(t, []uint{70}, fx.steps.gotKnowledges)
	assert.Equal(t, models.StepKindImage, fx.engine.active["s2"].Messages[1].Kind)
}

func TestScheduleFlow_ActivateRejects(t *testing.T) {
	tests := []struct {
		name   string
		pageID string
		req    dto.ScheduleRequest
		check  func(error) bool
	}{
		{
			name:   "unknown page",
			pageID: "nope",
			req:    dto.ScheduleRequest{ID: "s", Type: "immediate", Groups: []dto.FlexibleID{"1"}},
			check:  IsPageNotFound,
		},
		{
			name:   "bad group",
			pageID: "p1",
			req:    dto.ScheduleRequest{ID: "s", Type: "immediate", Groups: []dto.FlexibleID{"vip"}},
			check:  IsValidationError,
		},
		{
			name:   "scheduled without time",
			pageID: "p1",
			req:    dto.ScheduleRequest{ID: "s", Type: "scheduled", Date: "2025-01-15", Groups: []dto.FlexibleID{"1"}},
			check:  func(err error) bool { return errors.Is(err, ErrScheduleDateRequired) },
		},
		{
			name:   "inactive without period",
			pageID: "p1",
			req:    dto.ScheduleRequest{ID: "s", Type: "after_inactive", Groups: []dto.FlexibleID{"1"}},
			check:  func(err error) bool { return errors.Is(err, ErrInactivityRequired) },
		},
		{
			name:   "no messages anywhere",
			pageID: "p1",
			req:    dto.ScheduleRequest{ID: "s", Type: "immediate", Groups: []dto.FlexibleID{"1"}},
			check:  func(err error) bool { return errors.Is(err, ErrScheduleHasNoMessages) },
		},
		{
			name:   "bad step kind",
			pageID: "p1",
			req: dto.ScheduleRequest{
				ID:       "s",
				Type:     "immediate",
				Groups:   []dto.FlexibleID{"1"},
				Messages: []dto.ScheduleMessageRequest{{Type: "sticker", Content: "x"}},
			},
			check: func(err error) bool { return errors.Is(err, ErrInvalidSchedule) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newScheduleFixture(t)
			_, err := fx.flow.Activate(context.Background(), &dto.ActivateScheduleRequest{PageID: tt.pageID, Schedule: tt.req})
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
			assert.Empty(t, fx.engine.active)
		})
	}
}

func TestScheduleFlow_Deactivate(t *testing.T) {
	fx := newScheduleFixture(t)
	fx.engine.active["s1"] = scheduler.Schedule{ID: "s1"}

	_, err := fx.flow.Deactivate(context.Background(), &dto.DeactivateScheduleRequest{PageID: "p1", ScheduleID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, fx.engine.active)

	_, err = fx.flow.Deactivate(context.Background(), &dto.DeactivateScheduleRequest{PageID: "p1", ScheduleID: "s1"})
	assert.True(t, IsScheduleNotFound(err))
}

func TestScheduleFlow_KnowledgeCascade(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)
	fx.engine.affected = 2

	resp, err := fx.flow.DeactivateKnowledgeGroup(ctx, &dto.KnowledgeGroupToggleRequest{PageID: "p1", KnowledgeID: "knowledge_7"})
	require.NoError(t, err)
	assert.False(t, resp.Enabled)
	assert.Equal(t, 2, resp.AffectedSchedules)
	assert.Equal(t, []uint{7}, fx.engine.suspended)
	assert.Equal(t, []bool{false}, fx.bindings.toggles)

	resp, err = fx.flow.ReactivateKnowledgeGroup(ctx, &dto.KnowledgeGroupToggleRequest{PageID: "p1", KnowledgeID: "7"})
	require.NoError(t, err)
	assert.True(t, resp.Enabled)
	assert.Equal(t, []uint{7}, fx.engine.resumed)
	assert.Equal(t, []bool{false, true}, fx.bindings.toggles)

	// already enabled: binding untouched, schedules still resumed
	_, err = fx.flow.ReactivateKnowledgeGroup(ctx, &dto.KnowledgeGroupToggleRequest{PageID: "p1", KnowledgeID: "7"})
	require.NoError(t, err)
	assert.Len(t, fx.bindings.toggles, 2)

	_, err = fx.flow.DeactivateKnowledgeGroup(ctx, &dto.KnowledgeGroupToggleRequest{PageID: "p1", KnowledgeID: "knowledge_9"})
	assert.True(t, IsKnowledgeBindingAbsent(err))
}

func TestScheduleFlow_SchedulerUnavailable(t *testing.T) {
	fx := newScheduleFixture(t)
	fx.engine.err = scheduler.ErrNotRunning

	_, err := fx.flow.Activate(context.Background(), &dto.ActivateScheduleRequest{
		PageID: "p1",
		Schedule: dto.ScheduleRequest{
			ID:       "s1",
			Type:     "immediate",
			Groups:   []dto.FlexibleID{"1"},
			Messages: []dto.ScheduleMessageRequest{textMessage("hi", 0)},
		},
	})
	assert.True(t, IsSchedulerUnavailable(err))

	_, err = fx.flow.ListActive(context.Background(), "p1")
	assert.True(t, IsSchedulerUnavailable(err))
}

func TestScheduleFlow_ListActive(t *testing.T) {
	fx := newScheduleFixture(t)
	sent := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	fx.engine.snaps = []scheduler.Snapshot{
		{
			Schedule:  scheduler.Schedule{ID: "s1", Trigger: scheduler.Immediate{}},
			Cohort:    scheduler.CohortUser,
			State:     scheduler.StateSent,
			SentCount: 3,
			LastSent:  &sent,
		},
		{
			Schedule:  scheduler.Schedule{ID: "s2", Trigger: scheduler.AfterInactive{Target: time.Hour}},
			Cohort:    scheduler.CohortKnowledge,
			State:     scheduler.StateWaiting,
			Suspended: true,
		},
	}

	resp, err := fx.flow.ListActive(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, resp.Schedules, 2)

	first := resp.Schedules[0]
	assert.Equal(t, "immediate", first.Type)
	assert.Equal(t, "sent", first.State)
	assert.Equal(t, 3, first.SentCount)
	require.NotNil(t, first.LastSent)
	assert.Equal(t, "2025-01-15T17:00:00+07:00", *first.LastSent)

	second := resp.Schedules[1]
	assert.Equal(t, "after_inactive", second.Type)
	assert.True(t, second.Suspended)
	assert.Nil(t, second.LastSent)
}

func TestScheduleFlow_Reload(t *testing.T) {
	fx := newScheduleFixture(t)
	fx.schedules.rows = []*models.MessageSchedule{
		{
			ID:         1,
			SendType:   models.SendTypeImmediate,
			Definition: datatypes.JSON(`{"id":"d1","type":"immediate","groups":["knowledge_7"],"messages":[{"type":"text","content":"hi","order":0}]}`),
		},
		{
			ID:                       5,
			SendType:                 models.SendTypeAfterInactive,
			SendAfterInactiveMinutes: utils.ToPtr(90),
			CustomerTypeMessage:      &models.CustomerTypeMessage{CustomGroupID: utils.ToPtr(uint(4)), Kind: models.StepKindText, Content: "come back"},
		},
		{
			ID:       6,
			SendType: models.SendTypeScheduled,
		},
		{
			ID:                  8,
			SendType:            models.SendTypeImmediate,
			CustomerTypeMessage: &models.CustomerTypeMessage{KnowledgeBindingID: utils.ToPtr(uint(70)), Kind: models.StepKindText, Content: "tips"},
		},
	}

	resp, err := fx.flow.Reload(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "5", "8"}, resp.Activated)
	assert.Equal(t, []string{"6"}, resp.Skipped)

	assert.Equal(t, scheduler.CohortKnowledge, fx.engine.active["d1"].Cohort())
	assert.Equal(t, scheduler.AfterInactive{Target: 90 * time.Minute}, fx.engine.active["5"].Trigger)
	assert.Equal(t, []scheduler.GroupRef{{Kind: models.GroupKindKnowledge, ID: 7}}, fx.engine.active["8"].Groups)
}

func TestScheduleFlow_UpdateInactivity(t *testing.T) {
	fx := newScheduleFixture(t)

	resp, err := fx.flow.UpdateInactivity(context.Background(), &dto.UpdateUserInactivityRequest{
		PageID: "p1",
		Users: []dto.UserInactivityEntry{
			{UserID: "u1", LastMessageTime: "2025-01-15T08:00:00Z", InactivityMinutes: 120},
			{UserID: "u2", LastMessageTime: "2025-01-15T08:00:00+0000", InactivityMinutes: 120},
			{UserID: "u3", InactivityMinutes: 5},
			{UserID: " ", InactivityMinutes: 5},
			{UserID: "u4", LastMessageTime: "yesterday", InactivityMinutes: 5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Accepted)
	assert.Equal(t, 2, resp.Rejected)

	require.Len(t, fx.engine.hints, 3)
	assert.Equal(t, fx.flow.now(), fx.engine.hints[0].UpdatedAt)
	require.NotNil(t, fx.engine.hints[1].LastMessageTime)
	assert.True(t, fx.engine.hints[1].LastMessageTime.Equal(time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)))
	assert.Nil(t, fx.engine.hints[2].LastMessageTime)

	_, err = fx.flow.UpdateInactivity(context.Background(), &dto.UpdateUserInactivityRequest{PageID: "nope"})
	assert.True(t, IsPageNotFound(err))
}

func TestParseGroupRef(t *testing.T) {
	tests := []struct {
		raw     string
		want    scheduler.GroupRef
		wantErr bool
	}{
		{raw: "knowledge_7", want: scheduler.GroupRef{Kind: models.GroupKindKnowledge, ID: 7}},
		{raw: "12", want: scheduler.GroupRef{Kind: models.GroupKindCustom, ID: 12}},
		{raw: " 3 ", want: scheduler.GroupRef{Kind: models.GroupKindCustom, ID: 3}},
		{raw: "knowledge_", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "group_1", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseGroupRef(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGroupReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInactivityDuration(t *testing.T) {
	tests := []struct {
		period float64
		unit   string
		want   time.Duration
	}{
		{period: 30, unit: "minutes", want: 30 * time.Minute},
		{period: 1.5, unit: "hours", want: 90 * time.Minute},
		{period: 2, unit: "days", want: 48 * time.Hour},
		{period: 1, unit: "weeks", want: 168 * time.Hour},
		{period: 1, unit: "months", want: 720 * time.Hour},
		{period: 10, unit: "", want: 10 * time.Minute},
	}
	for _, tt := range tests {
		got, err := InactivityDuration(tt.period, tt.unit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v %s", tt.period, tt.unit)
	}

	_, err := InactivityDuration(0, "hours")
	assert.ErrorIs(t, err, ErrInactivityRequired)
	_, err = InactivityDuration(1, "years")
	assert.ErrorIs(t, err, ErrInactivityRequired)
}
