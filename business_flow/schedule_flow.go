package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/ReZill392/Thesit-sub000/app/scheduler"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/sirupsen/logrus"
)

const knowledgePrefix = "knowledge_"

// ScheduleEngine is the in-memory campaign scheduler as seen by admin flows
type ScheduleEngine interface {
	Activate(ctx context.Context, schedule scheduler.Schedule) (scheduler.Cohort, error)
	Deactivate(ctx context.Context, pageID, scheduleID string) error
	SuspendKnowledge(ctx context.Context, pageID string, knowledgeID uint) (int, error)
	ResumeKnowledge(ctx context.Context, pageID string, knowledgeID uint) (int, error)
	List(ctx context.Context, pageID string) ([]scheduler.Snapshot, error)
	UpdateInactivity(pageID string, hints []scheduler.InactivityHint) int
}

// ScheduleFlow handles campaign activation and the knowledge group cascade
type ScheduleFlow interface {
	Activate(ctx context.Context, req *dto.ActivateScheduleRequest) (*dto.ActivateScheduleResponse, error)
	Deactivate(ctx context.Context, req *dto.DeactivateScheduleRequest) (*dto.DeactivateScheduleResponse, error)
	DeactivateKnowledgeGroup(ctx context.Context, req *dto.KnowledgeGroupToggleRequest) (*dto.KnowledgeGroupToggleResponse, error)
	ReactivateKnowledgeGroup(ctx context.Context, req *dto.KnowledgeGroupToggleRequest) (*dto.KnowledgeGroupToggleResponse, error)
	ListActive(ctx context.Context, pageID string) (*dto.ListActiveSchedulesResponse, error)
	Reload(ctx context.Context, pageID string) (*dto.ReloadSchedulesResponse, error)
	UpdateInactivity(ctx context.Context, req *dto.UpdateUserInactivityRequest) (*dto.UpdateUserInactivityResponse, error)
}

// ScheduleFlowImpl implements the schedule business flow
type ScheduleFlowImpl struct {
	engine       ScheduleEngine
	pageRepo     repository.PageRepository
	bindingRepo  repository.PageKnowledgeBindingRepository
	stepRepo     repository.CustomerTypeMessageRepository
	scheduleRepo repository.MessageScheduleRepository
	location     *time.Location
	now          func() time.Time
	log          *logrus.Logger
}

func NewScheduleFlow(
	engine ScheduleEngine,
	pageRepo repository.PageRepository,
	bindingRepo repository.PageKnowledgeBindingRepository,
	stepRepo repository.CustomerTypeMessageRepository,
	scheduleRepo repository.MessageScheduleRepository,
	timezone string,
	log *logrus.Logger,
) ScheduleFlow {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", timezone).Warn("unknown scheduler timezone, using UTC")
		loc = time.UTC
	}
	return &ScheduleFlowImpl{
		engine:       engine,
		pageRepo:     pageRepo,
		bindingRepo:  bindingRepo,
		stepRepo:     stepRepo,
		scheduleRepo: scheduleRepo,
		location:     loc,
		now:          utils.UTCNow,
		log:          log,
	}
}

// Activate registers a schedule in the cohort its groups select. Without inline
// messages the stored campaign steps of the referenced groups are used.
func (f *ScheduleFlowImpl) Activate(ctx context.Context, req *dto.ActivateScheduleRequest) (*dto.ActivateScheduleResponse, error) {
	page, err := getPage(ctx, f.pageRepo, req.PageID)
	if err != nil {
		return nil, NewBusinessError("PAGE_LOOKUP_FAILED", "Failed to lookup page", err)
	}

	schedule, err := f.buildSchedule(req.PageID, &req.Schedule)
	if err != nil {
		return nil, NewBusinessError("INVALID_SCHEDULE", "Invalid schedule", err)
	}
	if len(schedule.Messages) == 0 {
		steps, err := f.storedSteps(ctx, page, schedule)
		if err != nil {
			return nil, NewBusinessError("SCHEDULE_STEPS_LOOKUP_FAILED", "Failed to load campaign messages", err)
		}
		schedule.Messages = steps
	}
	if len(schedule.Messages) == 0 {
		return nil, NewBusinessError("INVALID_SCHEDULE", "Schedule has no messages", ErrScheduleHasNoMessages)
	}

	cohort, err := f.engine.Activate(ctx, schedule)
	if err != nil {
		return nil, f.engineError("activate", err)
	}

	f.log.WithFields(logrus.Fields{
		"page_id":     req.PageID,
		"schedule_id": schedule.ID,
		"cohort":      cohort,
		"send_type":   schedule.SendType(),
	}).Info("schedule activated")

	return &dto.ActivateScheduleResponse{
		Message:    fmt.Sprintf("schedule %s activated", schedule.ID),
		ScheduleID: schedule.ID,
		Cohort:     string(cohort),
		Steps:      len(schedule.Messages),
	}, nil
}

func (f *ScheduleFlowImpl) Deactivate(ctx context.Context, req *dto.DeactivateScheduleRequest) (*dto.DeactivateScheduleResponse, error) {
	id := req.ScheduleID.String()
	if id == "" {
		return nil, NewBusinessError("INVALID_SCHEDULE_ID", "Schedule id is required", ErrInvalidScheduleID)
	}
	if err := f.engine.Deactivate(ctx, req.PageID, id); err != nil {
		return nil, f.engineError("deactivate", err)
	}

	f.log.WithFields(logrus.Fields{"page_id": req.PageID, "schedule_id": id}).Info("schedule deactivated")
	return &dto.DeactivateScheduleResponse{Message: fmt.Sprintf("schedule %s deactivated", id)}, nil
}

// DeactivateKnowledgeGroup disables the page binding and parks every schedule that references it
func (f *ScheduleFlowImpl) DeactivateKnowledgeGroup(ctx context.Context, req *dto.KnowledgeGroupToggleRequest) (*dto.KnowledgeGroupToggleResponse, error) {
	return f.toggleKnowledge(ctx, req, false)
}

// ReactivateKnowledgeGroup enables the page binding and restores the parked schedules
func (f *ScheduleFlowImpl) ReactivateKnowledgeGroup(ctx context.Context, req *dto.KnowledgeGroupToggleRequest) (*dto.KnowledgeGroupToggleResponse, error) {
	return f.toggleKnowledge(ctx, req, true)
}

func (f *ScheduleFlowImpl) toggleKnowledge(ctx context.Context, req *dto.KnowledgeGroupToggleRequest, enabled bool) (*dto.KnowledgeGroupToggleResponse, error) {
	knowledgeID, err := parseKnowledgeID(req.KnowledgeID.String())
	if err != nil {
		return nil, NewBusinessError("INVALID_GROUP_REFERENCE", "Invalid knowledge id", err)
	}

	page, err := getPage(ctx, f.pageRepo, req.PageID)
	if err != nil {
		return nil, NewBusinessError("PAGE_LOOKUP_FAILED", "Failed to lookup page", err)
	}

	binding, err := f.bindingRepo.ByPageAndType(ctx, page.ID, knowledgeID)
	if err != nil {
		return nil, NewBusinessError("KNOWLEDGE_BINDING_LOOKUP_FAILED", "Failed to lookup knowledge binding", err)
	}
	if binding == nil {
		return nil, NewBusinessError("KNOWLEDGE_BINDING_NOT_FOUND", "Knowledge type is not bound to this page", ErrKnowledgeBindingAbsent)
	}

	if binding.IsEnabled != enabled {
		if err := f.bindingRepo.SetEnabled(ctx, page.ID, knowledgeID, enabled); err != nil {
			return nil, NewBusinessError("KNOWLEDGE_BINDING_UPDATE_FAILED", "Failed to update knowledge binding", err)
		}
	}

	var affected int
	if enabled {
		affected, err = f.engine.ResumeKnowledge(ctx, req.PageID, knowledgeID)
	} else {
		affected, err = f.engine.SuspendKnowledge(ctx, req.PageID, knowledgeID)
	}
	if err != nil {
		return nil, f.engineError("toggle knowledge group", err)
	}

	verb := "deactivated"
	if enabled {
		verb = "reactivated"
	}
	f.log.WithFields(logrus.Fields{
		"page_id":      req.PageID,
		"knowledge_id": knowledgeID,
		"schedules":    affected,
	}).Infof("knowledge group %s", verb)

	return &dto.KnowledgeGroupToggleResponse{
		Message:           fmt.Sprintf("knowledge group %d %s", knowledgeID, verb),
		KnowledgeID:       knowledgeID,
		Enabled:           enabled,
		AffectedSchedules: affected,
	}, nil
}

func (f *ScheduleFlowImpl) ListActive(ctx context.Context, pageID string) (*dto.ListActiveSchedulesResponse, error) {
	snaps, err := f.engine.List(ctx, pageID)
	if err != nil {
		return nil, f.engineError("list", err)
	}

	resp := &dto.ListActiveSchedulesResponse{
		PageID:    pageID,
		Schedules: make([]dto.ScheduleSnapshot, 0, len(snaps)),
	}
	for _, s := range snaps {
		resp.Schedules = append(resp.Schedules, dto.ScheduleSnapshot{
			ScheduleID: s.Schedule.ID,
			Cohort:     string(s.Cohort),
			Type:       string(s.Schedule.SendType()),
			State:      string(s.State),
			SentCount:  s.SentCount,
			LastSent:   f.formatTime(s.LastSent),
			NextRun:    f.formatTime(s.NextRun),
			Suspended:  s.Suspended,
		})
	}
	return resp, nil
}

// Reload activates every stored schedule definition of a page. A row carrying a
// JSON definition is parsed like an activation request; plain rows become a
// single-step schedule keyed by the row id.
func (f *ScheduleFlowImpl) Reload(ctx context.Context, pageID string) (*dto.ReloadSchedulesResponse, error) {
	page, err := getPage(ctx, f.pageRepo, pageID)
	if err != nil {
		return nil, NewBusinessError("PAGE_LOOKUP_FAILED", "Failed to lookup page", err)
	}

	rows, err := f.scheduleRepo.ByPage(ctx, page.ID)
	if err != nil {
		return nil, NewBusinessError("SCHEDULE_LOOKUP_FAILED", "Failed to load stored schedules", err)
	}

	resp := &dto.ReloadSchedulesResponse{Activated: []string{}}
	for _, row := range rows {
		schedule, err := f.fromRow(ctx, page, row)
		if err == nil && len(schedule.Messages) == 0 {
			err = ErrScheduleHasNoMessages
		}
		if err == nil {
			_, err = f.engine.Activate(ctx, schedule)
		}
		if err != nil {
			if errors.Is(err, scheduler.ErrNotRunning) || errors.Is(err, scheduler.ErrBusy) {
				return nil, f.engineError("reload", err)
			}
			f.log.WithError(err).WithFields(logrus.Fields{
				"page_id":  pageID,
				"row_id":   row.ID,
				"schedule": schedule.ID,
			}).Warn("stored schedule skipped")
			resp.Skipped = append(resp.Skipped, strconv.FormatUint(uint64(row.ID), 10))
			continue
		}
		resp.Activated = append(resp.Activated, schedule.ID)
	}

	resp.Message = fmt.Sprintf("%d schedules reloaded", len(resp.Activated))
	return resp, nil
}

// UpdateInactivity feeds frontend-computed inactivity hints to the scheduler.
// Entries without a user id or with an unparsable timestamp are rejected.
func (f *ScheduleFlowImpl) UpdateInactivity(ctx context.Context, req *dto.UpdateUserInactivityRequest) (*dto.UpdateUserInactivityResponse, error) {
	if _, err := getPage(ctx, f.pageRepo, req.PageID); err != nil {
		return nil, NewBusinessError("PAGE_LOOKUP_FAILED", "Failed to lookup page", err)
	}

	now := f.now()
	hints := make([]scheduler.InactivityHint, 0, len(req.Users))
	rejected := 0
	for _, u := range req.Users {
		if strings.TrimSpace(u.UserID) == "" || u.InactivityMinutes < 0 {
			rejected++
			continue
		}
		hint := scheduler.InactivityHint{
			PSID:              u.UserID,
			InactivityMinutes: u.InactivityMinutes,
			UpdatedAt:         now,
		}
		if u.LastMessageTime != "" {
			at, err := utils.ParseFacebookTime(u.LastMessageTime)
			if err != nil {
				rejected++
				continue
			}
			hint.LastMessageTime = &at
		}
		hints = append(hints, hint)
	}

	accepted := f.engine.UpdateInactivity(req.PageID, hints)
	return &dto.UpdateUserInactivityResponse{
		Message:  fmt.Sprintf("inactivity updated for %d users", accepted),
		Accepted: accepted,
		Rejected: rejected,
	}, nil
}

func (f *ScheduleFlowImpl) buildSchedule(pageID string, req *dto.ScheduleRequest) (scheduler.Schedule, error) {
	id := req.ID.String()
	if id == "" {
		return scheduler.Schedule{}, ErrInvalidScheduleID
	}

	groups := make([]scheduler.GroupRef, 0, len(req.Groups))
	for _, g := range req.Groups {
		ref, err := ParseGroupRef(g.String())
		if err != nil {
			return scheduler.Schedule{}, err
		}
		groups = append(groups, ref)
	}
	if len(groups) == 0 {
		return scheduler.Schedule{}, fmt.Errorf("%w: no groups", ErrInvalidGroupReference)
	}

	trigger, err := f.buildTrigger(req)
	if err != nil {
		return scheduler.Schedule{}, err
	}

	steps := make([]scheduler.MessageStep, 0, len(req.Messages))
	for _, m := range req.Messages {
		steps = append(steps, scheduler.MessageStep{
			Kind:    models.StepKind(m.Type),
			Content: m.Content,
			Order:   m.Order,
		})
	}

	return scheduler.Schedule{
		ID:       id,
		PageID:   pageID,
		Groups:   groups,
		Trigger:  trigger,
		Messages: steps,
	}, nil
}

func (f *ScheduleFlowImpl) buildTrigger(req *dto.ScheduleRequest) (scheduler.Trigger, error) {
	switch req.Type {
	case "immediate":
		return scheduler.Immediate{}, nil
	case "scheduled":
		if req.Date == "" || req.Time == "" {
			return nil, ErrScheduleDateRequired
		}
		at, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+req.Time, f.location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScheduleDateRequired, err)
		}
		freq := models.Frequency(req.Frequency)
		if freq == "" {
			freq = models.FrequencyOnce
		}
		t := scheduler.Scheduled{At: at, Frequency: freq}
		if req.EndDate != "" {
			end, err := time.ParseInLocation("2006-01-02", req.EndDate, f.location)
			if err != nil {
				return nil, fmt.Errorf("%w: end date: %v", ErrInvalidSchedule, err)
			}
			t.EndDate = &end
		}
		return t, nil
	case "after_inactive", "user-inactive":
		target, err := InactivityDuration(req.InactivityPeriod, req.InactivityUnit)
		if err != nil {
			return nil, err
		}
		return scheduler.AfterInactive{Target: target}, nil
	default:
		return nil, fmt.Errorf("%w: send type %q", ErrInvalidSchedule, req.Type)
	}
}

// storedSteps loads the campaign steps authored for the schedule's groups
func (f *ScheduleFlowImpl) storedSteps(ctx context.Context, page *models.Page, schedule scheduler.Schedule) ([]scheduler.MessageStep, error) {
	var bindingIDs []uint
	for _, kid := range schedule.KnowledgeIDs() {
		binding, err := f.bindingRepo.ByPageAndType(ctx, page.ID, kid)
		if err != nil {
			return nil, err
		}
		if binding != nil {
			bindingIDs = append(bindingIDs, binding.ID)
		}
	}

	rows, err := f.stepRepo.ByGroups(ctx, page.ID, schedule.CustomGroupIDs(), bindingIDs)
	if err != nil {
		return nil, err
	}
	return stepsFromRows(rows), nil
}

func (f *ScheduleFlowImpl) fromRow(ctx context.Context, page *models.Page, row *models.MessageSchedule) (scheduler.Schedule, error) {
	if len(row.Definition) > 0 {
		var def dto.ScheduleRequest
		if err := json.Unmarshal(row.Definition, &def); err != nil {
			return scheduler.Schedule{}, fmt.Errorf("%w: definition: %v", ErrInvalidSchedule, err)
		}
		schedule, err := f.buildSchedule(page.PageID, &def)
		if err != nil {
			return scheduler.Schedule{}, err
		}
		if len(schedule.Messages) == 0 {
			schedule.Messages, err = f.storedSteps(ctx, page, schedule)
		}
		return schedule, err
	}

	if err := row.Validate(); err != nil {
		return scheduler.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	step := row.CustomerTypeMessage
	if step == nil {
		return scheduler.Schedule{}, fmt.Errorf("%w: message %d missing", ErrInvalidSchedule, row.CustomerTypeMessageID)
	}

	schedule := scheduler.Schedule{
		ID:       strconv.FormatUint(uint64(row.ID), 10),
		PageID:   page.PageID,
		Messages: stepsFromRows([]*models.CustomerTypeMessage{step}),
	}
	switch {
	case step.CustomGroupID != nil:
		schedule.Groups = []scheduler.GroupRef{{Kind: models.GroupKindCustom, ID: *step.CustomGroupID}}
	case step.KnowledgeBindingID != nil:
		binding, err := f.bindingRepo.ByID(ctx, *step.KnowledgeBindingID)
		if err != nil {
			return scheduler.Schedule{}, err
		}
		if binding == nil {
			return scheduler.Schedule{}, ErrKnowledgeBindingAbsent
		}
		schedule.Groups = []scheduler.GroupRef{{Kind: models.GroupKindKnowledge, ID: binding.KnowledgeTypeID}}
	default:
		return scheduler.Schedule{}, ErrInvalidGroupReference
	}

	switch row.SendType {
	case models.SendTypeImmediate:
		schedule.Trigger = scheduler.Immediate{}
	case models.SendTypeScheduled:
		schedule.Trigger = scheduler.Scheduled{
			At:        row.ScheduledAt.In(f.location),
			Frequency: row.Frequency,
			EndDate:   row.EndDate,
		}
	case models.SendTypeAfterInactive:
		schedule.Trigger = scheduler.AfterInactive{Target: time.Duration(*row.SendAfterInactiveMinutes) * time.Minute}
	}
	return schedule, nil
}

// engineError maps scheduler failures onto business errors
func (f *ScheduleFlowImpl) engineError(op string, err error) error {
	switch {
	case errors.Is(err, scheduler.ErrScheduleNotFound):
		return NewBusinessError("SCHEDULE_NOT_FOUND", "Schedule is not active", ErrScheduleNotFound)
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		return NewBusinessError("INVALID_SCHEDULE", err.Error(), ErrInvalidSchedule)
	case errors.Is(err, scheduler.ErrNotRunning), errors.Is(err, scheduler.ErrBusy):
		return NewBusinessErrorf("SCHEDULER_UNAVAILABLE", "Scheduler could not %s", fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err), op)
	default:
		return NewBusinessErrorf("SCHEDULER_FAILED", "Scheduler failed to %s", err, op)
	}
}

func (f *ScheduleFlowImpl) formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.In(f.location).Format(time.RFC3339)
	return &s
}

// ParseGroupRef reads a group id from the admin UI: "knowledge_7" is a
// knowledge type, a bare number is a custom group
func ParseGroupRef(raw string) (scheduler.GroupRef, error) {
	raw = strings.TrimSpace(raw)
	kind := models.GroupKindCustom
	if strings.HasPrefix(raw, knowledgePrefix) {
		kind = models.GroupKindKnowledge
		raw = strings.TrimPrefix(raw, knowledgePrefix)
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return scheduler.GroupRef{}, fmt.Errorf("%w: %q", ErrInvalidGroupReference, raw)
	}
	return scheduler.GroupRef{Kind: kind, ID: uint(id)}, nil
}

func parseKnowledgeID(raw string) (uint, error) {
	ref, err := ParseGroupRef(raw)
	if err != nil {
		return 0, err
	}
	return ref.ID, nil
}

// InactivityDuration converts the admin inactivity period into a duration.
// A month counts as 30 days.
func InactivityDuration(period float64, unit string) (time.Duration, error) {
	if period <= 0 {
		return 0, ErrInactivityRequired
	}
	var per time.Duration
	switch unit {
	case "", "minutes":
		per = time.Minute
	case "hours":
		per = time.Hour
	case "days":
		per = 24 * time.Hour
	case "weeks":
		per = 7 * 24 * time.Hour
	case "months":
		per = 30 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unit %q", ErrInactivityRequired, unit)
	}
	return time.Duration(period * float64(per)), nil
}

func stepsFromRows(rows []*models.CustomerTypeMessage) []scheduler.MessageStep {
	steps := make([]scheduler.MessageStep, 0, len(rows))
	for _, r := range rows {
		steps = append(steps, scheduler.MessageStep{
			Kind:    r.Kind,
			Content: r.Content,
			Order:   r.DisplayOrder,
		})
	}
	return steps
}
