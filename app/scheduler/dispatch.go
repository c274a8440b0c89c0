package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/sirupsen/logrus"
)

const (
	conversationScanLimit = 100
	conversationScanDepth = 10
	maxConversationPages  = 10
)

// pageContext is resolved once per page per tick
type pageContext struct {
	page  *models.Page
	token string
}

// recipient is a PSID with its customer row when one exists
type recipient struct {
	psid     string
	customer *models.Customer
}

func (r *cohortRunner) tick() {
	// A Tick command drained mid-dispatch must not start a nested pass.
	if r.ticking {
		return
	}
	r.ticking = true
	defer func() { r.ticking = false }()

	ctx := r.ctx
	start := time.Now()
	defer func() {
		tickDuration.WithLabelValues(string(r.cohort)).Observe(time.Since(start).Seconds())
	}()

	pageIDs := make([]string, 0, len(r.active))
	for pageID := range r.active {
		pageIDs = append(pageIDs, pageID)
	}
	sort.Strings(pageIDs)

	for _, pageID := range pageIDs {
		if ctx.Err() != nil {
			return
		}
		r.tickPage(ctx, pageID)
	}
}

func (r *cohortRunner) tickPage(ctx context.Context, pageID string) {
	log := r.s.log.WithFields(logrus.Fields{"page_id": pageID, "cohort": r.cohort})
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("Scheduler tick panicked: %v", rec)
		}
	}()

	pc, err := r.s.resolvePage(ctx, pageID)
	if err != nil {
		log.WithError(err).Warn("Skipping page this cycle")
		return
	}

	// Commands served between recipients may change the page's records.
	recs := append([]*record(nil), r.active[pageID]...)
	var finished []*record
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		if !r.isActive(pageID, rec) {
			continue
		}
		if done := r.evaluate(ctx, pc, rec); done {
			log.WithField("schedule_id", rec.schedule.ID).Info("Schedule finished and removed")
			finished = append(finished, rec)
		}
	}
	r.drop(pageID, finished)
	r.updateGauge()
}

func (r *cohortRunner) isActive(pageID string, rec *record) bool {
	for _, other := range r.active[pageID] {
		if other == rec {
			return true
		}
	}
	return false
}

func (r *cohortRunner) drop(pageID string, finished []*record) {
	if len(finished) == 0 {
		return
	}
	kept := r.active[pageID][:0]
	for _, rec := range r.active[pageID] {
		if !slices.Contains(finished, rec) {
			kept = append(kept, rec)
		}
	}
	if len(kept) == 0 {
		delete(r.active, pageID)
	} else {
		r.active[pageID] = kept
	}
}

// evaluate runs one schedule for one tick and reports whether it is finished.
func (r *cohortRunner) evaluate(ctx context.Context, pc *pageContext, rec *record) bool {
	now := r.s.now()
	log := r.s.log.WithFields(logrus.Fields{
		"page_id":     pc.page.PageID,
		"schedule_id": rec.schedule.ID,
		"cohort":      r.cohort,
	})

	switch t := rec.schedule.Trigger.(type) {
	case Immediate:
		if rec.sent {
			return false
		}
		recipients, err := r.s.groupRecipients(ctx, pc, rec.schedule)
		if err != nil {
			log.WithError(err).Warn("Failed to resolve recipients")
			return false
		}
		_, failed := r.fire(ctx, pc, rec, recipients)
		if r.parked(pc, rec) {
			return false
		}
		rec.lastSent = utils.ToPtr(now)
		if failed == 0 {
			rec.sent = true
			rec.state = StateSent
		} else {
			rec.state = StatePending
		}
		return false

	case Scheduled:
		if now.Sub(t.At) > fireWindow {
			entry := log.WithField("run_at", t.At.Format(time.RFC3339))
			if rec.undelivered {
				entry.WithField("sent", len(rec.tracking)).Warn("Scheduled run closed with undelivered recipients")
			} else {
				entry.Warn("Scheduled run missed its window")
			}
			next, ok := skipMissed(t, now)
			if !ok {
				return true
			}
			rec.rearm(next)
			log.WithField("next_run", next.At.Format(time.RFC3339)).Info("Schedule re-armed")
			t = next
		}
		if !rec.undelivered && !scheduledDue(t, rec.lastSent, now) {
			rec.state = StateWaiting
			return false
		}
		recipients, err := r.s.groupRecipients(ctx, pc, rec.schedule)
		if err != nil {
			log.WithError(err).Warn("Failed to resolve recipients")
			return false
		}
		_, failed := r.fire(ctx, pc, rec, recipients)
		if r.parked(pc, rec) {
			return false
		}
		rec.lastSent = utils.ToPtr(now)
		if failed > 0 {
			rec.undelivered = true
			rec.state = StatePending
			return false
		}
		rec.state = StateSent

		next, ok := nextOccurrence(t)
		if !ok {
			return true
		}
		rec.rearm(next)
		log.WithField("next_run", next.At.Format(time.RFC3339)).Info("Schedule re-armed")
		return false

	case AfterInactive:
		if !rec.lastCheck.IsZero() && now.Sub(rec.lastCheck) < r.s.cfg.PollInterval/2 {
			return false
		}
		rec.lastCheck = now

		recipients, err := r.s.inactiveRecipients(ctx, pc, rec.schedule, t.Target, now)
		if err != nil {
			log.WithError(err).Warn("Failed to resolve inactive recipients")
			return false
		}
		if sent, _ := r.fire(ctx, pc, rec, recipients); sent > 0 {
			rec.lastSent = utils.ToPtr(now)
		}
		rec.state = StateWaiting
		return false
	}

	log.Warn("Schedule has no trigger, removing")
	return true
}

// parked reports whether a command served during fire took rec out of the
// loop. Its tracking is kept so a resumed record skips whoever was served.
func (r *cohortRunner) parked(pc *pageContext, rec *record) bool {
	if r.isActive(pc.page.PageID, rec) {
		return false
	}
	rec.state = StatePending
	return true
}

// fire dispatches to every recipient not yet served in this activation cycle.
// Admin commands queued meanwhile are served between recipients.
func (r *cohortRunner) fire(ctx context.Context, pc *pageContext, rec *record, recipients []recipient) (sent, failed int) {
	rec.state = StateFiring
	steps := rec.schedule.sortedMessages()
	first := true

	for _, to := range recipients {
		if ctx.Err() != nil {
			return sent, failed
		}
		if rec.served(to.psid) {
			continue
		}
		if !first {
			if err := r.s.sleep(ctx, r.s.cfg.RecipientDelay); err != nil {
				return sent, failed
			}
			r.drainCommands()
			if !r.isActive(pc.page.PageID, rec) {
				r.s.log.WithFields(logrus.Fields{
					"page_id":     pc.page.PageID,
					"schedule_id": rec.schedule.ID,
					"cohort":      r.cohort,
				}).Info("Schedule changed during dispatch, stopping")
				return sent, failed
			}
		}
		first = false

		log := r.s.log.WithFields(logrus.Fields{
			"page_id":     pc.page.PageID,
			"schedule_id": rec.schedule.ID,
			"cohort":      r.cohort,
			"psid":        to.psid,
		})

		if to.customer == nil {
			c, err := r.s.deps.Customers.ByPageAndPSID(ctx, pc.page.ID, to.psid)
			if err != nil {
				log.WithError(err).Debug("Customer lookup failed")
			}
			to.customer = c
		}

		if err := r.s.sendSteps(ctx, pc, r.cohort, to, steps, log); err != nil {
			failed++
			dispatchFailures.WithLabelValues(string(r.cohort)).Inc()
			log.WithError(err).Warn("Dispatch to recipient failed")
			continue
		}

		rec.tracking[to.psid] = struct{}{}
		sent++
		if err := r.s.writeBack(ctx, pc, rec.schedule, to.customer); err != nil {
			log.WithError(err).Warn("Failed to write back group assignment")
		}
	}

	if sent+failed > 0 {
		r.s.log.WithFields(logrus.Fields{
			"page_id":     pc.page.PageID,
			"schedule_id": rec.schedule.ID,
			"cohort":      r.cohort,
			"sent":        sent,
			"failed":      failed,
		}).Info("Schedule dispatched")
	}
	return sent, failed
}

// sendSteps sends every step to one recipient and stops at the first Graph error
func (s *Scheduler) sendSteps(ctx context.Context, pc *pageContext, cohort Cohort, to recipient, steps []MessageStep, log *logrus.Entry) error {
	for i, step := range steps {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.MessageDelay); err != nil {
				return err
			}
		}

		var err error
		switch step.Kind {
		case models.StepKindText:
			err = s.sendText(ctx, pc, to, step.Content)
		case models.StepKindImage, models.StepKindVideo:
			err = s.sendMedia(ctx, pc, to.psid, step)
			if errors.Is(err, services.ErrAssetNotFound) {
				assetsMissing.Inc()
				log.WithField("asset", step.Content).Warn("Asset not found, skipping message")
				continue
			}
		default:
			log.WithField("kind", step.Kind).Warn("Unknown message kind, skipping")
			continue
		}
		if err != nil {
			return err
		}
		messagesSent.WithLabelValues(string(cohort), string(step.Kind)).Inc()
	}
	return nil
}

func (s *Scheduler) sendText(ctx context.Context, pc *pageContext, to recipient, content string) error {
	text := content
	if s.deps.Renderer != nil {
		text, _ = s.deps.Renderer.Render(content, templateBindings(pc.page, to))
	}
	_, err := services.Retry(ctx, s.retry, func(ctx context.Context) (*services.SendResult, error) {
		return s.deps.Graph.SendText(ctx, pc.token, to.psid, text)
	})
	return err
}

func (s *Scheduler) sendMedia(ctx context.Context, pc *pageContext, psid string, step MessageStep) error {
	if s.deps.Assets == nil {
		return services.ErrAssetNotFound
	}
	rc, err := s.deps.Assets.Open(ctx, step.Kind, step.Content)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read asset %s: %w", step.Content, err)
	}

	filename := filepath.Base(step.Content)
	_, err = services.Retry(ctx, s.retry, func(ctx context.Context) (*services.SendResult, error) {
		return s.deps.Graph.SendAttachment(ctx, pc.token, psid, string(step.Kind), filename, bytes.NewReader(data))
	})
	return err
}

func templateBindings(page *models.Page, to recipient) map[string]any {
	b := map[string]any{
		"psid":      to.psid,
		"page_name": page.Name,
		"name":      "",
	}
	if to.customer != nil {
		b["name"] = to.customer.Name
	}
	return b
}

// writeBack moves the customer into the schedule's group when it is not there yet
func (s *Scheduler) writeBack(ctx context.Context, pc *pageContext, schedule Schedule, customer *models.Customer) error {
	if customer == nil {
		return nil
	}

	kind := models.GroupKindCustom
	ids := schedule.CustomGroupIDs()
	current := customer.CurrentCustomGroupID
	if schedule.Cohort() == CohortKnowledge {
		kind = models.GroupKindKnowledge
		ids = schedule.KnowledgeIDs()
		current = customer.CurrentKnowledgeGroupID
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if current != nil && *current == id {
			return nil
		}
	}
	target := ids[0]

	now := s.now()
	if s.deps.Classifications != nil {
		prev, err := s.deps.Classifications.LatestByCustomer(ctx, customer.ID, kind)
		if err != nil {
			return err
		}
		at := now
		if prev != nil && !at.After(prev.ClassifiedAt) {
			at = prev.ClassifiedAt.Add(time.Microsecond)
		}
		if err := s.deps.Classifications.Save(ctx, &models.Classification{
			CustomerID:   customer.ID,
			GroupKind:    kind,
			OldGroupID:   current,
			NewGroupID:   target,
			Source:       models.ClassificationSourceDispatch,
			ClassifierID: "scheduler",
			ClassifiedAt: at,
		}); err != nil {
			return err
		}
	}
	if err := s.deps.Customers.AssignGroup(ctx, customer.ID, kind, target); err != nil {
		return err
	}
	if kind == models.GroupKindKnowledge {
		customer.CurrentKnowledgeGroupID = utils.ToPtr(target)
	} else {
		customer.CurrentCustomGroupID = utils.ToPtr(target)
	}

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(services.ChangeEvent{
			Kind:       services.ChangeCustomerType,
			PageID:     pc.page.PageID,
			CustomerID: customer.ID,
			PSID:       customer.PSID,
			Name:       customer.Name,
			GroupKind:  string(kind),
			GroupID:    utils.ToPtr(target),
			Source:     string(models.ClassificationSourceDispatch),
		})
	}
	return nil
}

func (s *Scheduler) resolvePage(ctx context.Context, pageID string) (*pageContext, error) {
	page, err := s.deps.Pages.ByPageID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("page %s not found", pageID)
	}
	token, err := s.deps.Tokens.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("page access token missing")
	}
	return &pageContext{page: page, token: token}, nil
}

// groupRecipients resolves who an immediate or scheduled send goes to
func (s *Scheduler) groupRecipients(ctx context.Context, pc *pageContext, schedule Schedule) ([]recipient, error) {
	if schedule.Cohort() == CohortKnowledge {
		return s.knowledgeMembers(ctx, pc, schedule)
	}

	psids, err := s.conversationPSIDs(ctx, pc)
	if err != nil {
		return nil, err
	}
	out := make([]recipient, 0, len(psids))
	for _, psid := range psids {
		out = append(out, recipient{psid: psid})
	}
	return out, nil
}

// knowledgeMembers lists customers in the schedule's still-enabled knowledge groups
func (s *Scheduler) knowledgeMembers(ctx context.Context, pc *pageContext, schedule Schedule) ([]recipient, error) {
	ids, err := s.enabledKnowledgeIDs(ctx, pc.page.ID, schedule.KnowledgeIDs())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	customers, err := s.deps.Customers.ListByKnowledgeGroups(ctx, pc.page.ID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]recipient, 0, len(customers))
	for _, c := range customers {
		out = append(out, recipient{psid: c.PSID, customer: c})
	}
	return out, nil
}

func (s *Scheduler) enabledKnowledgeIDs(ctx context.Context, pageID uint, wanted []uint) ([]uint, error) {
	bindings, err := s.deps.Bindings.EnabledByPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	enabled := make(map[uint]bool, len(bindings))
	for _, b := range bindings {
		if b.IsEnabled {
			enabled[b.KnowledgeTypeID] = true
		}
	}
	var out []uint
	for _, id := range wanted {
		if enabled[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// inactiveRecipients returns the users whose inactivity is inside the band of target
func (s *Scheduler) inactiveRecipients(ctx context.Context, pc *pageContext, schedule Schedule, target time.Duration, now time.Time) ([]recipient, error) {
	if s.hints.Stale(pc.page.PageID, now, 2*s.cfg.PollInterval) {
		if err := s.scanInactivity(ctx, pc, now); err != nil {
			return nil, err
		}
	}

	matching := s.hints.Matching(pc.page.PageID, target, now)
	sort.Strings(matching)
	if schedule.Cohort() == CohortUser {
		out := make([]recipient, 0, len(matching))
		for _, psid := range matching {
			out = append(out, recipient{psid: psid})
		}
		return out, nil
	}

	members, err := s.knowledgeMembers(ctx, pc, schedule)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(matching))
	for _, psid := range matching {
		want[psid] = true
	}
	var out []recipient
	for _, m := range members {
		if want[m.psid] {
			out = append(out, m)
		}
	}
	return out, nil
}

// scanInactivity derives inactivity from the latest customer message of recent conversations
func (s *Scheduler) scanInactivity(ctx context.Context, pc *pageContext, now time.Time) error {
	var hints []InactivityHint
	err := s.walkConversations(ctx, pc, func(conv services.Conversation) {
		for _, p := range conv.Participants.Data {
			if p.ID == "" || p.ID == pc.page.PageID {
				continue
			}
			last := latestFrom(conv.Messages.Data, p.ID)
			if last == nil {
				if t, err := utils.ParseFacebookTime(conv.UpdatedTime); err == nil {
					last = &t
				}
			}
			if last == nil {
				continue
			}
			hints = append(hints, InactivityHint{
				PSID:              p.ID,
				LastMessageTime:   last,
				InactivityMinutes: utils.MinutesSince(*last, now),
				UpdatedAt:         now,
			})
		}
	})
	if err != nil {
		return fmt.Errorf("inactivity scan failed: %w", err)
	}
	s.hints.Update(pc.page.PageID, hints, now)
	s.log.WithFields(logrus.Fields{"page_id": pc.page.PageID, "users": len(hints)}).Debug("Inactivity hints refreshed from conversations")
	return nil
}

// conversationPSIDs lists the non-page participants of the page's conversations
func (s *Scheduler) conversationPSIDs(ctx context.Context, pc *pageContext) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := s.walkConversations(ctx, pc, func(conv services.Conversation) {
		for _, p := range conv.Participants.Data {
			if p.ID == "" || p.ID == pc.page.PageID || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p.ID)
		}
	})
	return out, err
}

func (s *Scheduler) walkConversations(ctx context.Context, pc *pageContext, visit func(services.Conversation)) error {
	after := ""
	for i := 0; i < maxConversationPages; i++ {
		page, err := services.Retry(ctx, s.retry, func(ctx context.Context) (*services.ConversationPage, error) {
			return s.deps.Graph.ListConversations(ctx, pc.page.PageID, pc.token, conversationScanLimit, conversationScanDepth, after)
		})
		if err != nil {
			return err
		}
		for _, conv := range page.Data {
			visit(conv)
		}
		if !page.Paging.HasNext() {
			return nil
		}
		after = page.Paging.Cursors.After
	}
	return nil
}

func latestFrom(messages []services.Message, psid string) *time.Time {
	var latest *time.Time
	for _, m := range messages {
		if m.From.ID != psid {
			continue
		}
		t, err := utils.ParseFacebookTime(m.CreatedTime)
		if err != nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest
}
