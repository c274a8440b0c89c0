// Package classifier assigns customers to knowledge and custom groups from
// their latest message, keyword match first and an LLM call as fallback, and
// keeps their retarget tier current.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// classifierID tags the rows this pipeline writes
const classifierID = "hybrid-v1"

type PageStore interface {
	ListAll(ctx context.Context) ([]*models.Page, error)
}

type CustomerStore interface {
	ListByPage(ctx context.Context, pageID uint) ([]*models.Customer, error)
	AssignGroup(ctx context.Context, customerID uint, kind models.GroupKind, groupID uint) error
	UpdateRetargetTier(ctx context.Context, customerID uint, tier *string) error
}

type MessageStore interface {
	LatestFromCustomer(ctx context.Context, customerID uint, after *time.Time) (*models.CustomerMessage, error)
}

type ClassificationStore interface {
	LatestByCustomer(ctx context.Context, customerID uint, kind models.GroupKind) (*models.Classification, error)
	Save(ctx context.Context, c *models.Classification) error
}

type BindingStore interface {
	EnabledByPage(ctx context.Context, pageID uint) ([]*models.PageKnowledgeBinding, error)
}

type GroupStore interface {
	ActiveByPage(ctx context.Context, pageID uint) ([]*models.CustomGroup, error)
}

type TierStore interface {
	ByPage(ctx context.Context, pageID uint) ([]*models.RetargetTier, error)
}

// Decision is the outcome of classifying one piece of text
type Decision struct {
	GroupID uint
	Source  models.ClassificationSource
}

// PageResult summarises one page pass
type PageResult struct {
	Customers   int
	Skipped     int
	Knowledge   int
	Custom      int
	TierChanges int
	LLMCalls    int
	Failures    int
}

type textKey struct {
	pageID uint
	text   string
}

type textAnswer struct {
	groupID uint
	ok      bool
}

// Classifier runs the hybrid pipeline over every page
type Classifier struct {
	cfg             config.ClassifierConfig
	pages           PageStore
	customers       CustomerStore
	messages        MessageStore
	classifications ClassificationStore
	bindings        BindingStore
	groups          GroupStore
	tiers           TierStore
	llm             services.LLMClient
	images          ImageFetcher
	bus             services.ChangePublisher
	retry           services.RetryPolicy
	log             *logrus.Logger
	now             func() time.Time

	keywords *KeywordMatcher
	texts    *lru.Cache[textKey, textAnswer]
	captions *lru.Cache[string, string]

	mu      sync.Mutex
	running bool
}

func New(
	cfg config.ClassifierConfig,
	pages PageStore,
	customers CustomerStore,
	messages MessageStore,
	classifications ClassificationStore,
	bindings BindingStore,
	groups GroupStore,
	tiers TierStore,
	llm services.LLMClient,
	images ImageFetcher,
	bus services.ChangePublisher,
	retry services.RetryPolicy,
	log *logrus.Logger,
) (*Classifier, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Minute
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}

	texts, err := lru.New[textKey, textAnswer](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create text cache: %w", err)
	}
	captions, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create caption cache: %w", err)
	}

	return &Classifier{
		cfg:             cfg,
		pages:           pages,
		customers:       customers,
		messages:        messages,
		classifications: classifications,
		bindings:        bindings,
		groups:          groups,
		tiers:           tiers,
		llm:             llm,
		images:          images,
		bus:             bus,
		retry:           retry,
		log:             log,
		now:             utils.UTCNow,
		keywords:        NewKeywordMatcher(),
		texts:           texts,
		captions:        captions,
	}, nil
}

// RunOnce classifies every page. A page that fails is logged and skipped.
func (c *Classifier) RunOnce(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Warn("Classifier pass still running, skipping")
		return
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	pages, err := c.pages.ListAll(ctx)
	if err != nil {
		c.log.WithError(err).Error("Failed to list pages for classification")
		return
	}

	start := time.Now()
	for _, page := range pages {
		if ctx.Err() != nil {
			return
		}
		res, err := c.runPageSafe(ctx, page)
		fields := logrus.Fields{"page_id": page.PageID}
		if err != nil {
			c.log.WithFields(fields).WithError(err).Error("Classifier page pass failed")
			continue
		}
		if res.Knowledge+res.Custom+res.TierChanges > 0 {
			c.log.WithFields(fields).WithFields(logrus.Fields{
				"customers":    res.Customers,
				"knowledge":    res.Knowledge,
				"custom":       res.Custom,
				"tier_changes": res.TierChanges,
				"llm_calls":    res.LLMCalls,
				"failures":     res.Failures,
			}).Info("Classifier page pass finished")
		}
	}
	c.log.WithField("duration", time.Since(start).String()).Debug("Classifier pass finished")
}

func (c *Classifier) runPageSafe(ctx context.Context, page *models.Page) (res *PageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in classifier: %v", r)
		}
	}()
	return c.RunPage(ctx, page)
}

// RunPage classifies the customers of one page
func (c *Classifier) RunPage(ctx context.Context, page *models.Page) (*PageResult, error) {
	knowledge, err := c.knowledgeCandidates(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	custom, err := c.customCandidates(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	tiers, err := c.tiers.ByPage(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load retarget tiers: %w", err)
	}
	customers, err := c.customers.ListByPage(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	res := &PageResult{Customers: len(customers)}
	now := c.now()

	for _, customer := range customers {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if customer.LastInteractionAt == nil {
			res.Skipped++
			continue
		}

		if changed, err := c.refreshTier(ctx, page, customer, tiers, now); err != nil {
			res.Failures++
			c.log.WithFields(logrus.Fields{"page_id": page.PageID, "psid": customer.PSID}).WithError(err).Warn("Failed to update retarget tier")
		} else if changed {
			res.TierChanges++
		}

		if err := c.classifyCustomer(ctx, page, customer, knowledge, custom, now, res); err != nil {
			res.Failures++
			c.log.WithFields(logrus.Fields{"page_id": page.PageID, "psid": customer.PSID}).WithError(err).Warn("Failed to classify customer")
		}
	}
	return res, nil
}

func (c *Classifier) classifyCustomer(
	ctx context.Context,
	page *models.Page,
	customer *models.Customer,
	knowledge, custom []Candidate,
	now time.Time,
	res *PageResult,
) error {
	last := customer.LastInteractionAt.UTC()

	prevKnowledge, err := c.classifications.LatestByCustomer(ctx, customer.ID, models.GroupKindKnowledge)
	if err != nil {
		return err
	}
	prevCustom, err := c.classifications.LatestByCustomer(ctx, customer.ID, models.GroupKindCustom)
	if err != nil {
		return err
	}
	prev := latestOf(prevKnowledge, prevCustom)
	if prev != nil && prev.ClassifiedAt.After(last) {
		res.Skipped++
		return nil
	}
	if now.Sub(last) < c.cfg.Cooldown {
		res.Skipped++
		return nil
	}

	var after *time.Time
	if prev != nil {
		t := prev.ClassifiedAt
		after = &t
	}
	msg, err := c.messages.LatestFromCustomer(ctx, customer.ID, after)
	if err != nil {
		return err
	}
	if msg == nil {
		res.Skipped++
		return nil
	}

	text, fromImage, err := c.messageText(ctx, msg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		res.Skipped++
		return nil
	}

	if len(knowledge) > 0 {
		candidates := knowledge
		if fromImage {
			candidates = imageCandidates(knowledge)
		}
		decision, called, err := c.classify(ctx, page.ID, text, candidates, customer.CurrentKnowledgeGroupID, fromImage)
		if called {
			res.LLMCalls++
		}
		if err != nil {
			return err
		}
		if decision != nil && !sameGroup(customer.CurrentKnowledgeGroupID, decision.GroupID) {
			if err := c.record(ctx, page, customer, models.GroupKindKnowledge, prevKnowledge, *decision, now); err != nil {
				return err
			}
			customer.CurrentKnowledgeGroupID = utils.ToPtr(decision.GroupID)
			res.Knowledge++
		}
	}

	if id, ok := c.keywords.Match(text, custom); ok && !sameGroup(customer.CurrentCustomGroupID, id) {
		decision := Decision{GroupID: id, Source: models.ClassificationSourceKeyword}
		if err := c.record(ctx, page, customer, models.GroupKindCustom, prevCustom, decision, now); err != nil {
			return err
		}
		customer.CurrentCustomGroupID = utils.ToPtr(id)
		res.Custom++
	}
	return nil
}

// ClassifyText runs keyword match then the LLM over the given candidates.
// A nil decision means the customer's category stays as it is.
func (c *Classifier) ClassifyText(ctx context.Context, pageID uint, text string, candidates []Candidate, previous *uint) (*Decision, error) {
	d, _, err := c.classify(ctx, pageID, text, candidates, previous, false)
	return d, err
}

func (c *Classifier) classify(ctx context.Context, pageID uint, text string, candidates []Candidate, previous *uint, fromImage bool) (*Decision, bool, error) {
	if len(candidates) == 0 {
		return nil, false, nil
	}
	if id, ok := c.keywords.Match(text, candidates); ok {
		return &Decision{GroupID: id, Source: models.ClassificationSourceKeyword}, false, nil
	}

	source := models.ClassificationSourceLLM
	if fromImage {
		source = models.ClassificationSourceVision
	}

	key := textKey{pageID: pageID, text: text}
	if cached, ok := c.texts.Get(key); ok && (!cached.ok || knownID(candidates, cached.groupID)) {
		if !cached.ok {
			return nil, false, nil
		}
		return &Decision{GroupID: cached.groupID, Source: source}, false, nil
	}

	prompt := BuildPrompt(candidates, previous, text)
	answer, err := services.Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.llm.Complete(ctx, prompt)
	})
	if errors.Is(err, services.ErrNoAnswer) {
		llmNoAnswer.Inc()
		c.texts.Add(key, textAnswer{})
		return nil, true, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("llm classification failed: %w", err)
	}

	id, ok := ParseCategory(answer, candidates)
	c.texts.Add(key, textAnswer{groupID: id, ok: ok})
	if !ok {
		llmNoAnswer.Inc()
		c.log.WithField("answer", answer).Debug("LLM answer has no known category id")
		return nil, true, nil
	}
	return &Decision{GroupID: id, Source: source}, true, nil
}

// messageText returns the text to classify: the message body, or a caption
// of its image attachment
func (c *Classifier) messageText(ctx context.Context, msg *models.CustomerMessage) (string, bool, error) {
	if msg.Kind != models.MessageKindAttachment || msg.AttachmentURL == nil || !services.IsImageURL(*msg.AttachmentURL) {
		return msg.Text, false, nil
	}
	if c.images == nil {
		return msg.Text, false, nil
	}

	url := *msg.AttachmentURL
	if caption, ok := c.captions.Get(url); ok {
		return caption, true, nil
	}

	data, mimeType, err := c.images.Fetch(ctx, url)
	if err != nil {
		return "", false, err
	}
	caption, err := services.Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.llm.Describe(ctx, data, mimeType, captionPrompt)
	})
	if errors.Is(err, services.ErrNoAnswer) {
		return "", true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("vision caption failed: %w", err)
	}

	caption = strings.TrimSpace(caption)
	c.captions.Add(url, caption)
	return caption, true, nil
}

// record appends the classification row, moves the customer and notifies
func (c *Classifier) record(
	ctx context.Context,
	page *models.Page,
	customer *models.Customer,
	kind models.GroupKind,
	prev *models.Classification,
	decision Decision,
	now time.Time,
) error {
	at := now
	if prev != nil && !at.After(prev.ClassifiedAt) {
		at = prev.ClassifiedAt.Add(time.Microsecond)
	}

	old := customer.CurrentKnowledgeGroupID
	if kind == models.GroupKindCustom {
		old = customer.CurrentCustomGroupID
	}

	row := &models.Classification{
		CustomerID:   customer.ID,
		GroupKind:    kind,
		OldGroupID:   old,
		NewGroupID:   decision.GroupID,
		Source:       decision.Source,
		ClassifierID: classifierID,
		ClassifiedAt: at,
	}
	if err := c.classifications.Save(ctx, row); err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	if err := c.customers.AssignGroup(ctx, customer.ID, kind, decision.GroupID); err != nil {
		return fmt.Errorf("failed to assign group: %w", err)
	}
	decisionsTotal.WithLabelValues(string(decision.Source)).Inc()

	if c.bus != nil {
		c.bus.Publish(services.ChangeEvent{
			Kind:       services.ChangeCustomerType,
			PageID:     page.PageID,
			CustomerID: customer.ID,
			PSID:       customer.PSID,
			Name:       customer.Name,
			GroupKind:  string(kind),
			GroupID:    utils.ToPtr(decision.GroupID),
			Source:     string(decision.Source),
		})
	}
	return nil
}

func (c *Classifier) refreshTier(ctx context.Context, page *models.Page, customer *models.Customer, tiers []*models.RetargetTier, now time.Time) (bool, error) {
	tier := ActiveTier(tiers, utils.DaysSince(customer.LastInteractionAt.UTC(), now))
	if utils.Deref(tier) == utils.Deref(customer.CurrentRetargetTier) {
		return false, nil
	}
	if err := c.customers.UpdateRetargetTier(ctx, customer.ID, tier); err != nil {
		return false, err
	}
	customer.CurrentRetargetTier = tier

	if c.bus != nil {
		c.bus.Publish(services.ChangeEvent{
			Kind:       services.ChangeRetargetTier,
			PageID:     page.PageID,
			CustomerID: customer.ID,
			PSID:       customer.PSID,
			Name:       customer.Name,
			Status:     utils.Deref(tier),
		})
	}
	return true, nil
}

func (c *Classifier) knowledgeCandidates(ctx context.Context, pageID uint) ([]Candidate, error) {
	bindings, err := c.bindings.EnabledByPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge bindings: %w", err)
	}
	out := make([]Candidate, 0, len(bindings))
	for _, b := range bindings {
		if !b.IsEnabled || b.KnowledgeType == nil {
			continue
		}
		kt := b.KnowledgeType
		out = append(out, Candidate{
			ID:            kt.ID,
			Name:          kt.Name,
			Rule:          kt.RuleDescription,
			Examples:      kt.Examples,
			Keywords:      kt.Keywords,
			SupportsImage: kt.SupportsImage,
		})
	}
	return out, nil
}

func (c *Classifier) customCandidates(ctx context.Context, pageID uint) ([]Candidate, error) {
	groups, err := c.groups.ActiveByPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom groups: %w", err)
	}
	out := make([]Candidate, 0, len(groups))
	for _, g := range groups {
		out = append(out, Candidate{
			ID:       g.ID,
			Name:     g.Name,
			Rule:     g.RuleDescription,
			Examples: g.Examples,
			Keywords: g.Keywords,
		})
	}
	return out, nil
}

// imageCandidates narrows to image-capable types when the page has any
func imageCandidates(all []Candidate) []Candidate {
	var out []Candidate
	for _, c := range all {
		if c.SupportsImage {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func latestOf(a, b *models.Classification) *models.Classification {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.ClassifiedAt.After(a.ClassifiedAt):
		return b
	default:
		return a
	}
}

func sameGroup(current *uint, id uint) bool {
	return current != nil && *current == id
}

func knownID(candidates []Candidate, id uint) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
