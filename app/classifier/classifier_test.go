package classifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/logger"
	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLLM struct {
	mu       sync.Mutex
	answer   string
	caption  string
	err      error
	calls    int
	describe int
	prompts  []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func (f *fakeLLM) Describe(context.Context, []byte, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describe++
	return f.caption, nil
}

type fakeImages struct{ fetched []string }

func (f *fakeImages) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.fetched = append(f.fetched, url)
	return []byte("jpeg"), "image/jpeg", nil
}

type fakePages struct{ pages []*models.Page }

func (f *fakePages) ListAll(context.Context) ([]*models.Page, error) { return f.pages, nil }

type assignment struct {
	customerID uint
	kind       models.GroupKind
	groupID    uint
}

type fakeCustomers struct {
	list     []*models.Customer
	assigned []assignment
	tiers    map[uint]*string
}

func (f *fakeCustomers) ListByPage(context.Context, uint) ([]*models.Customer, error) {
	return f.list, nil
}

func (f *fakeCustomers) AssignGroup(_ context.Context, customerID uint, kind models.GroupKind, groupID uint) error {
	f.assigned = append(f.assigned, assignment{customerID, kind, groupID})
	return nil
}

func (f *fakeCustomers) UpdateRetargetTier(_ context.Context, customerID uint, tier *string) error {
	if f.tiers == nil {
		f.tiers = make(map[uint]*string)
	}
	f.tiers[customerID] = tier
	return nil
}

type fakeMessages map[uint]*models.CustomerMessage

func (f fakeMessages) LatestFromCustomer(_ context.Context, customerID uint, after *time.Time) (*models.CustomerMessage, error) {
	m, ok := f[customerID]
	if !ok || (after != nil && !m.CreatedAt.After(*after)) {
		return nil, nil
	}
	return m, nil
}

type fakeClassifications struct{ rows []*models.Classification }

func (f *fakeClassifications) LatestByCustomer(_ context.Context, customerID uint, kind models.GroupKind) (*models.Classification, error) {
	var latest *models.Classification
	for _, r := range f.rows {
		if r.CustomerID == customerID && r.GroupKind == kind && (latest == nil || r.ClassifiedAt.After(latest.ClassifiedAt)) {
			latest = r
		}
	}
	return latest, nil
}

func (f *fakeClassifications) Save(_ context.Context, c *models.Classification) error {
	f.rows = append(f.rows, c)
	return nil
}

type fakeBindings []*models.PageKnowledgeBinding

func (f fakeBindings) EnabledByPage(context.Context, uint) ([]*models.PageKnowledgeBinding, error) {
	return f, nil
}

type fakeGroups []*models.CustomGroup

func (f fakeGroups) ActiveByPage(context.Context, uint) ([]*models.CustomGroup, error) { return f, nil }

type fakeTiers []*models.RetargetTier

func (f fakeTiers) ByPage(context.Context, uint) ([]*models.RetargetTier, error) { return f, nil }

type recordingBus struct{ events []services.ChangeEvent }

func (b *recordingBus) Publish(ev services.ChangeEvent) { b.events = append(b.events, ev) }

type fixture struct {
	page            *models.Page
	customers       *fakeCustomers
	messages        fakeMessages
	classifications *fakeClassifications
	bindings        fakeBindings
	groups          fakeGroups
	tiers           fakeTiers
	llm             *fakeLLM
	images          *fakeImages
	bus             *recordingBus
}

func newFixture() *fixture {
	return &fixture{
		page:            &models.Page{ID: 1, PageID: "P1"},
		customers:       &fakeCustomers{},
		messages:        fakeMessages{},
		classifications: &fakeClassifications{},
		bindings: fakeBindings{
			binding(3, "refund", []string{"refund", "คืนเงิน"}, false),
			binding(7, "pricing", nil, true),
		},
		llm:    &fakeLLM{},
		images: &fakeImages{},
		bus:    &recordingBus{},
	}
}

func binding(id uint, name string, keywords []string, image bool) *models.PageKnowledgeBinding {
	return &models.PageKnowledgeBinding{
		PageID:          1,
		KnowledgeTypeID: id,
		IsEnabled:       true,
		KnowledgeType:   &models.KnowledgeType{ID: id, Name: name, Keywords: keywords, SupportsImage: image},
	}
}

func (f *fixture) classifier(t *testing.T) *Classifier {
	t.Helper()
	retry := services.DefaultRetryPolicy().WithSleep(func(context.Context, time.Duration) error { return nil })
	c, err := New(config.ClassifierConfig{Cooldown: time.Hour, CacheSize: 16},
		&fakePages{pages: []*models.Page{f.page}}, f.customers, f.messages, f.classifications,
		f.bindings, f.groups, f.tiers, f.llm, f.images, f.bus, retry, logger.Discard())
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func (f *fixture) addCustomer(id uint, text string, lastAgo time.Duration) *models.Customer {
	last := fixedNow.Add(-lastAgo)
	c := &models.Customer{ID: id, PageID: 1, PSID: "psid-" + string(rune('a'+id)), LastInteractionAt: &last}
	f.customers.list = append(f.customers.list, c)
	f.messages[id] = &models.CustomerMessage{CustomerID: &c.ID, Text: text, Kind: models.MessageKindText, CreatedAt: last}
	return c
}

func TestClassifyText_KeywordFirstThenLLM(t *testing.T) {
	f := newFixture()
	c := f.classifier(t)
	candidates, err := c.knowledgeCandidates(context.Background(), 1)
	require.NoError(t, err)

	t.Run("keyword match skips the LLM", func(t *testing.T) {
		d, err := c.ClassifyText(context.Background(), 1, "I want a refund now", candidates, nil)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, uint(3), d.GroupID)
		assert.Equal(t, models.ClassificationSourceKeyword, d.Source)
		assert.Zero(t, f.llm.calls)
	})

	t.Run("llm answer with trailing newline", func(t *testing.T) {
		f.llm.answer = "7\n"
		d, err := c.ClassifyText(context.Background(), 1, "money back please", candidates, nil)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, uint(7), d.GroupID)
		assert.Equal(t, models.ClassificationSourceLLM, d.Source)
		assert.Equal(t, 1, f.llm.calls)
		assert.Contains(t, f.llm.prompts[0], "id 7: pricing")
	})

	t.Run("unparsable answer is no decision", func(t *testing.T) {
		f.llm.answer = "xyz"
		d, err := c.ClassifyText(context.Background(), 1, "something else entirely", candidates, nil)
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("repeated text hits the cache", func(t *testing.T) {
		calls := f.llm.calls
		d, err := c.ClassifyText(context.Background(), 1, "money back please", candidates, nil)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, uint(7), d.GroupID)
		assert.Equal(t, calls, f.llm.calls)
	})
}

func TestClassifyText_NoAnswerAndRateLimit(t *testing.T) {
	f := newFixture()
	c := f.classifier(t)
	candidates, _ := c.knowledgeCandidates(context.Background(), 1)

	f.llm.err = services.ErrNoAnswer
	d, err := c.ClassifyText(context.Background(), 1, "blocked by safety", candidates, nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	f.llm.err = &services.LLMError{StatusCode: 429, Message: "slow down"}
	d, err = c.ClassifyText(context.Background(), 1, "rate limited text", candidates, nil)
	require.Error(t, err)
	assert.Nil(t, d)
	assert.Equal(t, 1+3, f.llm.calls)
}

func TestRunPage_LLMFallbackWritesClassification(t *testing.T) {
	f := newFixture()
	f.llm.answer = "7\n"
	customer := f.addCustomer(1, "money back please", 2*time.Hour)
	c := f.classifier(t)

	res, err := c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Knowledge)

	require.Len(t, f.classifications.rows, 1)
	row := f.classifications.rows[0]
	assert.Equal(t, uint(7), row.NewGroupID)
	assert.Nil(t, row.OldGroupID)
	assert.Equal(t, models.GroupKindKnowledge, row.GroupKind)
	assert.Equal(t, models.ClassificationSourceLLM, row.Source)
	assert.Equal(t, fixedNow, row.ClassifiedAt)

	assert.Equal(t, []assignment{{1, models.GroupKindKnowledge, 7}}, f.customers.assigned)
	assert.Equal(t, uint(7), *customer.CurrentKnowledgeGroupID)

	require.Len(t, f.bus.events, 1)
	assert.Equal(t, services.ChangeCustomerType, f.bus.events[0].Kind)
	assert.Equal(t, "P1", f.bus.events[0].PageID)
	assert.Equal(t, uint(7), *f.bus.events[0].GroupID)
}

func TestRunPage_UnparsableAnswerWritesNothing(t *testing.T) {
	f := newFixture()
	f.llm.answer = "xyz"
	f.addCustomer(1, "money back please", 2*time.Hour)
	c := f.classifier(t)

	_, err := c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Empty(t, f.classifications.rows)
	assert.Empty(t, f.customers.assigned)
	assert.Empty(t, f.bus.events)
}

func TestRunPage_Gates(t *testing.T) {
	t.Run("classified after last interaction", func(t *testing.T) {
		f := newFixture()
		f.addCustomer(1, "refund", 2*time.Hour)
		f.classifications.rows = append(f.classifications.rows, &models.Classification{
			CustomerID: 1, GroupKind: models.GroupKindKnowledge, NewGroupID: 7, ClassifiedAt: fixedNow.Add(-time.Hour),
		})
		c := f.classifier(t)

		res, err := c.RunPage(context.Background(), f.page)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.Len(t, f.classifications.rows, 1)
	})

	t.Run("cooldown", func(t *testing.T) {
		f := newFixture()
		f.addCustomer(1, "refund", 30*time.Minute)
		c := f.classifier(t)

		res, err := c.RunPage(context.Background(), f.page)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.Empty(t, f.classifications.rows)
	})

	t.Run("same category is not rewritten", func(t *testing.T) {
		f := newFixture()
		customer := f.addCustomer(1, "refund", 2*time.Hour)
		customer.CurrentKnowledgeGroupID = utils.ToPtr(uint(3))
		c := f.classifier(t)

		_, err := c.RunPage(context.Background(), f.page)
		require.NoError(t, err)
		assert.Empty(t, f.classifications.rows)
		assert.Zero(t, f.llm.calls)
	})
}

func TestRunPage_CustomGroupKeyword(t *testing.T) {
	f := newFixture()
	f.groups = fakeGroups{{ID: 40, PageID: 1, Name: "vip", Keywords: []string{"wholesale"}, IsActive: true}}
	f.addCustomer(1, "Do you do wholesale refund deals?", 2*time.Hour)
	c := f.classifier(t)

	res, err := c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Knowledge)
	assert.Equal(t, 1, res.Custom)
	assert.Zero(t, f.llm.calls)
	assert.ElementsMatch(t, []assignment{
		{1, models.GroupKindKnowledge, 3},
		{1, models.GroupKindCustom, 40},
	}, f.customers.assigned)
}

func TestRunPage_ImageCaptionReentersTextPipeline(t *testing.T) {
	f := newFixture()
	f.llm.caption = "A screenshot asking about a refund"
	customer := f.addCustomer(1, "", 2*time.Hour)
	url := "https://cdn.example.com/photo.JPG?x=1"
	f.messages[customer.ID].Kind = models.MessageKindAttachment
	f.messages[customer.ID].AttachmentURL = &url
	c := f.classifier(t)

	_, err := c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Equal(t, []string{url}, f.images.fetched)
	assert.Equal(t, 1, f.llm.describe)

	// restricted to image-capable types, so the refund keyword is not a candidate
	require.Len(t, f.classifications.rows, 0)
	assert.Equal(t, 1, f.llm.calls)
	assert.NotContains(t, f.llm.prompts[0], "id 3: refund")

	_, err = c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Len(t, f.images.fetched, 1, "caption is cached by URL")
}

func TestRunPage_RetargetTier(t *testing.T) {
	f := newFixture()
	f.tiers = fakeTiers{
		{PageID: 1, TierName: models.RetargetTierGoneLong, DaysSinceLastContact: 30},
		{PageID: 1, TierName: models.RetargetTierGone, DaysSinceLastContact: 7},
	}
	f.addCustomer(1, "hello", 10*24*time.Hour)
	c := f.classifier(t)

	res, err := c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TierChanges)
	require.NotNil(t, f.customers.tiers[1])
	assert.Equal(t, models.RetargetTierGone, *f.customers.tiers[1])

	// unchanged tier is not written again
	f.customers.tiers = nil
	res, err = c.RunPage(context.Background(), f.page)
	require.NoError(t, err)
	assert.Zero(t, res.TierChanges)
	assert.Nil(t, f.customers.tiers)
}

func TestRecord_ClassifiedAtStrictlyIncreases(t *testing.T) {
	f := newFixture()
	customer := f.addCustomer(1, "x", 2*time.Hour)
	c := f.classifier(t)

	prev := &models.Classification{CustomerID: 1, GroupKind: models.GroupKindKnowledge, NewGroupID: 3, ClassifiedAt: fixedNow}
	err := c.record(context.Background(), f.page, customer, models.GroupKindKnowledge, prev,
		Decision{GroupID: 7, Source: models.ClassificationSourceLLM}, fixedNow)
	require.NoError(t, err)

	require.Len(t, f.classifications.rows, 1)
	assert.True(t, f.classifications.rows[0].ClassifiedAt.After(prev.ClassifiedAt))
	assert.Equal(t, fixedNow.Add(time.Microsecond), f.classifications.rows[0].ClassifiedAt)
}
