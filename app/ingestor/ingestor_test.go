package ingestor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/logger"
	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fbLayout = "2006-01-02T15:04:05-0700"

type fakeGraph struct {
	mu       sync.Mutex
	convs    []services.Conversation
	history  map[string][]services.Message
	profiles map[string]string
	limits   [][2]int
}

func (g *fakeGraph) ListConversations(_ context.Context, _, _ string, limit, messageLimit int, _ string) (*services.ConversationPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = append(g.limits, [2]int{limit, messageLimit})
	return &services.ConversationPage{Data: g.convs}, nil
}

func (g *fakeGraph) WalkConversationMessages(_ context.Context, conversationID, _ string, visit func([]services.Message) bool) error {
	visit(g.history[conversationID])
	return nil
}

func (g *fakeGraph) UserProfile(_ context.Context, psid, _ string) (*services.Profile, error) {
	name, ok := g.profiles[psid]
	if !ok {
		return nil, &services.GraphError{StatusCode: 400, Message: "no profile"}
	}
	return &services.Profile{ID: psid, Name: name}, nil
}

type fakeTokens map[string]string

func (f fakeTokens) Get(_ context.Context, pageID string) (string, error) { return f[pageID], nil }

type fakePages struct{ pages []*models.Page }

func (f *fakePages) ByPageID(_ context.Context, pageID string) (*models.Page, error) {
	for _, p := range f.pages {
		if p.PageID == pageID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePages) ListAll(context.Context) ([]*models.Page, error) { return f.pages, nil }

type fakeCustomers struct {
	mu       sync.Mutex
	rows     map[string]*models.Customer
	saves    int
	upserted []*models.Customer
}

func (f *fakeCustomers) ByPageAndPSID(_ context.Context, _ uint, psid string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[psid], nil
}

func (f *fakeCustomers) Save(_ context.Context, c *models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	c.ID = uint(100 + len(f.rows))
	f.rows[c.PSID] = c
	return nil
}

func (f *fakeCustomers) UpsertImported(_ context.Context, cs []*models.Customer) error {
	f.upserted = append(f.upserted, cs...)
	return nil
}

type fakeMessages struct{ saved int }

func (f *fakeMessages) SaveIgnoringDuplicates(_ context.Context, rows []*models.CustomerMessage) (int64, error) {
	f.saved += len(rows)
	return int64(len(rows)), nil
}

type fakeMining struct {
	mu      sync.Mutex
	state   map[uint]models.MiningState
	appends int
}

func (f *fakeMining) UpdateIfNeeded(_ context.Context, id uint, target models.MiningState, _ *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state[id] == target {
		return false, nil
	}
	f.state[id] = target
	f.appends++
	return true, nil
}

func (f *fakeMining) MarkReplied(ctx context.Context, id uint) (bool, error) {
	f.mu.Lock()
	current := f.state[id]
	f.mu.Unlock()
	if current != models.MiningStateMined {
		return false, nil
	}
	return f.UpdateIfNeeded(ctx, id, models.MiningStateResponded, nil)
}

type recordingBus struct {
	mu     sync.Mutex
	events []services.ChangeEvent
}

func (b *recordingBus) Publish(ev services.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

type recordingStore struct {
	mu      sync.Mutex
	batches [][]repository.LastInteractionUpdate
	failFor uint
}

func (s *recordingStore) ApplyLastInteraction(_ context.Context, updates []repository.LastInteractionUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(updates) > 0 && updates[0].PageID == s.failFor {
		return 0, errors.New("deadlock")
	}
	s.batches = append(s.batches, updates)
	return int64(len(updates)), nil
}

type fixture struct {
	in        *Ingestor
	graph     *fakeGraph
	customers *fakeCustomers
	messages  *fakeMessages
	mining    *fakeMining
	bus       *recordingBus
	store     *recordingStore
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	installed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fixture{
		graph:     &fakeGraph{history: map[string][]services.Message{}, profiles: map[string]string{}},
		customers: &fakeCustomers{rows: map[string]*models.Customer{}},
		messages:  &fakeMessages{},
		mining:    &fakeMining{state: map[uint]models.MiningState{}},
		bus:       &recordingBus{},
		store:     &recordingStore{},
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pages := &fakePages{pages: []*models.Page{{ID: 1, PageID: "page", CreatedAt: installed}}}
	writer := NewBatchWriter(f.store, 100, time.Second, logger.Discard())
	retry := services.DefaultRetryPolicy().WithSleep(func(context.Context, time.Duration) error { return nil })

	f.in = New(config.IngestorConfig{QuickWindow: 10 * time.Second}, f.graph, fakeTokens{"page": "tok"},
		pages, f.customers, f.messages, f.mining, f.bus, writer, retry, logger.Discard())
	f.in.now = func() time.Time { return f.now }
	return f
}

func msg(id, from string, at time.Time, text string) services.Message {
	return services.Message{ID: id, From: services.Participant{ID: from}, CreatedTime: at.Format(fbLayout), Message: text}
}

func conversation(id string, updated time.Time, msgs ...services.Message) services.Conversation {
	c := services.Conversation{ID: id, UpdatedTime: updated.Format(fbLayout)}
	c.Participants.Data = []services.Participant{{ID: "page", Name: "Shop"}, {ID: "u1", Name: "Ann"}}
	c.Messages.Data = msgs
	return c
}

func TestSyncPage_CreatesNewCustomer(t *testing.T) {
	f := newFixture(t)
	latest := f.now.Add(-time.Hour)
	earliest := time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)
	f.graph.convs = []services.Conversation{conversation("c1", latest,
		msg("m2", "u1", latest, "hello"),
		msg("m1", "page", latest.Add(-time.Minute), "welcome"),
	)}
	f.graph.history["c1"] = []services.Message{msg("m2", "u1", latest, "hello"), msg("m0", "u1", earliest, "first")}
	f.graph.profiles["u1"] = "Ann Smith"

	res, err := f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 1, res.NewCustomers)

	c := f.customers.rows["u1"]
	require.NotNil(t, c)
	assert.Equal(t, "Ann Smith", c.Name)
	assert.True(t, c.FirstInteractionAt.Equal(earliest))
	assert.True(t, c.LastInteractionAt.Equal(latest))
	assert.Equal(t, models.SourceTypeImported, c.SourceType, "first message predates install")
	assert.Equal(t, models.MiningStateNotMined, f.mining.state[c.ID])
	assert.Equal(t, 2, f.messages.saved)

	require.Len(t, f.bus.events, 1)
	assert.Equal(t, services.ChangeCustomerCreated, f.bus.events[0].Kind)
	assert.Equal(t, [][2]int{{50, 10}}, f.graph.limits)
}

func TestSyncPage_FallbackNameAndNewSource(t *testing.T) {
	f := newFixture(t)
	latest := f.now.Add(-time.Hour)
	conv := conversation("c1", latest, msg("m2", "1234567890123", latest, "hi"))
	conv.Participants.Data = []services.Participant{{ID: "page"}, {ID: "1234567890123"}}
	f.graph.convs = []services.Conversation{conv}

	_, err := f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)

	c := f.customers.rows["1234567890123"]
	require.NotNil(t, c)
	assert.Equal(t, "User 67890123", c.Name)
	assert.Equal(t, models.SourceTypeNew, c.SourceType)
}

func TestSyncPage_IdempotentWithoutNewEvents(t *testing.T) {
	f := newFixture(t)
	latest := f.now.Add(-time.Hour)
	f.graph.convs = []services.Conversation{conversation("c1", latest, msg("m2", "u1", latest, "hello"))}

	_, err := f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	saves, saved, appends, events := f.customers.saves, f.messages.saved, f.mining.appends, len(f.bus.events)

	f.now = f.now.Add(15 * time.Second)
	res, err := f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)

	assert.Equal(t, saves, f.customers.saves)
	assert.Equal(t, saved, f.messages.saved)
	assert.Equal(t, appends, f.mining.appends)
	assert.Equal(t, events, len(f.bus.events))
	assert.Equal(t, 0, res.Updates)
	assert.Equal(t, 0, f.in.writer.Pending())
}

func TestSyncPage_ReplyTransitionsMiningStatus(t *testing.T) {
	f := newFixture(t)
	old := f.now.Add(-2 * time.Hour)
	f.customers.rows["u1"] = &models.Customer{ID: 7, PageID: 1, PSID: "u1", LastInteractionAt: &old}
	f.mining.state[7] = models.MiningStateMined

	at := f.now.Add(-time.Minute)
	f.graph.convs = []services.Conversation{conversation("c1", at, msg("m99", "u1", at, "any update?"))}

	res, err := f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updates)
	assert.Equal(t, 1, res.Replies)
	assert.Equal(t, models.MiningStateResponded, f.mining.state[7])
	require.Len(t, f.bus.events, 1)
	assert.Equal(t, services.ChangeMiningStatus, f.bus.events[0].Kind)

	// the same message observed again appends nothing
	f.now = f.now.Add(time.Minute)
	res, err = f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Replies)
	assert.Equal(t, 1, f.mining.appends)
	assert.Len(t, f.bus.events, 1)

	f.in.writer.Flush(context.Background())
	require.Len(t, f.store.batches, 1)
	assert.True(t, f.store.batches[0][0].LastInteractionAt.Equal(at))
}

func TestSyncPage_QuickModeAfterRecentCycle(t *testing.T) {
	f := newFixture(t)
	fresh := f.now.Add(-30 * time.Second)
	stale := f.now.Add(-10 * time.Minute)
	f.graph.convs = []services.Conversation{
		conversation("fresh", fresh, msg("m1", "u1", fresh, "a")),
		conversation("stale", stale, msg("m0", "u1", stale, "b")),
	}

	res, err := f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 2, res.Conversations)

	f.now = f.now.Add(5 * time.Second)
	res, err = f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, ModeQuick, res.Mode)
	assert.Equal(t, 1, res.Conversations, "only updates newer than a minute are checked")
	assert.Equal(t, [2]int{20, 5}, f.graph.limits[1])

	f.now = f.now.Add(time.Minute)
	res, err = f.in.SyncPage(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
}

func TestSyncPage_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.in.SyncPage(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrPageNotFound)

	f.in.tokens = fakeTokens{}
	_, err = f.in.SyncPage(context.Background(), "page")
	assert.ErrorIs(t, err, ErrTokenMissing)

	f.in.inFlight["page"] = true
	_, err = f.in.SyncPage(context.Background(), "page")
	assert.ErrorIs(t, err, ErrCycleRunning)
}

func TestBatchWriter_DropsOldestWhenFull(t *testing.T) {
	store := &recordingStore{}
	w := NewBatchWriter(store, 2, time.Second, logger.Discard())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		w.Enqueue(repository.LastInteractionUpdate{PageID: 1, PSID: "u", LastInteractionAt: base.Add(time.Duration(i) * time.Minute)})
	}
	assert.Equal(t, 2, w.Pending())

	w.Flush(context.Background())
	require.Len(t, store.batches, 1)
	assert.True(t, store.batches[0][0].LastInteractionAt.Equal(base.Add(time.Minute)))
}

func TestBatchWriter_OneBatchPerPage(t *testing.T) {
	store := &recordingStore{failFor: 2}
	w := NewBatchWriter(store, 10, time.Second, logger.Discard())
	now := time.Now()

	w.Enqueue(repository.LastInteractionUpdate{PageID: 3, PSID: "a", LastInteractionAt: now})
	w.Enqueue(repository.LastInteractionUpdate{PageID: 1, PSID: "b", LastInteractionAt: now})
	w.Enqueue(repository.LastInteractionUpdate{PageID: 2, PSID: "c", LastInteractionAt: now})
	w.Enqueue(repository.LastInteractionUpdate{PageID: 1, PSID: "d", LastInteractionAt: now})

	applied := w.Flush(context.Background())
	assert.Equal(t, int64(3), applied, "failed page is skipped, others commit")
	require.Len(t, store.batches, 2)
	assert.Len(t, store.batches[0], 2)
	assert.Equal(t, uint(3), store.batches[1][0].PageID)
	assert.Equal(t, 0, w.Pending())
}

func TestBatchWriter_StopFlushesRemaining(t *testing.T) {
	store := &recordingStore{}
	w := NewBatchWriter(store, 10, time.Hour, logger.Discard())
	stop := w.Start(context.Background())

	w.Enqueue(repository.LastInteractionUpdate{PageID: 1, PSID: "a", LastInteractionAt: time.Now()})
	stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.batches, 1)
}
