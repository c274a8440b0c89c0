// Package ingestor keeps customers and their last_interaction_at in sync with
// the conversations each connected page has on Facebook.
package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrTokenMissing = errors.New("page access token missing")
	ErrCycleRunning = errors.New("ingest cycle already running for page")
)

// Graph is the part of the Graph gateway the ingestor reads from
type Graph interface {
	ListConversations(ctx context.Context, pageID, token string, limit, messageLimit int, after string) (*services.ConversationPage, error)
	WalkConversationMessages(ctx context.Context, conversationID, token string, visit func([]services.Message) bool) error
	UserProfile(ctx context.Context, psid, token string) (*services.Profile, error)
}

type TokenSource interface {
	Get(ctx context.Context, pageID string) (string, error)
}

type PageStore interface {
	ByPageID(ctx context.Context, pageID string) (*models.Page, error)
	ListAll(ctx context.Context) ([]*models.Page, error)
}

type CustomerStore interface {
	ByPageAndPSID(ctx context.Context, pageID uint, psid string) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
	UpsertImported(ctx context.Context, customers []*models.Customer) error
}

type MessageStore interface {
	SaveIgnoringDuplicates(ctx context.Context, messages []*models.CustomerMessage) (int64, error)
}

// MiningUpdater drives the mining status state machine
type MiningUpdater interface {
	UpdateIfNeeded(ctx context.Context, customerID uint, target models.MiningState, note *string) (bool, error)
	MarkReplied(ctx context.Context, customerID uint) (bool, error)
}

// Mode is the depth of one page cycle
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeFull  Mode = "full"
)

// CycleResult summarises one page cycle
type CycleResult struct {
	Mode          Mode
	Conversations int
	NewCustomers  int
	Updates       int
	Replies       int
}

type seenMessage struct {
	id string
	at time.Time
}

// Ingestor runs the auto-sync loop. Pages are processed concurrently,
// each page serially, and never twice at once.
type Ingestor struct {
	cfg       config.IngestorConfig
	graph     Graph
	tokens    TokenSource
	pages     PageStore
	customers CustomerStore
	messages  MessageStore
	mining    MiningUpdater
	bus       services.ChangePublisher
	writer    *BatchWriter
	retry     services.RetryPolicy
	log       *logrus.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	lastDone map[string]time.Time
	seen     map[string]seenMessage
}

func New(
	cfg config.IngestorConfig,
	graph Graph,
	tokens TokenSource,
	pages PageStore,
	customers CustomerStore,
	messages MessageStore,
	mining MiningUpdater,
	bus services.ChangePublisher,
	writer *BatchWriter,
	retry services.RetryPolicy,
	log *logrus.Logger,
) *Ingestor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.QuickWindow <= 0 {
		cfg.QuickWindow = 10 * time.Second
	}
	return &Ingestor{
		cfg:       cfg,
		graph:     graph,
		tokens:    tokens,
		pages:     pages,
		customers: customers,
		messages:  messages,
		mining:    mining,
		bus:       bus,
		writer:    writer,
		retry:     retry,
		log:       log,
		now:       utils.UTCNow,
		inFlight:  make(map[string]bool),
		lastDone:  make(map[string]time.Time),
		seen:      make(map[string]seenMessage),
	}
}

// Start launches the outer loop; the returned func stops it and waits for
// in-flight page cycles to finish.
func (in *Ingestor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(in.cfg.Interval)
		defer ticker.Stop()

		in.fanOut(ctx, &wg)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				in.fanOut(ctx, &wg)
			}
		}
	}()

	return func() {
		cancel()
		<-done
		wg.Wait()
	}
}

func (in *Ingestor) fanOut(ctx context.Context, wg *sync.WaitGroup) {
	pages, err := in.pages.ListAll(ctx)
	if err != nil {
		in.log.WithError(err).Error("failed to list pages")
		return
	}

	for _, page := range pages {
		wg.Add(1)
		go func(pageID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					in.log.WithFields(logrus.Fields{"page_id": pageID, "panic": r}).Error("ingest cycle panicked")
				}
			}()

			res, err := in.SyncPage(ctx, pageID)
			switch {
			case errors.Is(err, ErrCycleRunning):
				in.log.WithField("page_id", pageID).Debug("previous cycle still running, skipping")
			case errors.Is(err, ErrTokenMissing):
				in.log.WithField("page_id", pageID).Warn("no access token, skipping page")
			case err != nil:
				in.log.WithFields(logrus.Fields{"page_id": pageID, "error": err.Error()}).Error("ingest cycle failed")
			default:
				in.log.WithFields(logrus.Fields{
					"page_id":       pageID,
					"mode":          res.Mode,
					"conversations": res.Conversations,
					"new_customers": res.NewCustomers,
					"updates":       res.Updates,
				}).Debug("ingest cycle finished")
			}
		}(page.PageID)
	}
}

func (in *Ingestor) begin(pageID string) (Mode, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.inFlight[pageID] {
		return "", false
	}
	in.inFlight[pageID] = true

	if last, ok := in.lastDone[pageID]; ok && in.now().Sub(last) <= in.cfg.QuickWindow {
		return ModeQuick, true
	}
	return ModeFull, true
}

func (in *Ingestor) end(pageID string, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.inFlight, pageID)
	if ok {
		in.lastDone[pageID] = in.now()
	}
}

// isNew reports whether the latest message of a PSID differs from the last
// one seen, by id or by a strictly later time
func (in *Ingestor) isNew(pageID, psid string, msg services.Message, at time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	prev, ok := in.seen[pageID+"/"+psid]
	return !ok || prev.id != msg.ID || at.After(prev.at)
}

// markSeen never moves the cache backwards in time
func (in *Ingestor) markSeen(pageID, psid string, msg services.Message, at time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	key := pageID + "/" + psid
	if prev, ok := in.seen[key]; ok && at.Before(prev.at) {
		return
	}
	in.seen[key] = seenMessage{id: msg.ID, at: at}
}

// SyncPage runs one cycle for a page
func (in *Ingestor) SyncPage(ctx context.Context, pageID string) (*CycleResult, error) {
	mode, ok := in.begin(pageID)
	if !ok {
		return nil, ErrCycleRunning
	}
	success := false
	defer func() { in.end(pageID, success) }()

	page, err := in.pages.ByPageID(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}
	if page == nil {
		return nil, ErrPageNotFound
	}

	token, err := in.tokens.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrTokenMissing
	}

	limit, msgLimit := utils.FullCheckConversations, utils.FullCheckMessages
	if mode == ModeQuick {
		limit, msgLimit = utils.QuickCheckConversations, utils.QuickCheckMessages
	}

	convs, err := services.Retry(ctx, in.retry, func(ctx context.Context) (*services.ConversationPage, error) {
		return in.graph.ListConversations(ctx, pageID, token, limit, msgLimit, "")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	res := &CycleResult{Mode: mode}
	now := in.now()
	for _, conv := range convs.Data {
		if mode == ModeQuick {
			updated, err := utils.ParseFacebookTime(conv.UpdatedTime)
			if err == nil && now.Sub(updated) > utils.QuickCheckFreshness {
				continue
			}
		}
		res.Conversations++

		if err := in.processConversation(ctx, page, token, conv, res); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			in.log.WithFields(logrus.Fields{
				"page_id":         pageID,
				"conversation_id": conv.ID,
				"error":           err.Error(),
			}).Warn("failed to process conversation")
		}
	}

	success = true
	cyclesTotal.WithLabelValues(string(mode)).Inc()
	return res, nil
}

func (in *Ingestor) processConversation(ctx context.Context, page *models.Page, token string, conv services.Conversation, res *CycleResult) error {
	for _, participant := range conv.Participants.Data {
		if participant.ID == "" || participant.ID == page.PageID {
			continue
		}

		latest, at, ok := latestFrom(conv.Messages.Data, participant.ID)
		if !ok || !in.isNew(page.PageID, participant.ID, latest, at) {
			continue
		}

		customer, err := in.customers.ByPageAndPSID(ctx, page.ID, participant.ID)
		if err != nil {
			return fmt.Errorf("failed to load customer %s: %w", participant.ID, err)
		}

		if customer == nil {
			customer, err = in.createCustomer(ctx, page, token, conv.ID, participant, at)
			if err != nil {
				return err
			}
			res.NewCustomers++
		} else if customer.LastInteractionAt == nil || at.After(*customer.LastInteractionAt) {
			in.writer.Enqueue(repository.LastInteractionUpdate{
				PageID:            page.ID,
				PSID:              participant.ID,
				LastInteractionAt: at,
			})
			res.Updates++

			replied, err := in.mining.MarkReplied(ctx, customer.ID)
			if err != nil {
				in.log.WithFields(logrus.Fields{"page_id": page.PageID, "psid": participant.ID, "error": err.Error()}).
					Warn("failed to update mining status")
			} else if replied {
				res.Replies++
				in.bus.Publish(services.ChangeEvent{
					Kind:       services.ChangeMiningStatus,
					PageID:     page.PageID,
					CustomerID: customer.ID,
					PSID:       customer.PSID,
					Name:       customer.Name,
					Status:     string(models.MiningStateResponded),
				})
			}
		}

		if err := in.storeMessages(ctx, page, conv, participant, customer.ID); err != nil {
			in.log.WithFields(logrus.Fields{"page_id": page.PageID, "psid": participant.ID, "error": err.Error()}).
				Warn("failed to store messages")
		}
		in.markSeen(page.PageID, participant.ID, latest, at)
	}
	return nil
}

func (in *Ingestor) createCustomer(ctx context.Context, page *models.Page, token, conversationID string, participant services.Participant, latestAt time.Time) (*models.Customer, error) {
	name := participant.Name
	profile, err := services.Retry(ctx, in.retry, func(ctx context.Context) (*services.Profile, error) {
		return in.graph.UserProfile(ctx, participant.ID, token)
	})
	if err == nil && profile.DisplayName() != "" {
		name = profile.DisplayName()
	}
	if name == "" {
		name = fmt.Sprintf("%s %s", utils.UnknownCustomerPrefix, utils.ShortPSID(participant.ID))
	}

	first := latestAt
	if earliest, ok := in.earliestFrom(ctx, conversationID, token, participant.ID); ok && earliest.Before(first) {
		first = earliest
	}

	customer := &models.Customer{
		PageID:             page.ID,
		PSID:               participant.ID,
		Name:               name,
		FirstInteractionAt: &first,
		LastInteractionAt:  &latestAt,
		SourceType:         models.SourceTypeFor(first, page.InstalledAt()),
	}
	if err := in.customers.Save(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to create customer %s: %w", participant.ID, err)
	}

	if _, err := in.mining.UpdateIfNeeded(ctx, customer.ID, models.MiningStateNotMined, nil); err != nil {
		in.log.WithFields(logrus.Fields{"page_id": page.PageID, "psid": participant.ID, "error": err.Error()}).
			Warn("failed to seed mining status")
	}

	in.bus.Publish(services.ChangeEvent{
		Kind:       services.ChangeCustomerCreated,
		PageID:     page.PageID,
		CustomerID: customer.ID,
		PSID:       customer.PSID,
		Name:       customer.Name,
		Status:     string(models.MiningStateNotMined),
		Source:     string(customer.SourceType),
	})
	return customer, nil
}

// earliestFrom walks the whole conversation for the oldest message sent by psid
func (in *Ingestor) earliestFrom(ctx context.Context, conversationID, token, psid string) (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	_, err := services.Retry(ctx, in.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, in.graph.WalkConversationMessages(ctx, conversationID, token, func(msgs []services.Message) bool {
			for _, m := range msgs {
				if m.From.ID != psid {
					continue
				}
				at, err := utils.ParseFacebookTime(m.CreatedTime)
				if err != nil {
					continue
				}
				if !found || at.Before(earliest) {
					earliest, found = at, true
				}
			}
			return true
		})
	})
	if err != nil {
		in.log.WithFields(logrus.Fields{"conversation_id": conversationID, "error": err.Error()}).
			Warn("failed to walk conversation history")
	}
	return earliest, found
}

func (in *Ingestor) storeMessages(ctx context.Context, page *models.Page, conv services.Conversation, participant services.Participant, customerID uint) error {
	rows := make([]*models.CustomerMessage, 0, len(conv.Messages.Data))
	for _, m := range conv.Messages.Data {
		at, err := utils.ParseFacebookTime(m.CreatedTime)
		if err != nil {
			continue
		}
		row := toCustomerMessage(page.ID, conv.ID, m, at)
		if m.From.ID == participant.ID {
			id := customerID
			row.CustomerID = &id
		}
		rows = append(rows, row)
	}
	_, err := in.messages.SaveIgnoringDuplicates(ctx, rows)
	return err
}

func toCustomerMessage(pageID uint, conversationID string, m services.Message, at time.Time) *models.CustomerMessage {
	row := &models.CustomerMessage{
		PageID:         pageID,
		ConversationID: conversationID,
		SenderID:       m.From.ID,
		SenderName:     m.From.Name,
		MessageID:      m.ID,
		Text:           m.Message,
		Kind:           models.MessageKindUnknown,
		CreatedAt:      at,
	}

	attachments := m.AttachmentList()
	switch {
	case m.Message != "":
		row.Kind = models.MessageKindText
	case len(attachments) > 0:
		row.Kind = models.MessageKindAttachment
	}
	if len(attachments) > 0 {
		u := m.ImageURL()
		if u == "" {
			u = attachments[0].URL()
		}
		if u != "" {
			row.AttachmentURL = &u
		}
		if raw, err := json.Marshal(attachments); err == nil {
			row.Attachments = datatypes.JSON(raw)
		}
	}
	return row
}

// latestFrom returns the newest message authored by psid
func latestFrom(msgs []services.Message, psid string) (services.Message, time.Time, bool) {
	var (
		best   services.Message
		bestAt time.Time
		found  bool
	)
	for _, m := range msgs {
		if m.From.ID != psid {
			continue
		}
		at, err := utils.ParseFacebookTime(m.CreatedTime)
		if err != nil {
			continue
		}
		if !found || at.After(bestAt) {
			best, bestAt, found = m, at, true
		}
	}
	return best, bestAt, found
}
