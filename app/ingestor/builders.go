package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
)

// ImportMode selects which builder an import uses
type ImportMode string

const (
	ImportRecent     ImportMode = "recent"
	ImportHistorical ImportMode = "historical"
)

// ImportResult summarises a customer import
type ImportResult struct {
	Mode     ImportMode
	Imported int
	Filtered int
}

type conversationCustomer struct {
	psid  string
	name  string
	first time.Time
	last  time.Time
}

// collectCustomers folds conversations into one entry per non-page participant.
// Participants without a message of their own fall back to the conversation update time.
func collectCustomers(pageID string, convs []services.Conversation) []conversationCustomer {
	index := make(map[string]int)
	var out []conversationCustomer

	for _, conv := range convs {
		updated, updatedErr := utils.ParseFacebookTime(conv.UpdatedTime)
		for _, p := range conv.Participants.Data {
			if p.ID == "" || p.ID == pageID {
				continue
			}

			var first, last time.Time
			found := false
			for _, m := range conv.Messages.Data {
				if m.From.ID != p.ID {
					continue
				}
				at, err := utils.ParseFacebookTime(m.CreatedTime)
				if err != nil {
					continue
				}
				if !found || at.Before(first) {
					first = at
				}
				if !found || at.After(last) {
					last = at
				}
				found = true
			}
			if !found {
				if updatedErr != nil {
					continue
				}
				first, last = updated, updated
			}

			if i, ok := index[p.ID]; ok {
				if first.Before(out[i].first) {
					out[i].first = first
				}
				if last.After(out[i].last) {
					out[i].last = last
				}
				continue
			}
			index[p.ID] = len(out)
			out = append(out, conversationCustomer{psid: p.ID, name: p.Name, first: first, last: last})
		}
	}
	return out
}

func (c conversationCustomer) toModel(page *models.Page, source models.SourceType) *models.Customer {
	first, last := c.first, c.last
	name := c.name
	if name == "" {
		name = fmt.Sprintf("%s %s", utils.UnknownCustomerPrefix, utils.ShortPSID(c.psid))
	}
	return &models.Customer{
		PageID:             page.ID,
		PSID:               c.psid,
		Name:               name,
		FirstInteractionAt: &first,
		LastInteractionAt:  &last,
		SourceType:         source,
	}
}

// RecentCutoff is max(now - 365d, installed_at)
func RecentCutoff(page *models.Page, now time.Time) time.Time {
	return utils.MaxTime(now.Add(-utils.CustomerDataLookback), page.InstalledAt())
}

// BuildCustomerData keeps customers whose latest message is at or after the
// recent cutoff, classifying source_type against the install time
func BuildCustomerData(page *models.Page, convs []services.Conversation, now time.Time) ([]*models.Customer, int) {
	cutoff := RecentCutoff(page, now)
	var (
		out      []*models.Customer
		filtered int
	)
	for _, c := range collectCustomers(page.PageID, convs) {
		if c.last.Before(cutoff) {
			filtered++
			continue
		}
		out = append(out, c.toModel(page, models.SourceTypeFor(c.first, page.InstalledAt())))
	}
	return out, filtered
}

// BuildHistoricalCustomerData keeps every customer and marks all of them imported
func BuildHistoricalCustomerData(page *models.Page, convs []services.Conversation) []*models.Customer {
	var out []*models.Customer
	for _, c := range collectCustomers(page.PageID, convs) {
		out = append(out, c.toModel(page, models.SourceTypeImported))
	}
	return out
}

// ImportCustomers pages through every conversation of a page and upserts the
// customers produced by the selected builder. Recent imports stop paging once
// a whole page of conversations is older than the cutoff.
func (in *Ingestor) ImportCustomers(ctx context.Context, pageID string, mode ImportMode) (*ImportResult, error) {
	if mode != ImportRecent && mode != ImportHistorical {
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}

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

	now := in.now()
	cutoff := RecentCutoff(page, now)

	var (
		convs []services.Conversation
		after string
	)
	for {
		batch, err := services.Retry(ctx, in.retry, func(ctx context.Context) (*services.ConversationPage, error) {
			return in.graph.ListConversations(ctx, pageID, token, utils.FullCheckConversations, utils.FullCheckMessages, after)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		convs = append(convs, batch.Data...)

		if mode == ImportRecent && allOlderThan(batch.Data, cutoff) {
			break
		}
		if !batch.Paging.HasNext() {
			break
		}
		after = batch.Paging.Cursors.After
	}

	res := &ImportResult{Mode: mode}
	var customers []*models.Customer
	if mode == ImportRecent {
		customers, res.Filtered = BuildCustomerData(page, convs, now)
	} else {
		customers = BuildHistoricalCustomerData(page, convs)
	}

	if err := in.customers.UpsertImported(ctx, customers); err != nil {
		return nil, fmt.Errorf("failed to upsert customers: %w", err)
	}
	res.Imported = len(customers)

	in.log.WithField("page_id", pageID).
		WithField("mode", mode).
		WithField("imported", res.Imported).
		WithField("filtered", res.Filtered).
		Info("customer import finished")
	return res, nil
}

func allOlderThan(convs []services.Conversation, cutoff time.Time) bool {
	if len(convs) == 0 {
		return true
	}
	for _, c := range convs {
		updated, err := utils.ParseFacebookTime(c.UpdatedTime)
		if err != nil || !updated.Before(cutoff) {
			return false
		}
	}
	return true
}
