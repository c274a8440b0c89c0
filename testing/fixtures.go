package testing

import (
	"fmt"
	"time"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	db *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{db: db}
}

// CreateTestPage creates a connected page installed at the given time
func (tf *TestFixtures) CreateTestPage(pageID string, installedAt time.Time) (*models.Page, error) {
	page := &models.Page{
		PageID:    pageID,
		Name:      "Test Page " + pageID,
		CreatedAt: installedAt.UTC(),
	}
	if err := tf.db.DB.Create(page).Error; err != nil {
		return nil, fmt.Errorf("failed to create test page: %w", err)
	}
	return page, nil
}

// CreateTestCustomer creates a customer that last wrote at lastInteraction
func (tf *TestFixtures) CreateTestCustomer(pageID uint, psid string, lastInteraction time.Time) (*models.Customer, error) {
	last := lastInteraction.UTC()
	customer := &models.Customer{
		PageID:             pageID,
		PSID:               psid,
		Name:               utils.UnknownCustomerPrefix + " " + utils.ShortPSID(psid),
		FirstInteractionAt: &last,
		LastInteractionAt:  &last,
		SourceType:         models.SourceTypeNew,
	}
	if err := tf.db.DB.Create(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create test customer: %w", err)
	}
	return customer, nil
}

// CreateTestKnowledgeType creates a catalog entry and enables it for the page
func (tf *TestFixtures) CreateTestKnowledgeType(pageID uint, name string, keywords ...string) (*models.KnowledgeType, error) {
	kt := &models.KnowledgeType{
		Name:            name,
		RuleDescription: "customers asking about " + name,
		Keywords:        pq.StringArray(keywords),
		Examples:        pq.StringArray{},
	}
	if err := tf.db.DB.Create(kt).Error; err != nil {
		return nil, fmt.Errorf("failed to create knowledge type: %w", err)
	}

	binding := &models.PageKnowledgeBinding{PageID: pageID, KnowledgeTypeID: kt.ID, IsEnabled: true}
	if err := tf.db.DB.Create(binding).Error; err != nil {
		return nil, fmt.Errorf("failed to bind knowledge type: %w", err)
	}
	return kt, nil
}

// CreateTestMiningStatus appends a mining status row
func (tf *TestFixtures) CreateTestMiningStatus(customerID uint, state models.MiningState, at time.Time) (*models.MiningStatus, error) {
	row := &models.MiningStatus{CustomerID: customerID, Status: state, CreatedAt: at.UTC()}
	if err := tf.db.DB.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create mining status: %w", err)
	}
	return row, nil
}
