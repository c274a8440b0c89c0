package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ReZill392/Thesit-sub000/models"
	testutil "github.com/ReZill392/Thesit-sub000/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRepository_ByPageID(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	repo := NewPageRepository(db)
	installed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "facebook_pages" WHERE page_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "page_id", "name", "created_at"}).
			AddRow(7, "1234567890", "Shop", installed))

	page, err := repo.ByPageID(context.Background(), "1234567890")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, uint(7), page.ID)
	assert.Equal(t, installed, page.InstalledAt())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPageRepository_ByPageID_NotFound(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	mock.ExpectQuery(`SELECT \* FROM "facebook_pages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	page, err := NewPageRepository(db).ByPageID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, page)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMiningStatusRepository_LatestByCustomer(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	at := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "fb_customer_mining_status" WHERE customer_id = \$1 ORDER BY created_at DESC, id DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status", "created_at"}).
			AddRow(3, 42, "ขุดแล้ว", at))

	status, err := NewMiningStatusRepository(db).LatestByCustomer(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, models.MiningStateMined, status.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMiningStatusRepository_LatestByCustomer_None(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	mock.ExpectQuery(`SELECT \* FROM "fb_customer_mining_status"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status", "created_at"}))

	status, err := NewMiningStatusRepository(db).LatestByCustomer(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestMiningStatusRepository_Compact(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM fb_customer_mining_status m`).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	deleted, err := NewMiningStatusRepository(db).Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepository_ApplyLastInteraction_CollapsesDuplicates(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	older := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(5 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "fb_customers" SET`).
		WithArgs(newer, sqlmock.AnyArg(), uint(1), "psid-a", newer).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := NewCustomerRepository(db).ApplyLastInteraction(context.Background(), []LastInteractionUpdate{
		{PageID: 1, PSID: "psid-a", LastInteractionAt: older},
		{PageID: 1, PSID: "psid-a", LastInteractionAt: newer},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepository_ApplyLastInteraction_RollsBackOnError(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "fb_customers" SET`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = NewCustomerRepository(db).ApplyLastInteraction(context.Background(), []LastInteractionUpdate{
		{PageID: 1, PSID: "psid-a", LastInteractionAt: time.Now()},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerMessageRepository_SaveIgnoringDuplicates(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "customer_messages" .* ON CONFLICT DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	_, err = NewCustomerMessageRepository(db).SaveIgnoringDuplicates(context.Background(), []*models.CustomerMessage{
		{PageID: 1, ConversationID: "t_1", SenderID: "psid-a", Text: "hi", Kind: models.MessageKindText, CreatedAt: at},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db, mock, cleanup, err := testutil.NewMockDB()
	require.NoError(t, err)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = WithTransaction(context.Background(), db, func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
