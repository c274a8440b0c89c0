package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/ReZill392/Thesit-sub000/app/ingestor"
	"github.com/ReZill392/Thesit-sub000/app/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	importRes *ingestor.ImportResult
	cycleRes  *ingestor.CycleResult
	err       error
	modes     []ingestor.ImportMode
}

func (f *fakeSyncer) ImportCustomers(_ context.Context, _ string, mode ingestor.ImportMode) (*ingestor.ImportResult, error) {
	f.modes = append(f.modes, mode)
	return f.importRes, f.err
}

func (f *fakeSyncer) SyncPage(context.Context, string) (*ingestor.CycleResult, error) {
	return f.cycleRes, f.err
}

func TestSyncFlow_ImportCustomers(t *testing.T) {
	syncer := &fakeSyncer{importRes: &ingestor.ImportResult{Mode: ingestor.ImportHistorical, Imported: 12}}
	flow := NewSyncFlow(syncer, logger.Discard())

	resp, err := flow.ImportCustomers(context.Background(), &dto.ImportCustomersRequest{PageID: "p1", Mode: "historical"})
	require.NoError(t, err)
	assert.Equal(t, 12, resp.Imported)
	assert.Equal(t, "historical", resp.Mode)
	assert.Equal(t, []ingestor.ImportMode{ingestor.ImportHistorical}, syncer.modes)

	_, err = flow.ImportCustomers(context.Background(), &dto.ImportCustomersRequest{PageID: "p1", Mode: "everything"})
	assert.True(t, IsValidationError(err))
	assert.Len(t, syncer.modes, 1)
}

func TestSyncFlow_ErrorMapping(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{err: ingestor.ErrPageNotFound, check: IsPageNotFound},
		{err: ingestor.ErrTokenMissing, check: IsTokenMissing},
		{err: ingestor.ErrCycleRunning, check: IsSyncInProgress},
	}
	for _, tt := range tests {
		flow := NewSyncFlow(&fakeSyncer{err: tt.err}, logger.Discard())
		_, err := flow.SyncPage(context.Background(), "p1")
		assert.True(t, tt.check(err), "mapping %v gave %v", tt.err, err)
	}

	boom := errors.New("boom")
	flow := NewSyncFlow(&fakeSyncer{err: boom}, logger.Discard())
	_, err := flow.SyncPage(context.Background(), "p1")
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "SYNC_FAILED", be.Code)
	assert.ErrorIs(t, err, boom)
}

func TestSyncFlow_SyncPage(t *testing.T) {
	syncer := &fakeSyncer{cycleRes: &ingestor.CycleResult{Mode: ingestor.ModeFull, Conversations: 4, NewCustomers: 1, Updates: 3}}
	resp, err := NewSyncFlow(syncer, logger.Discard()).SyncPage(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "full", resp.Mode)
	assert.Equal(t, 4, resp.Conversations)
	assert.Equal(t, 1, resp.NewCustomers)
	assert.Equal(t, 3, resp.Updates)
}
