package workers

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"quest-reward-system/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeReceipts serves canned receipts per hash; hashes absent from the map are
// not mined yet.
type fakeReceipts struct {
	receipts map[common.Hash]*gethtypes.Receipt
	err      error
}

func (f *fakeReceipts) Receipt(_ context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func workerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChainTransaction{}))
	return db
}

func seedPendingTx(t *testing.T, db *gorm.DB, txHash string) *models.ChainTransaction {
	t.Helper()
	record := models.ChainTransaction{
		ID:             uuid.NewString(),
		TxHash:         txHash,
		Kind:           models.ChainTxKindTransfer,
		Status:         models.ChainTxStatusPending,
		ExternalUserID: "user-1",
		Amount:         15,
		FromAddress:    "0x1111111111111111111111111111111111111111",
		ToAddress:      "0x2222222222222222222222222222222222222222",
	}
	require.NoError(t, db.Create(&record).Error)
	return &record
}

func TestReconcileOnceConfirmsMinedTransactions(t *testing.T) {
	db := workerDB(t)
	mined := seedPendingTx(t, db, "0x00000000000000000000000000000000000000000000000000000000000000aa")
	unmined := seedPendingTx(t, db, "0x00000000000000000000000000000000000000000000000000000000000000bb")

	source := &fakeReceipts{receipts: map[common.Hash]*gethtypes.Receipt{
		common.HexToHash(mined.TxHash): {
			Status:      gethtypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(12345),
		},
	}}

	reconciler := NewReceiptReconciler(db, source)
	confirmed, failed, err := reconciler.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 0, failed)

	var stored models.ChainTransaction
	require.NoError(t, db.First(&stored, "id = ?", mined.ID).Error)
	assert.Equal(t, models.ChainTxStatusConfirmed, stored.Status)
	require.NotNil(t, stored.BlockNumber)
	assert.Equal(t, uint64(12345), *stored.BlockNumber)

	// Not mined yet: skipped, retried next round.
	stored = models.ChainTransaction{}
	require.NoError(t, db.First(&stored, "id = ?", unmined.ID).Error)
	assert.Equal(t, models.ChainTxStatusPending, stored.Status)
	assert.Nil(t, stored.BlockNumber)
}

func TestReconcileOnceFlagsRevertedTransactions(t *testing.T) {
	db := workerDB(t)
	reverted := seedPendingTx(t, db, "0x00000000000000000000000000000000000000000000000000000000000000cc")

	source := &fakeReceipts{receipts: map[common.Hash]*gethtypes.Receipt{
		common.HexToHash(reverted.TxHash): {
			Status:      gethtypes.ReceiptStatusFailed,
			BlockNumber: big.NewInt(12346),
		},
	}}

	reconciler := NewReceiptReconciler(db, source)
	confirmed, failed, err := reconciler.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed)
	assert.Equal(t, 1, failed)

	var stored models.ChainTransaction
	require.NoError(t, db.First(&stored, "id = ?", reverted.ID).Error)
	assert.Equal(t, models.ChainTxStatusFailed, stored.Status)
}

func TestReconcileOnceLeavesRowsOnEndpointFailure(t *testing.T) {
	db := workerDB(t)
	tx := seedPendingTx(t, db, "0x00000000000000000000000000000000000000000000000000000000000000dd")

	source := &fakeReceipts{err: errors.New("rpc down")}
	reconciler := NewReceiptReconciler(db, source)

	confirmed, failed, err := reconciler.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed)
	assert.Equal(t, 0, failed)

	var stored models.ChainTransaction
	require.NoError(t, db.First(&stored, "id = ?", tx.ID).Error)
	assert.Equal(t, models.ChainTxStatusPending, stored.Status)
}

func TestReconcileOnceIgnoresSettledRows(t *testing.T) {
	db := workerDB(t)
	tx := seedPendingTx(t, db, "0x00000000000000000000000000000000000000000000000000000000000000ee")
	require.NoError(t, db.Model(tx).Update("status", models.ChainTxStatusConfirmed).Error)

	source := &fakeReceipts{receipts: map[common.Hash]*gethtypes.Receipt{}}
	reconciler := NewReceiptReconciler(db, source)

	confirmed, failed, err := reconciler.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed)
	assert.Equal(t, 0, failed)
}
