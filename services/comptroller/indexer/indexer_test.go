package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"stablerisk/core/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

const (
	alice = "0x00000000000000000000000000000000000000A1"
	bob   = "0x00000000000000000000000000000000000000B0"
)

func TestRecordAndQuery(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, 1, []*types.Event{
		{Type: "comptroller.stablecoin_minted", Attributes: map[string]string{"account": alice, "amount": "100"}},
		{Type: "token.transfer", Attributes: map[string]string{"from": "0x0000000000000000000000000000000000000000", "to": alice, "amount": "100"}},
	}))
	require.NoError(t, store.Record(ctx, 2, []*types.Event{
		{Type: "comptroller.liquidation_executed", Attributes: map[string]string{"account": alice, "liquidator": bob}},
		nil,
	}))
	require.NoError(t, store.Record(ctx, 3, nil))

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(3), all[0].Sequence)
	require.Equal(t, uint64(2), all[0].Height)

	forBob, err := store.Query(ctx, Filter{Account: bob})
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	require.Equal(t, "comptroller.liquidation_executed", forBob[0].Type)

	mints, err := store.Query(ctx, Filter{Account: alice, Type: "comptroller.stablecoin_minted"})
	require.NoError(t, err)
	require.Len(t, mints, 1)
	require.Equal(t, "100", mints[0].Attributes["amount"])
	require.NotEmpty(t, mints[0].ID)

	limited, err := store.Query(ctx, Filter{Account: alice, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, uint64(3), limited[0].Sequence)
}

func TestRepayBehalfIndexesPayer(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, 1, []*types.Event{
		{Type: "comptroller.stablecoin_repaid", Attributes: map[string]string{"account": alice, "payer": bob, "amount": "5"}},
	}))
	forPayer, err := store.Query(ctx, Filter{Account: bob})
	require.NoError(t, err)
	require.Len(t, forPayer, 1)
	require.Equal(t, "comptroller.stablecoin_repaid", forPayer[0].Type)
	require.Equal(t, "5", forPayer[0].Attributes["amount"])
}

func TestDialectorFor(t *testing.T) {
	_, err := dialectorFor("  ")
	require.ErrorIs(t, err, ErrDSNRequired)

	d, err := dialectorFor("postgres://risk:pw@localhost/risk")
	require.NoError(t, err)
	require.IsType(t, &postgres.Dialector{}, d)

	d, err = dialectorFor(":memory:")
	require.NoError(t, err)
	require.IsType(t, &sqlite.Dialector{}, d)
}

func TestOpenFilePath(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Record(context.Background(), 7, []*types.Event{{Type: "x", Attributes: map[string]string{}}}))
	got, err := store.Query(context.Background(), Filter{Type: "x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
