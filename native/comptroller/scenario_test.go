package comptroller_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stablerisk/core/state"
	"stablerisk/native/comptroller"
	"stablerisk/native/oracle"
	"stablerisk/native/stablecoin"
	"stablerisk/native/vtoken"
	"stablerisk/storage"
)

// TestLedgerBackedLiquidation runs the controller fixture against the ledger
// backed collaborators. The borrower mints the full 80 its collateral allows,
// the admin cuts the collateral factor to 0.6, a failed liquidation leaves no
// trace and a successful one survives a reopen of the store.
func TestLedgerBackedLiquidation(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	var (
		engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
		admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
		marketAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
		borrower   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
		liquidator = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	)

	mgr := state.NewManager(state.NewLedger(db))
	require.NoError(t, mgr.RegisterToken("VAI", "VAI Stablecoin", 18, engineAddr))
	require.NoError(t, mgr.RegisterToken("VUSDC", "Market USDC", 8, engineAddr))
	require.NoError(t, mgr.RegisterToken("USDC", "USD Coin", 18, common.Address{}))

	vai := stablecoin.New("VAI", mgr)
	registry := vtoken.NewRegistry()
	market := vtoken.NewMarket(marketAddr, "VUSDC", "USDC", engineAddr, mgr)
	registry.Add(market)
	prices := oracle.NewSimplePriceOracle(mgr, 0)
	require.NoError(t, prices.SetPrice(marketAddr, comptroller.ExpScale()))

	engine := comptroller.NewEngine(engineAddr)
	engine.SetState(state.NewComptrollerState(mgr))
	engine.SetMarkets(registry)
	engine.SetOracle(prices)
	engine.SetStablecoin(vai)

	params := comptroller.DefaultParams(admin)
	params.Liquidation.CloseFactor = uint256.MustFromDecimal("800000000000000000")
	params.Liquidation.LiquidationIncentive = comptroller.ExpScale()
	params.Stablecoin.MintRateBps = 10_000
	require.NoError(t, engine.Initialize(params))
	require.NoError(t, engine.SupportMarket(admin, marketAddr, "usdc"))
	require.NoError(t, engine.SetCollateralFactor(admin, marketAddr, uint256.MustFromDecimal("800000000000000000")))

	require.NoError(t, market.SetBalance(borrower, uint256.NewInt(100)))
	require.NoError(t, engine.EnterMarkets(borrower, marketAddr))
	require.ErrorIs(t, engine.MintStablecoin(borrower, uint256.NewInt(81)), comptroller.ErrInsufficientCollateral)
	require.NoError(t, engine.MintStablecoin(borrower, uint256.NewInt(80)))
	require.NoError(t, engine.SetCollateralFactor(admin, marketAddr, uint256.MustFromDecimal("600000000000000000")))
	snap, err := engine.AccountLiquidity(borrower)
	require.NoError(t, err)
	require.Equal(t, uint64(20), snap.Shortfall.Uint64())
	require.NoError(t, vai.Allocate(liquidator, uint256.NewInt(100)))
	require.NoError(t, mgr.Ledger().Commit())

	// Without an approval the burn fails and nothing changes.
	_, err = engine.LiquidateStablecoin(liquidator, borrower, uint256.NewInt(60), marketAddr)
	require.ErrorIs(t, err, stablecoin.ErrInsufficientAllowance)
	bal, err := market.BalanceOf(borrower)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bal.Uint64())

	require.NoError(t, vai.Approve(liquidator, engineAddr, stablecoin.MaxAllowance))
	result, err := engine.LiquidateStablecoin(liquidator, borrower, uint256.NewInt(60), marketAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(60), result.SeizeTokens.Uint64())
	require.NoError(t, engine.CheckInvariants())
	require.NoError(t, mgr.Ledger().Commit())

	reopened := state.NewManager(state.NewLedger(db))
	liqBalance, err := reopened.Balance("VAI", liquidator)
	require.NoError(t, err)
	require.Equal(t, uint64(40), liqBalance.Uint64())
	seized, err := reopened.Balance("VUSDC", liquidator)
	require.NoError(t, err)
	require.Equal(t, uint64(60), seized.Uint64())
	acct, err := state.NewComptrollerState(reopened).GetUserAccount(borrower)
	require.NoError(t, err)
	require.Equal(t, uint64(20), acct.MintedPrincipal.Uint64())
	supply, err := reopened.TokenSupply("VAI")
	require.NoError(t, err)
	require.Equal(t, uint64(120), supply.Uint64())
}
