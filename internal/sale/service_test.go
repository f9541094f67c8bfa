package sale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-ledger/internal/custody"
	"presale-ledger/internal/domain"
	"presale-ledger/internal/domain/domaintest"
	"presale-ledger/internal/events"
	"presale-ledger/internal/presale"
	"presale-ledger/internal/storage"
	"presale-ledger/internal/storage/memory"
	"presale-ledger/internal/valuation"
	"presale-ledger/internal/vesting"
)

const (
	saleID    = "sale-1"
	startUnix = int64(1_700_000_000)
	lamports  = uint64(1_000_000_000)
	tokenUnit = uint64(1_000_000_000)
)

var (
	usdc      = domain.FungibleAsset(domaintest.USDC)
	saleToken = domain.FungibleAsset(domaintest.TokenMint)
	native    = domain.NativeAsset()
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	store   *memory.SaleStore
	bank    *custody.Bank
	custody *custody.Custody
	events  *events.Recorder
	clock   *fakeClock
	feed    *valuation.StaticFeed
	escrow  domain.PublicKey
}

func newFixture(t *testing.T, mutate ...func(*domain.SaleConfig)) *fixture {
	t.Helper()

	bank := custody.NewBank()
	cust, err := custody.New(custody.Options{
		Native:    bank,
		Tokens:    bank,
		Balances:  bank,
		ProgramID: domaintest.Key(99),
	})
	require.NoError(t, err)

	f := &fixture{
		store:   memory.NewSaleStore(),
		bank:    bank,
		custody: cust,
		events:  &events.Recorder{},
		clock:   &fakeClock{now: time.Unix(startUnix, 0)},
		feed:    &valuation.StaticFeed{},
	}
	f.svc, err = NewService(Options{
		Store:    f.store,
		Custody:  cust,
		Events:   f.events,
		EventLog: memory.NewEventStore(),
		Nonces:   memory.NewNonceStore(),
		Feed:     f.feed,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)

	cfg := domaintest.SaleConfig(saleID)
	for _, m := range mutate {
		m(&cfg)
	}
	_, err = f.svc.CreateSale(context.Background(), cfg)
	require.NoError(t, err)

	f.escrow, err = cust.Escrow(saleID)
	require.NoError(t, err)
	require.NoError(t, bank.Deposit(f.escrow, saleToken, cfg.TotalTokens))
	for _, pk := range []domain.PublicKey{domaintest.Alice, domaintest.Bob, domaintest.Carol} {
		require.NoError(t, bank.Deposit(pk, native, 100*lamports))
		require.NoError(t, bank.Deposit(pk, usdc, 1_000))
	}
	return f
}

func (f *fixture) balance(t *testing.T, holder domain.PublicKey, asset domain.Asset) uint64 {
	t.Helper()
	b, err := f.bank.Balance(context.Background(), holder, asset)
	require.NoError(t, err)
	return b
}

func (f *fixture) sale(t *testing.T) *domain.Sale {
	t.Helper()
	s, err := f.store.Get(context.Background(), saleID)
	require.NoError(t, err)
	return s
}

func attested(pk domain.PublicKey, amount, nonce, usd uint64) ContributeRequest {
	priv, _ := domaintest.Oracle()
	att := valuation.SignAttestation(priv, pk, nonce, usd)
	return ContributeRequest{SaleID: saleID, Contributor: pk, Asset: native, Amount: amount, Attestation: &att}
}

func stable(pk domain.PublicKey, usd uint64) ContributeRequest {
	return ContributeRequest{SaleID: saleID, Contributor: pk, Asset: usdc, Amount: usd}
}

func TestContribute_AttestedNative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Contribute(ctx, attested(domaintest.Alice, lamports/3, 1, 50))
	require.NoError(t, err)

	assert.Equal(t, uint64(50), res.USDValue)
	assert.Equal(t, 500*tokenUnit, res.TokensReserved)
	assert.Equal(t, valuation.SourceAttestation, res.Source)
	assert.Len(t, res.AttestationID, 64)

	sale := f.sale(t)
	assert.Equal(t, 500*tokenUnit, sale.State.SoldTokens)
	assert.Equal(t, uint64(50), sale.State.TotalRaisedUSD)
	assert.Equal(t, uint64(1), sale.State.Contributors)

	rec, err := f.store.GetContributor(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), rec.ContributionUSD)
	assert.Equal(t, lamports/3, rec.ContributionNative)
	assert.Equal(t, startUnix, rec.VestingStartTS)

	assert.Equal(t, lamports/3, f.balance(t, f.escrow, native))
	assert.Equal(t, 100*lamports-lamports/3, f.balance(t, domaintest.Alice, native))

	got := f.events.Events()
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventContributionRecorded, got[0].Kind)
	assert.Equal(t, domaintest.Alice.String(), got[0].Contributor)
	assert.Equal(t, 500*tokenUnit, got[0].Tokens)
	assert.Equal(t, "PRIVATE", got[0].Phase)
	assert.Equal(t, res.AttestationID, got[0].AttestationID)
}

func solUSD(publish int64) []byte {
	// $150 per coin with exponent -8.
	return valuation.EncodePriceFeed(domain.PriceFeed{Price: 150_00000000, Exponent: -8, PublishTime: publish})
}

func TestContribute_FreshFeedAndStaleFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.feed.Set(solUSD(startUnix - 10))
	req := ContributeRequest{SaleID: saleID, Contributor: domaintest.Alice, Asset: native, Amount: lamports}
	res, err := f.svc.Contribute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), res.USDValue)
	assert.Equal(t, valuation.SourcePriceFeed, res.Source)
	assert.Empty(t, res.AttestationID)

	f.feed.Set(solUSD(startUnix - 301))
	stale := ContributeRequest{SaleID: saleID, Contributor: domaintest.Bob, Asset: native, Amount: lamports}
	_, err = f.svc.Contribute(ctx, stale)
	assert.ErrorIs(t, err, presale.ErrOracleMissing)

	res, err = f.svc.Contribute(ctx, attested(domaintest.Bob, lamports, 7, 140))
	require.NoError(t, err)
	assert.Equal(t, uint64(140), res.USDValue)
	assert.Equal(t, valuation.SourceAttestation, res.Source)
}

func TestContribute_NativeValuedByPublishedFeedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dust := ContributeRequest{SaleID: saleID, Contributor: domaintest.Alice, Asset: native, Amount: 1}

	_, err := f.svc.Contribute(ctx, dust)
	assert.ErrorIs(t, err, presale.ErrOracleMissing)

	// one lamport at the published price is worth nothing
	f.feed.Set(solUSD(startUnix))
	_, err = f.svc.Contribute(ctx, dust)
	assert.ErrorIs(t, err, presale.ErrMinBuyNotMet)

	s := f.sale(t)
	assert.Zero(t, s.State.TotalRaisedUSD)
	assert.Zero(t, s.State.SoldTokens)
	assert.Equal(t, 100*lamports, f.balance(t, domaintest.Alice, native))
}

type brokenFeed struct{}

func (brokenFeed) Latest(context.Context) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestContribute_UnreachableFeedFallsBackToAttestation(t *testing.T) {
	f := newFixture(t)
	f.svc.feed = brokenFeed{}
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, ContributeRequest{SaleID: saleID, Contributor: domaintest.Alice, Asset: native, Amount: lamports})
	assert.ErrorIs(t, err, presale.ErrOracleMissing)

	res, err := f.svc.Contribute(ctx, attested(domaintest.Alice, lamports, 1, 60))
	require.NoError(t, err)
	assert.Equal(t, valuation.SourceAttestation, res.Source)
}

func TestContribute_ReplayedAttestation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := attested(domaintest.Alice, lamports, 42, 50)
	_, err := f.svc.Contribute(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Contribute(ctx, req)
	assert.ErrorIs(t, err, presale.ErrAttestationReplayed)
	assert.Equal(t, "AttestationReplayed", presale.Code(err))

	assert.Equal(t, uint64(50), f.sale(t).State.TotalRaisedUSD)
	assert.Equal(t, lamports, f.balance(t, f.escrow, native))
}

func TestContribute_RejectedNonceIsNotBurned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Pause(ctx, saleID, domaintest.Authority))
	req := attested(domaintest.Alice, lamports, 9, 50)
	_, err := f.svc.Contribute(ctx, req)
	require.ErrorIs(t, err, presale.ErrPaused)

	require.NoError(t, f.svc.Unpause(ctx, saleID, domaintest.Authority))
	_, err = f.svc.Contribute(ctx, req)
	assert.NoError(t, err)
}

func TestContribute_PerWalletCapLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 450))
	require.NoError(t, err)
	before := f.sale(t)
	recBefore, err := f.store.GetContributor(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)

	_, err = f.svc.Contribute(ctx, stable(domaintest.Alice, 100))
	assert.ErrorIs(t, err, presale.ErrPerWalletCapExceeded)

	assert.Equal(t, before.State, f.sale(t).State)
	recAfter, err := f.store.GetContributor(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Equal(t, recBefore, recAfter)
	assert.Equal(t, uint64(550), f.balance(t, domaintest.Alice, usdc))
	assert.Len(t, f.events.Events(), 1)
}

func TestContribute_TransferFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 50))
	require.NoError(t, err)

	broke := domaintest.Key(50)
	_, err = f.svc.Contribute(ctx, stable(broke, 10))
	assert.ErrorIs(t, err, presale.ErrInsufficientFunds)

	_, err = f.store.GetContributor(ctx, saleID, broke)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	state := f.sale(t).State
	assert.Equal(t, uint64(50), state.TotalRaisedUSD)
	assert.Equal(t, uint64(1), state.Contributors)
	assert.Len(t, f.events.Events(), 1)
}

func TestContribute_Gating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, ContributeRequest{SaleID: "missing", Contributor: domaintest.Alice, Asset: usdc, Amount: 50})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.Contribute(ctx, stable(domaintest.Alice, 5))
	assert.ErrorIs(t, err, presale.ErrMinBuyNotMet)

	_, err = f.svc.Contribute(ctx, ContributeRequest{SaleID: saleID, Contributor: domaintest.Alice, Asset: domain.FungibleAsset(domaintest.USDT), Amount: 50})
	assert.ErrorIs(t, err, presale.ErrUnsupportedAsset)

	_, err = f.svc.Finalize(ctx, saleID, domaintest.Authority)
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, stable(domaintest.Alice, 50))
	assert.ErrorIs(t, err, presale.ErrPresaleFinalized)
}

func TestContribute_ConcurrentBuyersRespectCap(t *testing.T) {
	// 40 tokens per $4 buy, 10 buys fit in 400 tokens.
	f := newFixture(t, func(c *domain.SaleConfig) {
		c.TotalTokens = 400 * tokenUnit
		c.MinBuyUSD = 1
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 32; i++ {
		pk := domaintest.Key(byte(100 + i))
		require.NoError(t, f.bank.Deposit(pk, usdc, 4))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Contribute(ctx, stable(pk, 4))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, presale.ErrPhaseCapExceeded)
		}()
	}
	wg.Wait()

	state := f.sale(t).State
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 400*tokenUnit, state.SoldTokens)
	assert.Equal(t, uint64(40), f.balance(t, f.escrow, usdc))
}

func TestClaim_ReleasesVestedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 100))
	require.NoError(t, err)
	total := 1_000 * tokenUnit

	_, err = f.svc.Claim(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrNothingToClaim)

	f.clock.Advance(10 * 24 * time.Hour)
	res, err := f.svc.Claim(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Equal(t, total/2, res.Amount)
	assert.Equal(t, total/2, res.Claimed)
	assert.Equal(t, total/2, res.Remaining)
	assert.Equal(t, total/2, f.balance(t, domaintest.Alice, saleToken))

	_, err = f.svc.Claim(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrNothingToClaim)

	f.clock.Advance(15 * 24 * time.Hour)
	res, err = f.svc.Claim(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Equal(t, total/2, res.Amount)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, total, f.balance(t, domaintest.Alice, saleToken))

	_, err = f.svc.Claim(ctx, saleID, domaintest.Bob)
	assert.ErrorIs(t, err, presale.ErrNoVesting)

	assert.Equal(t, []domain.EventKind{
		domain.EventContributionRecorded,
		domain.EventVestingClaimed,
		domain.EventVestingClaimed,
	}, f.events.Kinds())
}

func TestClaim_CliffBlocksEarlyRelease(t *testing.T) {
	f := newFixture(t, func(c *domain.SaleConfig) { c.CliffSeconds = 7 * 86_400 })
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 100))
	require.NoError(t, err)

	f.clock.Advance(6 * 24 * time.Hour)
	_, err = f.svc.Claim(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrCliffNotReached)

	view, err := f.svc.Contributor(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Nil(t, view.Quote)
	assert.Equal(t, "CliffNotReached", view.QuoteError)

	f.clock.Advance(24 * time.Hour)
	res, err := f.svc.Claim(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Equal(t, 350*tokenUnit, res.Amount)
}

func TestFinalize_FailedSaleRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, attested(domaintest.Alice, 2*lamports, 1, 300))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, stable(domaintest.Alice, 100))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, stable(domaintest.Bob, 200))
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrRefundNotEnabled)

	_, err = f.svc.Finalize(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrUnauthorized)

	status, err := f.svc.Finalize(ctx, saleID, domaintest.Authority)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusFailed, status)
	assert.True(t, f.sale(t).State.RefundEnabled)

	_, err = f.svc.Finalize(ctx, saleID, domaintest.Authority)
	assert.ErrorIs(t, err, presale.ErrPresaleFinalized)

	res, err := f.svc.Refund(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), res.USDValue)
	assert.Equal(t, 4_000*tokenUnit, res.Tokens)
	assert.Equal(t, 100*lamports, f.balance(t, domaintest.Alice, native))
	assert.Equal(t, uint64(1_000), f.balance(t, domaintest.Alice, usdc))

	_, err = f.svc.Refund(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrNothingToRefund)

	_, err = f.svc.Refund(ctx, saleID, domaintest.Carol)
	assert.ErrorIs(t, err, presale.ErrNothingToRefund)

	state := f.sale(t).State
	assert.Equal(t, uint64(200), state.TotalRaisedUSD)
	assert.Equal(t, 2_000*tokenUnit, state.SoldTokens)

	_, err = f.svc.Withdraw(ctx, saleID, domaintest.Authority)
	assert.ErrorIs(t, err, presale.ErrFundsLocked)

	kinds := f.events.Kinds()
	assert.Contains(t, kinds, domain.EventSaleFailed)
	assert.Equal(t, domain.EventRefundIssued, kinds[len(kinds)-1])
}

func TestFinalize_SuccessAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 500))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, stable(domaintest.Bob, 400))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, attested(domaintest.Carol, 3*lamports, 1, 100))
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, saleID, domaintest.Authority)
	assert.ErrorIs(t, err, presale.ErrFundsLocked)

	status, err := f.svc.Finalize(ctx, saleID, domaintest.Authority)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusSucceeded, status)

	_, err = f.svc.Refund(ctx, saleID, domaintest.Alice)
	assert.ErrorIs(t, err, presale.ErrRefundNotEnabled)

	_, err = f.svc.Withdraw(ctx, saleID, domaintest.Bob)
	assert.ErrorIs(t, err, presale.ErrUnauthorized)

	results, err := f.svc.Withdraw(ctx, saleID, domaintest.Authority)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 2.5% of 3 coins and of 900 USDC units.
	assert.Equal(t, uint64(75_000_000), f.balance(t, domaintest.FeeWallet, native))
	assert.Equal(t, 3*lamports-75_000_000, f.balance(t, domaintest.Treasury, native))
	assert.Equal(t, uint64(22), f.balance(t, domaintest.FeeWallet, usdc))
	assert.Equal(t, uint64(878), f.balance(t, domaintest.Treasury, usdc))
	assert.Equal(t, uint64(100_000)*tokenUnit, f.balance(t, f.escrow, saleToken), "sale tokens stay in escrow")

	var swept []domain.Event
	for _, e := range f.events.Events() {
		if e.Kind == domain.EventFundsToTreasury {
			swept = append(swept, e)
		}
	}
	require.Len(t, swept, 2)
	assert.Equal(t, "native", swept[0].Asset)
	assert.Equal(t, uint64(75_000_000), swept[0].Fee)
}

func TestPauseUnpause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Pause(ctx, saleID, domaintest.Bob), presale.ErrUnauthorized)
	require.NoError(t, f.svc.Pause(ctx, saleID, domaintest.Authority))
	require.NoError(t, f.svc.Pause(ctx, saleID, domaintest.Authority))
	assert.True(t, f.sale(t).Config.Paused)

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 50))
	assert.ErrorIs(t, err, presale.ErrPaused)

	require.NoError(t, f.svc.Unpause(ctx, saleID, domaintest.Authority))
	_, err = f.svc.Contribute(ctx, stable(domaintest.Alice, 50))
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.EventSalePaused,
		domain.EventSaleUnpaused,
		domain.EventContributionRecorded,
	}, f.events.Kinds())
}

func TestSetPhase_PublicTier(t *testing.T) {
	f := newFixture(t, func(c *domain.SaleConfig) {
		c.PrivateAllocation = 1_000 * tokenUnit
		c.PublicAllocation = 5_000 * tokenUnit
	})
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 100))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, stable(domaintest.Bob, 10))
	assert.ErrorIs(t, err, presale.ErrPhaseCapExceeded)

	require.NoError(t, f.svc.SetPhase(ctx, saleID, domaintest.Authority, domain.PhasePublic))
	res, err := f.svc.Contribute(ctx, stable(domaintest.Bob, 10))
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePublic, res.Phase)

	assert.ErrorIs(t, f.svc.SetPhase(ctx, saleID, domaintest.Authority, domain.Phase("SECRET")), presale.ErrInvalidConfig)
	assert.Contains(t, f.events.Kinds(), domain.EventPhaseChanged)
}

func TestInitializeVesting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := vesting.Params{
		TotalAmount:     1_000 * tokenUnit,
		StartTimestamp:  startUnix,
		DailyReleaseBps: 1_000,
		TotalDays:       10,
	}

	_, err := f.svc.InitializeVesting(ctx, saleID, domaintest.Alice, domaintest.Carol, p)
	assert.ErrorIs(t, err, presale.ErrUnauthorized)

	rec, err := f.svc.InitializeVesting(ctx, saleID, domaintest.Authority, domaintest.Carol, p)
	require.NoError(t, err)
	assert.Equal(t, p.TotalAmount, rec.ClaimableTokens)
	assert.Empty(t, rec.Payments)

	f.clock.Advance(10 * 24 * time.Hour)
	res, err := f.svc.Claim(ctx, saleID, domaintest.Carol)
	require.NoError(t, err)
	assert.Equal(t, p.TotalAmount, res.Amount)

	_, err = f.svc.InitializeVesting(ctx, saleID, domaintest.Authority, domaintest.Carol, p)
	assert.ErrorIs(t, err, presale.ErrAlreadyClaimed)

	assert.Zero(t, f.sale(t).State.SoldTokens, "grants do not count as sold")
}

func TestRefund_GrantHolderGetsPaymentBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant := vesting.Params{
		TotalAmount:     5_000 * tokenUnit,
		StartTimestamp:  startUnix,
		DailyReleaseBps: 500,
		TotalDays:       20,
	}
	_, err := f.svc.InitializeVesting(ctx, saleID, domaintest.Authority, domaintest.Bob, grant)
	require.NoError(t, err)

	_, err = f.svc.Contribute(ctx, stable(domaintest.Bob, 100))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, stable(domaintest.Alice, 100))
	require.NoError(t, err)

	status, err := f.svc.Finalize(ctx, saleID, domaintest.Authority)
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusFailed, status)

	res, err := f.svc.Refund(ctx, saleID, domaintest.Bob)
	require.NoError(t, err)
	assert.Equal(t, 1_000*tokenUnit, res.Tokens)
	assert.Equal(t, uint64(1_000), f.balance(t, domaintest.Bob, usdc))

	state := f.sale(t).State
	assert.Equal(t, 1_000*tokenUnit, state.SoldTokens)
	assert.Equal(t, uint64(100), state.TotalRaisedUSD)

	rec, err := f.store.GetContributor(ctx, saleID, domaintest.Bob)
	require.NoError(t, err)
	assert.Equal(t, grant.TotalAmount, rec.ClaimableTokens)
	assert.Zero(t, rec.PurchasedTokens)
	assert.Empty(t, rec.Payments)

	_, err = f.svc.Refund(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	assert.Zero(t, f.sale(t).State.SoldTokens)
}

func TestStatusAndViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Contribute(ctx, stable(domaintest.Alice, 50))
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusActive, st.Status)
	assert.Equal(t, "0.1", st.PriceUSD)
	assert.Equal(t, "1.00", st.Progress)
	assert.Equal(t, 500*tokenUnit, st.SoldTokens)
	assert.Equal(t, 99_500*tokenUnit, st.RemainingTokens)
	assert.Equal(t, uint64(1), st.Contributors)

	view, err := f.svc.Contributor(ctx, saleID, domaintest.Alice)
	require.NoError(t, err)
	require.NotNil(t, view.Quote)
	assert.Zero(t, view.Quote.Claimable)
	assert.Empty(t, view.QuoteError)

	_, err = f.svc.Contributor(ctx, saleID, domaintest.Bob)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	recs, err := f.svc.Contributors(ctx, saleID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	evs, err := f.svc.Events(ctx, saleID)
	require.NoError(t, err)
	assert.Empty(t, evs, "the recorder sink does not feed the event log")
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		raised, target uint64
		want           string
	}{
		{0, 5_000, "0.00"},
		{50, 5_000, "1.00"},
		{1, 3, "33.33"},
		{2, 3, "66.66"},
		{7_500, 5_000, "150.00"},
		{10, 0, "0.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressPercent(tt.raised, tt.target))
	}
}

type failingSink struct{}

func (failingSink) Publish(context.Context, []domain.Event) error {
	return errors.New("broker unavailable")
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.svc.sink = failingSink{}

	_, err := f.svc.Contribute(context.Background(), stable(domaintest.Alice, 50))
	assert.NoError(t, err)
}

func TestCreateSale_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSale(ctx, domaintest.SaleConfig(saleID))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	bad := domaintest.SaleConfig("sale-bad")
	bad.PriceUSDMicro = 0
	_, err = f.svc.CreateSale(ctx, bad)
	assert.ErrorIs(t, err, presale.ErrInvalidConfig)
}
