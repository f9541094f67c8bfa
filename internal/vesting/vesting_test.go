package vesting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/domain/domaintest"
	"presale-ledger/internal/presale"
)

const start int64 = 1_700_000_000

func at(days int64) int64 {
	return start + days*SecondsPerDay
}

func scheduleB() domain.VestingSchedule {
	return domain.VestingSchedule{
		StartTimestamp:  start,
		DailyReleaseBps: 500,
		TotalDays:       20,
		TotalAmount:     1000,
	}
}

func TestVested_FivePercentDaily(t *testing.T) {
	tests := []struct {
		name     string
		now      int64
		wantDays uint64
		want     uint64
	}{
		{name: "at start", now: start, wantDays: 0, want: 0},
		{name: "before start", now: start - 10*SecondsPerDay, wantDays: 0, want: 0},
		{name: "partial day", now: at(1) - 1, wantDays: 0, want: 0},
		{name: "day one", now: at(1), wantDays: 1, want: 50},
		{name: "day ten", now: at(10), wantDays: 10, want: 500},
		{name: "day nineteen", now: at(19) + 3600, wantDays: 19, want: 950},
		{name: "day twenty", now: at(20), wantDays: 20, want: 1000},
		{name: "day twenty-five clamps", now: at(25), wantDays: 20, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, vested, err := Vested(scheduleB(), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDays, days)
			assert.Equal(t, tt.want, vested)
		})
	}
}

func TestClaimable_Errors(t *testing.T) {
	t.Run("never started", func(t *testing.T) {
		s := scheduleB()
		s.StartTimestamp = 0
		_, _, err := Claimable(s, at(5))
		assert.ErrorIs(t, err, presale.ErrNoVesting)
	})

	t.Run("inside cliff", func(t *testing.T) {
		s := scheduleB()
		s.CliffSeconds = 7 * SecondsPerDay
		_, _, err := Claimable(s, at(7)-1)
		assert.ErrorIs(t, err, presale.ErrCliffNotReached)

		claimable, newClaimed, err := Claimable(s, at(7))
		require.NoError(t, err)
		assert.Equal(t, uint64(350), claimable)
		assert.Equal(t, uint64(350), newClaimed)
	})

	t.Run("nothing new", func(t *testing.T) {
		s := scheduleB()
		s.ClaimedAmount = 500
		_, _, err := Claimable(s, at(10))
		assert.ErrorIs(t, err, presale.ErrNothingToClaim)
	})

	t.Run("claimed ahead of vested clamps to zero", func(t *testing.T) {
		s := scheduleB()
		s.ClaimedAmount = 800
		q, err := Preview(s, at(10))
		require.NoError(t, err)
		assert.Zero(t, q.Claimable)
		assert.Equal(t, uint64(800), q.NewClaimed)

		_, _, err = Claimable(s, at(10))
		assert.ErrorIs(t, err, presale.ErrNothingToClaim)
	})
}

func TestClaimable_Monotonic(t *testing.T) {
	s := domain.VestingSchedule{
		StartTimestamp:  start,
		DailyReleaseBps: 333,
		TotalDays:       31,
		TotalAmount:     987_654_321_987,
	}

	var prev uint64
	for h := int64(0); h <= 40*24; h += 5 {
		q, err := Preview(s, start+h*3600)
		require.NoError(t, err)
		require.GreaterOrEqual(t, q.Claimable, prev, "hour %d", h)
		prev = q.Claimable
	}
	assert.Equal(t, s.TotalAmount, prev)
}

func TestClaim_FullVestingLeavesNoDust(t *testing.T) {
	rec := &domain.ContributorRecord{
		ClaimableTokens: 1_000_003,
		VestingStartTS:  start,
		DailyReleaseBps: 333,
		VestingDays:     30,
	}

	var total uint64
	for _, day := range []int64{1, 7, 7, 15, 29, 30, 45} {
		got, err := Claim(rec, at(day))
		if err != nil {
			require.ErrorIs(t, err, presale.ErrNothingToClaim)
			continue
		}
		total += got
		entitlement, err := rec.Entitlement()
		require.NoError(t, err)
		require.Equal(t, uint64(1_000_003), entitlement)
	}

	assert.Equal(t, uint64(1_000_003), total)
	assert.Equal(t, uint64(1_000_003), rec.ClaimedTokens)
	assert.Zero(t, rec.ClaimableTokens)
	assert.Equal(t, at(30), rec.LastClaimAt)
}

func TestClaim_FastScheduleCapsAtTotal(t *testing.T) {
	rec := &domain.ContributorRecord{
		ClaimableTokens: 100,
		VestingStartTS:  start,
		DailyReleaseBps: 5000,
		VestingDays:     10,
	}

	got, err := Claim(rec, at(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)
}

func TestClaim_ErrorLeavesRecordUnchanged(t *testing.T) {
	rec := &domain.ContributorRecord{
		ClaimableTokens: 1000,
		VestingStartTS:  start,
		CliffSeconds:    SecondsPerDay,
		DailyReleaseBps: 500,
		VestingDays:     20,
	}
	before := rec.Clone()

	_, err := Claim(rec, start+60)
	require.ErrorIs(t, err, presale.ErrCliffNotReached)
	assert.Equal(t, before, rec)
}

func TestInitializeSchedule(t *testing.T) {
	params := Params{TotalAmount: 1000, StartTimestamp: start, CliffSeconds: 3600, DailyReleaseBps: 1000, TotalDays: 10}

	t.Run("grant-only record", func(t *testing.T) {
		rec := domain.NewContributorRecord("s1", domaintest.Carol)
		require.NoError(t, InitializeSchedule(rec, params, 42))
		assert.Equal(t, uint64(1000), rec.ClaimableTokens)
		assert.Equal(t, start, rec.VestingStartTS)
		assert.Equal(t, uint64(3600), rec.CliffSeconds)
		assert.Equal(t, uint64(10), rec.VestingDays)
		assert.Equal(t, int64(42), rec.CreatedAt)
	})

	t.Run("must match entitlement", func(t *testing.T) {
		rec := domain.NewContributorRecord("s1", domaintest.Carol)
		rec.ClaimableTokens = 999
		rec.Payments = []domain.Payment{{Asset: domain.NativeAsset(), Amount: 1}}
		assert.ErrorIs(t, InitializeSchedule(rec, params, 42), presale.ErrInvalidConfig)
	})

	t.Run("bps out of range", func(t *testing.T) {
		p := params
		p.DailyReleaseBps = 10_001
		assert.ErrorIs(t, InitializeSchedule(domain.NewContributorRecord("s1", domaintest.Carol), p, 42), presale.ErrInvalidConfig)
	})

	t.Run("zero length schedule", func(t *testing.T) {
		p := params
		p.TotalDays = 0
		p.StartTimestamp = start + 30*SecondsPerDay
		rec := domain.NewContributorRecord("s1", domaintest.Carol)
		assert.ErrorIs(t, InitializeSchedule(rec, p, 42), presale.ErrInvalidConfig)
		assert.False(t, rec.HasVesting())
	})

	t.Run("already claimed", func(t *testing.T) {
		rec := domain.NewContributorRecord("s1", domaintest.Carol)
		rec.ClaimedTokens = 1
		assert.ErrorIs(t, InitializeSchedule(rec, params, 42), presale.ErrAlreadyClaimed)
	})
}
