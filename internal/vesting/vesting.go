// Package vesting computes linear token release with an optional cliff.
// Every result is a pure function of the persisted schedule and now.
package vesting

import (
	"fmt"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// SecondsPerDay is the length of one vesting day.
const SecondsPerDay = 86_400

// Quote is the vesting position at a point in time.
type Quote struct {
	ElapsedDays uint64
	Vested      uint64
	Claimable   uint64
	NewClaimed  uint64
}

// Vested returns how much of s.TotalAmount has unlocked at now, ignoring the cliff.
func Vested(s domain.VestingSchedule, now int64) (elapsedDays, vested uint64, err error) {
	if now > s.StartTimestamp {
		elapsedDays = uint64(now-s.StartTimestamp) / SecondsPerDay
	}
	if elapsedDays >= s.TotalDays {
		return s.TotalDays, s.TotalAmount, nil
	}

	// bps * days can exceed 100% when the schedule releases faster than its
	// nominal length.
	fraction, err := presale.CheckedMul(uint64(s.DailyReleaseBps), elapsedDays)
	if err != nil {
		return 0, 0, err
	}
	if fraction >= presale.BpsDenominator {
		return elapsedDays, s.TotalAmount, nil
	}
	vested, err = presale.MulDiv(s.TotalAmount, fraction, presale.BpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	return elapsedDays, vested, nil
}

// Preview computes the quote at now without the NothingToClaim check.
func Preview(s domain.VestingSchedule, now int64) (Quote, error) {
	if s.StartTimestamp == 0 {
		return Quote{}, presale.ErrNoVesting
	}
	if s.CliffSeconds > 0 {
		cliffEnd := s.StartTimestamp + int64(s.CliffSeconds)
		if cliffEnd < s.StartTimestamp || now < cliffEnd {
			return Quote{}, fmt.Errorf("%w: unlocks at %d", presale.ErrCliffNotReached, cliffEnd)
		}
	}

	days, vested, err := Vested(s, now)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{ElapsedDays: days, Vested: vested, NewClaimed: s.ClaimedAmount}
	if vested > s.ClaimedAmount {
		q.Claimable = vested - s.ClaimedAmount
		q.NewClaimed = vested
	}
	return q, nil
}

// Claimable returns the amount releasable at now and the claimed total after release.
func Claimable(s domain.VestingSchedule, now int64) (claimable, newClaimed uint64, err error) {
	q, err := Preview(s, now)
	if err != nil {
		return 0, 0, err
	}
	if q.Claimable == 0 {
		return 0, 0, presale.ErrNothingToClaim
	}
	return q.Claimable, q.NewClaimed, nil
}

// Claim releases the claimable amount of rec at now and returns it.
// rec is unchanged on error.
func Claim(rec *domain.ContributorRecord, now int64) (uint64, error) {
	s, err := rec.Schedule()
	if err != nil {
		return 0, err
	}
	amount, newClaimed, err := Claimable(s, now)
	if err != nil {
		return 0, err
	}
	remaining, err := presale.CheckedSub(rec.ClaimableTokens, amount)
	if err != nil {
		return 0, err
	}
	rec.ClaimableTokens = remaining
	rec.ClaimedTokens = newClaimed
	rec.LastClaimAt = now
	rec.UpdatedAt = now
	return amount, nil
}

// Params is an explicit schedule set by the sale authority.
type Params struct {
	TotalAmount     uint64
	StartTimestamp  int64
	CliffSeconds    uint64
	DailyReleaseBps uint16
	TotalDays       uint64
}

// InitializeSchedule installs p on rec. A record with paid contributions
// must be granted exactly its entitlement; a record without any becomes a
// grant of p.TotalAmount. Fails once anything has been claimed.
func InitializeSchedule(rec *domain.ContributorRecord, p Params, now int64) error {
	if p.DailyReleaseBps > presale.BpsDenominator {
		return fmt.Errorf("%w: daily release bps %d exceeds %d", presale.ErrInvalidConfig, p.DailyReleaseBps, presale.BpsDenominator)
	}
	if p.StartTimestamp <= 0 {
		return fmt.Errorf("%w: start timestamp must be positive", presale.ErrInvalidConfig)
	}
	if p.TotalAmount == 0 {
		return fmt.Errorf("%w: total amount must be positive", presale.ErrInvalidConfig)
	}
	if p.TotalDays == 0 {
		return fmt.Errorf("%w: total days must be positive", presale.ErrInvalidConfig)
	}
	if rec.ClaimedTokens > 0 {
		return presale.ErrAlreadyClaimed
	}
	if len(rec.Payments) > 0 && rec.ClaimableTokens != p.TotalAmount {
		return fmt.Errorf("%w: total %d differs from entitlement %d", presale.ErrInvalidConfig, p.TotalAmount, rec.ClaimableTokens)
	}

	rec.ClaimableTokens = p.TotalAmount
	rec.VestingStartTS = p.StartTimestamp
	rec.CliffSeconds = p.CliffSeconds
	rec.DailyReleaseBps = p.DailyReleaseBps
	rec.VestingDays = p.TotalDays
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return nil
}
