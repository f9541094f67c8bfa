// Package sale runs presale operations as single store transactions:
// valuation, ledger, vesting and lifecycle transitions are applied to a
// locked sale, custody moves funds inside the same transaction, and events
// are published once the transaction commits.
package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"presale-ledger/internal/custody"
	"presale-ledger/internal/domain"
	"presale-ledger/internal/events"
	"presale-ledger/internal/idhash"
	"presale-ledger/internal/ledger"
	"presale-ledger/internal/lifecycle"
	"presale-ledger/internal/observability"
	"presale-ledger/internal/presale"
	"presale-ledger/internal/storage"
	"presale-ledger/internal/valuation"
	"presale-ledger/internal/vesting"
)

// DefaultNonceTTL is how long a consumed attestation nonce is remembered.
const DefaultNonceTTL = 30 * 24 * time.Hour

// Options configures a Service.
type Options struct {
	Store    storage.SaleStore  // required
	Custody  *custody.Custody   // required
	Events   events.Sink        // optional, defaults to events.Discard
	EventLog storage.EventStore // optional, backs Events()
	Nonces   storage.NonceStore // optional, enables attestation replay protection
	NonceTTL time.Duration
	Feed     valuation.FeedSource // optional, prices native payments
	Now      func() time.Time
	Logger   logrus.FieldLogger
}

// Service executes sale operations.
type Service struct {
	store    storage.SaleStore
	custody  *custody.Custody
	sink     events.Sink
	eventLog storage.EventStore
	nonces   storage.NonceStore
	nonceTTL time.Duration
	feed     valuation.FeedSource
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("sale: store is required")
	}
	if opts.Custody == nil {
		return nil, errors.New("sale: custody is required")
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = DefaultNonceTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		store:    opts.Store,
		custody:  opts.Custody,
		sink:     opts.Events,
		eventLog: opts.EventLog,
		nonces:   opts.Nonces,
		nonceTTL: opts.NonceTTL,
		feed:     opts.Feed,
		now:      opts.Now,
		log:      opts.Logger.WithField("component", "sale_service"),
	}, nil
}

// observe records latency and the error code of operation op.
func (s *Service) observe(op string, start time.Time, err error) {
	code := ""
	if err != nil {
		if code = presale.Code(err); code == "" {
			code = "Internal"
		}
	}
	observability.RecordOperation(op, time.Since(start).Seconds(), code)
}

// publish hands committed events to the sink. Failures are logged only.
func (s *Service) publish(ctx context.Context, evs []domain.Event) {
	if len(evs) == 0 {
		return
	}
	err := s.sink.Publish(ctx, evs)
	observability.RecordEventsPublished(len(evs), err)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"sale":   evs[0].SaleID,
			"events": len(evs),
		}).Warn("Failed to publish events")
	}
}

// contributor returns the record of pk or a fresh one.
func contributor(tx storage.SaleTx, saleID string, pk domain.PublicKey) (*domain.ContributorRecord, error) {
	rec, err := tx.Contributor(pk)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewContributorRecord(saleID, pk), nil
	}
	return rec, err
}

// CreateSale validates cfg and stores a new active sale.
func (s *Service) CreateSale(ctx context.Context, cfg domain.SaleConfig) (sale *domain.Sale, err error) {
	defer func(start time.Time) { s.observe("create_sale", start, err) }(time.Now())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	escrow, err := s.custody.Escrow(cfg.SaleID)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	cfg.Paused = false
	sale = &domain.Sale{
		Config:    cfg,
		State:     domain.NewSaleState(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, sale); err != nil {
		return nil, fmt.Errorf("create sale %s: %w", cfg.SaleID, err)
	}

	s.log.WithFields(logrus.Fields{
		"sale":   cfg.SaleID,
		"escrow": escrow.String(),
	}).Info("Sale created")
	return sale.Clone(), nil
}

// Sale returns a sale by id.
func (s *Service) Sale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.store.Get(ctx, saleID)
}

// Sales returns every sale.
func (s *Service) Sales(ctx context.Context) ([]*domain.Sale, error) {
	return s.store.List(ctx)
}

// Events returns the logged events of a sale.
func (s *Service) Events(ctx context.Context, saleID string) ([]domain.Event, error) {
	if s.eventLog == nil {
		return nil, errors.New("sale: event log is not configured")
	}
	if _, err := s.store.Get(ctx, saleID); err != nil {
		return nil, err
	}
	return s.eventLog.ListBySale(ctx, saleID)
}

// ContributeRequest is a payment offered to a sale.
type ContributeRequest struct {
	SaleID      string
	Contributor domain.PublicKey
	Asset       domain.Asset
	Amount      uint64
	Attestation *domain.Attestation
}

// ContributeResult describes an accepted contribution.
type ContributeResult struct {
	USDValue       uint64
	TokensReserved uint64
	Phase          domain.Phase
	Source         valuation.Source
	AttestationID  string
}

// Contribute values the payment, records it and collects the funds into
// escrow. Nothing is committed if any step fails.
func (s *Service) Contribute(ctx context.Context, req ContributeRequest) (res ContributeResult, err error) {
	defer func(start time.Time) { s.observe("contribute", start, err) }(time.Now())

	var record []byte
	if req.Asset.IsNative() {
		record = s.latestFeed(ctx, req.SaleID)
	}

	now := s.now().Unix()
	var evs []domain.Event

	err = s.store.Update(ctx, req.SaleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		cfg, state := &sale.Config, &sale.State

		if err := lifecycle.CheckAcceptingContributions(cfg, state); err != nil {
			return err
		}

		val, err := valuation.ValueContribution(valuation.Request{
			Contributor: req.Contributor,
			Amount:      req.Amount,
			Asset:       req.Asset,
			PriceFeed:   record,
			Attestation: req.Attestation,
		}, cfg.OracleAuthority, now)
		if err != nil {
			return err
		}

		rec, err := contributor(tx, cfg.SaleID, req.Contributor)
		if err != nil {
			return err
		}
		result, err := ledger.RecordContribution(cfg, state, rec, ledger.Contribution{
			Asset:    req.Asset,
			Amount:   req.Amount,
			USDValue: val.USDValue,
			Now:      now,
		})
		if err != nil {
			return err
		}

		var attestationID string
		if val.Attestation != nil {
			attestationID = idhash.ComputeAttestationID(cfg.OracleAuthority, req.Contributor, val.Attestation.Nonce, val.Attestation.USDValue)
			if err := s.consumeNonce(ctx, attestationID); err != nil {
				return err
			}
		}

		sale.UpdatedAt = now
		if err := tx.SaveSale(sale); err != nil {
			return err
		}
		if err := tx.SaveContributor(rec); err != nil {
			return err
		}
		if err := s.custody.Collect(ctx, cfg.SaleID, req.Contributor, req.Asset, req.Amount); err != nil {
			return err
		}

		res = ContributeResult{
			USDValue:       val.USDValue,
			TokensReserved: result.TokensReserved,
			Phase:          result.Phase,
			Source:         val.Source,
			AttestationID:  attestationID,
		}

		e := events.New(domain.EventContributionRecorded, cfg.SaleID, now)
		e.Contributor = req.Contributor.String()
		e.Asset = req.Asset.String()
		e.Amount = req.Amount
		e.USDValue = val.USDValue
		e.Tokens = result.TokensReserved
		e.Phase = result.Phase.String()
		e.TotalRaisedUSD = state.TotalRaisedUSD
		e.TotalSold = state.SoldTokens
		e.AttestationID = attestationID
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return ContributeResult{}, err
	}

	observability.RecordContribution(req.SaleID, res.Phase.String(), res.Source.String(), res.USDValue, res.TokensReserved)
	s.log.WithFields(logrus.Fields{
		"sale":        req.SaleID,
		"contributor": req.Contributor.String(),
		"usd":         res.USDValue,
		"tokens":      res.TokensReserved,
		"source":      res.Source,
	}).Info("Contribution recorded")

	s.publish(ctx, evs)
	return res, nil
}

// latestFeed reads the published price record. An unreachable feed is
// treated as absent so attested payments still go through.
func (s *Service) latestFeed(ctx context.Context, saleID string) []byte {
	if s.feed == nil {
		return nil
	}
	record, err := s.feed.Latest(ctx)
	if err != nil {
		s.log.WithError(err).WithField("sale", saleID).Warn("Price feed unavailable")
		return nil
	}
	return record
}

func (s *Service) consumeNonce(ctx context.Context, key string) error {
	if s.nonces == nil {
		return nil
	}
	fresh, err := s.nonces.Consume(ctx, key, s.nonceTTL)
	if err != nil {
		return fmt.Errorf("consume attestation nonce: %w", err)
	}
	if !fresh {
		observability.RecordReplayedAttestation()
		return presale.ErrAttestationReplayed
	}
	return nil
}

// ClaimResult describes a vesting claim.
type ClaimResult struct {
	Amount    uint64
	Claimed   uint64
	Remaining uint64
}

// Claim releases the contributor's vested tokens from escrow.
func (s *Service) Claim(ctx context.Context, saleID string, pk domain.PublicKey) (res ClaimResult, err error) {
	defer func(start time.Time) { s.observe("claim", start, err) }(time.Now())

	now := s.now().Unix()
	var evs []domain.Event

	err = s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		rec, err := tx.Contributor(pk)
		if errors.Is(err, storage.ErrNotFound) {
			return presale.ErrNoVesting
		}
		if err != nil {
			return err
		}

		amount, err := vesting.Claim(rec, now)
		if err != nil {
			return err
		}
		if err := tx.SaveContributor(rec); err != nil {
			return err
		}
		if err := s.custody.Release(ctx, &sale.Config, pk, amount); err != nil {
			return err
		}

		res = ClaimResult{Amount: amount, Claimed: rec.ClaimedTokens, Remaining: rec.ClaimableTokens}

		e := events.New(domain.EventVestingClaimed, saleID, now)
		e.Contributor = pk.String()
		e.Tokens = amount
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}

	observability.RecordClaim(saleID, res.Amount)
	s.log.WithFields(logrus.Fields{
		"sale":        saleID,
		"contributor": pk.String(),
		"amount":      res.Amount,
	}).Info("Vesting claimed")

	s.publish(ctx, evs)
	return res, nil
}

// Refund pays back a contributor of a failed sale and zeroes the paid-in
// share of the record.
func (s *Service) Refund(ctx context.Context, saleID string, pk domain.PublicKey) (res lifecycle.RefundResult, err error) {
	defer func(start time.Time) { s.observe("refund", start, err) }(time.Now())

	now := s.now().Unix()
	var evs []domain.Event

	err = s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		if !sale.State.IsFinalized || !sale.State.RefundEnabled {
			return presale.ErrRefundNotEnabled
		}
		rec, err := tx.Contributor(pk)
		if errors.Is(err, storage.ErrNotFound) {
			return presale.ErrNothingToRefund
		}
		if err != nil {
			return err
		}

		res, err = lifecycle.Refund(&sale.State, rec, now)
		if err != nil {
			return err
		}
		sale.UpdatedAt = now
		if err := tx.SaveSale(sale); err != nil {
			return err
		}
		if err := tx.SaveContributor(rec); err != nil {
			return err
		}
		if err := s.custody.Refund(ctx, saleID, pk, res.Payments); err != nil {
			return err
		}

		e := events.New(domain.EventRefundIssued, saleID, now)
		e.Contributor = pk.String()
		e.USDValue = res.USDValue
		e.Tokens = res.Tokens
		e.TotalRaisedUSD = sale.State.TotalRaisedUSD
		e.TotalSold = sale.State.SoldTokens
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return lifecycle.RefundResult{}, err
	}

	observability.RecordRefund(saleID)
	s.log.WithFields(logrus.Fields{
		"sale":        saleID,
		"contributor": pk.String(),
		"usd":         res.USDValue,
	}).Info("Refund issued")

	s.publish(ctx, evs)
	return res, nil
}

// Pause suspends contributions.
func (s *Service) Pause(ctx context.Context, saleID string, caller domain.PublicKey) (err error) {
	defer func(start time.Time) { s.observe("pause", start, err) }(time.Now())
	return s.setPaused(ctx, saleID, caller, true)
}

// Unpause resumes contributions.
func (s *Service) Unpause(ctx context.Context, saleID string, caller domain.PublicKey) (err error) {
	defer func(start time.Time) { s.observe("unpause", start, err) }(time.Now())
	return s.setPaused(ctx, saleID, caller, false)
}

func (s *Service) setPaused(ctx context.Context, saleID string, caller domain.PublicKey, paused bool) error {
	now := s.now().Unix()
	var evs []domain.Event

	err := s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		was := sale.Config.Paused

		var err error
		if paused {
			err = lifecycle.Pause(&sale.Config, &sale.State, caller)
		} else {
			err = lifecycle.Unpause(&sale.Config, &sale.State, caller)
		}
		if err != nil {
			return err
		}
		if was == paused {
			return nil
		}

		sale.UpdatedAt = now
		if err := tx.SaveSale(sale); err != nil {
			return err
		}
		kind := domain.EventSaleUnpaused
		if paused {
			kind = domain.EventSalePaused
		}
		evs = append(evs, events.New(kind, saleID, now))
		return nil
	})
	if err != nil {
		return err
	}

	if len(evs) > 0 {
		s.log.WithFields(logrus.Fields{"sale": saleID, "paused": paused}).Info("Sale pause flag changed")
	}
	s.publish(ctx, evs)
	return nil
}

// Finalize closes the sale in success or failure.
func (s *Service) Finalize(ctx context.Context, saleID string, caller domain.PublicKey) (status domain.SaleStatus, err error) {
	defer func(start time.Time) { s.observe("finalize", start, err) }(time.Now())

	now := s.now().Unix()
	var evs []domain.Event

	err = s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		status, err = lifecycle.Finalize(&sale.Config, &sale.State, caller)
		if err != nil {
			return err
		}
		sale.UpdatedAt = now
		if err := tx.SaveSale(sale); err != nil {
			return err
		}

		kind := domain.EventSaleSucceeded
		if status == domain.SaleStatusFailed {
			kind = domain.EventSaleFailed
		}
		e := events.New(kind, saleID, now)
		e.TotalRaisedUSD = sale.State.TotalRaisedUSD
		e.TotalSold = sale.State.SoldTokens
		e.LPEligible = lifecycle.LPEligible(&sale.Config, &sale.State)
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return "", err
	}

	observability.RecordSaleFinalized(status.String())
	s.log.WithFields(logrus.Fields{
		"sale":        saleID,
		"status":      status,
		"lp_eligible": evs[0].LPEligible,
	}).Info("Sale finalized")

	s.publish(ctx, evs)
	return status, nil
}

// SetPhase switches the allocation tier being sold.
func (s *Service) SetPhase(ctx context.Context, saleID string, caller domain.PublicKey, phase domain.Phase) (err error) {
	defer func(start time.Time) { s.observe("set_phase", start, err) }(time.Now())

	now := s.now().Unix()
	var evs []domain.Event

	err = s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		was := sale.State.Phase
		if err := lifecycle.SetPhase(&sale.Config, &sale.State, caller, phase); err != nil {
			return err
		}
		if was == phase {
			return nil
		}
		sale.UpdatedAt = now
		if err := tx.SaveSale(sale); err != nil {
			return err
		}
		e := events.New(domain.EventPhaseChanged, saleID, now)
		e.Phase = phase.String()
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, evs)
	return nil
}

// Withdraw sweeps raised funds from escrow to the treasury after success.
func (s *Service) Withdraw(ctx context.Context, saleID string, caller domain.PublicKey) (results []custody.SweepResult, err error) {
	defer func(start time.Time) { s.observe("withdraw", start, err) }(time.Now())

	now := s.now().Unix()
	var evs []domain.Event
	var sweepErr error

	err = s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		if err := lifecycle.CheckWithdraw(&sale.Config, &sale.State, caller); err != nil {
			return err
		}

		// Completed sweeps are final even if a later asset fails.
		results, sweepErr = s.custody.Sweep(ctx, &sale.Config)
		for _, r := range results {
			e := events.New(domain.EventFundsToTreasury, saleID, now)
			e.Asset = r.Asset.String()
			e.Amount = r.Treasury
			e.Fee = r.Fee
			evs = append(evs, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		observability.RecordWithdrawalFee(r.Asset.String(), r.Fee)
		s.log.WithFields(logrus.Fields{
			"sale":     saleID,
			"asset":    r.Asset.String(),
			"treasury": r.Treasury,
			"fee":      r.Fee,
		}).Info("Funds transferred to treasury")
	}
	s.publish(ctx, evs)
	if sweepErr != nil {
		return results, fmt.Errorf("withdraw stopped after %d assets: %w", len(results), sweepErr)
	}
	return results, nil
}

// InitializeVesting installs an explicit vesting schedule for pk.
func (s *Service) InitializeVesting(ctx context.Context, saleID string, caller, pk domain.PublicKey, p vesting.Params) (rec *domain.ContributorRecord, err error) {
	defer func(start time.Time) { s.observe("initialize_vesting", start, err) }(time.Now())

	now := s.now().Unix()
	var evs []domain.Event

	err = s.store.Update(ctx, saleID, func(tx storage.SaleTx) error {
		sale := tx.Sale()
		if err := lifecycle.Authorize(&sale.Config, caller); err != nil {
			return err
		}
		if pk.IsZero() {
			return fmt.Errorf("%w: contributor is required", presale.ErrInvalidConfig)
		}

		rec, err = contributor(tx, saleID, pk)
		if err != nil {
			return err
		}
		if err := vesting.InitializeSchedule(rec, p, now); err != nil {
			return err
		}
		if err := tx.SaveContributor(rec); err != nil {
			return err
		}

		e := events.New(domain.EventVestingInitialized, saleID, now)
		e.Contributor = pk.String()
		e.Tokens = p.TotalAmount
		evs = append(evs, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, evs)
	return rec, nil
}
