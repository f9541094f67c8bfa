package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/observability"
	"presale-ledger/internal/presale"
)

// Scheduler periodically finalizes sales whose end time has passed and
// refreshes the per-sale gauges.
type Scheduler struct {
	svc  *Service
	cron *cron.Cron
	log  logrus.FieldLogger
}

// NewScheduler creates a Scheduler running on spec, a cron expression with
// seconds or a descriptor such as "@every 1m".
func NewScheduler(svc *Service, spec string, logger logrus.FieldLogger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		svc:  svc,
		cron: cron.New(cron.WithSeconds()),
		log:  logger.WithField("component", "sale_scheduler"),
	}
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Error("Scheduler pass failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid finalize schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running pass to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce finalizes every expired active sale and returns how many were
// finalized. A sale finalized concurrently by its authority is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	sales, err := s.svc.Sales(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sales: %w", err)
	}

	now := s.svc.now().Unix()
	finalized := 0
	var errs []error

	for _, sale := range sales {
		if expired(sale, now) {
			status, err := s.svc.Finalize(ctx, sale.Config.SaleID, sale.Config.Authority)
			switch {
			case err == nil:
				finalized++
				s.log.WithFields(logrus.Fields{
					"sale":   sale.Config.SaleID,
					"status": status,
				}).Info("Sale auto-finalized at end time")
			case errors.Is(err, presale.ErrPresaleFinalized), errors.Is(err, presale.ErrPresaleNotActive):
				// finalized by the authority since the listing
			default:
				errs = append(errs, fmt.Errorf("finalize %s: %w", sale.Config.SaleID, err))
			}
		}
		observability.UpdateSaleGauges(sale.Config.SaleID, sale.State.TotalRaisedUSD, sale.State.SoldTokens, sale.State.Contributors)
	}

	observability.RecordSchedulerRun(time.Now().Unix())
	return finalized, errors.Join(errs...)
}

func expired(sale *domain.Sale, now int64) bool {
	return sale.Config.EndTime > 0 && now >= sale.Config.EndTime && !sale.State.IsFinalized && sale.State.IsActive
}
