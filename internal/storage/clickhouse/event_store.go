package clickhouse

import (
	"context"
	"fmt"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
// sale_events is a ReplacingMergeTree keyed by event_id, so re-appended
// events collapse; reads use FINAL.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds events in one batch.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e.EventID == "" || e.SaleID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO sale_events (
			event_id, sale_id, kind, contributor, asset, phase,
			usd_value, tokens, amount, fee, total_raised_usd, total_sold,
			lp_eligible, attestation_id, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		var lpEligible uint8
		if e.LPEligible {
			lpEligible = 1
		}
		err = batch.Append(
			e.EventID, e.SaleID, string(e.Kind), e.Contributor, e.Asset, e.Phase,
			e.USDValue, e.Tokens, e.Amount, e.Fee, e.TotalRaisedUSD, e.TotalSold,
			lpEligible, e.AttestationID, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListBySale returns the events of a sale ordered by timestamp ASC.
func (s *EventStore) ListBySale(ctx context.Context, saleID string) ([]domain.Event, error) {
	query := `
		SELECT event_id, sale_id, kind, contributor, asset, phase,
			usd_value, tokens, amount, fee, total_raised_usd, total_sold,
			lp_eligible, attestation_id, timestamp
		FROM sale_events FINAL
		WHERE sale_id = ?
		ORDER BY timestamp ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("query events by sale: %w", err)
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var (
			e          domain.Event
			kind       string
			lpEligible uint8
		)
		if err := rows.Scan(
			&e.EventID, &e.SaleID, &kind, &e.Contributor, &e.Asset, &e.Phase,
			&e.USDValue, &e.Tokens, &e.Amount, &e.Fee, &e.TotalRaisedUSD, &e.TotalSold,
			&lpEligible, &e.AttestationID, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.LPEligible = lpEligible == 1
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
