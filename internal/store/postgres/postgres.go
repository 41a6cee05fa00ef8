// Package postgres stores tariffs, shipments and carrier invoices in
// PostgreSQL through pgx. Money columns are NUMERIC and scanned straight
// into decimal values.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/store"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) ActiveRates(ctx context.Context, mode tariff.TransportMode) ([]rate.Rate, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, code, rate_type, base_rate, min_charge, currency,
               COALESCE(transport_mode, ''),
               COALESCE(origin_country, ''), COALESCE(origin_zone, ''),
               COALESCE(destination_country, ''), COALESCE(destination_zone, ''),
               min_weight, max_weight, min_volume, max_volume, min_distance, max_distance,
               priority, effective_date, expiry_date, is_active,
               COALESCE(contract_id, ''), COALESCE(partner_id, '')
        FROM rates
        WHERE is_active
          AND (transport_mode IS NULL OR transport_mode IN ('', 'multimodal') OR transport_mode = $1)
        ORDER BY id`, string(mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rate.Rate{}
	for rows.Next() {
		var r rate.Rate
		if err := rows.Scan(
			&r.ID, &r.Code, &r.Type, &r.BaseRate, &r.MinCharge, &r.Currency,
			&r.Mode,
			&r.Origin.Country, &r.Origin.Zone,
			&r.Destination.Country, &r.Destination.Zone,
			&r.Weight.Min, &r.Weight.Max, &r.Volume.Min, &r.Volume.Max, &r.Distance.Min, &r.Distance.Max,
			&r.Priority, &r.Validity.Effective, &r.Validity.Expiry, &r.Active,
			&r.ContractID, &r.PartnerID,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ActiveSurcharges(ctx context.Context) ([]surcharge.Surcharge, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, code, name, surcharge_type, calculation_method, value,
               COALESCE(transport_mode, ''),
               COALESCE(origin_country, ''), COALESCE(origin_zone, ''),
               COALESCE(destination_country, ''), COALESCE(destination_zone, ''),
               min_weight, max_weight, min_volume, max_volume,
               weekdays, hours_from, hours_to,
               is_mandatory, is_active, effective_date, expiry_date,
               COALESCE(rate_id, 0), COALESCE(contract_id, ''), COALESCE(partner_id, ''),
               fuel_base_price, fuel_threshold
        FROM surcharges
        WHERE is_active
        ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []surcharge.Surcharge{}
	for rows.Next() {
		var (
			sc       surcharge.Surcharge
			days     []int32
			from, to *string
		)
		if err := rows.Scan(
			&sc.ID, &sc.Code, &sc.Name, &sc.Type, &sc.Method, &sc.Value,
			&sc.Mode,
			&sc.Origin.Country, &sc.Origin.Zone,
			&sc.Destination.Country, &sc.Destination.Zone,
			&sc.Weight.Min, &sc.Weight.Max, &sc.Volume.Min, &sc.Volume.Max,
			&days, &from, &to,
			&sc.Mandatory, &sc.Active, &sc.Validity.Effective, &sc.Validity.Expiry,
			&sc.RateID, &sc.ContractID, &sc.PartnerID,
			&sc.FuelBasePrice, &sc.FuelThreshold,
		); err != nil {
			return nil, err
		}
		for _, d := range days {
			sc.Weekdays = append(sc.Weekdays, time.Weekday(d))
		}
		if from != nil && to != nil {
			f, err := tariff.ParseClock(*from)
			if err != nil {
				return nil, fmt.Errorf("surcharge %d: %w", sc.ID, err)
			}
			t, err := tariff.ParseClock(*to)
			if err != nil {
				return nil, fmt.Errorf("surcharge %d: %w", sc.ID, err)
			}
			sc.Hours = &tariff.ClockWindow{From: f, To: t}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) FuelPrice(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.db.QueryRow(ctx, `
        SELECT price FROM fuel_prices
        WHERE effective_date <= $1::date
        ORDER BY effective_date DESC
        LIMIT 1`, tariff.DateOnly(at)).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, surcharge.ErrNoFuelPrice
	}
	return price, err
}

func (s *Store) ActiveRules(ctx context.Context, scope pricingrule.Scope) ([]pricingrule.Rule, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, name, COALESCE(scope, ''), priority, is_active, effective_date, expiry_date,
               conditions, actions, usage_count, last_used_at
        FROM pricing_rules
        WHERE is_active
          AND ($1::text = '' OR scope IS NULL OR scope = '' OR scope = $1::text)
        ORDER BY id`, string(scope))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []pricingrule.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Rule(ctx context.Context, id int64) (pricingrule.Rule, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, name, COALESCE(scope, ''), priority, is_active, effective_date, expiry_date,
               conditions, actions, usage_count, last_used_at
        FROM pricing_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	return r, notFound(err)
}

func scanRule(row pgx.Row) (pricingrule.Rule, error) {
	var (
		r                   pricingrule.Rule
		conditions, actions []byte
	)
	if err := row.Scan(
		&r.ID, &r.Name, &r.Scope, &r.Priority, &r.Active, &r.Validity.Effective, &r.Validity.Expiry,
		&conditions, &actions, &r.UsageCount, &r.LastUsedAt,
	); err != nil {
		return pricingrule.Rule{}, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return pricingrule.Rule{}, fmt.Errorf("pricing rule %d conditions: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return pricingrule.Rule{}, fmt.Errorf("pricing rule %d actions: %w", r.ID, err)
	}
	return r, nil
}

// RecordUsage increments the counter in a single statement so concurrent
// evaluations never lose an update.
func (s *Store) RecordUsage(ctx context.Context, ruleID int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE pricing_rules
        SET usage_count = usage_count + 1,
            last_used_at = GREATEST(COALESCE(last_used_at, $2), $2)
        WHERE id = $1`, ruleID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Contract(ctx context.Context, id string) (costing.Contract, error) {
	var c costing.Contract
	err := s.db.QueryRow(ctx, `
        SELECT id, COALESCE(partner_id, ''), name, currency, is_active, effective_date, expiry_date
        FROM contracts WHERE id = $1`, id).Scan(
		&c.ID, &c.PartnerID, &c.Name, &c.Currency, &c.Active, &c.Validity.Effective, &c.Validity.Expiry,
	)
	if err != nil {
		return costing.Contract{}, notFound(err)
	}

	rows, err := s.db.Query(ctx, `
        SELECT id, description, rate_type, rate, min_charge,
               COALESCE(transport_mode, ''),
               COALESCE(origin_country, ''), COALESCE(origin_zone, ''),
               COALESCE(destination_country, ''), COALESCE(destination_zone, ''),
               min_weight, max_weight, min_volume, max_volume, min_distance, max_distance,
               effective_date, expiry_date, is_active
        FROM contract_lines
        WHERE contract_id = $1
        ORDER BY id`, id)
	if err != nil {
		return costing.Contract{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l costing.ContractLine
		if err := rows.Scan(
			&l.ID, &l.Description, &l.RateType, &l.Rate, &l.MinCharge,
			&l.Mode,
			&l.Origin.Country, &l.Origin.Zone,
			&l.Destination.Country, &l.Destination.Zone,
			&l.Weight.Min, &l.Weight.Max, &l.Volume.Min, &l.Volume.Max, &l.Distance.Min, &l.Distance.Max,
			&l.Validity.Effective, &l.Validity.Expiry, &l.Active,
		); err != nil {
			return costing.Contract{}, err
		}
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

const paramColumns = `transport_mode, origin_country, COALESCE(origin_zone, ''),
               destination_country, COALESCE(destination_zone, ''),
               weight, volume, distance, hours, pallet_count, container_count, declared_value,
               ship_date, COALESCE(partner_id, ''), COALESCE(contract_id, '')`

func paramTargets(p *tariff.ShipmentParams) []any {
	return []any{
		&p.Mode, &p.Origin.Country, &p.Origin.Zone,
		&p.Destination.Country, &p.Destination.Zone,
		&p.Weight, &p.Volume, &p.Distance, &p.Hours, &p.Pallets, &p.Containers, &p.DeclaredValue,
		&p.ShipDate, &p.PartnerID, &p.ContractID,
	}
}

func (s *Store) Shipment(ctx context.Context, id string) (costing.Shipment, error) {
	sh := costing.Shipment{}
	targets := append([]any{&sh.ID, &sh.OrderID}, paramTargets(&sh.Params)...)
	err := s.db.QueryRow(ctx, `
        SELECT id, COALESCE(order_id, ''), `+paramColumns+`
        FROM shipments WHERE id = $1`, id).Scan(targets...)
	if err != nil {
		return costing.Shipment{}, notFound(err)
	}

	rows, err := s.db.Query(ctx, `
        SELECT id, sequence, `+paramColumns+`
        FROM shipment_segments
        WHERE shipment_id = $1
        ORDER BY sequence`, id)
	if err != nil {
		return costing.Shipment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var seg costing.Segment
		if err := rows.Scan(append([]any{&seg.ID, &seg.Sequence}, paramTargets(&seg.Params)...)...); err != nil {
			return costing.Shipment{}, err
		}
		sh.Segments = append(sh.Segments, seg)
	}
	return sh, rows.Err()
}

func (s *Store) Order(ctx context.Context, id string) (costing.Order, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return costing.Order{}, err
	}
	if !exists {
		return costing.Order{}, store.ErrNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT id FROM shipments WHERE order_id = $1 ORDER BY ship_date, id`, id)
	if err != nil {
		return costing.Order{}, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return costing.Order{}, err
	}
	return costing.Order{ID: id, ShipmentIDs: ids}, nil
}
