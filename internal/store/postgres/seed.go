package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

// The Put methods upsert reference data loaded from a tariff book.

func (s *Store) PutFuelPrice(ctx context.Context, at time.Time, price decimal.Decimal) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO fuel_prices (effective_date, price) VALUES ($1::date, $2)
        ON CONFLICT (effective_date) DO UPDATE SET price = EXCLUDED.price`,
		tariff.DateOnly(at), price)
	return err
}

func (s *Store) PutRate(ctx context.Context, r rate.Rate) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO rates
            (id, code, rate_type, base_rate, min_charge, currency, transport_mode,
             origin_country, origin_zone, destination_country, destination_zone,
             min_weight, max_weight, min_volume, max_volume, min_distance, max_distance,
             priority, effective_date, expiry_date, is_active, contract_id, partner_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
                $18, $19, $20, $21, $22, $23)
        ON CONFLICT (id) DO UPDATE SET
            code = EXCLUDED.code, rate_type = EXCLUDED.rate_type, base_rate = EXCLUDED.base_rate,
            min_charge = EXCLUDED.min_charge, currency = EXCLUDED.currency,
            transport_mode = EXCLUDED.transport_mode,
            origin_country = EXCLUDED.origin_country, origin_zone = EXCLUDED.origin_zone,
            destination_country = EXCLUDED.destination_country, destination_zone = EXCLUDED.destination_zone,
            min_weight = EXCLUDED.min_weight, max_weight = EXCLUDED.max_weight,
            min_volume = EXCLUDED.min_volume, max_volume = EXCLUDED.max_volume,
            min_distance = EXCLUDED.min_distance, max_distance = EXCLUDED.max_distance,
            priority = EXCLUDED.priority, effective_date = EXCLUDED.effective_date,
            expiry_date = EXCLUDED.expiry_date, is_active = EXCLUDED.is_active,
            contract_id = EXCLUDED.contract_id, partner_id = EXCLUDED.partner_id`,
		r.ID, r.Code, string(r.Type), r.BaseRate, r.MinCharge, r.Currency, nullStr(string(r.Mode)),
		nullStr(r.Origin.Country), nullStr(r.Origin.Zone), nullStr(r.Destination.Country), nullStr(r.Destination.Zone),
		r.Weight.Min, r.Weight.Max, r.Volume.Min, r.Volume.Max, r.Distance.Min, r.Distance.Max,
		r.Priority, r.Validity.Effective, r.Validity.Expiry, r.Active, nullStr(r.ContractID), nullStr(r.PartnerID),
	)
	return err
}

func (s *Store) PutSurcharge(ctx context.Context, sc surcharge.Surcharge) error {
	days := make([]int32, 0, len(sc.Weekdays))
	for _, d := range sc.Weekdays {
		days = append(days, int32(d))
	}
	var from, to *string
	if sc.Hours != nil {
		f, t := sc.Hours.From.String(), sc.Hours.To.String()
		from, to = &f, &t
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO surcharges
            (id, code, name, surcharge_type, calculation_method, value, transport_mode,
             origin_country, origin_zone, destination_country, destination_zone,
             min_weight, max_weight, min_volume, max_volume, weekdays, hours_from, hours_to,
             is_mandatory, is_active, effective_date, expiry_date, rate_id, contract_id, partner_id,
             fuel_base_price, fuel_threshold)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
                $19, $20, $21, $22, $23, $24, $25, $26, $27)
        ON CONFLICT (id) DO UPDATE SET
            code = EXCLUDED.code, name = EXCLUDED.name, surcharge_type = EXCLUDED.surcharge_type,
            calculation_method = EXCLUDED.calculation_method, value = EXCLUDED.value,
            transport_mode = EXCLUDED.transport_mode,
            origin_country = EXCLUDED.origin_country, origin_zone = EXCLUDED.origin_zone,
            destination_country = EXCLUDED.destination_country, destination_zone = EXCLUDED.destination_zone,
            min_weight = EXCLUDED.min_weight, max_weight = EXCLUDED.max_weight,
            min_volume = EXCLUDED.min_volume, max_volume = EXCLUDED.max_volume,
            weekdays = EXCLUDED.weekdays, hours_from = EXCLUDED.hours_from, hours_to = EXCLUDED.hours_to,
            is_mandatory = EXCLUDED.is_mandatory, is_active = EXCLUDED.is_active,
            effective_date = EXCLUDED.effective_date, expiry_date = EXCLUDED.expiry_date,
            rate_id = EXCLUDED.rate_id, contract_id = EXCLUDED.contract_id, partner_id = EXCLUDED.partner_id,
            fuel_base_price = EXCLUDED.fuel_base_price, fuel_threshold = EXCLUDED.fuel_threshold`,
		sc.ID, sc.Code, sc.Name, string(sc.Type), string(sc.Method), sc.Value, nullStr(string(sc.Mode)),
		nullStr(sc.Origin.Country), nullStr(sc.Origin.Zone), nullStr(sc.Destination.Country), nullStr(sc.Destination.Zone),
		sc.Weight.Min, sc.Weight.Max, sc.Volume.Min, sc.Volume.Max, days, from, to,
		sc.Mandatory, sc.Active, sc.Validity.Effective, sc.Validity.Expiry,
		nullID(sc.RateID), nullStr(sc.ContractID), nullStr(sc.PartnerID),
		sc.FuelBasePrice, sc.FuelThreshold,
	)
	return err
}

// PutRule upserts a rule definition. Usage counters already in the table
// are kept.
func (s *Store) PutRule(ctx context.Context, r pricingrule.Rule) error {
	conditions, err := json.Marshal(nonNil(r.Conditions))
	if err != nil {
		return err
	}
	actions, err := json.Marshal(nonNil(r.Actions))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO pricing_rules
            (id, name, scope, priority, is_active, effective_date, expiry_date, conditions, actions)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name, scope = EXCLUDED.scope, priority = EXCLUDED.priority,
            is_active = EXCLUDED.is_active, effective_date = EXCLUDED.effective_date,
            expiry_date = EXCLUDED.expiry_date, conditions = EXCLUDED.conditions,
            actions = EXCLUDED.actions`,
		r.ID, r.Name, nullStr(string(r.Scope)), r.Priority, r.Active, r.Validity.Effective, r.Validity.Expiry,
		string(conditions), string(actions),
	)
	return err
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// PutContract replaces a contract and all of its lines.
func (s *Store) PutContract(ctx context.Context, c costing.Contract) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
        INSERT INTO contracts (id, partner_id, name, currency, is_active, effective_date, expiry_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            partner_id = EXCLUDED.partner_id, name = EXCLUDED.name, currency = EXCLUDED.currency,
            is_active = EXCLUDED.is_active, effective_date = EXCLUDED.effective_date,
            expiry_date = EXCLUDED.expiry_date`,
		c.ID, nullStr(c.PartnerID), c.Name, c.Currency, c.Active, c.Validity.Effective, c.Validity.Expiry,
	)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM contract_lines WHERE contract_id = $1`, c.ID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range c.Lines {
		batch.Queue(`
            INSERT INTO contract_lines
                (id, contract_id, description, rate_type, rate, min_charge, transport_mode,
                 origin_country, origin_zone, destination_country, destination_zone,
                 min_weight, max_weight, min_volume, max_volume, min_distance, max_distance,
                 effective_date, expiry_date, is_active)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			l.ID, c.ID, l.Description, string(l.RateType), l.Rate, l.MinCharge, nullStr(string(l.Mode)),
			nullStr(l.Origin.Country), nullStr(l.Origin.Zone), nullStr(l.Destination.Country), nullStr(l.Destination.Zone),
			l.Weight.Min, l.Weight.Max, l.Volume.Min, l.Volume.Max, l.Distance.Min, l.Distance.Max,
			l.Validity.Effective, l.Validity.Expiry, l.Active,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func paramArgs(p tariff.ShipmentParams) []any {
	return []any{
		string(p.Mode), p.Origin.Country, nullStr(p.Origin.Zone),
		p.Destination.Country, nullStr(p.Destination.Zone),
		p.Weight, p.Volume, p.Distance, p.Hours, p.Pallets, p.Containers, p.DeclaredValue,
		p.ShipDate, nullStr(p.PartnerID), nullStr(p.ContractID),
	}
}

const paramInsertColumns = `transport_mode, origin_country, origin_zone, destination_country, destination_zone,
             weight, volume, distance, hours, pallet_count, container_count, declared_value,
             ship_date, partner_id, contract_id`

// PutShipment replaces a shipment and its segments.
func (s *Store) PutShipment(ctx context.Context, sh costing.Shipment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM shipments WHERE id = $1`, sh.ID); err != nil {
		return err
	}
	args := append([]any{sh.ID, nullStr(sh.OrderID)}, paramArgs(sh.Params)...)
	_, err = tx.Exec(ctx, `
        INSERT INTO shipments (id, order_id, `+paramInsertColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`, args...)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, seg := range sh.Segments {
		segArgs := append([]any{seg.ID, sh.ID, seg.Sequence}, paramArgs(seg.Params)...)
		batch.Queue(`
            INSERT INTO shipment_segments (id, shipment_id, sequence, `+paramInsertColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`, segArgs...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PutOrder registers an order. Membership lives on shipments.order_id.
func (s *Store) PutOrder(ctx context.Context, o costing.Order) error {
	_, err := s.db.Exec(ctx, `INSERT INTO orders (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, o.ID)
	return err
}
