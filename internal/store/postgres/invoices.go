package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/store"
)

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) Invoice(ctx context.Context, id string) (invoicecontrol.Invoice, error) {
	var inv invoicecontrol.Invoice
	err := s.db.QueryRow(ctx, `
        SELECT id, invoice_number, carrier_id, COALESCE(contract_id, ''), currency, invoice_date,
               status, status_note, total_amount, expected_total, variance_percentage,
               validation_status, risk_level, received_at, controlled_at, updated_at
        FROM carrier_invoices WHERE id = $1`, id).Scan(
		&inv.ID, &inv.Number, &inv.CarrierID, &inv.ContractID, &inv.Currency, &inv.InvoiceDate,
		&inv.Status, &inv.StatusNote, &inv.TotalAmount, &inv.ExpectedTotal, &inv.VariancePercentage,
		&inv.ValidationStatus, &inv.RiskLevel, &inv.ReceivedAt, &inv.ControlledAt, &inv.UpdatedAt,
	)
	if err != nil {
		return invoicecontrol.Invoice{}, notFound(err)
	}

	rows, err := s.db.Query(ctx, `
        SELECT id, line_number, line_type, description,
               COALESCE(shipment_id, ''), COALESCE(segment_id, ''),
               COALESCE(rate_id, 0), COALESCE(contract_line_id, 0), COALESCE(surcharge_id, 0),
               quantity, unit_price, amount
        FROM carrier_invoice_lines
        WHERE invoice_id = $1
        ORDER BY line_number`, id)
	if err != nil {
		return invoicecontrol.Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l invoicecontrol.Line
		if err := rows.Scan(
			&l.ID, &l.Number, &l.Type, &l.Description,
			&l.ShipmentID, &l.SegmentID,
			&l.RateID, &l.ContractLineID, &l.SurchargeID,
			&l.Quantity, &l.UnitPrice, &l.Amount,
		); err != nil {
			return invoicecontrol.Invoice{}, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return invoicecontrol.Invoice{}, err
	}

	arows, err := s.db.Query(ctx, `
        SELECT id, line_id, line_number, anomaly_type, severity, description,
               expected_value, actual_value, variance, variance_percentage
        FROM invoice_anomalies
        WHERE invoice_id = $1
        ORDER BY line_number, id`, id)
	if err != nil {
		return invoicecontrol.Invoice{}, err
	}
	defer arows.Close()
	for arows.Next() {
		var a invoicecontrol.Anomaly
		if err := arows.Scan(
			&a.ID, &a.LineID, &a.LineNumber, &a.Type, &a.Severity, &a.Description,
			&a.Expected, &a.Actual, &a.Variance, &a.VariancePercentage,
		); err != nil {
			return invoicecontrol.Invoice{}, err
		}
		inv.Anomalies = append(inv.Anomalies, a)
	}
	return inv, arows.Err()
}

// CreateInvoice inserts the header and its lines in one transaction. A
// duplicate id or carrier invoice number is reported as store.ErrConflict.
func (s *Store) CreateInvoice(ctx context.Context, inv invoicecontrol.Invoice) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
        INSERT INTO carrier_invoices
            (id, invoice_number, carrier_id, contract_id, currency, invoice_date,
             status, status_note, total_amount, received_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID, inv.Number, inv.CarrierID, nullStr(inv.ContractID), inv.Currency, inv.InvoiceDate,
		string(inv.Status), inv.StatusNote, inv.TotalAmount, inv.ReceivedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range inv.Lines {
		batch.Queue(`
            INSERT INTO carrier_invoice_lines
                (id, invoice_id, line_number, line_type, description, shipment_id, segment_id,
                 rate_id, contract_line_id, surcharge_id, quantity, unit_price, amount)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			l.ID, inv.ID, l.Number, string(l.Type), l.Description, nullStr(l.ShipmentID), nullStr(l.SegmentID),
			nullID(l.RateID), nullID(l.ContractLineID), nullID(l.SurchargeID), l.Quantity, l.UnitPrice, l.Amount,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert invoice lines: %w", err)
	}
	return tx.Commit(ctx)
}

// TransitionStatus is a compare-and-set on the status column.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to invoicecontrol.Status, note string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE carrier_invoices
        SET status = $3,
            status_note = CASE WHEN $4::text = '' THEN status_note ELSE $4::text END,
            updated_at = $5
        WHERE id = $1 AND status = $2`,
		id, string(from), string(to), note, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM carrier_invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// SaveControl writes a control outcome and replaces the anomaly set in one
// transaction. The invoice row is locked and must still be in from.
func (s *Store) SaveControl(ctx context.Context, out invoicecontrol.Outcome, from invoicecontrol.Status) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM carrier_invoices WHERE id = $1 FOR UPDATE`, out.InvoiceID).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	if invoicecontrol.Status(status) != from {
		return store.ErrConflict
	}

	_, err = tx.Exec(ctx, `
        UPDATE carrier_invoices
        SET status = $2, validation_status = $3, risk_level = $4,
            expected_total = $5, variance_percentage = $6,
            controlled_at = $7, updated_at = $7
        WHERE id = $1`,
		out.InvoiceID, string(out.Status), string(out.ValidationStatus), string(out.RiskLevel),
		decimal.NewNullDecimal(out.ExpectedTotal), out.VariancePercentage, out.ControlledAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM invoice_anomalies WHERE invoice_id = $1`, out.InvoiceID); err != nil {
		return fmt.Errorf("clear anomalies: %w", err)
	}

	batch := &pgx.Batch{}
	for _, a := range out.Anomalies {
		batch.Queue(`
            INSERT INTO invoice_anomalies
                (id, invoice_id, line_id, line_number, anomaly_type, severity, description,
                 expected_value, actual_value, variance, variance_percentage)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, out.InvoiceID, a.LineID, a.LineNumber, string(a.Type), string(a.Severity), a.Description,
			a.Expected, a.Actual, a.Variance, a.VariancePercentage,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert anomalies: %w", err)
	}
	return tx.Commit(ctx)
}
