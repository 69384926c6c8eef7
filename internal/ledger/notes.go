package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ledgersync/pkg/models"
)

const noteColumns = `id, reference_number, note_date, tag, subtotal, tax, total, taxable, created_at, updated_at`

// UpsertNote writes a single note in its own transaction, creating the
// invoice period when needed. A note with the same reference number in the
// period is updated in place and its line items are replaced.
func (s *Store) UpsertNote(ctx context.Context, period models.Period, company string, note models.Note) (*models.Note, error) {
	const op = "UpsertNote"

	var saved *models.Note
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		ip, err := s.resolveOrCreatePeriod(ctx, tx, period, company, LookupFuzzy)
		if err != nil {
			return err
		}
		saved, _, err = s.upsertNote(ctx, tx, ip.ID, note)
		if err != nil {
			return err
		}
		return s.touchPeriod(ctx, tx, ip.ID)
	})
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	return saved, nil
}

// upsertNote returns the stored note and, when it replaced an existing one,
// the amounts it held before.
func (s *Store) upsertNote(ctx context.Context, q querier, periodID int64, note models.Note) (*models.Note, *models.Amounts, error) {
	const op = "upsertNote"

	now := s.now()

	var (
		existingID int64
		previous   models.Amounts
		createdAt  = now
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, subtotal, tax, created_at FROM notes WHERE period_id = ? AND reference_number = ?`,
		periodID, note.ReferenceNumber).Scan(&existingID, &previous.Subtotal, &previous.Tax, &createdAt)

	var replaced *models.Amounts
	switch {
	case err == nil:
		if _, err := q.ExecContext(ctx,
			`UPDATE notes SET note_date = ?, tag = ?, subtotal = ?, tax = ?, total = ?, taxable = ?, updated_at = ? WHERE id = ?`,
			note.Date, note.Tag, note.Subtotal, note.Tax, note.Total, note.Taxable, now, existingID); err != nil {
			return nil, nil, NewStorageError(op, err, "update note "+note.ReferenceNumber)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM line_items WHERE note_id = ?`, existingID); err != nil {
			return nil, nil, NewStorageError(op, err, "clear line items "+note.ReferenceNumber)
		}
		replaced = &previous
	case errors.Is(err, sql.ErrNoRows):
		res, err := q.ExecContext(ctx,
			`INSERT INTO notes (period_id, reference_number, note_date, tag, subtotal, tax, total, taxable, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			periodID, note.ReferenceNumber, note.Date, note.Tag, note.Subtotal, note.Tax, note.Total, note.Taxable, now, now)
		if err != nil {
			return nil, nil, NewStorageError(op, err, "insert note "+note.ReferenceNumber)
		}
		existingID, err = res.LastInsertId()
		if err != nil {
			return nil, nil, NewStorageError(op, err, "note id")
		}
	default:
		return nil, nil, NewStorageError(op, err, "lookup note "+note.ReferenceNumber)
	}

	for i, item := range note.LineItems {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO line_items (note_id, position, product_code, product_name, quantity, unit_price, amount)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			existingID, i, item.ProductCode, item.ProductName, item.Quantity, item.UnitPrice, item.Amount); err != nil {
			return nil, nil, NewStorageError(op, err, fmt.Sprintf("insert line item %d of %s", i, note.ReferenceNumber))
		}
	}

	saved := note
	saved.ID = existingID
	saved.CreatedAt = createdAt
	saved.UpdatedAt = now
	saved.LineItems = append([]models.LineItem(nil), note.LineItems...)
	return &saved, replaced, nil
}

// ListNotes returns the notes of a period in insertion order, filtered by tag
// when tag is non-empty. An unknown period yields an empty list.
func (s *Store) ListNotes(ctx context.Context, period models.Period, company, tag string) ([]models.Note, error) {
	const op = "ListNotes"

	ip, err := s.findPeriod(ctx, s.db, period, company, LookupFuzzy)
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	if ip == nil {
		return []models.Note{}, nil
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE period_id = ?`
	args := []any{ip.ID}
	if tag != "" {
		query += ` AND tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY id`

	notes, err := s.queryNotes(ctx, s.db, query, args...)
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	if err := s.loadLineItems(ctx, s.db, notes); err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	return notes, nil
}

// FindExistingSlipNumbers returns the stored notes of the period whose
// reference numbers appear in refs. It backs the pre-save duplicate guard and
// must use the same lookup as the SaveBatch it guards.
func (s *Store) FindExistingSlipNumbers(ctx context.Context, period models.Period, company string, refs []string, lookup Lookup) ([]models.Note, error) {
	const op = "FindExistingSlipNumbers"

	if len(refs) == 0 {
		return []models.Note{}, nil
	}

	ip, err := s.findPeriod(ctx, s.db, period, company, lookup)
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	if ip == nil {
		return []models.Note{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(refs)), ", ")
	args := make([]any, 0, len(refs)+1)
	args = append(args, ip.ID)
	for _, ref := range refs {
		args = append(args, ref)
	}

	notes, err := s.queryNotes(ctx, s.db,
		`SELECT `+noteColumns+` FROM notes WHERE period_id = ? AND reference_number IN (`+placeholders+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	return notes, nil
}

// GetNote returns one note with its line items.
func (s *Store) GetNote(ctx context.Context, id int64) (*models.Note, error) {
	const op = "GetNote"

	notes, err := s.queryNotes(ctx, s.db, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("%s: id %d: %w", op, id, ErrNoteNotFound)
	}
	if err := s.loadLineItems(ctx, s.db, notes); err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	return &notes[0], nil
}

// NoteLocation returns the period and company a note belongs to.
func (s *Store) NoteLocation(ctx context.Context, id int64) (*models.InvoicePeriod, error) {
	const op = "NoteLocation"

	ip, err := scanPeriod(s.db.QueryRowContext(ctx,
		`SELECT p.id, p.period, p.company, p.created_at, p.updated_at
		 FROM invoice_periods p JOIN notes n ON n.period_id = p.id WHERE n.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: id %d: %w", op, id, ErrNoteNotFound)
	}
	if err != nil {
		return nil, NewStorageError(op, err, "")
	}
	return ip, nil
}

// UpdateNoteAmounts overwrites the amounts of a stored note after human
// review and returns the note as it was before the edit.
func (s *Store) UpdateNoteAmounts(ctx context.Context, id int64, subtotal, tax, total int64) (*models.Note, error) {
	const op = "UpdateNoteAmounts"

	var previous *models.Note
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		notes, err := s.queryNotes(ctx, tx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			return fmt.Errorf("%s: id %d: %w", op, id, ErrNoteNotFound)
		}
		previous = &notes[0]

		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET subtotal = ?, tax = ?, total = ?, updated_at = ? WHERE id = ?`,
			subtotal, tax, total, s.now(), id); err != nil {
			return NewStorageError(op, err, "update amounts")
		}
		return nil
	})
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}

	s.log.Info().
		Int64("note_id", id).
		Int64("previous_subtotal", previous.Subtotal).
		Int64("subtotal", subtotal).
		Int64("previous_tax", previous.Tax).
		Int64("tax", tax).
		Msg("Note amounts updated")
	return previous, nil
}

func (s *Store) queryNotes(ctx context.Context, q querier, query string, args ...any) ([]models.Note, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("queryNotes", err, "")
	}
	defer rows.Close()

	notes := []models.Note{}
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.ReferenceNumber, &n.Date, &n.Tag,
			&n.Subtotal, &n.Tax, &n.Total, &n.Taxable, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, NewStorageError("queryNotes", err, "scan note")
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("queryNotes", err, "iterate notes")
	}
	return notes, nil
}

// loadLineItems fills LineItems of every note in position order.
func (s *Store) loadLineItems(ctx context.Context, q querier, notes []models.Note) error {
	for i := range notes {
		rows, err := q.QueryContext(ctx,
			`SELECT product_code, product_name, quantity, unit_price, amount FROM line_items WHERE note_id = ? ORDER BY position`,
			notes[i].ID)
		if err != nil {
			return NewStorageError("loadLineItems", err, "")
		}

		items := []models.LineItem{}
		for rows.Next() {
			var item models.LineItem
			if err := rows.Scan(&item.ProductCode, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Amount); err != nil {
				rows.Close()
				return NewStorageError("loadLineItems", err, "scan line item")
			}
			items = append(items, item)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return NewStorageError("loadLineItems", err, "iterate line items")
		}
		notes[i].LineItems = items
	}
	return nil
}
