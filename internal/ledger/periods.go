package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledgersync/internal/identity"
	"ledgersync/pkg/models"
)

// Lookup selects how a company name finds its stored invoice period.
type Lookup int

const (
	// LookupFuzzy tries the exact name, then the identity matcher over the
	// companies stored for the period.
	LookupFuzzy Lookup = iota
	// LookupExact accepts the exact name only. Names already resolved to a
	// canonical spelling use it so that "Acme" and "Acme Division X" stay
	// separate periods.
	LookupExact
)

func (l Lookup) String() string {
	if l == LookupExact {
		return "exact"
	}
	return "fuzzy"
}

// FindPeriod looks up the invoice period for period and company. On an exact
// miss the identity matcher runs over every company stored for that period,
// so a differently spelled but resolvable name still finds its period.
func (s *Store) FindPeriod(ctx context.Context, period models.Period, company string) (*models.InvoicePeriod, error) {
	const op = "FindPeriod"

	ip, err := s.findPeriod(ctx, s.db, period, company, LookupFuzzy)
	if err != nil {
		return nil, WrapStorageError(op, err, "")
	}
	if ip == nil {
		return nil, fmt.Errorf("%s: %s %q: %w", op, period, company, ErrPeriodNotFound)
	}
	return ip, nil
}

// findPeriod returns nil without error when nothing matches.
func (s *Store) findPeriod(ctx context.Context, q querier, period models.Period, company string, lookup Lookup) (*models.InvoicePeriod, error) {
	const op = "findPeriod"

	ip, err := scanPeriod(q.QueryRowContext(ctx,
		`SELECT id, period, company, created_at, updated_at FROM invoice_periods WHERE period = ? AND company = ?`,
		period.String(), company))
	if err == nil {
		s.log.Debug().
			Str("period", period.String()).
			Str("company", company).
			Str("match", "exact").
			Msg("Invoice period resolved")
		return ip, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, NewStorageError(op, err, "exact lookup")
	}
	if lookup == LookupExact {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, period, company, created_at, updated_at FROM invoice_periods WHERE period = ? ORDER BY id`,
		period.String())
	if err != nil {
		return nil, NewStorageError(op, err, "fuzzy lookup")
	}
	defer rows.Close()

	var candidates []*models.InvoicePeriod
	for rows.Next() {
		c, err := scanPeriod(rows)
		if err != nil {
			return nil, NewStorageError(op, err, "scan period")
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(op, err, "iterate periods")
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Company
	}
	idx, ok := identity.MatchIndex(company, names)
	if !ok {
		return nil, nil
	}

	s.log.Info().
		Str("period", period.String()).
		Str("company", company).
		Str("resolved", candidates[idx].Company).
		Str("match", "fuzzy").
		Msg("Invoice period resolved")
	return candidates[idx], nil
}

// resolveOrCreatePeriod returns the matching period or inserts a new one
// under the given company spelling.
func (s *Store) resolveOrCreatePeriod(ctx context.Context, q querier, period models.Period, company string, lookup Lookup) (*models.InvoicePeriod, error) {
	const op = "resolveOrCreatePeriod"

	ip, err := s.findPeriod(ctx, q, period, company, lookup)
	if err != nil {
		return nil, err
	}
	if ip != nil {
		return ip, nil
	}

	now := s.now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO invoice_periods (period, company, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		period.String(), company, now, now)
	if err != nil {
		return nil, NewStorageError(op, err, "insert period")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, NewStorageError(op, err, "period id")
	}

	s.log.Info().
		Str("period", period.String()).
		Str("company", company).
		Int64("period_id", id).
		Msg("Invoice period created")

	return &models.InvoicePeriod{
		ID:        id,
		Period:    period,
		Company:   company,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Store) touchPeriod(ctx context.Context, q querier, id int64) error {
	if _, err := q.ExecContext(ctx, `UPDATE invoice_periods SET updated_at = ? WHERE id = ?`, s.now(), id); err != nil {
		return NewStorageError("touchPeriod", err, "")
	}
	return nil
}

// DeletePeriod removes the invoice period and, by cascade, every note and
// line item beneath it.
func (s *Store) DeletePeriod(ctx context.Context, period models.Period, company string) error {
	const op = "DeletePeriod"

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		ip, err := s.findPeriod(ctx, tx, period, company, LookupFuzzy)
		if err != nil {
			return err
		}
		if ip == nil {
			return fmt.Errorf("%s: %s %q: %w", op, period, company, ErrPeriodNotFound)
		}

		// Explicit deletes also cover connections without foreign key enforcement.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM line_items WHERE note_id IN (SELECT id FROM notes WHERE period_id = ?)`, ip.ID); err != nil {
			return NewStorageError(op, err, "delete line items")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE period_id = ?`, ip.ID); err != nil {
			return NewStorageError(op, err, "delete notes")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_periods WHERE id = ?`, ip.ID); err != nil {
			return NewStorageError(op, err, "delete period")
		}

		s.log.Info().
			Str("period", period.String()).
			Str("company", ip.Company).
			Int64("period_id", ip.ID).
			Msg("Invoice period deleted")
		return nil
	})
}

// Companies returns every distinct company with stored periods, sorted.
func (s *Store) Companies(ctx context.Context) ([]string, error) {
	return s.distinctStrings(ctx, "Companies",
		`SELECT DISTINCT company FROM invoice_periods ORDER BY company`)
}

// Tags returns the distinct non-empty note tags, optionally limited to one
// company (resolved like FindPeriod's fuzzy pass).
func (s *Store) Tags(ctx context.Context, company string) ([]string, error) {
	const op = "Tags"

	if company == "" {
		return s.distinctStrings(ctx, op,
			`SELECT DISTINCT tag FROM notes WHERE tag <> '' ORDER BY tag`)
	}

	companies, err := s.Companies(ctx)
	if err != nil {
		return nil, err
	}
	resolved, ok := identity.Match(company, companies)
	if !ok {
		return []string{}, nil
	}

	return s.distinctStrings(ctx, op,
		`SELECT DISTINCT n.tag FROM notes n
		 JOIN invoice_periods p ON p.id = n.period_id
		 WHERE p.company = ? AND n.tag <> '' ORDER BY n.tag`, resolved)
}

func (s *Store) distinctStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError(op, err, "")
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, NewStorageError(op, err, "scan")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(op, err, "iterate")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (*models.InvoicePeriod, error) {
	var (
		ip     models.InvoicePeriod
		period string
	)
	if err := row.Scan(&ip.ID, &period, &ip.Company, &ip.CreatedAt, &ip.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := models.ParsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("stored period %q: %w", period, err)
	}
	ip.Period = p
	return &ip, nil
}
