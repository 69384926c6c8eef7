package ledger

import (
	"context"
	"database/sql"
	"errors"

	"ledgersync/pkg/models"
)

// BatchResult describes a committed (or skipped) batch.
type BatchResult struct {
	Period  *models.InvoicePeriod // Nil when skipped
	Saved   int
	Skipped bool

	Subtotal int64 // Sum over the saved notes
	Tax      int64

	PreviousSubtotal int64 // Amounts held by notes the batch replaced
	PreviousTax      int64
}

// Delta is the net change the batch applied to the period's aggregate.
func (r *BatchResult) Delta() models.Amounts {
	return models.Amounts{
		Subtotal: r.Subtotal - r.PreviousSubtotal,
		Tax:      r.Tax - r.PreviousTax,
	}
}

// SaveBatch writes every note for one period and company in a single
// transaction. A non-empty token is checked and recorded inside that same
// transaction: a token that is already recorded makes the call a no-op
// reporting Skipped. Any failure rolls the whole batch back.
//
// lookup decides whether company may resolve to a differently spelled
// period already stored.
//
// Repeated reference numbers are upserts, never errors.
func (s *Store) SaveBatch(ctx context.Context, period models.Period, company string, notes []models.Note, token string, lookup Lookup) (*BatchResult, error) {
	const op = "SaveBatch"

	log := s.log.With().
		Str("period", period.String()).
		Str("company", company).
		Str("request_token", token).
		Stringer("lookup", lookup).
		Logger()

	result := &BatchResult{}
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		if token != "" {
			recorded, err := tokenRecorded(ctx, tx, token)
			if err != nil {
				return NewStorageError(op, err, "check request token")
			}
			if recorded {
				result.Skipped = true
				return errSkip
			}
		}

		ip, err := s.resolveOrCreatePeriod(ctx, tx, period, company, lookup)
		if err != nil {
			return err
		}
		result.Period = ip

		for _, note := range notes {
			saved, replaced, err := s.upsertNote(ctx, tx, ip.ID, note)
			if err != nil {
				return err
			}
			result.Saved++
			result.Subtotal += saved.Subtotal
			result.Tax += saved.Tax
			if replaced != nil {
				result.PreviousSubtotal += replaced.Subtotal
				result.PreviousTax += replaced.Tax
			}
		}

		if err := s.touchPeriod(ctx, tx, ip.ID); err != nil {
			return err
		}

		if token != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO idempotency_tokens (token, period, company, note_count, created_at) VALUES (?, ?, ?, ?, ?)`,
				token, period.String(), ip.Company, len(notes), s.now()); err != nil {
				if isUniqueViolation(err) {
					result.Skipped = true
					return errSkip
				}
				return NewStorageError(op, err, "record request token")
			}
		}
		return nil
	})

	if errors.Is(err, errSkip) {
		log.Info().
			Err(ErrDuplicateSubmission).
			Msg("Batch skipped")
		return &BatchResult{Skipped: true}, nil
	}
	if err != nil {
		log.Error().
			Err(err).
			Int("notes", len(notes)).
			Msg("Batch rolled back")
		return nil, WrapStorageError(op, err, "")
	}

	log.Info().
		Int("saved", result.Saved).
		Int64("subtotal", result.Subtotal).
		Int64("tax", result.Tax).
		Str("resolved_company", result.Period.Company).
		Msg("Batch committed")
	return result, nil
}

// IsTokenRecorded reports whether token belongs to an already committed
// batch. It is a read-only fast path; SaveBatch repeats the check inside
// its own transaction.
func (s *Store) IsTokenRecorded(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	recorded, err := tokenRecorded(ctx, s.db, token)
	if err != nil {
		return false, NewStorageError("IsTokenRecorded", err, "")
	}
	return recorded, nil
}

// errSkip aborts a batch transaction without reporting a failure.
var errSkip = errors.New("ledger: batch skipped")

func tokenRecorded(ctx context.Context, q querier, token string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_tokens WHERE token = ?`, token).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
