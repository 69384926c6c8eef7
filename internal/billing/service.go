// Package billing orchestrates batch saves: it validates requests, resolves
// the canonical company, guards against re-uploaded slips, commits to the
// ledger store and then mirrors the amounts into the external ledger.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ledgersync/internal/ledger"
	"ledgersync/internal/logger"
	"ledgersync/pkg/models"
	"ledgersync/pkg/services"
)

// Store is the part of the ledger store the service writes through.
type Store interface {
	IsTokenRecorded(ctx context.Context, token string) (bool, error)
	FindExistingSlipNumbers(ctx context.Context, period models.Period, company string, refs []string, lookup ledger.Lookup) ([]models.Note, error)
	SaveBatch(ctx context.Context, period models.Period, company string, notes []models.Note, token string, lookup ledger.Lookup) (*ledger.BatchResult, error)
	UpdateNoteAmounts(ctx context.Context, id int64, subtotal, tax, total int64) (*models.Note, error)
	NoteLocation(ctx context.Context, id int64) (*models.InvoicePeriod, error)
	DeletePeriod(ctx context.Context, period models.Period, company string) error
}

// Mirror is the external ledger plus canonical name lookup.
type Mirror interface {
	services.ExternalLedger
	CanonicalName(ctx context.Context, company string, period models.Period) (string, bool, error)
}

// Options configures a Service.
type Options struct {
	// RequireResolvedIdentity rejects saves for companies the mirror does
	// not know, unless the request sets AllowUnresolved.
	RequireResolvedIdentity bool
}

// Service runs batch saves and note edits.
type Service struct {
	store  Store
	mirror Mirror
	opts   Options
	log    zerolog.Logger
}

// NewService creates a Service. mirror may be nil, in which case names are
// stored as given and nothing is mirrored.
func NewService(store Store, mirror Mirror, opts Options) *Service {
	return &Service{
		store:  store,
		mirror: mirror,
		opts:   opts,
		log:    logger.WithComponent("billing"),
	}
}

// SaveBatch saves one request. The response reports exactly one outcome:
// saved, skipped as already processed, or rejected as a slip conflict.
// Mirror failures never fail the call; they come back as warnings.
func (s *Service) SaveBatch(ctx context.Context, req models.BatchRequest) (*models.BatchResponse, error) {
	const op = "SaveBatch"

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	log := s.log.With().
		Str("company", req.Company).
		Str("period", req.Period.String()).
		Str("request_token", req.RequestToken).
		Int("notes", len(req.Notes)).
		Logger()

	resp := &models.BatchResponse{
		Company: req.Company,
		Period:  req.Period,
	}

	if req.RequestToken != "" {
		recorded, err := s.store.IsTokenRecorded(ctx, req.RequestToken)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if recorded {
			log.Info().Msg("Request token already processed, skipping")
			resp.Skipped = true
			return resp, nil
		}
	}

	company, lookup, err := s.resolveCompany(ctx, req, resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp.Company = company

	if !req.ForceOverwrite {
		refs := make([]string, len(req.Notes))
		for i, n := range req.Notes {
			refs[i] = n.ReferenceNumber
		}
		existing, err := s.store.FindExistingSlipNumbers(ctx, req.Period, company, refs, lookup)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(existing) > 0 {
			log.Warn().
				Int("conflicts", len(existing)).
				Msg("Slip numbers already stored, confirmation required")
			resp.DuplicateConflict = true
			resp.ConflictingNotes = existing
			return resp, nil
		}
	}

	result, err := s.store.SaveBatch(ctx, req.Period, company, req.Notes, req.RequestToken, lookup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if result.Skipped {
		resp.Skipped = true
		return resp, nil
	}

	resp.Company = result.Period.Company
	resp.SavedCount = result.Saved

	delta := result.Delta()
	resp.Mirror = s.mirrorDelta(ctx, resp.Company, req.Period, delta, &resp.Warnings)

	log.Info().
		Str("resolved_company", resp.Company).
		Int("saved", resp.SavedCount).
		Int64("delta_subtotal", delta.Subtotal).
		Int64("delta_tax", delta.Tax).
		Int("warnings", len(resp.Warnings)).
		Msg("Batch saved")
	return resp, nil
}

// resolveCompany returns the mirror's spelling of the request's company. A
// name the mirror resolved is canonical and must be stored under exactly that
// spelling; any other name may still join a stored spelling variant.
func (s *Service) resolveCompany(ctx context.Context, req models.BatchRequest, resp *models.BatchResponse) (string, ledger.Lookup, error) {
	if s.mirror == nil {
		return req.Company, ledger.LookupFuzzy, nil
	}

	name, ok, err := s.mirror.CanonicalName(ctx, req.Company, req.Period)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("company", req.Company).
			Msg("Mirror lookup failed, using company name as given")
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("company lookup failed: %v", err))
		return req.Company, ledger.LookupFuzzy, nil
	}
	if ok {
		if name != req.Company {
			s.log.Info().
				Str("company", req.Company).
				Str("canonical", name).
				Msg("Company resolved")
		}
		return name, ledger.LookupExact, nil
	}

	if s.opts.RequireResolvedIdentity && !req.AllowUnresolved {
		return "", ledger.LookupFuzzy, fmt.Errorf("%w: %q", ErrIdentityNotResolved, req.Company)
	}

	s.log.Warn().
		Str("company", req.Company).
		Msg("Company not found in mirror, using name as given")
	resp.Warnings = append(resp.Warnings, fmt.Sprintf("%v: %q stored as given", ErrIdentityNotResolved, req.Company))
	return req.Company, ledger.LookupFuzzy, nil
}

// mirrorDelta moves the mirror by delta. Errors become warnings.
func (s *Service) mirrorDelta(ctx context.Context, company string, period models.Period, delta models.Amounts, warnings *[]string) *models.MirrorResult {
	if s.mirror == nil || (delta.Subtotal == 0 && delta.Tax == 0) {
		return nil
	}

	res, err := s.mirror.MirrorAmounts(ctx, company, period, delta.Subtotal, delta.Tax)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("company", company).
			Str("period", period.String()).
			Int64("subtotal", delta.Subtotal).
			Int64("tax", delta.Tax).
			Msg("Mirror sync failed, ledger store is committed; apply amounts manually or reconcile")
		*warnings = append(*warnings, fmt.Sprintf("mirror sync failed (add subtotal %d, tax %d to %s %s): %v",
			delta.Subtotal, delta.Tax, company, period.Label(), err))
		return nil
	}
	return res
}

// NoteUpdate reports an edit of a stored note.
type NoteUpdate struct {
	NoteID   int64                `json:"note_id"`
	Company  string               `json:"company"`
	Period   models.Period        `json:"period"`
	Previous models.Amounts       `json:"previous"`
	New      models.Amounts       `json:"new"`
	Mirror   *models.MirrorResult `json:"mirror,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// UpdateNote overwrites a note's amounts after human review and moves the
// mirror by the difference.
func (s *Service) UpdateNote(ctx context.Context, id int64, subtotal, tax, total int64) (*NoteUpdate, error) {
	const op = "UpdateNote"

	if err := validateAmounts(subtotal, tax, total); err != nil {
		return nil, err
	}

	loc, err := s.store.NoteLocation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	previous, err := s.store.UpdateNoteAmounts(ctx, id, subtotal, tax, total)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	upd := &NoteUpdate{
		NoteID:   id,
		Company:  loc.Company,
		Period:   loc.Period,
		Previous: models.Amounts{Subtotal: previous.Subtotal, Tax: previous.Tax},
		New:      models.Amounts{Subtotal: subtotal, Tax: tax},
	}
	delta := models.Amounts{
		Subtotal: subtotal - previous.Subtotal,
		Tax:      tax - previous.Tax,
	}
	upd.Mirror = s.mirrorDelta(ctx, loc.Company, loc.Period, delta, &upd.Warnings)
	return upd, nil
}

// ResetPeriod discards everything stored for a period and company so it can
// be reprocessed. The mirror is not touched.
func (s *Service) ResetPeriod(ctx context.Context, period models.Period, company string) error {
	const op = "ResetPeriod"

	if err := s.store.DeletePeriod(ctx, period, company); err != nil {
		if errors.Is(err, ledger.ErrPeriodNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Warn().
		Str("company", company).
		Str("period", period.String()).
		Msg("Period reset; mirror amounts were left unchanged")
	return nil
}
