package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ledgersync/internal/billing"
	"ledgersync/internal/config"
	"ledgersync/internal/ledger"
	"ledgersync/internal/mirror"
	"ledgersync/internal/reconciliation"
	"ledgersync/internal/sheets"
)

// app holds the collaborators a command needs for one invocation.
type app struct {
	cfg    *config.Config
	store  *ledger.Store
	mirror *mirror.Ledger // nil when no spreadsheet is configured
	log    zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	store, err := ledger.Open(ctx, cfg.LedgerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}

	a := &app{cfg: cfg, store: store, log: log}
	if !cfg.MirrorEnabled() {
		log.Debug().Msg("No billing spreadsheet configured, mirror disabled")
		return a, nil
	}

	svc, err := sheets.NewSheetsService(ctx, cfg.SheetsConfig())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	a.mirror = mirror.New(svc, cfg.MirrorOptions())
	return a, nil
}

func (a *app) requireMirror() (*mirror.Ledger, error) {
	if a.mirror == nil {
		return nil, fmt.Errorf("no billing spreadsheet configured, set MIRROR_SPREADSHEET_URL")
	}
	return a.mirror, nil
}

func (a *app) billing() *billing.Service {
	// A nil *mirror.Ledger must not reach the interface as a typed nil.
	if a.mirror == nil {
		return billing.NewService(a.store, nil, a.cfg.BillingOptions())
	}
	return billing.NewService(a.store, a.mirror, a.cfg.BillingOptions())
}

func (a *app) reconciler(opts reconciliation.Options) (*reconciliation.Reconciler, error) {
	m, err := a.requireMirror()
	if err != nil {
		return nil, err
	}
	return reconciliation.NewReconciler(a.store, m, opts), nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close ledger store")
	}
}

// commandContext cancels on SIGINT/SIGTERM or after the timeout.
func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
