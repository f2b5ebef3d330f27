package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/facturad/internal/classify"
	"github.com/fyrsmithlabs/facturad/internal/config"
	"github.com/fyrsmithlabs/facturad/internal/logging"
	"github.com/fyrsmithlabs/facturad/internal/mailbox"
	"github.com/fyrsmithlabs/facturad/internal/store"
	syncer "github.com/fyrsmithlabs/facturad/internal/sync"
)

var (
	syncUserID string
	syncJSON   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the ingestion pipeline for one user or every registered user",
	Long: `Sync refreshes each user's mailbox access, searches for invoice mail,
extracts and parses attached documents, classifies the spending
category and stores the resulting records. Re-running is safe: already
stored invoices are reported as duplicates, never written twice.

Examples:
  # Sync every user with a stored credential
  facturad sync --config facturad.yaml

  # Sync one user, machine-readable output
  facturad sync --config facturad.yaml --user 4f7c... --json`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncUserID, "user", "", "sync only this user id")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "emit JSON output")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), syncJSON, err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), syncJSON, err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if d := time.Duration(cfg.Sync.Timeout); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), syncJSON, err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return reportError(cmd.ErrOrStderr(), syncJSON, err)
	}

	fallback, err := classify.NewBatchClassifier(cfg.Classifier, logger)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), syncJSON, err)
	}

	runner := syncer.NewRunner(
		mailbox.NewClient(cfg.Mailbox, logger),
		classify.NewRuleClassifier(),
		fallback,
		st,
		logger,
		cfg.Sync.FiscalYear,
	)

	var outcomes []syncer.Outcome
	if syncUserID != "" {
		out, err := runner.RunOne(ctx, syncUserID)
		if err != nil {
			return reportError(cmd.ErrOrStderr(), syncJSON, err)
		}
		outcomes = []syncer.Outcome{out}
	} else {
		outcomes, err = runner.RunAll(ctx)
		if err != nil {
			return reportError(cmd.ErrOrStderr(), syncJSON, err)
		}
	}

	return writeOutcomes(cmd.OutOrStdout(), outcomes, syncJSON)
}

// writeOutcomes renders per-user sync results, one line per user in
// text mode or a single results document in JSON mode.
func writeOutcomes(w io.Writer, outcomes []syncer.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		return enc.Encode(map[string][]syncer.Outcome{"results": outcomes})
	}
	for _, out := range outcomes {
		fmt.Fprintf(w, "%s: %d new, %d duplicates, %d could not be processed\n",
			out.UserID, out.Created, out.Duplicate, out.Failed)
	}
	return nil
}

// reportError mirrors the output mode for failures so JSON consumers
// never have to parse free text.
func reportError(w io.Writer, asJSON bool, err error) error {
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	}
	return err
}
