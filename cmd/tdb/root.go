package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/templedb/internal/blob"
	"github.com/untoldecay/templedb/internal/checkout"
	"github.com/untoldecay/templedb/internal/config"
	"github.com/untoldecay/templedb/internal/logging"
	"github.com/untoldecay/templedb/internal/migrate"
	_ "github.com/untoldecay/templedb/internal/migrate/migrations"
	"github.com/untoldecay/templedb/internal/query"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/scan"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/version"
)

// Exit codes: spec.md §6's per-command table. 1 is the catch-all for any
// error the table doesn't single out.
const (
	exitOK              = 0
	exitGenericError    = 1
	exitUsage           = 2
	exitNotADirectory   = 3
	exitPathExists      = 4
	exitProjectNotFound = 5
	exitConflict        = 6
	exitNothingToCommit = 7
	exitAmbiguousHash   = 8
	exitNotFound        = 9
)

// app bundles every engine a subcommand needs. Built once in
// PersistentPreRunE, torn down in PersistentPostRunE.
type app struct {
	db         *store.DB
	repo       *repo.Repo
	blobs      *blob.Store
	version    *version.Engine
	classifier *scan.Classifier
	checkout   *checkout.Engine
	query      *query.Facade
}

var current *app

var rootCmd = &cobra.Command{
	Use:           "tdb",
	Short:         "TempleDB: a content-addressed blob store with commit/branch versioning",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			config.SetOverride("data-dir", v)
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			config.SetOverride("log-level", v)
		}
		if v, _ := cmd.Flags().GetBool("log-to-file"); v {
			config.SetOverride("log-to-file", true)
		}
		if v, _ := cmd.Flags().GetString("agent"); v != "" {
			config.SetOverride("agent", v)
		}

		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		logLevel := config.GetString("log-level")
		logToFile := config.GetBool("log-to-file")
		if err := logging.Configure(logging.ParseLevel(logLevel), logToFile, dataDir); err != nil {
			return err
		}

		storePath, err := config.StorePath()
		if err != nil {
			return err
		}
		db, err := store.Open(cmd.Context(), storePath, migrate.Run)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		r := repo.New(db)
		b := blob.New(db)
		v := version.New(db, r)
		classifier, err := scan.LoadClassifier(config.GetString("scan.patterns-file"), config.GetInt64("scan.max-file-bytes"))
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("load scan classifier: %w", err)
		}

		current = &app{
			db:         db,
			repo:       r,
			blobs:      b,
			version:    v,
			classifier: classifier,
			checkout:   checkout.New(db, r, b, v, classifier),
			query:      query.New(db, r, v, b),
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current != nil && current.db != nil {
			return current.db.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "override the data directory (TDB_DATA_DIR)")
	rootCmd.PersistentFlags().String("log-level", "", "debug|info|warn|error (TDB_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("log-to-file", false, "log to <data-dir>/templedb/templedb.log instead of stderr (TDB_LOG_TO_FILE)")
	rootCmd.PersistentFlags().String("agent", "", "opaque agent identifier folded into commit authorship (TDB_AGENT)")
}

// Execute runs the root command, translating any returned error into the
// single-line stderr summary plus exit code spec.md §7 requires.
func Execute() {
	ctx := context.Background()
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tdb: %v\n", err)
		os.Exit(exitFor(err))
	}
}

// commitAuthor resolves author/email for the current invocation via
// config.AgentIdentity's cascade: --agent flag (applied as a config
// override in PersistentPreRunE), then TDB_AGENT, then git config, then
// the OS user.
func commitAuthor() (name, email string) {
	return config.AgentIdentity()
}
