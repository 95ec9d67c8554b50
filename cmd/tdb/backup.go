package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/templedb/internal/backup"
	"github.com/untoldecay/templedb/internal/config"
)

var backupCmd = &cobra.Command{
	Use:   "backup [path]",
	Short: "Take an online backup of the store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupDir, err := config.BackupDir()
		if err != nil {
			return err
		}
		explicit := ""
		if len(args) == 1 {
			explicit = args[0]
		}
		path, err := backup.Create(cmd.Context(), current.db, backupDir, explicit, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("%s backed up to %s\n", styleOK.Render("ok"), path)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore the store from a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		storePath, err := config.StorePath()
		if err != nil {
			return err
		}

		// Restore swaps the underlying file out from under the pool, so
		// the PersistentPreRunE-opened *store.DB must be closed first; the
		// PersistentPostRunE teardown no-ops on the already-closed handle.
		if err := current.db.Close(); err != nil {
			return err
		}
		safety, err := backup.Restore(cmd.Context(), dataDir, storePath, args[0])
		if err != nil {
			return err
		}
		current.db = nil

		if safety != "" {
			fmt.Printf("%s restored from %s (previous store saved to %s)\n", styleOK.Render("ok"), args[0], safety)
		} else {
			fmt.Printf("%s restored from %s\n", styleOK.Render("ok"), args[0])
		}
		return nil
	},
}

var backupGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete blobs no longer referenced by any file, state, or checkout",
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, err := current.blobs.GC(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s deleted %d unreferenced blob(s)\n", styleOK.Render("ok"), deleted)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupGCCmd)
	rootCmd.AddCommand(backupCmd, restoreCmd)
}
