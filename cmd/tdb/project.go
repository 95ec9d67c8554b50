package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/templedb/internal/checkout"
	"github.com/untoldecay/templedb/internal/importer"
	"github.com/untoldecay/templedb/internal/tdberr"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects: import, list, checkout, commit",
}

var projectImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import a directory tree as a new project's initial commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		slug, _ := cmd.Flags().GetString("slug")
		if slug == "" {
			slug = defaultSlug(path)
		}
		author, email := commitAuthor()

		res, err := importer.Import(cmd.Context(), current.repo, current.blobs, current.version, current.classifier, slug, "", path, author, email)
		if err != nil {
			return err
		}
		fmt.Printf("%s imported project %s (%d files, commit %s)\n",
			styleOK.Render("ok"), slug, res.FilesImported, shortHash(res.CommitHash))
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every project",
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := current.query.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%s\t%s\n", p.Slug, p.Name)
		}
		return nil
	},
}

var projectCheckoutCmd = &cobra.Command{
	Use:   "checkout <project> <dir>",
	Short: "Materialize a project's branch head to a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, dir := args[0], args[1]
		force, _ := cmd.Flags().GetBool("force")
		branchName, _ := cmd.Flags().GetString("branch")
		if branchName == "" {
			branchName = "main"
		}

		proj, err := current.query.ShowProject(cmd.Context(), ref)
		if err != nil {
			return err
		}
		branchID, err := current.version.GetOrCreateBranch(cmd.Context(), proj.ID, branchName)
		if err != nil {
			return err
		}

		checkoutID, err := current.checkout.Checkout(cmd.Context(), proj.ID, branchID, dir, force)
		if err != nil {
			return err
		}
		fmt.Printf("%s checked out %s into %s (checkout %d)\n", styleOK.Render("ok"), proj.Slug, dir, checkoutID)
		return nil
	},
}

var projectCommitCmd = &cobra.Command{
	Use:   "commit <project> <dir>",
	Short: "Rescan a checkout directory and commit the resulting changes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, dir := args[0], args[1]
		message, _ := cmd.Flags().GetString("message")
		strategyName, _ := cmd.Flags().GetString("strategy")
		force, _ := cmd.Flags().GetBool("force")
		if message == "" {
			return fmt.Errorf("commit: -m/--message is required: %w", tdberr.ErrUsage)
		}
		strategy := checkout.StrategyAbort
		if force || strategyName == "force" {
			strategy = checkout.StrategyForce
		} else if strategyName != "" && strategyName != "abort" {
			return fmt.Errorf("commit: unknown --strategy %q: %w", strategyName, tdberr.ErrUsage)
		}

		proj, err := current.query.ShowProject(cmd.Context(), ref)
		if err != nil {
			return err
		}
		checkoutID, err := current.checkout.ByPath(cmd.Context(), proj.ID, dir)
		if err != nil {
			return err
		}

		author, email := commitAuthor()
		commitID, hash, err := current.checkout.Commit(cmd.Context(), checkoutID, author, email, message, strategy)
		if err != nil {
			if cc, ok := conflictPaths(err); ok {
				payload, _ := json.Marshal(map[string]any{"error": "commit_conflict", "paths": cc})
				fmt.Fprintln(os.Stderr, string(payload))
			}
			return err
		}
		fmt.Printf("%s committed %s (commit %d, %s)\n", styleOK.Render("ok"), dir, commitID, shortHash(hash))
		return nil
	},
}

func init() {
	projectImportCmd.Flags().String("slug", "", "project slug (defaults to the directory's base name)")
	projectCheckoutCmd.Flags().Bool("force", false, "overwrite an existing checkout directory")
	projectCheckoutCmd.Flags().String("branch", "main", "branch to check out")
	projectCommitCmd.Flags().StringP("message", "m", "", "commit message")
	projectCommitCmd.Flags().String("strategy", "abort", "abort|force: how to handle conflicting files")
	projectCommitCmd.Flags().Bool("force", false, "alias for --strategy force")

	projectCmd.AddCommand(projectImportCmd, projectListCmd, projectCheckoutCmd, projectCommitCmd)
	rootCmd.AddCommand(projectCmd)
}

func defaultSlug(path string) string {
	base := path
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			return base[i+1:]
		}
	}
	return base
}

func conflictPaths(err error) ([]string, bool) {
	var cc *tdberr.CommitConflict
	if errors.As(err, &cc) {
		return cc.Paths, true
	}
	return nil, false
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
