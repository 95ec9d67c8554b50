package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/templedb/internal/tdberr"
)

var vcsCmd = &cobra.Command{
	Use:   "vcs",
	Short: "Inspect history, working status, branches, and commits",
}

var vcsLogCmd = &cobra.Command{
	Use:   "log <project>",
	Short: "Show a project's commit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := current.query.ShowProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("n")
		branchName, _ := cmd.Flags().GetString("branch")
		since, _ := cmd.Flags().GetString("since")

		var branchID *int64
		if branchName != "" {
			branches, err := current.query.ListBranches(cmd.Context(), proj.ID)
			if err != nil {
				return err
			}
			for _, b := range branches {
				if b.Name == branchName {
					id := b.ID
					branchID = &id
				}
			}
		}

		var cutoff time.Time
		if since != "" {
			t, err := parseSince(since)
			if err != nil {
				return fmt.Errorf("log: --since %q: %w: %v", since, tdberr.ErrUsage, err)
			}
			cutoff = t
		}

		commits, err := current.query.Log(cmd.Context(), proj.ID, branchID, limit)
		if err != nil {
			return err
		}
		for _, c := range commits {
			if !cutoff.IsZero() && c.Timestamp.Before(cutoff) {
				continue
			}
			fmt.Printf("%s %s <%s> %s  %s\n", shortHash(c.CommitHash), c.Author, c.Email, c.Timestamp.Format(time.RFC3339), c.Message)
		}
		return nil
	},
}

var vcsStatusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show modified, added, deleted, and conflicted files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := current.query.ShowProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		branchName, _ := cmd.Flags().GetString("branch")
		if branchName == "" {
			branchName = "main"
		}
		branchID, err := current.version.GetOrCreateBranch(cmd.Context(), proj.ID, branchName)
		if err != nil {
			return err
		}

		entries, err := current.query.Status(cmd.Context(), proj.ID, branchID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			letter, style := statusStyle(e.Kind)
			fmt.Printf("%s %s\n", style.Render(letter), e.Path)
		}
		return nil
	},
}

var vcsBranchCmd = &cobra.Command{
	Use:   "branch <project> [name]",
	Short: "List branches, or create one if a name is given",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := current.query.ShowProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(args) == 2 {
			if _, err := current.version.GetOrCreateBranch(cmd.Context(), proj.ID, args[1]); err != nil {
				return err
			}
			fmt.Printf("%s created branch %s\n", styleOK.Render("ok"), args[1])
			return nil
		}
		branches, err := current.query.ListBranches(cmd.Context(), proj.ID)
		if err != nil {
			return err
		}
		for _, b := range branches {
			marker := " "
			if b.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, b.Name)
		}
		return nil
	},
}

var vcsShowCmd = &cobra.Command{
	Use:   "show <project> <hash-prefix>",
	Short: "Show a commit and the files it changed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := current.query.ShowProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		c, tree, err := current.query.ShowCommit(cmd.Context(), proj.ID, args[1])
		if err != nil {
			var amb *tdberr.AmbiguousHashError
			if errors.As(err, &amb) {
				payload, _ := json.Marshal(map[string]any{"error": "ambiguous_hash", "prefix": amb.Prefix, "candidates": amb.Candidates})
				fmt.Fprintln(os.Stderr, string(payload))
			}
			return err
		}

		fmt.Printf("commit %s\nAuthor: %s <%s>\nDate:   %s\n\n", c.CommitHash, c.Author, c.Email, c.Timestamp.Format(time.RFC3339))
		fmt.Print(renderMessage(c.Message))
		fmt.Printf("\n%d files, +%d -%d\n", c.FilesChanged, c.LinesAdded, c.LinesRemoved)
		for _, e := range tree {
			fmt.Printf("  %s\n", e.Path)
		}
		return nil
	},
}

var vcsDiffCmd = &cobra.Command{
	Use:   "diff <project> <path>",
	Short: "Diff a file's content between two commits (each side defaults to the file's current stored content)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := current.query.ShowProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		path := args[1]
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		result, err := current.query.Diff(cmd.Context(), proj.ID, path, from, to)
		if err != nil {
			return err
		}
		if result.Summary != "" {
			fmt.Println(styleDim.Render(result.Summary))
			return nil
		}
		for _, line := range result.Lines {
			switch line.Op {
			case '+':
				fmt.Println(styleDiffAdd.Render("+" + line.Text))
			case '-':
				fmt.Println(styleDiffDel.Render("-" + line.Text))
			default:
				fmt.Println(styleDim.Render(" " + line.Text))
			}
		}
		return nil
	},
}

func init() {
	vcsLogCmd.Flags().IntP("n", "n", 0, "limit to the N most recent commits")
	vcsLogCmd.Flags().String("branch", "", "restrict to one branch")
	vcsLogCmd.Flags().String("since", "", `duration or natural-language filter, e.g. "3 days ago"`)
	vcsStatusCmd.Flags().String("branch", "main", "branch to report status for")
	vcsDiffCmd.Flags().String("from", "", "commit-hash prefix for the left side (default: the file's current stored content)")
	vcsDiffCmd.Flags().String("to", "", "commit-hash prefix for the right side (default: the file's current stored content)")

	vcsCmd.AddCommand(vcsLogCmd, vcsStatusCmd, vcsBranchCmd, vcsShowCmd, vcsDiffCmd)
	rootCmd.AddCommand(vcsCmd)
}

// parseSince resolves a --since value via github.com/olebedev/when,
// supporting both natural language ("3 days ago") and anything its
// common+en rule sets recognize.
func parseSince(value string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(value, time.Now())
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not parse %q", value)
	}
	return r.Time, nil
}
