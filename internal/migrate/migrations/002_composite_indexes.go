package migrations

import "github.com/untoldecay/templedb/internal/migrate"

func init() {
	migrate.Register(migrate.Migration{
		ID:       2,
		Filename: "002_composite_indexes.sql",
		Up: `
CREATE INDEX IF NOT EXISTS idx_file_states_commit_change ON file_states(commit_id, change_type);
CREATE INDEX IF NOT EXISTS idx_commits_project_branch_ts ON commits(project_id, branch_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_working_states_project_state ON working_states(project_id, state);
`,
	})
}
