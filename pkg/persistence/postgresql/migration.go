package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				tasks JSONB NOT NULL DEFAULT '[]',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				state TEXT NOT NULL,
				trigger_type TEXT NOT NULL DEFAULT '',
				reason_code TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_executions_state ON executions (state);
			CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions (workflow_id);

			CREATE TABLE IF NOT EXISTS task_runs (
				execution_id TEXT NOT NULL REFERENCES executions (id) ON DELETE CASCADE,
				task_id TEXT NOT NULL,
				state TEXT NOT NULL,
				reason_code TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				inputs JSONB,
				outputs JSONB,
				error TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, task_id)
			);

			CREATE INDEX IF NOT EXISTS idx_task_runs_state ON task_runs (execution_id, state);

			CREATE TABLE IF NOT EXISTS attempts (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				task_id TEXT NOT NULL,
				attempt_number INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT '',
				result_ref TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (execution_id, task_id, attempt_number)
			);
		`,
	}
}
