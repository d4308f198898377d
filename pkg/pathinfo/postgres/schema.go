package postgres

// schema creates the path-info tables. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS data_sets (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_set_files (
		id BIGSERIAL PRIMARY KEY,
		dase_id BIGINT NOT NULL REFERENCES data_sets (id) ON DELETE CASCADE,
		parent_id BIGINT REFERENCES data_set_files (id) ON DELETE CASCADE,
		relative_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		size_in_bytes BIGINT NOT NULL,
		checksum_crc32 INTEGER,
		checksum TEXT,
		is_directory BOOLEAN NOT NULL,
		last_modified TIMESTAMPTZ NOT NULL,
		UNIQUE (dase_id, relative_path)
	)`,
	`CREATE INDEX IF NOT EXISTS data_set_files_parent_idx ON data_set_files (dase_id, parent_id)`,
	`CREATE TABLE IF NOT EXISTS last_feeding_event (
		data_store_kind TEXT PRIMARY KEY,
		last_seen_timestamp TIMESTAMPTZ NOT NULL
	)`,
}
