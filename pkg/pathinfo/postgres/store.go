// Package postgres is a path-info DAO on PostgreSQL.
//
// Both lib/pq ("postgres") and pgx ("pgx") drivers are registered; Config
// picks one.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

const (
	queryDataSetID = `SELECT id FROM data_sets WHERE code = $1`

	queryLastSeen = `SELECT last_seen_timestamp FROM last_feeding_event WHERE data_store_kind = $1`

	fileColumns = `id, dase_id, parent_id, relative_path, file_name, size_in_bytes,
		checksum_crc32, checksum, is_directory, last_modified`

	queryFileByPath = `SELECT ` + fileColumns + ` FROM data_set_files
		WHERE dase_id = $1 AND relative_path = $2`

	queryChildren = `SELECT ` + fileColumns + ` FROM data_set_files
		WHERE dase_id = $1 AND parent_id = $2 ORDER BY relative_path`

	queryFiles = `SELECT ` + fileColumns + ` FROM data_set_files
		WHERE dase_id = $1 ORDER BY relative_path`

	querySizes = `SELECT ds.code, f.size_in_bytes FROM data_sets ds
		JOIN data_set_files f ON f.dase_id = ds.id AND f.parent_id IS NULL
		WHERE ds.code = ANY($1)`

	insertDataSet = `INSERT INTO data_sets (code, location) VALUES ($1, $2) RETURNING id`

	insertFile = `INSERT INTO data_set_files (dase_id, parent_id, relative_path, file_name,
		size_in_bytes, checksum_crc32, checksum, is_directory, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	deleteLastSeen = `DELETE FROM last_feeding_event WHERE data_store_kind = $1`

	insertLastSeen = `INSERT INTO last_feeding_event (data_store_kind, last_seen_timestamp) VALUES ($1, $2)`
)

// Config configures the postgres DAO.
type Config struct {
	// Driver is "postgres" (lib/pq) or "pgx" (default: "pgx")
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=postgres pgx"`

	// DSN is the connection string.
	DSN string `mapstructure:"dsn" validate:"required"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Migrate creates missing tables on open.
	Migrate bool `mapstructure:"migrate"`
}

// Store implements pathinfo.DAO.
type Store struct {
	db *sqlx.DB
}

var _ pathinfo.DAO = (*Store)(nil)

type fileRow struct {
	ID            int64          `db:"id"`
	DataSetID     int64          `db:"dase_id"`
	ParentID      sql.NullInt64  `db:"parent_id"`
	RelativePath  string         `db:"relative_path"`
	FileName      string         `db:"file_name"`
	SizeInBytes   int64          `db:"size_in_bytes"`
	ChecksumCRC32 sql.NullInt32  `db:"checksum_crc32"`
	Checksum      sql.NullString `db:"checksum"`
	Directory     bool           `db:"is_directory"`
	LastModified  time.Time      `db:"last_modified"`
}

func (r fileRow) record() pathinfo.DataSetFileRecord {
	rec := pathinfo.DataSetFileRecord{
		ID:           r.ID,
		DataSetID:    r.DataSetID,
		RelativePath: r.RelativePath,
		FileName:     r.FileName,
		Directory:    r.Directory,
		SizeInBytes:  r.SizeInBytes,
		LastModified: r.LastModified,
		Checksum:     r.Checksum.String,
	}
	if r.ParentID.Valid {
		parent := r.ParentID.Int64
		rec.ParentID = &parent
	}
	if r.ChecksumCRC32.Valid {
		// stored as a signed INTEGER
		crc := uint32(r.ChecksumCRC32.Int32)
		rec.ChecksumCRC32 = &crc
	}
	return rec
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to path info database (%s)", driver)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db)
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	logger.Info("Path info database connected: driver=%s", driver)
	return s, nil
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the path-info tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate path info schema")
		}
	}
	return nil
}

func (s *Store) TryGetDataSetID(ctx context.Context, code string) (int64, bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, queryDataSetID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "get data set %s", code)
	}
	return id, true, nil
}

func (s *Store) GetLastSeenTimestamp(ctx context.Context, kind string) (*time.Time, error) {
	var ts time.Time
	err := s.db.GetContext(ctx, &ts, queryLastSeen, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get last seen timestamp %s", kind)
	}
	return &ts, nil
}

func (s *Store) GetDataSetRootFile(ctx context.Context, dataSetID int64) (*pathinfo.DataSetFileRecord, error) {
	rec, err := s.TryGetRelativeDataSetFile(ctx, dataSetID, "")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(pathinfo.ErrNotFound, "root of data set %d", dataSetID)
	}
	return rec, nil
}

func (s *Store) TryGetRelativeDataSetFile(ctx context.Context, dataSetID int64, relativePath string) (*pathinfo.DataSetFileRecord, error) {
	var row fileRow
	err := s.db.GetContext(ctx, &row, queryFileByPath, dataSetID, relativePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get data set %d file %q", dataSetID, relativePath)
	}
	rec := row.record()
	return &rec, nil
}

func (s *Store) ListChildren(ctx context.Context, dataSetID, parentID int64) ([]pathinfo.DataSetFileRecord, error) {
	return s.selectFiles(ctx, queryChildren, dataSetID, parentID)
}

func (s *Store) ListDataSetFiles(ctx context.Context, dataSetID int64) ([]pathinfo.DataSetFileRecord, error) {
	return s.selectFiles(ctx, queryFiles, dataSetID)
}

func (s *Store) selectFiles(ctx context.Context, query string, args ...any) ([]pathinfo.DataSetFileRecord, error) {
	var rows []fileRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list data set files")
	}
	out := make([]pathinfo.DataSetFileRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (s *Store) ListDataSetsSize(ctx context.Context, codes []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return sizes, nil
	}

	rows, err := s.db.QueryxContext(ctx, querySizes, pq.Array(codes))
	if err != nil {
		return nil, errors.Wrap(err, "list data set sizes")
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var size int64
		if err := rows.Scan(&code, &size); err != nil {
			return nil, errors.Wrap(err, "scan data set size")
		}
		sizes[code] = size
	}
	return sizes, errors.Wrap(rows.Err(), "list data set sizes")
}

func (s *Store) Begin(ctx context.Context) (pathinfo.Tx, error) {
	t, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin path info transaction")
	}
	return &tx{tx: t}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// translate maps unique violations onto pathinfo.ErrAlreadyExists.
func translate(err error, format string, args ...any) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Wrapf(pathinfo.ErrAlreadyExists, format, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrapf(pathinfo.ErrAlreadyExists, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

type tx struct {
	tx *sqlx.Tx
}

func fileArgs(f pathinfo.DataSetFileRecord) []any {
	var parent sql.NullInt64
	if f.ParentID != nil {
		parent = sql.NullInt64{Int64: *f.ParentID, Valid: true}
	}
	var crc sql.NullInt32
	if f.ChecksumCRC32 != nil {
		crc = sql.NullInt32{Int32: int32(*f.ChecksumCRC32), Valid: true}
	}
	var checksum sql.NullString
	if f.Checksum != "" {
		checksum = sql.NullString{String: f.Checksum, Valid: true}
	}
	return []any{f.DataSetID, parent, f.RelativePath, f.FileName, f.SizeInBytes, crc, checksum, f.Directory, f.LastModified}
}

func (t *tx) CreateDataSet(ctx context.Context, code, location string) (int64, error) {
	var id int64
	if err := t.tx.QueryRowxContext(ctx, insertDataSet, code, location).Scan(&id); err != nil {
		return 0, translate(err, "insert data set %s", code)
	}
	return id, nil
}

func (t *tx) CreateDataSetFile(ctx context.Context, file pathinfo.DataSetFileRecord) (int64, error) {
	var id int64
	if err := t.tx.QueryRowxContext(ctx, insertFile+` RETURNING id`, fileArgs(file)...).Scan(&id); err != nil {
		return 0, translate(err, "insert data set %d file %q", file.DataSetID, file.RelativePath)
	}
	return id, nil
}

// CreateDataSetFiles inserts files through one prepared statement.
func (t *tx) CreateDataSetFiles(ctx context.Context, files []pathinfo.DataSetFileRecord) error {
	if len(files) == 0 {
		return nil
	}
	stmt, err := t.tx.PreparexContext(ctx, insertFile)
	if err != nil {
		return errors.Wrap(err, "prepare data set file insert")
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, fileArgs(f)...); err != nil {
			return translate(err, "insert data set %d file %q", f.DataSetID, f.RelativePath)
		}
	}
	return nil
}

func (t *tx) DeleteLastSeenTimestamp(ctx context.Context, kind string) error {
	_, err := t.tx.ExecContext(ctx, deleteLastSeen, kind)
	return errors.Wrapf(err, "delete last seen timestamp %s", kind)
}

func (t *tx) CreateLastSeenTimestamp(ctx context.Context, ts time.Time, kind string) error {
	if _, err := t.tx.ExecContext(ctx, insertLastSeen, kind, ts); err != nil {
		return translate(err, "insert last seen timestamp %s", kind)
	}
	return nil
}

func (t *tx) Commit() error {
	err := t.tx.Commit()
	if errors.Is(err, sql.ErrTxDone) {
		return pathinfo.ErrTxDone
	}
	return errors.Wrap(err, "commit path info transaction")
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.Wrap(err, "rollback path info transaction")
}
