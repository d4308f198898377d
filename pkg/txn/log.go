package txn

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	preparedLogName  = "transaction-prepared.json"
	committedLogName = "transaction-committed.json"
)

// transactionLog is the on-disk form of a transaction.
type transactionLog struct {
	ID         uuid.UUID   `json:"uuid"`
	Operations []Operation `json:"operations"`
}

// writeLog durably writes a log file: temp file, sync, rename.
func writeLog(fs afero.Fs, dir, name string, log transactionLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}

	tmp := filepath.Join(dir, name+".tmp")
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, filepath.Join(dir, name))
}

// readLog loads a log file. A missing file yields (nil, nil).
func readLog(fs afero.Fs, dir, name string) (*transactionLog, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var log transactionLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, err
	}
	return &log, nil
}
