//go:build mips64 || mips64le || ppc64 || s390x

package storage

import (
	"errors"
	"log/slog"
	"time"
)

var errSQLiteUnavailable = errors.New("SQLite storage not available")

// SQLiteStore is a stub for platforms the pure Go driver does not support.
type SQLiteStore struct{}

// NewSQLiteStore always fails on unsupported platforms.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errors.New("SQLite storage is not supported on this platform, use memory storage instead")
}

func (s *SQLiteStore) Insert(f *Fetch) error                     { return errSQLiteUnavailable }
func (s *SQLiteStore) Update(id string, upd FetchUpdate) error   { return errSQLiteUnavailable }
func (s *SQLiteStore) GetByID(id string) (*Fetch, error)         { return nil, errSQLiteUnavailable }
func (s *SQLiteStore) List(opts ListOptions) ([]Fetch, error)    { return nil, errSQLiteUnavailable }
func (s *SQLiteStore) Overview(time.Duration) (*Overview, error) { return nil, errSQLiteUnavailable }
func (s *SQLiteStore) InFlightCount() (int, error)               { return 0, errSQLiteUnavailable }
func (s *SQLiteStore) Close() error                              { return nil }

func (s *SQLiteStore) MetricStats(time.Duration) ([]MetricStat, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) Series(opts SeriesOptions) ([]DataPoint, error) {
	return nil, errSQLiteUnavailable
}
