package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"observatory-ops/internal/nightmetrics"
)

const defaultExposuresTable = "exposures"

// ExposureRepository reads exposure records from the exposure store.
type ExposureRepository struct {
	db    *sql.DB
	table string
}

// ExposureOption configures the repository.
type ExposureOption func(*ExposureRepository)

// WithExposuresTable overrides the table name.
func WithExposuresTable(table string) ExposureOption {
	return func(r *ExposureRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewExposureRepository constructs a repository.
func NewExposureRepository(db *sql.DB, opts ...ExposureOption) *ExposureRepository {
	repo := &ExposureRepository{db: db, table: defaultExposuresTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListExposures implements nightmetrics.ExposureStore. Store errors are
// reported as ErrDataUnavailable so callers degrade to partial metrics.
func (r *ExposureRepository) ListExposures(ctx context.Context, sjd int) ([]nightmetrics.ExposureRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("exposure repo: nil db")
	}
	if sjd <= 0 {
		return nil, fmt.Errorf("exposure repo: invalid sjd %d", sjd)
	}

	query := fmt.Sprintf(`
SELECT exposure_no, start_time, end_time, image_type, readout_time
FROM %s
WHERE mjd = $1
ORDER BY start_time ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, sjd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nightmetrics.ErrDataUnavailable, err)
	}
	defer rows.Close()

	var records []nightmetrics.ExposureRecord
	for rows.Next() {
		var record nightmetrics.ExposureRecord
		var readout sql.NullFloat64
		if err := rows.Scan(&record.ExposureNo, &record.StartTime, &record.EndTime, &record.ExposureType, &readout); err != nil {
			return nil, fmt.Errorf("%w: %v", nightmetrics.ErrDataUnavailable, err)
		}
		if readout.Valid {
			record.ReadoutTime = readout.Float64
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", nightmetrics.ErrDataUnavailable, err)
	}
	return records, nil
}
