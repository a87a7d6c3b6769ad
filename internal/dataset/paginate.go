package dataset

import (
	"errors"

	"district-insights/internal/models"
)

// ErrPageOutOfRange is returned for a page index at or past the last page
var ErrPageOutOfRange = errors.New("page index out of range")

// PageCount is ceil(total / pageSize)
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Paginate returns page pageIndex (zero-based) of rows. The returned slice
// aliases rows.
func Paginate(rows []models.Row, pageSize, pageIndex int) ([]models.Row, error) {
	if pageSize <= 0 {
		return nil, errors.New("page size must be positive")
	}
	if pageIndex < 0 || pageIndex >= PageCount(len(rows), pageSize) {
		return nil, ErrPageOutOfRange
	}

	start := pageIndex * pageSize
	end := min(start+pageSize, len(rows))
	return rows[start:end], nil
}
