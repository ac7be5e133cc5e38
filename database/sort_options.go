package database

import (
	"strconv"
	"strings"
)

const (
	SortOrderAsc  = "asc"
	SortOrderDesc = "desc"
)

// DefaultSortField is used when a query does not name one.
const DefaultSortField = "DATE_OBS"

const (
	DefaultPageLimit = 1000
	MaxPageLimit     = 1000
)

// sortColumns maps the field names accepted by the API to columns.
var sortColumns = map[string]string{
	"id":       "id",
	"basename": "basename",
	"DATE_OBS": "date_obs",
	"night":    "night",
	"SITEID":   "site_id",
	"TELID":    "telescope_id",
	"INSTRUME": "instrument_id",
	"IMAGETYP": "image_type",
	"OBSTYPE":  "image_type",
	"RLEVEL":   "reduction_level",
	"FILTER":   "filter_name",
	"OBJECT":   "object_name",
	"EXPTIME":  "exp_time",
	"REQNUM":   "request_number",
}

// Sort is a validated ordering. id ascending always breaks ties.
type Sort struct {
	Column     string
	Descending bool
}

// IsValidSortField checks if a string is an accepted sort field
func IsValidSortField(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

// ParseSort validates field and order. any order other than "asc" sorts descending.
func ParseSort(field, order string) (Sort, error) {
	if field == "" {
		field = DefaultSortField
	}
	column, ok := sortColumns[field]
	if !ok {
		return Sort{}, ErrInvalidFilter.New("sort field %q", field)
	}
	if order == "" {
		order = SortOrderAsc
	}
	return Sort{Column: column, Descending: !strings.EqualFold(order, SortOrderAsc)}, nil
}

// OrderBy renders the ORDER BY clause including the tiebreak.
func (s Sort) OrderBy() string {
	if s.Column == "" {
		s.Column = sortColumns[DefaultSortField]
	}
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	if s.Column == "id" {
		return "id " + dir
	}
	return s.Column + " " + dir + ", id ASC"
}

// Page is an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

// ParsePage reads offset and limit. limit defaults to DefaultPageLimit and is
// clamped to [0, MaxPageLimit]; negative offsets become 0.
func ParsePage(offset, limit string) (Page, error) {
	p := Page{Offset: 0, Limit: DefaultPageLimit}
	var err error
	if offset != "" {
		if p.Offset, err = strconv.Atoi(offset); err != nil {
			return Page{}, ErrInvalidFilter.New("invalid values for offset/limit")
		}
	}
	if limit != "" {
		if p.Limit, err = strconv.Atoi(limit); err != nil {
			return Page{}, ErrInvalidFilter.New("invalid values for offset/limit")
		}
	}
	p.Limit = max(0, min(p.Limit, MaxPageLimit))
	p.Offset = max(0, p.Offset)
	return p, nil
}
