package database

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/zeebo/errs"
	"gorm.io/gorm"

	"github.com/camden-git/framearchive/fitsutil"
	"github.com/camden-git/framearchive/models"
)

// ErrInvalidFilter is returned for query parameters that cannot be parsed.
var ErrInvalidFilter = errs.Class("invalid filter")

// ProximityThreshold is the largest squared chord distance between unit
// vectors still counted as a positional match.
const ProximityThreshold = 0.02778

// FilterNone selects frames without a filter.
const FilterNone = "None"

// SkyPosition is a search center in degrees.
type SkyPosition struct {
	RA  float64
	Dec float64
}

// FrameFilter holds the parsed constraints of a frame query. zero values mean
// no constraint.
type FrameFilter struct {
	ImageType      string
	Site           string
	Telescope      string
	Instrument     string
	XBinning       int
	YBinning       int
	Filter         *string // FilterNone selects NULL
	ReductionLevel *int
	Object         string // case-insensitive substring
	Basename       string // case-insensitive substring
	RequestNumber  string
	MinExpTime     *float64
	Night          string
	Start          *time.Time
	End            *time.Time
	Position       *SkyPosition
}

// exact reads an enumerated parameter where "" and "ALL" mean unconstrained.
func exact(q url.Values, key string) string {
	v := q.Get(key)
	if v == "ALL" {
		return ""
	}
	return v
}

// ParseFrameFilter builds a filter from query parameters.
func ParseFrameFilter(q url.Values) (FrameFilter, error) {
	f := FrameFilter{
		ImageType:     exact(q, "IMAGETYPE"),
		Site:          exact(q, "SITE"),
		Telescope:     exact(q, "TELESCOPE"),
		Instrument:    exact(q, "INSTRUMENT"),
		Object:        strings.TrimSpace(q.Get("OBJECT")),
		Basename:      strings.TrimSpace(q.Get("basename")),
		RequestNumber: strings.TrimSpace(q.Get("REQNUM")),
	}

	if v := exact(q, "binning"); v != "" {
		x, y, ok := strings.Cut(v, "x")
		xb, errX := strconv.Atoi(strings.TrimSpace(x))
		yb, errY := strconv.Atoi(strings.TrimSpace(y))
		if !ok || errX != nil || errY != nil {
			return FrameFilter{}, ErrInvalidFilter.New("binning %q", v)
		}
		f.XBinning, f.YBinning = xb, yb
	}

	if v := exact(q, "FILTER"); v != "" {
		f.Filter = &v
	}

	if v := exact(q, "RLEVEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return FrameFilter{}, ErrInvalidFilter.New("RLEVEL %q", v)
		}
		f.ReductionLevel = &n
	}

	if v := strings.TrimSpace(q.Get("EXPTIME")); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return FrameFilter{}, ErrInvalidFilter.New("EXPTIME %q", v)
		}
		f.MinExpTime = &x
	}

	if v := strings.TrimSpace(q.Get("night")); v != "" {
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return FrameFilter{}, ErrInvalidFilter.New("night %q", v)
		}
		f.Night = v
	}

	for key, dst := range map[string]**time.Time{"start": &f.Start, "end": &f.End} {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			continue
		}
		t, err := fitsutil.ParseTime(v)
		if err != nil {
			return FrameFilter{}, ErrInvalidFilter.New("%s %q", key, v)
		}
		*dst = &t
	}

	ra, dec := strings.TrimSpace(q.Get("RA")), strings.TrimSpace(q.Get("DEC"))
	if ra != "" && dec != "" {
		r, errRA := strconv.ParseFloat(ra, 64)
		d, errDec := strconv.ParseFloat(dec, 64)
		if errRA != nil || errDec != nil {
			return FrameFilter{}, ErrInvalidFilter.New("position %q/%q", ra, dec)
		}
		f.Position = &SkyPosition{RA: r, Dec: d}
	}

	return f, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func icontains(column, s string) sq.Sqlizer {
	return sq.Expr("LOWER("+column+`) LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(strings.ToLower(s))+"%")
}

// Sqlizer composes the constraints as one conjunction.
func (f FrameFilter) Sqlizer() sq.And {
	and := sq.And{}
	if f.ImageType != "" {
		and = append(and, sq.Eq{"image_type": f.ImageType})
	}
	if f.XBinning != 0 || f.YBinning != 0 {
		and = append(and, sq.Eq{"x_binning": f.XBinning, "y_binning": f.YBinning})
	}
	if f.Site != "" {
		and = append(and, sq.Eq{"site_id": f.Site})
	}
	if f.Telescope != "" {
		and = append(and, sq.Eq{"telescope_id": f.Telescope})
	}
	if f.Instrument != "" {
		and = append(and, sq.Eq{"instrument_id": f.Instrument})
	}
	if f.Filter != nil {
		if *f.Filter == FilterNone {
			and = append(and, sq.Eq{"filter_name": nil})
		} else {
			and = append(and, sq.Eq{"filter_name": *f.Filter})
		}
	}
	if f.ReductionLevel != nil {
		and = append(and, sq.Eq{"reduction_level": *f.ReductionLevel})
	}
	if f.Object != "" {
		and = append(and, icontains("object_name", f.Object))
	}
	if f.MinExpTime != nil {
		and = append(and, sq.GtOrEq{"exp_time": *f.MinExpTime})
	}
	if f.Night != "" {
		and = append(and, sq.Eq{"night": f.Night})
	}
	if f.Basename != "" {
		and = append(and, icontains("basename", f.Basename))
	}
	if f.RequestNumber != "" {
		and = append(and, sq.Eq{"request_number": f.RequestNumber})
	}
	if f.Start != nil {
		and = append(and, sq.GtOrEq{"date_obs": f.Start.UTC()})
	}
	if f.End != nil {
		and = append(and, sq.LtOrEq{"date_obs": f.End.UTC()})
	}
	if f.Position != nil {
		x, y, z := models.SkyVector(f.Position.RA, f.Position.Dec)
		and = append(and, sq.Expr(
			"((? - vec_x) * (? - vec_x) + (? - vec_y) * (? - vec_y) + (? - vec_z) * (? - vec_z)) <= ?",
			x, x, y, y, z, z, ProximityThreshold,
		))
	}
	return and
}

// Apply adds the filter's WHERE clause to db.
func (f FrameFilter) Apply(db *gorm.DB) (*gorm.DB, error) {
	and := f.Sqlizer()
	if len(and) == 0 {
		return db, nil
	}
	sqlStr, args, err := and.ToSql()
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return db.Where(sqlStr, args...), nil
}
