package database

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameFilterEmpty(t *testing.T) {
	f, err := ParseFrameFilter(url.Values{"IMAGETYPE": {"ALL"}, "SITE": {""}, "binning": {"ALL"}})
	require.NoError(t, err)
	assert.Empty(t, f.Sqlizer())
}

func TestParseFrameFilter(t *testing.T) {
	q := url.Values{
		"IMAGETYPE": {"light"},
		"binning":   {"2x1"},
		"FILTER":    {"None"},
		"RLEVEL":    {"1"},
		"OBJECT":    {" m42 "},
		"EXPTIME":   {"10"},
		"night":     {"2024-03-05"},
		"start":     {"2024-03-05T20:00:00"},
		"end":       {"2024-03-06"},
		"RA":        {"10"},
		"DEC":       {"20"},
	}
	f, err := ParseFrameFilter(q)
	require.NoError(t, err)

	assert.Equal(t, "light", f.ImageType)
	assert.Equal(t, 2, f.XBinning)
	assert.Equal(t, 1, f.YBinning)
	require.NotNil(t, f.Filter)
	assert.Equal(t, FilterNone, *f.Filter)
	assert.Equal(t, 1, *f.ReductionLevel)
	assert.Equal(t, "m42", f.Object)
	assert.Equal(t, 10.0, *f.MinExpTime)
	assert.Equal(t, time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC), *f.Start)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), *f.End)
	assert.Equal(t, &SkyPosition{RA: 10, Dec: 20}, f.Position)

	sqlStr, _, err := f.Sqlizer().ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "filter_name IS NULL")
	assert.Contains(t, sqlStr, "LOWER(object_name) LIKE ?")
	assert.Contains(t, sqlStr, "vec_x")
}

func TestParseFrameFilterIgnoresHalfPosition(t *testing.T) {
	f, err := ParseFrameFilter(url.Values{"RA": {"10"}})
	require.NoError(t, err)
	assert.Nil(t, f.Position)
}

func TestParseFrameFilterRejectsMalformed(t *testing.T) {
	for _, q := range []url.Values{
		{"binning": {"2"}},
		{"binning": {"ax2"}},
		{"RLEVEL": {"one"}},
		{"EXPTIME": {"long"}},
		{"night": {"05/03/2024"}},
		{"start": {"tomorrow"}},
		{"RA": {"x"}, "DEC": {"1"}},
	} {
		_, err := ParseFrameFilter(q)
		require.Error(t, err, q.Encode())
		assert.True(t, ErrInvalidFilter.Has(err))
	}
}

func TestIcontainsEscapesWildcards(t *testing.T) {
	_, args, err := icontains("basename", "A_1%").ToSql()
	require.NoError(t, err)
	assert.Equal(t, []any{`%a\_1\%%`}, args)
}

func TestParseSort(t *testing.T) {
	s, err := ParseSort("", "")
	require.NoError(t, err)
	assert.Equal(t, "date_obs ASC, id ASC", s.OrderBy())

	s, err = ParseSort("EXPTIME", "desc")
	require.NoError(t, err)
	assert.Equal(t, "exp_time DESC, id ASC", s.OrderBy())

	s, err = ParseSort("id", "whatever")
	require.NoError(t, err)
	assert.Equal(t, "id DESC", s.OrderBy())

	_, err = ParseSort("date_obs; DROP TABLE frames", "asc")
	assert.True(t, ErrInvalidFilter.Has(err))
}

func TestParsePage(t *testing.T) {
	p, err := ParsePage("", "")
	require.NoError(t, err)
	assert.Equal(t, Page{Offset: 0, Limit: 1000}, p)

	p, err = ParsePage("-5", "5000")
	require.NoError(t, err)
	assert.Equal(t, Page{Offset: 0, Limit: 1000}, p)

	p, err = ParsePage("10", "-1")
	require.NoError(t, err)
	assert.Equal(t, Page{Offset: 10, Limit: 0}, p)

	_, err = ParsePage("a", "1")
	assert.True(t, ErrInvalidFilter.Has(err))
}
