package listing

import (
	"errors"
	"net/url"
	"testing"

	"github.com/openisp/ops-backend/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = Spec{
	OrderBy:      map[string]string{"created_at": "created_at", "priority": "priority"},
	DefaultOrder: "created_at",
	DefaultDesc:  true,
	Filters: map[string]FilterSpec{
		"status":           {Column: "status", Allowed: []string{"submitted", "approved"}},
		"coverage_area_id": {Column: "coverage_area_id", Kind: UUID},
		"active":           {Column: "active", Kind: Bool},
		"geohash_prefix":   {Column: "geohash", Kind: Prefix},
	},
}

func TestParseDefaults(t *testing.T) {
	p, err := Parse(url.Values{}, testSpec)
	require.NoError(t, err)

	assert.Equal(t, "created_at", p.OrderColumn)
	assert.True(t, p.Desc)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Equal(t, 0, p.Offset)
	assert.Empty(t, p.Filters)
}

func TestParseOrderAndWindow(t *testing.T) {
	q := url.Values{"order_by": {"priority"}, "order_dir": {"ASC"}, "limit": {"10000"}, "offset": {"20"}}
	p, err := Parse(q, testSpec)
	require.NoError(t, err)

	assert.Equal(t, "priority", p.OrderColumn)
	assert.False(t, p.Desc)
	assert.Equal(t, MaxLimit, p.Limit)
	assert.Equal(t, 20, p.Offset)
}

func TestParseRejectsUnknownColumn(t *testing.T) {
	_, err := Parse(url.Values{"order_by": {"name; DROP TABLE x"}}, testSpec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOrderBy))
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestParseRejectsBadInput(t *testing.T) {
	bad := []url.Values{
		{"order_dir": {"sideways"}},
		{"limit": {"0"}},
		{"offset": {"-1"}},
		{"status": {"exploded"}},
		{"coverage_area_id": {"not-a-uuid"}},
		{"active": {"maybe"}},
	}
	for _, q := range bad {
		_, err := Parse(q, testSpec)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "query %v", q)
	}
}

func TestParseFilters(t *testing.T) {
	q := url.Values{
		"status":           {"approved"},
		"coverage_area_id": {"6F9619FF-8B86-D011-B42D-00C04FC964FF"},
		"active":           {"1"},
		"geohash_prefix":   {"u4pru"},
		"ignored":          {"x"},
	}
	p, err := Parse(q, testSpec)
	require.NoError(t, err)
	require.Len(t, p.Filters, 4)

	v, ok := p.Value("coverage_area_id")
	assert.True(t, ok)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", v)

	v, _ = p.Value("active")
	assert.Equal(t, "true", v)

	_, ok = p.Value("name")
	assert.False(t, ok)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_a\\b`, escapeLike(`100%_a\b`))
}

type row struct {
	id       string
	status   string
	priority int
	geohash  string
}

func rowField(r row, column string) any {
	switch column {
	case "id":
		return r.id
	case "status":
		return r.status
	case "priority":
		return r.priority
	case "geohash":
		return r.geohash
	}
	return nil
}

func TestSlice(t *testing.T) {
	rows := []row{
		{id: "a", status: "submitted", priority: 1, geohash: "9q8yy"},
		{id: "b", status: "approved", priority: 5, geohash: "9q8yz"},
		{id: "c", status: "submitted", priority: 5, geohash: "dr5ru"},
		{id: "d", status: "submitted", priority: 3, geohash: "9q8zz"},
	}

	q := url.Values{"order_by": {"priority"}, "order_dir": {"desc"}, "status": {"submitted"}}
	p, err := Parse(q, testSpec)
	require.NoError(t, err)

	got := Slice(rows, p, rowField)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "d", "a"}, []string{got[0].id, got[1].id, got[2].id})

	q = url.Values{"order_by": {"priority"}, "geohash_prefix": {"9q8y"}, "limit": {"1"}, "offset": {"1"}}
	p, err = Parse(q, testSpec)
	require.NoError(t, err)

	got = Slice(rows, p, rowField)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].id)

	p.Offset = 10
	assert.Empty(t, Slice(rows, p, rowField))
}
