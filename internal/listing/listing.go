// Package listing implements the list contract shared by every collection
// endpoint: an allowlisted order_by/order_dir, a bounded limit/offset window,
// and optional per-entity equality filters.
package listing

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	ErrInvalidOrderBy  = fmt.Errorf("invalid order_by: %w", apperr.ErrInvalidInput)
	ErrInvalidOrderDir = fmt.Errorf("invalid order_dir: %w", apperr.ErrInvalidInput)
	ErrInvalidWindow   = fmt.Errorf("invalid limit or offset: %w", apperr.ErrInvalidInput)
	ErrInvalidFilter   = fmt.Errorf("invalid filter: %w", apperr.ErrInvalidInput)
)

// FilterKind controls how a filter value is validated and matched.
type FilterKind int

const (
	Equal FilterKind = iota
	UUID
	Bool
	// Prefix matches rows whose column starts with the value.
	Prefix
)

type FilterSpec struct {
	Column string
	Kind   FilterKind
	// Allowed, when set, restricts Equal filters to an enum.
	Allowed []string
}

// Spec describes what one entity's list endpoint accepts.
type Spec struct {
	// OrderBy maps public order_by names to columns.
	OrderBy      map[string]string
	DefaultOrder string
	DefaultDesc  bool
	// TieBreak, when set, is an ascending column ordered on after the
	// requested one and before id.
	TieBreak string
	// Filters maps query parameters to columns.
	Filters map[string]FilterSpec
}

type Filter struct {
	Column string
	Kind   FilterKind
	Value  string
}

// Params is a validated list request.
type Params struct {
	OrderColumn string
	Desc        bool
	TieBreak    string
	Limit       int
	Offset      int
	Filters     []Filter
}

// Parse validates q against spec.
func Parse(q url.Values, spec Spec) (Params, error) {
	p := Params{Limit: DefaultLimit, Desc: spec.DefaultDesc, TieBreak: spec.TieBreak}

	orderBy := strings.TrimSpace(q.Get("order_by"))
	if orderBy == "" {
		orderBy = spec.DefaultOrder
	}
	col, ok := spec.OrderBy[orderBy]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrInvalidOrderBy, orderBy)
	}
	p.OrderColumn = col

	switch strings.ToLower(strings.TrimSpace(q.Get("order_dir"))) {
	case "":
	case "asc":
		p.Desc = false
	case "desc":
		p.Desc = true
	default:
		return Params{}, fmt.Errorf("%w: %q", ErrInvalidOrderDir, q.Get("order_dir"))
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("%w: limit=%q", ErrInvalidWindow, s)
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("%w: offset=%q", ErrInvalidWindow, s)
		}
		p.Offset = n
	}

	// Sorted so the generated SQL is stable.
	names := make([]string, 0, len(spec.Filters))
	for name := range spec.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		fs := spec.Filters[name]
		value, err := normalizeFilter(fs, raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, name, err)
		}
		p.Filters = append(p.Filters, Filter{Column: fs.Column, Kind: fs.Kind, Value: value})
	}

	return p, nil
}

func normalizeFilter(fs FilterSpec, raw string) (string, error) {
	switch fs.Kind {
	case UUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	case Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case Equal:
		if len(fs.Allowed) > 0 {
			for _, a := range fs.Allowed {
				if a == raw {
					return raw, nil
				}
			}
			return "", fmt.Errorf("must be one of %s", strings.Join(fs.Allowed, ", "))
		}
	}
	return raw, nil
}

// Scoped adds an equality filter the caller derived from the route, such as
// the project id of a nested collection.
func (p Params) Scoped(column, value string) Params {
	filters := make([]Filter, 0, len(p.Filters)+1)
	filters = append(filters, Filter{Column: column, Kind: Equal, Value: value})
	p.Filters = append(filters, p.Filters...)
	return p
}

// Value returns the filter value for column, if one was supplied.
func (p Params) Value(column string) (string, bool) {
	for _, f := range p.Filters {
		if f.Column == column {
			return f.Value, true
		}
	}
	return "", false
}

// Apply adds the filters, ordering and window to a gorm query.
func (p Params) Apply(tx *gorm.DB) *gorm.DB {
	for _, f := range p.Filters {
		col := clause.Column{Name: f.Column}
		switch f.Kind {
		case Prefix:
			tx = tx.Where(clause.Like{Column: col, Value: escapeLike(f.Value) + "%"})
		case Bool:
			tx = tx.Where(clause.Eq{Column: col, Value: f.Value == "true"})
		default:
			tx = tx.Where(clause.Eq{Column: col, Value: f.Value})
		}
	}
	if p.OrderColumn != "" {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: p.OrderColumn}, Desc: p.Desc})
	}
	if p.TieBreak != "" && p.TieBreak != p.OrderColumn {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: p.TieBreak}})
	}
	// Tie-break on id so pages do not shuffle between requests.
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})
	return tx.Limit(p.Limit).Offset(p.Offset)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
