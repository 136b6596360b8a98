package view

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

var (
	// ErrMissingParentID is returned when a child view is looked up or
	// listed without its parent id.
	ErrMissingParentID = errors.New("stoat/view: missing parent id")

	// ErrUnknownField is returned when a sorter names a field the view does not have.
	ErrUnknownField = errors.New("stoat/view: unknown sort field")
)

// DefaultPageSize is used when a query leaves PageSize unset.
const DefaultPageSize = 20

// Child is implemented by views that live under a parent, such as the lines
// of an order. Child views are always read within their parent.
type Child interface {
	ParentID() string
}

// Direction orders a sorted query.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sorter orders views by one field, named by its JSON name or its Go name.
type Sorter struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Query selects one page of views.
type Query[V any] struct {
	// ParentID scopes the query to the children of one parent.
	ParentID string

	// Filter keeps the views it returns true for. Nil keeps every view.
	Filter func(V) bool

	// Sort applies sorters in order. Without sorters views come in id order.
	Sort []Sorter

	// Page is numbered from 0.
	Page     int
	PageSize int
}

// Paged is one page of a query result. Total counts every matching view.
type Paged[V any] struct {
	Items    []V `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Lister is implemented by stores that can answer queries.
type Lister[V any] interface {
	List(ctx context.Context, q Query[V]) (Paged[V], error)
}

// IsChild reports whether views of type V implement Child.
func IsChild[V any]() bool {
	var zero V
	if _, ok := any(zero).(Child); ok {
		return true
	}
	t := reflect.TypeFor[V]()
	return t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(reflect.TypeFor[Child]())
}

// FindIn looks a view up within its parent. A view that belongs to another
// parent is reported as not found.
func FindIn[V any](ctx context.Context, store Store[V], parentID, viewID string) (V, bool, error) {
	var zero V
	if !IsChild[V]() {
		return store.Find(ctx, viewID)
	}
	if parentID == "" {
		return zero, false, ErrMissingParentID
	}

	v, ok, err := store.Find(ctx, viewID)
	if err != nil || !ok {
		return zero, false, err
	}
	if parentOf(v) != parentID {
		return zero, false, nil
	}
	return v, true, nil
}

func parentOf[V any](v V) string {
	if c, ok := any(v).(Child); ok {
		return c.ParentID()
	}
	if c, ok := any(&v).(Child); ok {
		return c.ParentID()
	}
	return ""
}

type keyed[V any] struct {
	id   string
	view V
}

// runQuery answers q over views already loaded, given in any order.
func runQuery[V any](views []keyed[V], q Query[V]) (Paged[V], error) {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	child := IsChild[V]()
	if child && q.ParentID == "" {
		return Paged[V]{}, ErrMissingParentID
	}

	less, err := sorterFunc[V](q.Sort)
	if err != nil {
		return Paged[V]{}, err
	}

	matched := make([]keyed[V], 0, len(views))
	for _, kv := range views {
		if child && parentOf(kv.view) != q.ParentID {
			continue
		}
		if q.Filter != nil && !q.Filter(kv.view) {
			continue
		}
		matched = append(matched, kv)
	}

	slices.SortStableFunc(matched, func(a, b keyed[V]) int {
		if c := less(a.view, b.view); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	out := Paged[V]{Items: []V{}, Total: len(matched), Page: q.Page, PageSize: q.PageSize}
	start := q.Page * q.PageSize
	if start >= len(matched) {
		return out, nil
	}
	end := min(start+q.PageSize, len(matched))
	for _, kv := range matched[start:end] {
		out.Items = append(out.Items, kv.view)
	}
	return out, nil
}

// sorterFunc resolves sorters against V's fields once, up front.
func sorterFunc[V any](sorters []Sorter) (func(a, b V) int, error) {
	if len(sorters) == 0 {
		return func(V, V) int { return 0 }, nil
	}

	t := reflect.TypeFor[V]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnknownField, t)
	}

	type key struct {
		index []int
		desc  bool
	}
	keys := make([]key, len(sorters))
	for i, s := range sorters {
		f, ok := lookupField(t, s.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrUnknownField, s.Field, t)
		}
		keys[i] = key{index: f.Index, desc: strings.EqualFold(string(s.Direction), string(Desc))}
	}

	return func(a, b V) int {
		va, vb := structValue(a), structValue(b)
		for _, k := range keys {
			var c int
			switch {
			case !va.IsValid() && !vb.IsValid():
			case !va.IsValid():
				c = -1
			case !vb.IsValid():
				c = 1
			default:
				c = compareValues(va.FieldByIndex(k.index), vb.FieldByIndex(k.index))
			}
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}, nil
}

func lookupField(t reflect.Type, name string) (reflect.StructField, bool) {
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name || strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// structValue dereferences v down to its struct; nil pointers are invalid.
func structValue(v any) reflect.Value {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

var timeType = reflect.TypeFor[time.Time]()

func compareValues(a, b reflect.Value) int {
	if a.Type() == timeType {
		return a.Interface().(time.Time).Compare(b.Interface().(time.Time))
	}
	switch a.Kind() {
	case reflect.String:
		return cmp.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	case reflect.Bool:
		switch {
		case a.Bool() == b.Bool():
			return 0
		case b.Bool():
			return -1
		default:
			return 1
		}
	default:
		return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	}
}
