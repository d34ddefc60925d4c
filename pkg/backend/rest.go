package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Query builds a request against one REST table. Filters use the
// "column=op.value" syntax of the REST API.
type Query struct {
	c      *Client
	table  string
	params url.Values
}

func (c *Client) From(table string) *Query {
	return &Query{c: c, table: table, params: url.Values{}}
}

func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) filter(col, op, val string) *Query {
	q.params.Add(col, op+"."+val)
	return q
}

func (q *Query) Eq(col, val string) *Query  { return q.filter(col, "eq", val) }
func (q *Query) Neq(col, val string) *Query { return q.filter(col, "neq", val) }
func (q *Query) Is(col, val string) *Query  { return q.filter(col, "is", val) }
func (q *Query) In(col string, vals ...string) *Query {
	list := "("
	for i, v := range vals {
		if i > 0 {
			list += ","
		}
		list += v
	}
	return q.filter(col, "in", list+")")
}

// Or adds a disjunction, e.g. Or("created_by.eq.x,accepted_by.eq.x").
func (q *Query) Or(expr string) *Query {
	q.params.Add("or", "("+expr+")")
	return q
}

func (q *Query) Order(col string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.params.Set("order", col+"."+dir)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

func (q *Query) path() string { return "/rest/v1/" + q.table }

// Get decodes all matching rows into out (a pointer to a slice).
func (q *Query) Get(ctx context.Context, out interface{}) error {
	return q.c.do(ctx, &request{method: http.MethodGet, path: q.path(), query: q.params}, out)
}

// Single decodes exactly one row into out. Zero rows come back as a 406 *Error
// with code PGRST116.
func (q *Query) Single(ctx context.Context, out interface{}) error {
	h := http.Header{}
	h.Set("Accept", "application/vnd.pgrst.object+json")
	return q.c.do(ctx, &request{method: http.MethodGet, path: q.path(), query: q.params, header: h}, out)
}

func representation() http.Header {
	h := http.Header{}
	h.Set("Prefer", "return=representation")
	return h
}

// Insert posts row and decodes the stored representation into out.
func (q *Query) Insert(ctx context.Context, row interface{}, out interface{}) error {
	return q.c.do(ctx, &request{method: http.MethodPost, path: q.path(), query: q.params, header: representation(), body: row}, out)
}

// Update patches all rows matching the filters and decodes the updated rows into out.
func (q *Query) Update(ctx context.Context, patch interface{}, out interface{}) error {
	if !q.hasFilter() {
		return fmt.Errorf("update %s: refusing to patch without a filter", q.table)
	}
	return q.c.do(ctx, &request{method: http.MethodPatch, path: q.path(), query: q.params, header: representation(), body: patch}, out)
}

func (q *Query) Delete(ctx context.Context) error {
	if !q.hasFilter() {
		return fmt.Errorf("delete %s: refusing to delete without a filter", q.table)
	}
	return q.c.do(ctx, &request{method: http.MethodDelete, path: q.path(), query: q.params}, nil)
}

func (q *Query) hasFilter() bool {
	for k := range q.params {
		switch k {
		case "select", "order", "limit":
			continue
		}
		return true
	}
	return false
}

// Encode returns the query string, mostly for logging.
func (q *Query) Encode() string { return q.params.Encode() }
