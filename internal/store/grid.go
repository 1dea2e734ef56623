package store

import (
    "fmt"
    "sort"
    "strconv"
    "strings"
    "time"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

// Grid queries accept ag-Grid style sort and filter models against a per
// entity column whitelist. The same compiled filter is evaluated in memory
// or rendered to SQL.

type colKind int

const (
    colText colKind = iota
    colNumber
    colBool
    colTime
)

type column[T any] struct {
    expr string
    kind colKind
    get  func(T) any
}

type gridSchema[T any] struct {
    entity string
    cols   map[string]column[T]
}

func (s gridSchema[T]) col(id string) (column[T], error) {
    c, ok := s.cols[id]
    if !ok { return c, fmt.Errorf("%w: unknown %s column %q", lifecycle.ErrInvalid, s.entity, id) }
    return c, nil
}

type cond struct {
    op    string
    kind  colKind
    text  string
    num   float64
    numTo float64
    set   []any
}

type colFilter[T any] struct {
    colID string
    col   column[T]
    or    bool
    conds []cond
}

type compiledGrid[T any] struct {
    filters []colFilter[T]
    sorts   []colSort[T]
}

type colSort[T any] struct {
    col  column[T]
    desc bool
}

var textOps = map[string]bool{"contains": true, "notContains": true, "equals": true, "notEqual": true, "startsWith": true, "endsWith": true, "blank": true, "notBlank": true}
var numberOps = map[string]bool{"equals": true, "notEqual": true, "greaterThan": true, "greaterThanOrEqual": true, "lessThan": true, "lessThanOrEqual": true, "inRange": true, "blank": true, "notBlank": true}

func (s gridSchema[T]) compile(q model.GridRequest) (compiledGrid[T], error) {
    var g compiledGrid[T]
    ids := make([]string, 0, len(q.FilterModel))
    for id := range q.FilterModel { ids = append(ids, id) }
    sort.Strings(ids)
    for _, id := range ids {
        c, err := s.col(id)
        if err != nil { return g, err }
        spec := q.FilterModel[id]
        f := colFilter[T]{colID: id, col: c}
        parts := []model.FilterSpec{spec}
        if len(spec.Conditions) > 0 {
            parts = spec.Conditions
            switch strings.ToUpper(spec.Operator) {
            case "", "AND":
            case "OR":
                f.or = true
            default:
                return g, fmt.Errorf("%w: filter operator %q on %s", lifecycle.ErrInvalid, spec.Operator, id)
            }
        }
        for _, p := range parts {
            if p.FilterType == "" { p.FilterType = spec.FilterType }
            cd, err := compileCond(id, c.kind, p)
            if err != nil { return g, err }
            f.conds = append(f.conds, cd)
        }
        g.filters = append(g.filters, f)
    }
    for _, sm := range q.SortModel {
        c, err := s.col(sm.ColID)
        if err != nil { return g, err }
        switch strings.ToLower(sm.Sort) {
        case "asc":
            g.sorts = append(g.sorts, colSort[T]{col: c})
        case "desc":
            g.sorts = append(g.sorts, colSort[T]{col: c, desc: true})
        default:
            return g, fmt.Errorf("%w: sort direction %q on %s", lifecycle.ErrInvalid, sm.Sort, sm.ColID)
        }
    }
    return g, nil
}

func compileCond(colID string, kind colKind, p model.FilterSpec) (cond, error) {
    bad := func(format string, args ...any) (cond, error) {
        return cond{}, fmt.Errorf("%w: filter on %s: %s", lifecycle.ErrInvalid, colID, fmt.Sprintf(format, args...))
    }
    if kind == colTime {
        return bad("column cannot be filtered")
    }
    c := cond{kind: kind, op: p.Type}
    switch p.FilterType {
    case "text":
        if kind != colText { return bad("text filter on a non-text column") }
        if c.op == "" { c.op = "contains" }
        if !textOps[c.op] { return bad("unsupported text filter %q", c.op) }
        if c.op != "blank" && c.op != "notBlank" {
            c.text = fmt.Sprint(orEmpty(p.Filter))
        }
    case "number":
        if kind != colNumber { return bad("number filter on a non-number column") }
        if c.op == "" { c.op = "equals" }
        if !numberOps[c.op] { return bad("unsupported number filter %q", c.op) }
        if c.op == "blank" || c.op == "notBlank" { break }
        n, ok := toFloat(p.Filter)
        if !ok { return bad("filter must be a number") }
        c.num = n
        if c.op == "inRange" {
            to, ok := toFloat(p.FilterTo)
            if !ok { return bad("filterTo must be a number") }
            c.numTo = to
        }
    case "set":
        c.op = "in"
        for _, v := range p.Values {
            nv, ok := setValue(kind, v)
            if !ok { return bad("set value %v does not fit the column", v) }
            c.set = append(c.set, nv)
        }
    default:
        return bad("unsupported filterType %q", p.FilterType)
    }
    return c, nil
}

func orEmpty(v any) any {
    if v == nil { return "" }
    return v
}

func toFloat(v any) (float64, bool) {
    switch x := v.(type) {
    case float64:
        return x, true
    case int:
        return float64(x), true
    case int64:
        return float64(x), true
    case string:
        f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
        return f, err == nil
    }
    return 0, false
}

func setValue(kind colKind, v any) (any, bool) {
    switch kind {
    case colBool:
        switch x := v.(type) {
        case bool:
            return x, true
        case string:
            b, err := strconv.ParseBool(x)
            return b, err == nil
        }
        return nil, false
    case colNumber:
        return toFloat(v)
    }
    if v == nil { return nil, false }
    return fmt.Sprint(v), true
}

// plain unwraps pointers and widens numbers so memory rows compare uniformly.
func plain(v any) any {
    switch x := v.(type) {
    case nil:
        return nil
    case *string:
        if x == nil { return nil }
        return *x
    case *int64:
        if x == nil { return nil }
        return float64(*x)
    case *int:
        if x == nil { return nil }
        return float64(*x)
    case *float64:
        if x == nil { return nil }
        return *x
    case *bool:
        if x == nil { return nil }
        return *x
    case *time.Time:
        if x == nil { return nil }
        return *x
    case int:
        return float64(x)
    case int64:
        return float64(x)
    }
    return v
}

func (c cond) match(raw any) bool {
    v := plain(raw)
    switch c.op {
    case "blank":
        s, isStr := v.(string)
        return v == nil || (isStr && s == "")
    case "notBlank":
        s, isStr := v.(string)
        return v != nil && !(isStr && s == "")
    case "in":
        for _, want := range c.set {
            if s, ok := v.(string); ok {
                if w, ok := want.(string); ok && strings.EqualFold(s, w) { return true }
                continue
            }
            if v == want { return true }
        }
        return false
    }
    if c.kind == colText {
        s, ok := v.(string)
        if !ok {
            return c.op == "notContains" || c.op == "notEqual"
        }
        s, needle := strings.ToLower(s), strings.ToLower(c.text)
        switch c.op {
        case "contains":
            return strings.Contains(s, needle)
        case "notContains":
            return !strings.Contains(s, needle)
        case "equals":
            return s == needle
        case "notEqual":
            return s != needle
        case "startsWith":
            return strings.HasPrefix(s, needle)
        case "endsWith":
            return strings.HasSuffix(s, needle)
        }
        return false
    }
    f, ok := v.(float64)
    if !ok { return c.op == "notEqual" }
    switch c.op {
    case "equals":
        return f == c.num
    case "notEqual":
        return f != c.num
    case "greaterThan":
        return f > c.num
    case "greaterThanOrEqual":
        return f >= c.num
    case "lessThan":
        return f < c.num
    case "lessThanOrEqual":
        return f <= c.num
    case "inRange":
        return f >= c.num && f <= c.numTo
    }
    return false
}

func (f colFilter[T]) match(row T) bool {
    v := f.col.get(row)
    for _, c := range f.conds {
        ok := c.match(v)
        if f.or && ok { return true }
        if !f.or && !ok { return false }
    }
    return !f.or
}

// compareValues orders nil after everything else.
func compareValues(a, b any) int {
    a, b = plain(a), plain(b)
    switch {
    case a == nil && b == nil:
        return 0
    case a == nil:
        return 1
    case b == nil:
        return -1
    }
    switch x := a.(type) {
    case string:
        return strings.Compare(strings.ToLower(x), strings.ToLower(b.(string)))
    case float64:
        y := b.(float64)
        if x < y { return -1 }
        if x > y { return 1 }
        return 0
    case bool:
        y := b.(bool)
        if x == y { return 0 }
        if !x { return -1 }
        return 1
    case time.Time:
        return x.Compare(b.(time.Time))
    }
    return 0
}

// queryRows filters, sorts and pages rows in memory. idOf provides the
// default id desc order and the final tie break.
func queryRows[T any](s gridSchema[T], rows []T, q model.GridRequest, idOf func(T) int64) ([]T, int, error) {
    g, err := s.compile(q)
    if err != nil { return nil, 0, err }
    matched := make([]T, 0, len(rows))
    for _, r := range rows {
        keep := true
        for _, f := range g.filters {
            if !f.match(r) { keep = false; break }
        }
        if keep { matched = append(matched, r) }
    }
    sort.SliceStable(matched, func(i, j int) bool {
        for _, so := range g.sorts {
            va, vb := so.col.get(matched[i]), so.col.get(matched[j])
            c := compareValues(va, vb)
            if c == 0 { continue }
            if plain(va) == nil || plain(vb) == nil { return c < 0 }
            if so.desc { return c > 0 }
            return c < 0
        }
        return idOf(matched[i]) > idOf(matched[j])
    })
    total := len(matched)
    off := q.Offset()
    if off >= total { return []T{}, total, nil }
    end := off + q.PageSize()
    if end > total { end = total }
    return matched[off:end], total, nil
}

// sqlArgs numbers placeholders as arguments are appended.
type sqlArgs struct {
    args []any
}

func (a *sqlArgs) add(v any) string {
    a.args = append(a.args, v)
    return "$" + strconv.Itoa(len(a.args))
}

// num binds a filter number; the cast lets integer columns compare with it.
func (a *sqlArgs) num(v any) string { return a.add(v) + "::float8" }

func likeEscape(s string) string {
    r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
    return r.Replace(s)
}

func (c cond) sql(expr string, a *sqlArgs) string {
    switch c.op {
    case "blank":
        if c.kind == colText { return "(" + expr + " IS NULL OR " + expr + " = '')" }
        return expr + " IS NULL"
    case "notBlank":
        if c.kind == colText { return "(" + expr + " IS NOT NULL AND " + expr + " <> '')" }
        return expr + " IS NOT NULL"
    case "in":
        if len(c.set) == 0 { return "FALSE" }
        ph := make([]string, len(c.set))
        for i, v := range c.set {
            if c.kind == colNumber { ph[i] = a.num(v) } else { ph[i] = a.add(v) }
        }
        if c.kind == colText { return "lower(" + expr + ") IN (" + strings.Join(lowerAll(ph), ", ") + ")" }
        return expr + " IN (" + strings.Join(ph, ", ") + ")"
    }
    if c.kind == colText {
        esc := likeEscape(c.text)
        switch c.op {
        case "contains":
            return expr + " ILIKE " + a.add("%"+esc+"%")
        case "notContains":
            return "(" + expr + " IS NULL OR " + expr + " NOT ILIKE " + a.add("%"+esc+"%") + ")"
        case "equals":
            return expr + " ILIKE " + a.add(esc)
        case "notEqual":
            return "(" + expr + " IS NULL OR " + expr + " NOT ILIKE " + a.add(esc) + ")"
        case "startsWith":
            return expr + " ILIKE " + a.add(esc+"%")
        case "endsWith":
            return expr + " ILIKE " + a.add("%"+esc)
        }
    }
    switch c.op {
    case "equals":
        return expr + " = " + a.num(c.num)
    case "notEqual":
        return "(" + expr + " IS NULL OR " + expr + " <> " + a.num(c.num) + ")"
    case "greaterThan":
        return expr + " > " + a.num(c.num)
    case "greaterThanOrEqual":
        return expr + " >= " + a.num(c.num)
    case "lessThan":
        return expr + " < " + a.num(c.num)
    case "lessThanOrEqual":
        return expr + " <= " + a.num(c.num)
    case "inRange":
        return expr + " BETWEEN " + a.num(c.num) + " AND " + a.num(c.numTo)
    }
    return "TRUE"
}

func lowerAll(ph []string) []string {
    out := make([]string, len(ph))
    for i, p := range ph { out[i] = "lower(" + p + ")" }
    return out
}

// sqlClauses renders the WHERE (without the keyword, "TRUE" when empty)
// and ORDER BY clauses. base conditions are ANDed in front.
func (g compiledGrid[T]) sqlClauses(base []string, a *sqlArgs) (string, string) {
    where := append([]string(nil), base...)
    for _, f := range g.filters {
        parts := make([]string, 0, len(f.conds))
        for _, c := range f.conds { parts = append(parts, c.sql(f.col.expr, a)) }
        joiner := " AND "
        if f.or { joiner = " OR " }
        where = append(where, "("+strings.Join(parts, joiner)+")")
    }
    w := "TRUE"
    if len(where) > 0 { w = strings.Join(where, " AND ") }
    order := make([]string, 0, len(g.sorts)+1)
    for _, so := range g.sorts {
        dir := "ASC"
        if so.desc { dir = "DESC" }
        order = append(order, so.col.expr+" "+dir+" NULLS LAST")
    }
    order = append(order, "id DESC")
    return w, strings.Join(order, ", ")
}
