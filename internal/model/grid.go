package model

// GridRequest is the server-side row model request sent by the admin grids.
type GridRequest struct {
    StartRow    int                   `json:"startRow"`
    EndRow      int                   `json:"endRow"`
    SortModel   []SortModel           `json:"sortModel,omitempty"`
    FilterModel map[string]FilterSpec `json:"filterModel,omitempty"`
}

type SortModel struct {
    ColID string `json:"colId"`
    Sort  string `json:"sort"`
}

// FilterSpec mirrors a column filter: text, number or set, optionally
// combined from two conditions with AND/OR.
type FilterSpec struct {
    FilterType string       `json:"filterType"`
    Type       string       `json:"type,omitempty"`
    Filter     any          `json:"filter,omitempty"`
    FilterTo   any          `json:"filterTo,omitempty"`
    Values     []any        `json:"values,omitempty"`
    Operator   string       `json:"operator,omitempty"`
    Conditions []FilterSpec `json:"conditions,omitempty"`
}

type GridResponse[T any] struct {
    Rows    []T `json:"rows"`
    LastRow int `json:"lastRow"`
}

// PageSize and Offset follow the grid contract: at least one row, never negative.
func (g GridRequest) PageSize() int {
    if n := g.EndRow - g.StartRow; n > 1 { return n }
    return 1
}

func (g GridRequest) Offset() int {
    if g.StartRow > 0 { return g.StartRow }
    return 0
}
