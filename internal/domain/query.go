package domain

// SortOrder is the direction requested by the table sorter.
type SortOrder string

const (
	SortAscend  SortOrder = "ascend"
	SortDescend SortOrder = "descend"
)

// Sorter names the column to sort by. A nil field or empty order disables sorting.
type Sorter struct {
	Field *string   `json:"field"`
	Order SortOrder `json:"order"`
}

// Active reports whether both a field and a direction are set.
func (s Sorter) Active() bool {
	return s.Field != nil && *s.Field != "" && s.Order != ""
}

// Pagination selects a 1-based page of PageSize rows.
type Pagination struct {
	Current  int `json:"current"`
	PageSize int `json:"pageSize"`
}

// QuerySpec is one interactive query against an assembled relation.
type QuerySpec struct {
	Group               *string             `json:"group"`
	Filters             map[string][]Value  `json:"filters"`
	CheckboxFilters     map[string][]string `json:"checkboxFilters"`
	CheckboxFilterModes map[string]bool     `json:"checkboxFilterModes"`
	Search              string              `json:"search"`
	Sorter              Sorter              `json:"sorter"`
	Pagination          Pagination          `json:"pagination"`
}

// IsZero reports the empty "first load" spec, which returns the relation unchanged.
func (q QuerySpec) IsZero() bool {
	return q.Group == nil &&
		len(q.Filters) == 0 &&
		len(q.CheckboxFilters) == 0 &&
		len(q.CheckboxFilterModes) == 0 &&
		q.Search == "" &&
		q.Sorter.Field == nil && q.Sorter.Order == "" &&
		q.Pagination == (Pagination{})
}

// Validate rejects specs the engine cannot answer without guessing.
func (q QuerySpec) Validate() error {
	if q.IsZero() {
		return nil
	}
	if q.Pagination.PageSize <= 0 {
		return &MalformedQuerySpecError{Reason: "pagination.pageSize must be at least 1"}
	}
	return nil
}

// FilterOption is one selectable filter value.
type FilterOption struct {
	Text  string `json:"text"`
	Value Value  `json:"value"`
}

// QueryResult is the response to a QuerySpec.
type QueryResult struct {
	DataNum         int                       `json:"dataNum"`
	PaginationTotal int                       `json:"paginationTotal"`
	Filters         map[string][]FilterOption `json:"filters"`
	FilteredData    []Record                  `json:"filteredData"`
	Groups          []FilterOption            `json:"groups,omitempty"`
}
