package dataset

import (
	"fmt"

	"district-insights/internal/models"
)

// DefaultPageSize matches the page size of the district table view
const DefaultPageSize = 10

// NoResults is the placeholder shown when the filtered table is empty
const NoResults = "No results found."

// Table is the searchable, sortable, paginated view over one district's rows.
// It keeps the full row set so a new search never needs a reload. A Table is
// not safe for concurrent use.
type Table struct {
	all      []models.Row
	filtered []models.Row

	search    string
	sort      SortSpec
	pageSize  int
	pageIndex int
	hidden    map[string]bool
}

// NewTable builds a table over rows. A non-positive pageSize uses DefaultPageSize.
func NewTable(rows []models.Row, pageSize int) *Table {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	t := &Table{
		all:      rows,
		pageSize: pageSize,
		hidden:   make(map[string]bool),
	}
	t.refilter()
	return t
}

// Len is the number of rows before search
func (t *Table) Len() int { return len(t.all) }

// FilteredLen is the number of rows matching the current search
func (t *Table) FilteredLen() int { return len(t.filtered) }

// Search returns the current search term
func (t *Table) Search() string { return t.search }

// SetSearch narrows the view to rows containing term and returns to page 0
func (t *Table) SetSearch(term string) {
	if term == t.search {
		return
	}
	t.search = term
	t.refilter()
}

// SortSpec returns the current sort
func (t *Table) SortSpec() SortSpec { return append(SortSpec(nil), t.sort...) }

// SetSort replaces the sort spec. The page index is kept.
func (t *Table) SetSort(spec SortSpec) {
	t.sort = append(SortSpec(nil), spec...)
	t.filtered = Sort(ApplySearch(t.all, t.search), t.sort)
}

// SetPageSize changes the page size and returns to page 0
func (t *Table) SetPageSize(n int) {
	if n <= 0 || n == t.pageSize {
		return
	}
	t.pageSize = n
	t.pageIndex = 0
}

// PageSize returns the page size
func (t *Table) PageSize() int { return t.pageSize }

// PageIndex returns the zero-based current page
func (t *Table) PageIndex() int { return t.pageIndex }

// PageCount returns the number of pages of the filtered rows
func (t *Table) PageCount() int { return PageCount(len(t.filtered), t.pageSize) }

// CanPreviousPage reports whether PreviousPage would move
func (t *Table) CanPreviousPage() bool { return t.pageIndex > 0 }

// CanNextPage reports whether NextPage would move
func (t *Table) CanNextPage() bool { return t.pageIndex+1 < t.PageCount() }

// NextPage advances one page; it is a no-op on the last page
func (t *Table) NextPage() bool {
	if !t.CanNextPage() {
		return false
	}
	t.pageIndex++
	return true
}

// PreviousPage goes back one page; it is a no-op on the first page
func (t *Table) PreviousPage() bool {
	if !t.CanPreviousPage() {
		return false
	}
	t.pageIndex--
	return true
}

// GoToPage jumps to page i. Out of range indexes leave the table unchanged.
func (t *Table) GoToPage(i int) error {
	if i == 0 && len(t.filtered) == 0 {
		t.pageIndex = 0
		return nil
	}
	if i < 0 || i >= t.PageCount() {
		return ErrPageOutOfRange
	}
	t.pageIndex = i
	return nil
}

// SetColumnVisible shows or hides a display column. Hidden columns are still
// searched and sorted.
func (t *Table) SetColumnVisible(key string, visible bool) error {
	if !isDisplayColumn(key) {
		return fmt.Errorf("unknown column %q", key)
	}
	if visible {
		delete(t.hidden, key)
	} else {
		t.hidden[key] = true
	}
	return nil
}

// ToggleColumn flips the visibility of a display column
func (t *Table) ToggleColumn(key string) error {
	return t.SetColumnVisible(key, t.hidden[key])
}

// IsColumnVisible reports the visibility of a column
func (t *Table) IsColumnVisible(key string) bool { return !t.hidden[key] }

// VisibleColumns returns the display columns not hidden, in display order
func (t *Table) VisibleColumns() []models.Column {
	cols := make([]models.Column, 0, len(models.DisplayColumns))
	for _, c := range models.DisplayColumns {
		if !t.hidden[c.Key] {
			cols = append(cols, c)
		}
	}
	return cols
}

// View is a rendered page of the table
type View struct {
	Columns     []models.Column `json:"columns"`
	Rows        []models.Row    `json:"rows"`
	Search      string          `json:"search,omitempty"`
	Sort        string          `json:"sort,omitempty"`
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
	PageCount   int             `json:"page_count"`
	Total       int             `json:"total"`
	CanPrevious bool            `json:"can_previous"`
	CanNext     bool            `json:"can_next"`
	Empty       bool            `json:"empty"`
	Message     string          `json:"message,omitempty"`
}

// View renders the current page restricted to the visible columns
func (t *Table) View() View {
	cols := t.VisibleColumns()
	v := View{
		Columns:     cols,
		Rows:        []models.Row{},
		Search:      t.search,
		Sort:        t.sort.String(),
		Page:        t.pageIndex,
		PageSize:    t.pageSize,
		PageCount:   t.PageCount(),
		Total:       len(t.filtered),
		CanPrevious: t.CanPreviousPage(),
		CanNext:     t.CanNextPage(),
	}

	page, err := Paginate(t.filtered, t.pageSize, t.pageIndex)
	if err != nil || len(page) == 0 {
		v.Empty = true
		v.Message = NoResults
		return v
	}

	for _, row := range page {
		out := make(models.Row, len(cols))
		for _, c := range cols {
			out[c.Key] = row.Get(c.Key)
		}
		v.Rows = append(v.Rows, out)
	}
	return v
}

func (t *Table) refilter() {
	t.filtered = Sort(ApplySearch(t.all, t.search), t.sort)
	t.pageIndex = 0
}
