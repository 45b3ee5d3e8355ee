package dto

// ErrorResponse is the body of every non-2xx reply. Details maps request
// fields to what is wrong with them.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Pagination is a 1-based page request clamped to [1, maxPerPage] rows.
type Pagination struct {
	Page    int
	PerPage int
}

func NewPagination(page, perPage int) Pagination {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage < 1:
		perPage = defaultPerPage
	case perPage > maxPerPage:
		perPage = maxPerPage
	}
	return Pagination{Page: page, PerPage: perPage}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page is one page of a listing of total rows.
type Page[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

func NewPage[T any](p Pagination, data []T, total int64) Page[T] {
	if data == nil {
		data = []T{}
	}
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: int((total + int64(p.PerPage) - 1) / int64(p.PerPage)),
	}
}
