package shared

import (
	"math"
	"net/url"
	"strconv"
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

const (
	maxPerPage = 200
	// maxPage keeps (page-1)*perPage well inside int range.
	maxPage = 1_000_000
)

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.PerPage <= 0 {
		return 0
	}
	return (min(p.Page, maxPage) - 1) * min(p.PerPage, maxPerPage)
}

// PageFromQuery reads page/per_page query parameters, ignoring junk.
func PageFromQuery(q url.Values) (page, perPage int) {
	page, _ = strconv.Atoi(q.Get("page"))
	perPage, _ = strconv.Atoi(q.Get("per_page"))
	p := NewPagination(page, perPage, 0)
	return p.Page, p.PerPage
}
