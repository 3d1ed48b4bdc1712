package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request. Page is
// 1-based; Offset is derived from it unless the caller passed an explicit
// offset.
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// FromContext extracts pagination parameters from the echo context. Both the
// page/limit and the offset/limit styles are accepted; page wins when both
// are present.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page > 0 {
		return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Page: offset/limit + 1, Limit: limit, Offset: offset}
}

// New builds Params from a 1-based page and a limit, applying the same
// defaults and bounds as FromContext.
func New(page, limit int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page <= 0 {
		page = 1
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// WithOffset positions p at an explicit row offset, keeping Page consistent
// with it. A non-positive offset leaves p unchanged.
func (p Params) WithOffset(offset int) Params {
	if offset <= 0 || p.Limit <= 0 {
		return p
	}
	p.Offset = offset
	p.Page = offset/p.Limit + 1
	return p
}

// Response wraps a paginated API response.
type Response struct {
	Data        interface{} `json:"data"`
	Total       int         `json:"total"`
	Page        int         `json:"page"`
	Limit       int         `json:"limit"`
	Offset      int         `json:"offset"`
	TotalPages  int         `json:"total_pages"`
	HasMore     bool        `json:"has_more"`
	HasPrevious bool        `json:"has_previous"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:        data,
		Total:       total,
		Page:        p.Page,
		Limit:       p.Limit,
		Offset:      p.Offset,
		TotalPages:  p.TotalPages(total),
		HasMore:     p.HasNext(total),
		HasPrevious: p.HasPrevious(),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// TotalPages returns the number of pages needed for total results.
func (p Params) TotalPages(total int) int {
	if total <= 0 || p.Limit <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}
