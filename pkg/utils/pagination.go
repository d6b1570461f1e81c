package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ParsePagination reads page/per_page query params, clamping per_page to
// [1, MaxPerPage] and page to >= 1.
func ParsePagination(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// PaginationMeta builds the standard pagination envelope.
func PaginationMeta(total int64, page, perPage int) gin.H {
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	return gin.H{
		"page":     page,
		"per_page": perPage,
		"total":    total,
		"pages":    pages,
		"has_next": page < pages,
		"has_prev": page > 1,
	}
}
