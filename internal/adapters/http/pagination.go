package http

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PaginatedResponse wraps list results with pagination metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination contains offset-based pagination info.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// SetLinkHeaders adds RFC 8288 Link headers for paginated responses. The
// backend filter on the current request is carried into every link, so a
// client can walk a filtered listing page by page without re-applying it.
func SetLinkHeaders(c *fiber.Ctx, p Pagination) {
	base := c.Path()
	filter := ""
	if backend := c.Query("backend"); backend != "" {
		filter = "&backend=" + url.QueryEscape(backend)
	}

	page := func(offset int, rel string) string {
		return fmt.Sprintf(`<%s?offset=%d&limit=%d%s>; rel=%q`, base, offset, p.Limit, filter, rel)
	}

	links := []string{page(0, "first")}

	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, page(prev, "prev"))
	}

	if p.Offset+p.Limit < p.Total {
		links = append(links, page(p.Offset+p.Limit, "next"))
	}

	last := p.Total - p.Limit
	if last < 0 {
		last = 0
	}
	links = append(links, page(last, "last"))

	c.Set("Link", strings.Join(links, ", "))
}
