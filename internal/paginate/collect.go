// Package paginate drains cursor-based listings up to an item limit.
package paginate

import (
	"context"
	"fmt"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// FetchFunc returns the page that starts at cursor. The first call receives an
// empty cursor.
type FetchFunc[T any] func(ctx context.Context, cursor string) (resource.Page[T], error)

// Collect fetches pages until the stream ends or limit items are held, and
// returns at most limit items in page order. A limit <= 0 fetches nothing.
//
// A failure on any page discards everything collected so far. A page that hands
// back the cursor it was called with ends the stream; CloudWatch Logs repeats
// its final token instead of omitting it.
func Collect[T any](ctx context.Context, limit int, fetch FetchFunc[T]) ([]T, error) {
	if limit <= 0 {
		return []T{}, nil
	}

	var (
		items  []T
		cursor string
		pages  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, cursor)
		pages++
		if err != nil {
			if pages == 1 {
				return nil, err
			}
			return nil, fmt.Errorf("page %d: %w", pages, err)
		}

		items = append(items, page.Items...)
		if len(items) >= limit {
			return items[:limit], nil
		}

		if page.Next == "" || page.Next == cursor {
			break
		}
		cursor = page.Next
	}

	if items == nil {
		items = []T{}
	}
	return items, nil
}
