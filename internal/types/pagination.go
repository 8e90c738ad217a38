package types

// PageInfo describes a list response's position in the result set. Cursors
// are opaque to clients; the server derives them from the last item's sort
// key.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	TotalItems *int   `json:"total_items,omitempty"`
}

// ResponseMeta carries non-blocking metadata alongside response data, such
// as catalog reload warnings or pagination state.
type ResponseMeta struct {
	Warnings   []string  `json:"warnings,omitempty"`
	Pagination *PageInfo `json:"pagination,omitempty"`
}

// TrimPage applies the limit+1 query convention shared by every list
// endpoint: stores fetch one row past the requested limit, and that extra
// row's presence means another page exists. The overflow row is dropped and
// cursorOf on the last kept item yields the next page's cursor.
func TrimPage[T any](items []T, limit int, cursorOf func(T) string) ([]T, PageInfo) {
	var info PageInfo
	if len(items) > limit {
		info.HasMore = true
		items = items[:limit]
	}
	if info.HasMore && len(items) > 0 {
		info.NextCursor = cursorOf(items[len(items)-1])
	}
	return items, info
}
