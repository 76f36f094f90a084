package pagestore

// Page is the unit of persistence. Page ids are 1-based; page id maps to the byte offset
// (id-1)*PageSize of the page file.
//
// Pages handed out by Read are shared with the page cache and other readers and must be
// treated as read only. A page below the committed high-water mark is never rewritten:
// changes go to a newly allocated page id.
type Page struct {
	ID   uint64
	Data []byte
	// IsDirty is true while the staged contents have not reached the page file.
	IsDirty bool
	// ModifiedCounter is the store-wide modification sequence number of the last staged write.
	ModifiedCounter uint64
	// Deleted marks a staged page freed before its transaction committed.
	Deleted bool
}

// offset returns the byte offset of page id in a file of pageSize pages.
func offset(id uint64, pageSize int) int64 {
	return int64(id-1) * int64(pageSize)
}
