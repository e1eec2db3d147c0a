package logs

// DefaultPageSize is the number of entries requested per page.
const DefaultPageSize = 10

type provisionalEntry struct {
	entry Entry
	// watermark is the latest log request sequence at the time the entry was
	// created. A page response whose request sequence is above the watermark
	// was issued afterwards and supersedes the entry.
	watermark uint64
	// order ranks entries created by the same kind of action; higher is newer.
	order uint64
}

// Window holds one page of log entries, newest first, plus the pagination
// cursor. Locally synthesized entries are kept apart from server pages so a
// stale page-1 response cannot drop them before the server has caught up.
//
// Window is not safe for concurrent use; the owning session serializes access.
type Window struct {
	page        int
	size        int
	loadedPage  int
	entries     []Entry
	provisional []provisionalEntry
}

// NewWindow creates a window positioned on page 1.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Window{page: 1, size: size}
}

// Page returns the currently requested page index.
func (w *Window) Page() int { return w.page }

// PageSize returns the number of entries per page.
func (w *Window) PageSize() int { return w.size }

// LoadedPage returns the page whose server entries are displayed, or 0 when
// nothing has been loaded yet.
func (w *Window) LoadedPage() int { return w.loadedPage }

// ApplyPage stores a server page. Responses for any page other than the one
// currently requested are rejected.
func (w *Window) ApplyPage(entries []Entry, page int, seq uint64) bool {
	if page != w.page {
		return false
	}
	w.entries = append([]Entry(nil), entries...)
	w.loadedPage = page
	if page == 1 && len(w.provisional) > 0 {
		kept := w.provisional[:0]
		for _, p := range w.provisional {
			if seq <= p.watermark {
				kept = append(kept, p)
			}
		}
		w.provisional = kept
	}
	return true
}

// AddLocal inserts a provisional entry into page 1 above every provisional
// entry of lower order, so a late confirmation of an older action lands below
// the newer one. It does nothing while another page is displayed.
func (w *Window) AddLocal(entry Entry, watermark, order uint64) bool {
	if w.page != 1 {
		return false
	}
	entry.Provisional = true
	at := 0
	for at < len(w.provisional) && w.provisional[at].order > order {
		at++
	}
	w.provisional = append(w.provisional, provisionalEntry{})
	copy(w.provisional[at+1:], w.provisional[at:])
	w.provisional[at] = provisionalEntry{entry: entry, watermark: watermark, order: order}
	return true
}

// SetPage moves the cursor, clamping to page 1. It reports whether the page
// changed; the caller is expected to fetch the new page.
func (w *Window) SetPage(page int) bool {
	if page < 1 {
		page = 1
	}
	if page == w.page {
		return false
	}
	w.page = page
	w.provisional = nil
	return true
}

// Next advances to the following page.
func (w *Window) Next() bool { return w.SetPage(w.page + 1) }

// Prev returns to the previous page; it is a no-op on page 1.
func (w *Window) Prev() bool { return w.SetPage(w.page - 1) }

// Clear drops every entry and resets the cursor to page 1.
func (w *Window) Clear() {
	w.page = 1
	w.loadedPage = 1
	w.entries = nil
	w.provisional = nil
}

// Entries returns the displayed entries: provisional ones first, then the
// server page.
func (w *Window) Entries() []Entry {
	result := make([]Entry, 0, len(w.provisional)+len(w.entries))
	for _, p := range w.provisional {
		result = append(result, p.entry)
	}
	return append(result, w.entries...)
}

// Len returns the number of displayed entries.
func (w *Window) Len() int {
	return len(w.provisional) + len(w.entries)
}
