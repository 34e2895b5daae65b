// Package pagination tracks offset/limit progress through a paginated catalog.
//
// A State hands out the next window to request, advances by exactly one page
// size once a page has been committed and reports exhaustion once the offset
// reaches the effective ceiling: the configured item limit, or the catalog
// size reported by the listing endpoint if that is smaller.
//
// Example usage:
//
//	state, err := pagination.NewState(15, 150)
//	offset, limit := state.NextWindow()
//	// ... fetch listing for (offset, limit) ...
//	if listing.Count != nil {
//		state.ObserveTotal(*listing.Count)
//	}
//	state.Advance()
//
// State has a single logical writer (the page loader). Reads are safe from
// any goroutine.
package pagination
