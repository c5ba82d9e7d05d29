package api

import (
	"net/http"
)

// listRequest holds the ordering and paging of a list endpoint. Filters
// are endpoint-specific and read by the handler itself.
type listRequest struct {
	Sorting
	Pagination
}

// parseListRequest reads sort_by, sort_order, limit and offset. The first
// of sortFields is the default sort key, ascending.
func parseListRequest(w http.ResponseWriter, r *http.Request, sortFields []string) (listRequest, bool) {
	sorting, err := ParseSorting(r, sortFields, sortFields[0], "asc")
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return listRequest{}, false
	}
	pg, err := ParsePagination(r)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return listRequest{}, false
	}
	return listRequest{Sorting: sorting, Pagination: pg}, true
}

// writeList sorts items by the comparator byField returns for the requested
// key and writes the requested page.
func writeList[T any](w http.ResponseWriter, items []T, lr listRequest, byField func(sortBy string) func(a, b T) int) {
	SortSlice(items, lr.Sorting, byField(lr.SortBy))
	WritePage(w, http.StatusOK, items, lr.Pagination)
}
