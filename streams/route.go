package streams

import "sort"

// Route is one dispatchable sub-request: an endpoint URL together with the
// stream epochs to fetch from it.
type Route struct {
	URL          string
	StreamEpochs []StreamEpoch
}

// SortRoutes orders routes by URL and each route's epochs by stream and time.
func SortRoutes(routes []Route) {
	for i := range routes {
		Sort(routes[i].StreamEpochs)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].URL < routes[j].URL })
}
