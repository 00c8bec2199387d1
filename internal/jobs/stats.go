package jobs

import (
	"sync/atomic"

	"github.com/ternarybob/ghostrun/internal/interfaces"
)

// networkStats accumulates request counts and encoded response bytes for one
// browser session. Browser events arrive on the driver's goroutines.
type networkStats struct {
	requests atomic.Int64
	bytes    atomic.Int64
}

func (s *networkStats) ObserveRequest() {
	s.requests.Add(1)
}

func (s *networkStats) ObserveResponse(encodedBytes int64) {
	if encodedBytes > 0 {
		s.bytes.Add(encodedBytes)
	}
}

// Totals returns the request count and byte total observed so far
func (s *networkStats) Totals() (int, int64) {
	return int(s.requests.Load()), s.bytes.Load()
}

var _ interfaces.NetworkObserver = (*networkStats)(nil)
