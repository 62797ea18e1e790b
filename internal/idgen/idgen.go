package idgen

import "github.com/oklog/ulid/v2"

// New returns a ULID string. IDs sort by creation time, which keeps request
// log lines greppable in order.
func New() string {
	return ulid.Make().String()
}
