package idgen

import "github.com/rs/xid"

// Generator creates sortable unique identifiers for command envelopes and
// client IDs.
type Generator struct{}

// NewID returns a new xid string.
func (Generator) NewID() string {
	return xid.New().String()
}
