package kv

// The schema will define how to store and retrieve data from the db. We
// create a series of buckets, one per top-level entity, and keep variable
// shape payloads (waiting queues, timeouts, upload sessions) inside the
// encoded values rather than as queryable structure.
var (
	ceremoniesBucket    = []byte("ceremonies")
	circuitsBucket      = []byte("circuits")
	participantsBucket  = []byte("participants")
	contributionsBucket = []byte("contributions")
)
