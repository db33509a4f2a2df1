// Package lifecycle models invoice movement across the four lifecycle
// buckets as a state machine. The store consults it before mutating bucket
// membership so an invalid move is rejected instead of corrupting state.
package lifecycle

// Bucket is one of the four mutually-exclusive lifecycle groupings
type Bucket string

const (
	BucketInbox   Bucket = "inbox"
	BucketRouted  Bucket = "routed"
	BucketPayable Bucket = "payable"
	BucketPaid    Bucket = "paid"
)

var validBuckets = map[Bucket]bool{
	BucketInbox:   true,
	BucketRouted:  true,
	BucketPayable: true,
	BucketPaid:    true,
}

// String returns the string representation of the bucket
func (b Bucket) String() string {
	return string(b)
}

// IsValid returns true if the bucket is one of the four lifecycle buckets
func (b Bucket) IsValid() bool {
	return validBuckets[b]
}

// IsTerminal returns true if no trigger moves an invoice out of the bucket
func (b Bucket) IsTerminal() bool {
	return b == BucketPaid
}
