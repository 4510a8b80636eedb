// Package gcs implements the compact probabilistic set filter used for sync
// reconciliation: IDs are hashed into buckets modulo a tunable granularity,
// sorted, and delta-encoded. Membership tests can false-positive at a rate
// tracking the requested target, but never false-negative.
package gcs

import (
	"encoding/binary"
	"math"
	"sort"

	"meshnode/internal/proto"
)

const (
	minParameter = 1
	maxParameter = 32
	maxModulus   = math.MaxUint32
)

// Item is a candidate for filter membership. Timestamp decides which items
// survive when the byte budget cannot hold them all.
type Item struct {
	ID        proto.PacketID
	Timestamp uint64
}

// Filter is a built reconciliation filter, ready to ship in a REQUEST_SYNC.
type Filter struct {
	P       uint8
	Modulus uint32
	Data    []byte
}

// DeriveParameter picks the bucket granularity for a target false-positive
// rate: fpr ~= 2^-p, so a smaller target needs a larger p and more bytes per
// element.
func DeriveParameter(targetFpr float64) uint8 {
	if targetFpr <= 0 {
		return maxParameter
	}
	if targetFpr >= 0.5 {
		return minParameter
	}
	p := int(math.Ceil(math.Log2(1 / targetFpr)))
	if p < minParameter {
		p = minParameter
	}
	if p > maxParameter {
		p = maxParameter
	}
	return uint8(p)
}

// EstimateCapacity returns how many elements fit in maxBytes at granularity
// p. Deltas between sorted buckets average modulus/n = 2^p, which a uvarint
// stores in about (p+6)/7 bytes.
func EstimateCapacity(maxBytes int, p uint8) int {
	if maxBytes <= 0 {
		return 0
	}
	perElem := (int(p) + 6) / 7
	if perElem < 1 {
		perElem = 1
	}
	return maxBytes / perElem
}

// Build constructs a filter over the given items. If the candidate set
// exceeds the byte budget's capacity it is capped newest-timestamp-first, so
// recent state always wins representation. Zero candidates still produce a
// syntactically valid filter (modulus 1, no data).
func Build(items []Item, maxBytes int, targetFpr float64) Filter {
	p := DeriveParameter(targetFpr)
	n := EstimateCapacity(maxBytes, p)
	if len(items) > n {
		sorted := append([]Item(nil), items...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp > sorted[j].Timestamp })
		items = sorted[:n]
	}
	if len(items) == 0 {
		return Filter{P: p, Modulus: 1}
	}

	modulus := uint64(len(items)) << p
	if modulus > maxModulus {
		modulus = maxModulus
	}

	buckets := make([]uint64, 0, len(items))
	for _, it := range items {
		buckets = append(buckets, BucketOf(it.ID, uint32(modulus)))
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	var data []byte
	var tmp [binary.MaxVarintLen64]byte
	prev := uint64(0)
	for i, b := range buckets {
		if i > 0 && b == prev {
			continue
		}
		data = append(data, tmp[:binary.PutUvarint(tmp[:], b-prev)]...)
		prev = b
	}
	return Filter{P: p, Modulus: uint32(modulus), Data: data}
}

// DecodeToSortedSet expands delta-encoded filter bytes back into the sorted
// bucket values. Trailing garbage or non-monotonic data simply truncates the
// result; a defective filter degrades to matching less, never to an error.
func DecodeToSortedSet(modulus uint32, data []byte) []uint64 {
	var out []uint64
	cur := uint64(0)
	for len(data) > 0 {
		delta, n := binary.Uvarint(data)
		if n <= 0 {
			break
		}
		data = data[n:]
		next := cur + delta
		if next < cur || next >= uint64(modulus) {
			break
		}
		if len(out) > 0 && next == cur {
			break
		}
		cur = next
		out = append(out, cur)
	}
	return out
}

// Contains reports whether the candidate bucket is present in a decoded
// filter. False positives happen at roughly the build-time target rate;
// false negatives never happen for items that were actually inserted.
func Contains(sorted []uint64, bucket uint64) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= bucket })
	return i < len(sorted) && sorted[i] == bucket
}

// BucketOf maps a packet ID onto a filter bucket.
func BucketOf(id proto.PacketID, modulus uint32) uint64 {
	if modulus == 0 {
		return 0
	}
	return binary.BigEndian.Uint64(id[:8]) % uint64(modulus)
}
