package dht

import (
	"sort"

	"lukechampine.com/blake3"
)

// xorDistance256 computes the XOR distance between the 256-bit BLAKE3
// digests of two opaque identifiers (a cid string, a peer URI), per spec.md
// §4.7.2's "XOR distance on the 256-bit b3 hash of the cid string".
func xorDistance256(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func less256(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// rankByDistance sorts peers by ascending XOR distance to target (nearest
// first), deduplicating identical peer strings.
func rankByDistance(target string, peers []string) []string {
	targetHash := blake3.Sum256([]byte(target))

	seen := make(map[string]struct{}, len(peers))
	type scored struct {
		peer string
		dist [32]byte
	}
	unique := make([]scored, 0, len(peers))
	for _, p := range peers {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, scored{peer: p, dist: xorDistance256(targetHash, blake3.Sum256([]byte(p)))})
	}
	sort.Slice(unique, func(i, j int) bool { return less256(unique[i].dist, unique[j].dist) })

	out := make([]string, len(unique))
	for i, s := range unique {
		out[i] = s.peer
	}
	return out
}

// mergeRanked folds newPeers into the existing ranked shortlist and
// re-ranks, used when a hop's winning leg returns a closer-peer set instead
// of providers.
func mergeRanked(target string, shortlist, newPeers []string) []string {
	return rankByDistance(target, append(append([]string{}, shortlist...), newPeers...))
}
