package kernel

import "context"

// nullQuerier is the placeholder dht.PeerQuerier installed until a real
// peer transport is wired in. Peer RPC is the one piece spec.md §4.7.2
// explicitly leaves as an external collaborator; every leg simply loses
// (no error, no providers, no closer peers), which keeps Lookup.Run's
// iterative loop well-defined — it runs out of unqueried peers or hop
// budget and returns ErrTimeout rather than panicking or blocking forever.
type nullQuerier struct{}

func (nullQuerier) QueryPeer(ctx context.Context, peer, cid string) ([]string, []string, error) {
	return nil, nil, nil
}
