package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreAddFindRoundTrip(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("b3:abc", "tcp://node1:9000", time.Minute))
	require.NoError(t, s.Add("b3:abc", "tcp://node2:9000", time.Minute))

	found := s.Find("b3:abc")
	require.ElementsMatch(t, []string{"tcp://node1:9000", "tcp://node2:9000"}, found)
}

func TestStorePrunesExpiredOnAccess(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("b3:abc", "tcp://node1:9000", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	found := s.Find("b3:abc")
	require.Empty(t, found)
}

func TestStoreZeroTTLNeverExpires(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("b3:abc", "tcp://node1:9000", 0))
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, []string{"tcp://node1:9000"}, s.Find("b3:abc"))
}

func TestStoreRejectsInvalidNodeURI(t *testing.T) {
	s := NewStore()
	require.Error(t, s.Add("b3:abc", "not-a-uri", time.Minute))
	require.Error(t, s.Add("b3:abc", "tcp://", time.Minute))
	require.Error(t, s.Add("b3:abc", "tcp://host\x01evil", time.Minute))
}

func TestStoreFindUnknownCIDReturnsEmpty(t *testing.T) {
	s := NewStore()
	require.Empty(t, s.Find("b3:missing"))
}
