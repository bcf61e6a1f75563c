package tunnelstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkReachabilityString(t *testing.T) {
	assert.Equal(t, "undetermined", ReachabilityUndetermined.String())
	assert.Equal(t, "reachable", ReachabilityReachable.String())
	assert.Equal(t, "unreachable", ReachabilityUnreachable.String())
	assert.Equal(t, "NetworkReachability(9)", NetworkReachability(9).String())

	_, err := decodeReachability(NetworkReachability(9).String())
	assert.Error(t, err)
}
