package netx

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalIP(t *testing.T) {
	ip, err := LocalIP()
	if err != nil {
		t.Skipf("no usable network in this environment: %v", err)
	}
	assert.False(t, ip.IsUnspecified())
	assert.False(t, ip.IsLoopback())
}

func TestHostOr(t *testing.T) {
	assert.Equal(t, "localhost", HostOr(nil, "localhost"))
	assert.Equal(t, "10.0.0.4", HostOr(net.ParseIP("10.0.0.4"), "localhost"))
}
