package wifi

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptiveDnsmasq(t *testing.T) {
	t.Parallel()

	gw := net.IPv4(192, 168, 4, 1)
	conf := string(CaptiveDnsmasqConf(gw))
	assert.Contains(t, conf, "\nport=0\n")
	assert.Contains(t, conf, "dhcp-option=option:dns-server,192.168.4.1\n")

	dir := filepath.Join(t.TempDir(), "dnsmasq-shared.d")
	require.NoError(t, WriteCaptiveDnsmasq(dir, gw))
	b, err := os.ReadFile(filepath.Join(dir, captiveDnsmasqFile))
	require.NoError(t, err)
	assert.Equal(t, conf, string(b))
}
