package provision

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankmon/kiosk/log2"
	"golang.org/x/net/dns/dnsmessage"
)

func buildQuery(t testing.TB, id uint16, name string, typ dnsmessage.Type) []byte {
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, RecursionDesired: true})
	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName(name),
		Type:  typ,
		Class: dnsmessage.ClassINET,
	}))
	msg, err := b.Finish()
	require.NoError(t, err)
	return msg
}

func TestDNSAnswer(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	d, err := NewDNS(log, net.IPv4(192, 168, 4, 1))
	require.NoError(t, err)

	cases := []struct {
		name    string
		typ     dnsmessage.Type
		answers int
	}{
		{"connectivitycheck.gstatic.com.", dnsmessage.TypeA, 1},
		{"captive.apple.com.", dnsmessage.TypeA, 1},
		{"www.msftconnecttest.com.", dnsmessage.TypeAAAA, 0},
		{"example.org.", dnsmessage.TypeMX, 0},
	}
	for i, c := range cases {
		resp, err := d.Answer(buildQuery(t, uint16(100+i), c.name, c.typ))
		require.NoError(t, err, c.name)
		var m dnsmessage.Message
		require.NoError(t, m.Unpack(resp), c.name)
		assert.Equal(t, uint16(100+i), m.Header.ID)
		assert.True(t, m.Header.Response)
		assert.Equal(t, dnsmessage.RCodeSuccess, m.Header.RCode)
		require.Len(t, m.Questions, 1)
		assert.Equal(t, c.name, m.Questions[0].Name.String())
		require.Len(t, m.Answers, c.answers, c.name)
		if c.answers == 1 {
			a, ok := m.Answers[0].Body.(*dnsmessage.AResource)
			require.True(t, ok)
			assert.Equal(t, [4]byte{192, 168, 4, 1}, a.A)
		}
	}

	_, err = d.Answer([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = NewDNS(log, net.ParseIP("::1"))
	assert.Error(t, err)
}

func TestDNSServe(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	d, err := NewDNS(log, net.IPv4(10, 0, 0, 1))
	require.NoError(t, err)
	addr, err := d.Listen("127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write(buildQuery(t, 7, "anything.local.", dnsmessage.TypeA))
	require.NoError(t, err)
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	var m dnsmessage.Message
	require.NoError(t, m.Unpack(buf[:n]))
	require.Len(t, m.Answers, 1)
	assert.Equal(t, [4]byte{10, 0, 0, 1}, m.Answers[0].Body.(*dnsmessage.AResource).A)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dns serve did not stop")
	}
	assert.NoError(t, d.Close())
}
