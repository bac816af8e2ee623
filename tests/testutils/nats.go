package testutils

import (
	"testing"

	natsServer "github.com/nats-io/nats-server/v2/server"
	natsTest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// RunJetStreamServer starts an in-process JetStream enabled server on a
// random port. It is shut down when the test ends.
func RunJetStreamServer(t *testing.T) *natsServer.Server {
	t.Helper()

	//nolint: exhaustruct // test server
	opts := &natsServer.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	ns := natsTest.RunServer(opts)
	t.Cleanup(ns.Shutdown)

	return ns
}

func NewJetStream(t *testing.T, ns *natsServer.Server) (*nats.Conn, jetstream.JetStream) {
	t.Helper()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	return nc, js
}
