package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/transport"
	"github.com/glassflow/mqtt-stream-bridge/tests/testutils"
)

type received struct {
	topic   string
	payload string
}

type collector struct {
	mu   sync.Mutex
	msgs []received
}

func (c *collector) handle(_ context.Context, topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, received{topic: topic, payload: string(payload)})
}

func (c *collector) snapshot() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.msgs...)
}

func TestNewClient_Validation(t *testing.T) {
	log := testutils.NewTestLogger()
	noop := func(context.Context, string, []byte) {}

	_, err := transport.NewClient(transport.Config{}, nil, noop, log) //nolint:exhaustruct // test value
	require.Error(t, err)

	_, err = transport.NewClient(transport.Config{BrokerURL: "tcp://localhost:1883"}, nil, nil, log) //nolint:exhaustruct // test value
	require.Error(t, err)

	_, err = transport.NewClient(transport.Config{BrokerURL: "tcp://localhost:1883", QoS: 3}, nil, noop, log) //nolint:exhaustruct // test value
	require.Error(t, err)

	c, err := transport.NewClient(transport.Config{BrokerURL: "tcp://localhost:1883"}, nil, noop, log) //nolint:exhaustruct // test value
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
}

func TestClient_SyncWhileStoppedIsDeferred(t *testing.T) {
	c, err := transport.NewClient(
		transport.Config{BrokerURL: "tcp://localhost:1883"}, //nolint:exhaustruct // test value
		nil,
		func(context.Context, string, []byte) {},
		testutils.NewTestLogger(),
	)
	require.NoError(t, err)

	require.NoError(t, c.SyncSubscriptions([]string{"a/#", "b"}))
	require.NoError(t, c.Subscribe("c"))
	require.NoError(t, c.Unsubscribe("b"))

	assert.Empty(t, c.Subscriptions(), "nothing is requested from the broker before Start")

	c.Stop()
}

func TestClient_StartFailsWithoutBroker(t *testing.T) {
	c, err := transport.NewClient(
		transport.Config{BrokerURL: "tcp://127.0.0.1:1", ConnectTimeout: time.Second}, //nolint:exhaustruct // test value
		nil,
		func(context.Context, string, []byte) {},
		testutils.NewTestLogger(),
	)
	require.NoError(t, err)

	require.Error(t, c.Start(context.Background()))
	assert.False(t, c.IsConnected())
}

func TestClient_AgainstBroker(t *testing.T) {
	broker := testutils.StartMosquitto(t)

	col := &collector{} //nolint:exhaustruct // test value
	c, err := transport.NewClient(
		transport.Config{BrokerURL: broker.URL(), QoS: 1}, //nolint:exhaustruct // test value
		transport.NewKeyStore(transport.KeyStoreConfig{}), //nolint:exhaustruct // test value
		col.handle,
		testutils.NewTestLogger(),
	)
	require.NoError(t, err)

	require.NoError(t, c.SyncSubscriptions([]string{"sensors/+", "sensors/#"}))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"sensors/#"}, c.Subscriptions())
	}, 10*time.Second, 50*time.Millisecond)

	pub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(broker.URL()).SetClientID("test-publisher"))
	token := pub.Connect()
	require.True(t, token.WaitTimeout(10*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { pub.Disconnect(100) })

	token = pub.Publish("sensors/temp", 1, false, "21.5")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	require.Eventually(t, func() bool {
		return len(col.snapshot()) == 1
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, received{topic: "sensors/temp", payload: "21.5"}, col.snapshot()[0])

	require.NoError(t, c.SyncSubscriptions(nil))
	assert.Empty(t, c.Subscriptions())

	token = pub.Publish("sensors/temp", 1, false, "22.0")
	require.True(t, token.WaitTimeout(5*time.Second))

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, col.snapshot(), 1, "no delivery after unsubscribe")
}
