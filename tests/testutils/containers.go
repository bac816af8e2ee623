package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage = "eclipse-mosquitto:2"
	mosquittoPort  = nat.Port("1883/tcp")
)

type MQTTBroker struct {
	container testcontainers.Container
	Host      string
	Port      int
}

func (b *MQTTBroker) URL() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

// StartMosquitto runs an anonymous Mosquitto broker. Tests using it are
// skipped in short mode.
func StartMosquitto(t *testing.T) *MQTTBroker {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping broker container in short mode")
	}

	ctx := context.Background()

	//nolint: exhaustruct // optional container config
	req := testcontainers.ContainerRequest{
		Image:        mosquittoImage,
		ExposedPorts: []string{string(mosquittoPort)},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort(mosquittoPort).WithStartupTimeout(30 * time.Second),
	}

	//nolint: exhaustruct // optional container config
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)

	port, err := c.MappedPort(ctx, mosquittoPort)
	require.NoError(t, err)

	return &MQTTBroker{
		container: c,
		Host:      host,
		Port:      port.Int(),
	}
}
