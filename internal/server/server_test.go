package server_test

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/mqtt-stream-bridge/internal/server"
	"github.com/glassflow/mqtt-stream-bridge/tests/testutils"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := server.NewHTTPServer("127.0.0.1:0", time.Second, time.Second, time.Second, handler, testutils.NewTestLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/") //nolint:noctx // test request
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", string(body))

	require.NoError(t, srv.Shutdown(time.Second))

	select {
	case err := <-done:
		require.NoError(t, err, "shutdown is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := server.NewHTTPServer(ln.Addr().String(), time.Second, time.Second, time.Second, http.NotFoundHandler(), testutils.NewTestLogger())
	require.Error(t, srv.Start())
}
