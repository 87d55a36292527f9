package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	server := NewServer("8080", logr.Discard())

	assert.NotNil(t, server)
	assert.NotNil(t, server.server)
	assert.Equal(t, ":8080", server.server.Addr)
}

func TestServerStartStop(t *testing.T) {
	server := NewServer("0", logr.Discard())

	server.StartAsync()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := server.Stop(ctx)
	assert.NoError(t, err)
}

func TestServerMetricsEndpoint(t *testing.T) {
	server := NewServer("9999", logr.Discard())

	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:9999/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, "# HELP")
	assert.Contains(t, bodyStr, "# TYPE")
}

func TestServerHealthEndpoint(t *testing.T) {
	server := NewServer("9998", logr.Discard())

	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:9998/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "OK", string(body))
}

func TestServerStopTimeout(t *testing.T) {
	server := NewServer("9995", logr.Discard())

	server.StartAsync()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	_ = server.Stop(ctx)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	server.Stop(ctx2)
}

func TestServerWithCustomMetrics(t *testing.T) {
	RecordDeployment("test_server_metrics")
	RecordExecution("test_backend", "success")

	server := NewServer("9994", logr.Discard())
	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:9994/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, "deployments_total")
	assert.Contains(t, bodyStr, `executions_total{backend="test_backend",status="success"}`)
}

func TestServerMultipleClients(t *testing.T) {
	server := NewServer("9993", logr.Discard())
	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	numRequests := 5
	results := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		go func(i int) {
			resp, err := http.Get("http://localhost:9993/metrics")
			if err != nil {
				results <- err
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				results <- fmt.Errorf("request %d: expected status 200, got %d", i, resp.StatusCode)
				return
			}

			results <- nil
		}(i)
	}

	for i := 0; i < numRequests; i++ {
		err := <-results
		assert.NoError(t, err, "Request %d failed", i)
	}
}

func TestServerInvalidPort(t *testing.T) {
	server := NewServer("invalid", logr.Discard())

	assert.NotNil(t, server)
	assert.Equal(t, ":invalid", server.server.Addr)
}

func TestServerContextCancellation(t *testing.T) {
	server := NewServer("9992", logr.Discard())

	server.StartAsync()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := server.Stop(ctx)
	_ = err
}
