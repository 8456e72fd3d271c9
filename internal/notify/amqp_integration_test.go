//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/i474232898/weather-history/internal/weather"
)

func TestAMQPPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	ctx := context.Background()

	rabbitC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		rabbitC.Terminate(ctx)
	})

	host, err := rabbitC.Host(ctx)
	require.NoError(t, err)
	port, err := rabbitC.MappedPort(ctx, "5672")
	require.NoError(t, err)
	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	pub, err := NewAMQPPublisher(url, "weather.runs")
	require.NoError(t, err)
	defer pub.Close()

	report := weather.RunReport{RunID: "r-1", Status: weather.RunSucceeded, Years: []int{2024}}
	require.NoError(t, pub.Publish(ctx, report))

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)

	msg, ok, err := ch.Get("weather.runs", true)
	require.NoError(t, err)
	require.True(t, ok)

	var got weather.RunReport
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "r-1", got.RunID)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
}
