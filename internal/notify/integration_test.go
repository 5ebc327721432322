//go:build integration
// +build integration

package notify

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/simpleexpr/multiassetengine"
)

// setupRedis starts a Redis container and returns its address
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return net.JoinHostPort(host, port.Port())
}

// setupKafka starts a single KRaft broker and returns its bootstrap addresses
func setupKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	container, err := tckafka.RunContainer(ctx,
		tckafka.WithClusterID("simpleexpr"),
		testcontainers.WithImage("confluentinc/confluent-local:7.5.0"),
	)
	require.NoError(t, err, "failed to start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func TestRedisSinkPublishesTransitions(t *testing.T) {
	addr := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink, err := NewRedisSink(ctx, addr, "", 0, "simpleexpr.events")
	require.NoError(t, err)

	subscriber := redis.NewClient(&redis.Options{Addr: addr})
	defer subscriber.Close()
	sub := subscriber.Subscribe(ctx, "simpleexpr.events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err, "subscription not confirmed")

	d := NewDispatcher(newEngine(t), []Sink{sink})
	defer d.Close()

	_, err = d.EvaluateJSON(ctx, []byte(`{"modbus": {"humidity": 80}}`))
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &body))
	assert.Equal(t, multiassetengine.RuleName, body["rule"])
	assert.NotEmpty(t, body["id"])
	reason, ok := body["reason"].(map[string]any)
	require.True(t, ok, "reason should be an object: %s", msg.Payload)
	assert.Equal(t, "triggered", reason["reason"])
	assert.Equal(t, "modbus", reason["asset"])
}

func TestNewRedisSinkUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewRedisSink(ctx, "127.0.0.1:1", "", 0, "simpleexpr.events")
	assert.Error(t, err)
}

func TestKafkaSinkPublishesTransitions(t *testing.T) {
	brokers := setupKafka(t)
	const topic = "simpleexpr.notifications"
	createTopic(t, brokers[0], topic)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sink, err := NewKafkaSink(brokers, topic)
	require.NoError(t, err)

	d := NewDispatcher(newEngine(t), []Sink{sink}, WithTimeout(30*time.Second))
	defer d.Close()

	for _, payload := range []string{
		`{"modbus": {"humidity": 80}}`,
		`{"modbus": {"humidity": 85}}`,
		`{"modbus": {"humidity": 10}}`,
	} {
		_, err := d.EvaluateJSON(ctx, []byte(payload))
		require.NoError(t, err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer reader.Close()

	wantStates := []string{"triggered", "cleared"}
	for _, want := range wantStates {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)

		assert.Equal(t, multiassetengine.RuleName, string(msg.Key))
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, want, headers["state"])
		assert.NotEmpty(t, headers["event_id"])

		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		assert.Equal(t, headers["event_id"], body["id"])
	}
}
