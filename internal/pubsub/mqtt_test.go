package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/domain"
)

// startTestBroker starts an embedded MQTT broker on a free port.
func startTestBroker(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	broker := mqttserver.New(&mqttserver.Options{InlineClient: true})
	_ = broker.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: fmt.Sprintf(":%d", port),
	})
	require.NoError(t, broker.AddListener(tcp))

	go func() {
		if err := broker.Serve(); err != nil {
			t.Logf("MQTT broker error: %v", err)
		}
	}()
	t.Cleanup(func() { broker.Close() })

	// Give broker time to start
	time.Sleep(100 * time.Millisecond)
	return port
}

func brokerConfig(port int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = port
	cfg.MQTT.TopicPrefix = "inverter"
	return cfg
}

func TestMQTTPublisherPublishes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MQTT integration test in short mode")
	}
	port := startTestBroker(t)

	// Subscribe with a plain client to observe the published message.
	received := make(chan mqtt.Message, 1)
	subOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://localhost:%d", port)).
		SetClientID("test-subscriber")
	subscriber := mqtt.NewClient(subOpts)
	token := subscriber.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer subscriber.Disconnect(250)

	token = subscriber.Subscribe("inverter/DW413B8080/status", 0, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	publisher := NewMQTTPublisher(brokerConfig(port))
	require.NoError(t, publisher.Connect(context.Background()))
	defer publisher.Close()

	reading := &domain.StatusReading{
		Timestamp:     time.Now().UTC(),
		OperationMode: "Normal",
		OutputPower:   1262,
		EnergyToday:   4.74,
	}
	require.NoError(t, publisher.Publish(context.Background(), "DW413B8080", reading))

	select {
	case msg := <-received:
		var got domain.StatusReading
		require.NoError(t, json.Unmarshal(msg.Payload(), &got))
		assert.Equal(t, "Normal", got.OperationMode)
		assert.InDelta(t, 1262, got.OutputPower, 1e-9)
		assert.InDelta(t, 4.74, got.EnergyToday, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestMQTTPublisherDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = false

	publisher := NewMQTTPublisher(cfg)
	require.NoError(t, publisher.Connect(context.Background()))

	// Publishing without a connection is a silent no-op.
	assert.NoError(t, publisher.Publish(context.Background(), "X", &domain.StatusReading{}))
	assert.NoError(t, publisher.Close())
}

func TestMQTTPublisherConnectFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MQTT integration test in short mode")
	}

	// No broker on this port.
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	publisher := NewMQTTPublisher(brokerConfig(port))
	assert.Error(t, publisher.Connect(context.Background()))
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoopPublisher()
	assert.NoError(t, p.Connect(context.Background()))
	assert.NoError(t, p.Publish(context.Background(), "X", &domain.StatusReading{}))
	assert.NoError(t, p.Close())
}
