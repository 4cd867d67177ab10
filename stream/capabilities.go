package stream

// Capabilities describes how a backend stores events and cursors.
type Capabilities struct {
	Name string

	// DurableLog means events survive a process restart.
	DurableLog bool

	// DurableCursor means group cursors survive a process restart.
	DurableCursor bool

	// BrokerManagedOffsets means the broker, not eventscore, tracks the
	// cursor (Kafka consumer groups, durable queues).
	BrokerManagedOffsets bool

	// NativeBlockingPop means the backend can wait for data server-side
	// instead of being polled.
	NativeBlockingPop bool

	// SupportsOrdering means a group sees events in append order.
	SupportsOrdering bool

	// MaxMessageSize in bytes, 0 when unknown or unlimited.
	MaxMessageSize int64
}

// RequiresPolling reports whether blocking pops are emulated by polling.
func (c Capabilities) RequiresPolling() bool {
	return !c.NativeBlockingPop
}

var (
	MemoryCapabilities = Capabilities{
		Name:              "memory",
		NativeBlockingPop: true,
		SupportsOrdering:  true,
	}

	RedisCapabilities = Capabilities{
		Name:              "redis",
		DurableLog:        true,
		NativeBlockingPop: true,
		SupportsOrdering:  true,
		MaxMessageSize:    512 << 20,
	}

	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		DurableLog:       true,
		DurableCursor:    true,
		SupportsOrdering: true,
	}

	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		DurableLog:       true,
		DurableCursor:    true,
		SupportsOrdering: true,
	}

	ChannelCapabilities = Capabilities{
		Name:                 "channel",
		BrokerManagedOffsets: true,
		NativeBlockingPop:    true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		DurableLog:           true,
		DurableCursor:        true,
		BrokerManagedOffsets: true,
		NativeBlockingPop:    true,
		SupportsOrdering:     true,
		MaxMessageSize:       1048576,
	}

	NATSCapabilities = Capabilities{
		Name:                 "nats",
		DurableLog:           true,
		DurableCursor:        true,
		BrokerManagedOffsets: true,
		NativeBlockingPop:    true,
		SupportsOrdering:     true,
		MaxMessageSize:       1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                 "rabbitmq",
		DurableLog:           true,
		DurableCursor:        true,
		BrokerManagedOffsets: true,
		NativeBlockingPop:    true,
		SupportsOrdering:     true,
	}

	AWSCapabilities = Capabilities{
		Name:                 "aws",
		DurableLog:           true,
		DurableCursor:        true,
		BrokerManagedOffsets: true,
		NativeBlockingPop:    true,
		MaxMessageSize:       262144,
	}
)
