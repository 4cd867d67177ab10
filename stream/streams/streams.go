// Package streams imports every built-in backend so that each one registers
// itself with stream.DefaultRegistry.
package streams

import (
	_ "github.com/drblury/eventscore/stream/aws"
	_ "github.com/drblury/eventscore/stream/channel"
	_ "github.com/drblury/eventscore/stream/kafka"
	_ "github.com/drblury/eventscore/stream/memory"
	_ "github.com/drblury/eventscore/stream/nats"
	_ "github.com/drblury/eventscore/stream/rabbitmq"
	_ "github.com/drblury/eventscore/stream/redis"
	_ "github.com/drblury/eventscore/stream/sqlstream"
)
