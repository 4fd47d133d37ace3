package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host string `env:"HOST,required=true"`
	Port int    `env:"PORT,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,required=true"`

	// Delivery tuning. ChannelBufferSize bounds the per-connection queue,
	// DeliveryTimeout is how long the broker waits for an acknowledgment
	// before parking the message for catch-up.
	ChannelBufferSize int           `env:"CHANNEL_BUFFER_SIZE,required=true"`
	EventBufferSize   int           `env:"EVENT_BUFFER_SIZE,required=true"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT,required=true"`
	SinkTimeout       time.Duration `env:"SINK_TIMEOUT,required=true"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,required=true"`

	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`

	CharReplacement  string `env:"CHARACTER_REPLACEMENT,required=true"`
	MaxContentLength int    `env:"MAX_CONTENT_LENGTH,required=true"`
	MaxBlobSize      int64  `env:"MAX_BLOB_SIZE,required=true"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
