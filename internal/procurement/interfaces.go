package procurement

import (
	"context"
	"encoding/json"
	"time"
)

// Transport issues one HTTP exchange and returns the JSON body on success.
// Failures are *TransportError or *DecodeError.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, req Request) (json.RawMessage, error)
}

// Notifier delivers one new record to a broadcast channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rec Record) error
}

// Publisher pushes payloads to a topic-style broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content fingerprints. Fingerprint keys records that carry
// no project_id and must not depend on map ordering.
type Hasher interface {
	Hash(data []byte) (string, error)
	Fingerprint(v any) (string, error)
}

// Clock returns the current time and blocks for backoff waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
