//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-core/domain"
	"chat-core/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Channel is the ephemeral binding between a user and one live connection.
// Owned by the Session Gateway, destroyed on disconnect, never persisted.
type Channel interface {
	// Deliver queues a message on the connection. It returns once the queue
	// accepted the message, not once the recipient acknowledged it.
	Deliver(ctx context.Context, msg domain.Message) error
	Close()
}

// IRegistry tracks which users currently hold an open delivery channel.
// At most one channel per user; all mutations atomic per user.
type IRegistry interface {
	Bind(userID domain.UserID, ch Channel)
	// Unbind removes the binding only if ch is the current channel.
	// A stale unbind is a no-op, not an error.
	Unbind(userID domain.UserID, ch Channel)
	IsOnline(userID domain.UserID) bool
	CurrentChannel(userID domain.UserID) (Channel, bool)
}

// IBroker routes stored messages to connected recipients and parks
// everything else as delivery records for catch-up replay.
type IBroker interface {
	Notify(ctx context.Context, msg domain.Message)
	Acknowledge(recipient domain.UserID, messageID string)
	CatchUp(userID domain.UserID) ([]domain.Message, error)
}
