// Package events provides a small wrapper around go-micro's generic
// events.Stream so the rest of the core can publish and consume typed
// Go values without caring whether the stream underneath is an
// in-memory channel (see events/stream) or a real broker.
package events

import (
	"fmt"
	"log"
	"reflect"
	"sync"

	"go-micro.dev/v4/events"
)

var (
	// MainQueueName is the name of the main queue. All events pass
	// through here and are fanned out to every consumer group.
	MainQueueName = "main-queue"

	// MetadatakeyEventType is the metadata key carrying the event's Go
	// type name, so a consumer can dispatch without a shared schema
	// registry.
	MetadatakeyEventType = "eventtype"
)

// Unmarshaller is implemented by every concrete event type so the
// generic Consume loop can turn a wire payload back into a typed value.
type Unmarshaller interface {
	Unmarshal(v []byte) (interface{}, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Unmarshaller{}
)

// RegisterType registers the zero value of an event type under its
// reflect.Type name, so UnmarshalEvent can recognize it later. Event
// packages call this from an init().
func RegisterType(zero Unmarshaller) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reflect.TypeOf(zero).String()] = zero
}

// UnmarshalEvent turns a wire payload tagged with the given type name
// back into the concrete Go value it was published as.
func UnmarshalEvent(typeName string, payload []byte) (interface{}, error) {
	registryMu.RLock()
	zero, ok := registry[typeName]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unregistered event type: %s", typeName)
	}
	return zero.Unmarshal(payload)
}

// Consume returns a channel that receives every event emitted by the
// system. group identifies the consumer: each group gets its own copy
// of every event.
func Consume(group string, s events.Stream) (<-chan interface{}, error) {
	c, err := s.Consume(MainQueueName, events.WithGroup(group))
	if err != nil {
		return nil, err
	}

	outchan := make(chan interface{})
	go func() {
		defer close(outchan)
		for e := range c {
			et := e.Metadata[MetadatakeyEventType]
			event, err := UnmarshalEvent(et, e.Payload)
			if err != nil {
				log.Printf("events: can't unmarshal event %q: %v", et, err)
				continue
			}
			outchan <- event
		}
	}()
	return outchan, nil
}

// Publish publishes ev to the main queue, tagging it with its Go type
// name so consumers can dispatch on it.
func Publish(ev interface{}, s events.Stream) error {
	evName := reflect.TypeOf(ev).String()
	return s.Publish(MainQueueName, ev, events.WithMetadata(map[string]string{
		MetadatakeyEventType: evName,
	}))
}
