// Package stream provides the streaming client used by events.Consume
// and events.Publish.
//
// The core runs embedded inside a single desktop process with no
// message broker to dial, so only the in-memory channel transport is
// kept here — useful for tests or in-memory applications, which this
// is; see DESIGN.md for why the NATS-backed transport the corpus also
// offers was not wired in.
package stream

import (
	"encoding/json"
	"reflect"

	"go-micro.dev/v4/events"
)

// Chan is a channel based streaming client: one publish side, any
// number of subscribers, each getting every event. Publish hands each
// event off in its own goroutine, so events from separate Publish calls
// may reach subscribers in a different order than they were published.
type Chan struct {
	publish chan interface{}
	subs    chan chan interface{}
}

// New returns a ready-to-use in-memory stream.
func New() *Chan {
	c := &Chan{
		publish: make(chan interface{}, 256),
		subs:    make(chan chan interface{}),
	}
	go c.fanout()
	return c
}

func (c *Chan) fanout() {
	var subscribers []chan interface{}
	for {
		select {
		case sub := <-c.subs:
			subscribers = append(subscribers, sub)
		case msg := <-c.publish:
			for _, sub := range subscribers {
				sub <- msg
			}
		}
	}
}

// Publish implementation.
func (c *Chan) Publish(_ string, msg interface{}, _ ...events.PublishOption) error {
	go func() { c.publish <- msg }()
	return nil
}

// Consume implementation. Each call registers a new subscriber so that
// every consumer group observes every published event, independent of
// how many groups are listening.
func (c *Chan) Consume(_ string, _ ...events.ConsumeOption) (<-chan events.Event, error) {
	raw := make(chan interface{}, 64)
	c.subs <- raw

	evch := make(chan events.Event, 64)
	go func() {
		for e := range raw {
			b, _ := json.Marshal(e)
			evname := reflect.TypeOf(e).String()
			evch <- events.Event{
				Payload:  b,
				Metadata: map[string]string{"eventtype": evname},
			}
		}
	}()
	return evch, nil
}
