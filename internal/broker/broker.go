// Package broker is the pub/sub event bus every reconciler and the
// confsync state machine listen to for State Store and Driver
// notifications (ported from the product line's ap_common/broker.go, the
// zmq PUB/SUB wiring shared by every ap.* daemon).
package broker

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/pebbe/zmq4"

	"github.com/plume-design/opensync-sub021/internal/basedef"
)

// Handler processes one published event's raw payload.
type Handler func(event []byte)

// Broker is a named pub/sub endpoint. The zero value is not usable; call
// Init then Connect.
type Broker struct {
	Name string

	publisherMtx sync.Mutex
	publisher    *zmq4.Socket
	subscriber   *zmq4.Socket

	handlersMtx sync.Mutex
	handlers    map[string]Handler

	debug bool
}

// Init names the broker. It must be called exactly once before Connect.
func (b *Broker) Init(name string) {
	if len(b.Name) > 0 {
		log.Panic("broker can't be initialized multiple times")
	}
	if len(name) == 0 {
		log.Panic("broker consumer must give its name")
	}
	b.Name = fmt.Sprintf("%s(%d)", name, os.Getpid())
	b.handlers = make(map[string]Handler)
}

// Connect opens the PUB and SUB sockets and starts the background listener
// goroutine that dispatches inbound events to registered Handlers.
func (b *Broker) Connect() error {
	if len(b.Name) == 0 {
		log.Panic("broker hasn't been initialized yet")
	}

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("broker: new sub socket: %w", err)
	}
	if err := sub.Connect(fmt.Sprintf("%s:%d", basedef.ApplianceZMQURL, basedef.BrokerZMQSubPort)); err != nil {
		return fmt.Errorf("broker: connect sub: %w", err)
	}
	if err := sub.SetSubscribe(""); err != nil {
		return fmt.Errorf("broker: subscribe: %w", err)
	}
	b.subscriber = sub

	pub, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return fmt.Errorf("broker: new pub socket: %w", err)
	}
	if err := pub.Connect(fmt.Sprintf("%s:%d", basedef.ApplianceZMQURL, basedef.BrokerZMQPubPort)); err != nil {
		return fmt.Errorf("broker: connect pub: %w", err)
	}
	b.publisher = pub

	go b.listen()
	return nil
}

// Publish sends payload tagged with topic to every subscriber.
func (b *Broker) Publish(topic string, payload []byte) error {
	b.publisherMtx.Lock()
	_, err := b.publisher.SendMessage(topic, payload)
	b.publisherMtx.Unlock()
	if err != nil {
		return fmt.Errorf("broker: publish %s: %w", topic, err)
	}
	return nil
}

// Handle registers handler for topic, replacing any previous registration.
func (b *Broker) Handle(topic string, handler Handler) {
	if len(b.Name) == 0 {
		log.Panic("broker hasn't been initialized yet")
	}
	b.handlersMtx.Lock()
	b.handlers[topic] = handler
	b.handlersMtx.Unlock()
}

func (b *Broker) listen() {
	for {
		msg, err := b.subscriber.RecvMessageBytes(0)
		if err != nil {
			log.Printf("[%s] broker recv: %v\n", b.Name, err)
			return
		}
		if len(msg) < 2 {
			continue
		}
		topic := string(msg[0])

		b.handlersMtx.Lock()
		hdlr := b.handlers[topic]
		b.handlersMtx.Unlock()

		if hdlr != nil {
			hdlr(msg[1])
		} else if b.debug {
			log.Printf("[%s] ignoring topic: %s\n", b.Name, topic)
		}
	}
}

// Disconnect closes the subscriber socket, stopping the listener goroutine.
func (b *Broker) Disconnect() {
	if b.subscriber != nil {
		b.subscriber.Close()
	}
}
