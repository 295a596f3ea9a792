package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send(payload []byte) error
	Close()
}

// Hub fans events out to stream subscribers, keyed by topic.
type Hub struct {
	topics    map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		topics:    make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.topics[sub.topic]; !ok {
				h.topics[sub.topic] = make(map[Subscriber]struct{})
			}
			h.topics[sub.topic][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.topics[sub.topic]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.topics, sub.topic)
				}
			}
		case msg := <-h.broadcast:
			clients, ok := h.topics[msg.topic]
			if !ok {
				continue
			}
			for c := range clients {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			if len(clients) == 0 {
				delete(h.topics, msg.topic)
			}
		}
	}
}

// Register adds a client to a topic stream.
func (h *Hub) Register(topic string, client Subscriber) {
	h.register <- subscription{topic: topic, client: client}
}

// Unregister removes a client from a topic stream.
func (h *Hub) Unregister(topic string, client Subscriber) {
	h.unreg <- subscription{topic: topic, client: client}
}

// Broadcast delivers a payload to every subscriber of a topic.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.broadcast <- message{topic: topic, payload: payload}
}
