package net

// Sink is anything the router can deliver frames to. Send must not block;
// it reports false when the frame was dropped.
type Sink interface {
	ID() string
	Send(frame []byte) bool
}

// Router fans frames out to room topics and to every connection. It is
// owned by the Hub goroutine and is not safe for concurrent use.
type Router struct {
	sinks  map[string]Sink
	topics map[string]map[string]Sink
	onDrop func(id string)
}

// NewRouter creates an empty router. onDrop, if set, is told about every
// frame a sink refused.
func NewRouter(onDrop func(id string)) *Router {
	return &Router{
		sinks:  make(map[string]Sink),
		topics: make(map[string]map[string]Sink),
		onDrop: onDrop,
	}
}

// Add registers a connection.
func (r *Router) Add(s Sink) { r.sinks[s.ID()] = s }

// Remove forgets a connection and its subscriptions.
func (r *Router) Remove(id string) {
	delete(r.sinks, id)
	for topic, members := range r.topics {
		delete(members, id)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
}

// Len returns the number of registered connections.
func (r *Router) Len() int { return len(r.sinks) }

// Subscribe adds a registered connection to topic.
func (r *Router) Subscribe(topic, id string) {
	s := r.sinks[id]
	if s == nil {
		return
	}
	members := r.topics[topic]
	if members == nil {
		members = make(map[string]Sink)
		r.topics[topic] = members
	}
	members[id] = s
}

// Unsubscribe removes a connection from topic.
func (r *Router) Unsubscribe(topic, id string) {
	members := r.topics[topic]
	delete(members, id)
	if len(members) == 0 {
		delete(r.topics, topic)
	}
}

// IsMember reports whether id is subscribed to topic.
func (r *Router) IsMember(topic, id string) bool {
	_, ok := r.topics[topic][id]
	return ok
}

// DropTopic removes topic and returns the ids that were subscribed.
func (r *Router) DropTopic(topic string) []string {
	members := r.topics[topic]
	delete(r.topics, topic)
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Publish delivers frame to every member of topic except the connection
// named by except (empty to include everyone). It returns how many
// members accepted the frame.
func (r *Router) Publish(topic string, frame []byte, except string) int {
	n := 0
	for id, s := range r.topics[topic] {
		if id == except {
			continue
		}
		if r.deliver(s, frame) {
			n++
		}
	}
	return n
}

// PublishAll delivers frame to every connection regardless of topic.
func (r *Router) PublishAll(frame []byte) int {
	n := 0
	for _, s := range r.sinks {
		if r.deliver(s, frame) {
			n++
		}
	}
	return n
}

// Unicast delivers frame to one connection.
func (r *Router) Unicast(id string, frame []byte) bool {
	s := r.sinks[id]
	if s == nil {
		return false
	}
	return r.deliver(s, frame)
}

func (r *Router) deliver(s Sink, frame []byte) bool {
	if s.Send(frame) {
		return true
	}
	if r.onDrop != nil {
		r.onDrop(s.ID())
	}
	return false
}
