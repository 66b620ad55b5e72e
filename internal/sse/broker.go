// Package sse implements a Server-Sent Events broker for annotation and
// segmentation updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeImageCreated            = "image.created"
	TypeImageUpdated            = "image.updated"
	TypeImageDeleted            = "image.deleted"
	TypeCatalogUpdated          = "catalog.updated"
	TypeShapesUpdated           = "shapes.updated"
	TypeSegmentationReady       = "segmentation.ready"
	TypeSegmentationUnavailable = "segmentation.unavailable"
)

// DefaultKeepAlive is the interval of comment frames on idle streams.
const DefaultKeepAlive = 15 * time.Second

// Event is one message to broadcast. Image scopes the event: subscribers
// filtered on another image skip it. Catalog-wide events leave it empty.
type Event struct {
	Type  string `json:"type"`
	Image string `json:"-"`
	Data  any    `json:"data"`
}

// Subscription is a client stream. C is closed on Unsubscribe or Close.
type Subscription struct {
	C     <-chan []byte
	ch    chan []byte
	image string
}

func (s *Subscription) wants(ev Event) bool {
	return s.image == "" || ev.Image == "" || ev.Image == s.image
}

// Broker fans events out to subscribers.
//
// A single loop goroutine owns the subscriber set, the event sequence and
// the catalog throttle. Public methods talk to it over channels.
type Broker struct {
	catalogMin time.Duration
	keepAlive  time.Duration

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits catalog.updated at most once per
// catalogThrottle.
func NewBroker(catalogThrottle time.Duration) *Broker {
	if catalogThrottle <= 0 {
		catalogThrottle = 2 * time.Second
	}

	b := &Broker{
		catalogMin:    catalogThrottle,
		keepAlive:     DefaultKeepAlive,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// SetKeepAlive changes the idle ping interval of streams opened afterwards.
func (b *Broker) SetKeepAlive(d time.Duration) {
	b.keepAlive = d
}

// frame renders ev in the text/event-stream format.
func frame(seq uint64, ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[*Subscription]struct{})
	var (
		seq         uint64
		lastCatalog time.Time
	)

	broadcast := func(ev Event) {
		seq++
		raw, err := frame(seq, ev)
		if err != nil {
			return
		}
		for s := range subs {
			if !s.wants(ev) {
				continue
			}
			select {
			case s.ch <- raw:
			default:
				// Slow client: drop rather than stall every stream.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s] = struct{}{}

		case s := <-b.unsubscribeCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case ev := <-b.publishCh:
			broadcast(ev)
			if ev.Type == TypeImageCreated || ev.Type == TypeImageUpdated || ev.Type == TypeImageDeleted {
				if now := time.Now(); now.Sub(lastCatalog) >= b.catalogMin {
					lastCatalog = now
					broadcast(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. An empty image receives every event.
func (b *Broker) Subscribe(image string) *Subscription {
	ch := make(chan []byte, 64)
	s := &Subscription{C: ch, ch: ch, image: image}
	if b.closed.Load() {
		close(ch)
		return s
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- s:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for broadcast.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishImageEvent maps a watcher change ("created", "updated" or
// "deleted") to an image event. A throttled catalog.updated follows.
func (b *Broker) PublishImageEvent(kind, id string) {
	var typ string
	switch kind {
	case "created":
		typ = TypeImageCreated
	case "updated":
		typ = TypeImageUpdated
	case "deleted":
		typ = TypeImageDeleted
	default:
		return
	}
	b.Publish(Event{Type: typ, Image: id, Data: map[string]string{"id": id}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// image query parameter limits the stream to one image.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get("image"))
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
