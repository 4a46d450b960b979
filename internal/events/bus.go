// Package events implements the in-process notification bus. Successful
// mutations publish one record after the HTTP response is written; records
// are delivered to subscribers in per-bucket commit order, and a slow or
// cancelled subscriber never blocks the publisher or its peers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names published by the operation handlers.
const (
	ObjectCreatedPut                     = "ObjectCreated:Put"
	ObjectCreatedPost                    = "ObjectCreated:Post"
	ObjectCreatedCopy                    = "ObjectCreated:Copy"
	ObjectCreatedCompleteMultipartUpload = "ObjectCreated:CompleteMultipartUpload"
	ObjectRemovedDelete                  = "ObjectRemoved:Delete"
)

// Record is a single notification in the S3 event record shape.
type Record struct {
	// ID uniquely identifies the record.
	ID string
	// EventTime is the commit time, ISO-8601 with milliseconds.
	EventTime time.Time
	// EventName is one of the ObjectCreated:*/ObjectRemoved:* constants.
	EventName string
	// Bucket is the bucket the mutation committed in.
	Bucket string
	// Key is the object key.
	Key string
	// Size is the object size in bytes (0 for removals).
	Size int64
	// ETag is the object's ETag ("" for removals).
	ETag string
}

// MarshalJSON renders the record in the S3 notification shape:
// {eventTime, eventName, s3: {bucket: {name}, object: {key, size, eTag}}}.
func (r Record) MarshalJSON() ([]byte, error) {
	type bucketBody struct {
		Name string `json:"name"`
	}
	type objectBody struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
		ETag string `json:"eTag"`
	}
	type s3Body struct {
		Bucket bucketBody `json:"bucket"`
		Object objectBody `json:"object"`
	}
	return json.Marshal(struct {
		ID        string `json:"id"`
		EventTime string `json:"eventTime"`
		EventName string `json:"eventName"`
		S3        s3Body `json:"s3"`
	}{
		ID:        r.ID,
		EventTime: r.EventTime.UTC().Format("2006-01-02T15:04:05.000Z"),
		EventName: r.EventName,
		S3: s3Body{
			Bucket: bucketBody{Name: r.Bucket},
			Object: objectBody{Key: r.Key, Size: r.Size, ETag: r.ETag},
		},
	})
}

// subscriber is one registered listener with its own delivery queue.
type subscriber struct {
	ch        chan Record
	done      chan struct{}
	closeOnce sync.Once
}

// shutdown closes the subscriber's channels exactly once, whether it is
// torn down by its own cancel or by Bus.Close.
func (s *subscriber) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Bus fans published records out to subscribers. Per-bucket ordering is
// preserved because Publish appends to every subscriber queue under one
// lock in commit order; delivery itself is asynchronous.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// subscriberBuffer bounds each subscriber queue. A subscriber that falls
// this far behind starts losing oldest-first rather than blocking dispatch.
const subscriberBuffer = 256

// Subscribe registers a listener and returns its delivery channel plus a
// cancel function. Cancelling closes the channel; pending records are
// dropped.
func (b *Bus) Subscribe() (<-chan Record, func()) {
	sub := &subscriber{
		ch:   make(chan Record, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if !b.closed {
		b.subs[id] = sub
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.shutdown()
	}
	return sub.ch, cancel
}

// Publish stamps and dispatches a record to every subscriber. It never
// blocks: a full subscriber queue sheds its oldest record to make room.
func (b *Bus) Publish(rec Record) {
	rec.ID = uuid.NewString()
	if rec.EventTime.IsZero() {
		rec.EventTime = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		for {
			select {
			case sub.ch <- rec:
			default:
				// Queue full: drop the oldest and retry once.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close shuts the bus down. Subsequent publishes are dropped and all
// subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.shutdown()
	}
}
