// Package download decides which videos to download and queues requests
// for the external downloader.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Kind is what the downloader is asked to do.
type Kind string

const (
	KindDownload Kind = "download"
	KindDelete   Kind = "delete"
)

var bucketRequests = []byte("requests")

// Request is one queued instruction for the downloader.
type Request struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	VideoID        int64     `json:"video_id"`
	SubscriptionID int64     `json:"subscription_id"`
	URL            string    `json:"url,omitempty"`
	Path           string    `json:"path,omitempty"`
	QueuedAt       time.Time `json:"queued_at"`
}

func requestKey(kind Kind, videoID int64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", kind, videoID))
}

// Queue is a durable set of requests keyed by kind and video.
type Queue struct {
	db *bolt.DB
}

// OpenQueue opens or creates the queue file.
func OpenQueue(path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRequests)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Queue{db: db}, nil
}

// Close closes the queue file.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue stores r unless a request of the same kind for the same video is
// already pending. It reports whether r was added.
func (q *Queue) Enqueue(ctx context.Context, r Request) (bool, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.QueuedAt.IsZero() {
		r.QueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return false, err
	}

	added := false
	err = q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		key := requestKey(r.Kind, r.VideoID)
		if b.Get(key) != nil {
			return nil
		}
		added = true
		return b.Put(key, data)
	})
	return added, err
}

// Pending returns queued requests oldest first. limit <= 0 returns all.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Request, error) {
	var reqs []Request
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var r Request
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode request %s: %w", k, err)
			}
			reqs = append(reqs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].QueuedAt.Before(reqs[j].QueuedAt)
	})
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

// Ack removes a handled request.
func (q *Queue) Ack(ctx context.Context, kind Kind, videoID int64) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).Delete(requestKey(kind, videoID))
	})
}

// Len returns the number of pending requests.
func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRequests).Stats().KeyN
		return nil
	})
	return n, err
}
