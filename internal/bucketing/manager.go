package bucketing

import (
	"hash"
	"strconv"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/kisman271128/salesman-dashboard/internal/config"
)

// BucketingManager assigns users and events to stable buckets. Device audit
// events are keyed by user bucket so all events for one user land on the
// same Kafka partition, and analytics rows carry the bucket columns for
// cheap grouping.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

type BucketAssignment struct {
	UserBucket  int    `json:"user_bucket"`
	EventBucket int    `json:"event_bucket"`
	DateBucket  string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns a consistent bucket for a user (0 to userBuckets-1)
func (bm *BucketingManager) GetUserBucket(userID string) int {
	return bm.getBucket(userID, bm.userBuckets)
}

// GetEventBucket returns a bucket for event identifiers
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the UTC date bucket for analytics rows
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

// GetBucketAssignment returns all bucket assignments for a user
func (bm *BucketingManager) GetBucketAssignment(userID string) *BucketAssignment {
	return &BucketAssignment{
		UserBucket:  bm.GetUserBucket(userID),
		EventBucket: bm.GetEventBucket(userID),
		DateBucket:  bm.GetDateBucket(),
	}
}

// PartitionKey builds the Kafka message key for a user's audit events.
func (bm *BucketingManager) PartitionKey(userID string) string {
	return strconv.Itoa(bm.GetUserBucket(userID))
}

func (bm *BucketingManager) getBucket(key string, buckets int) int {
	if buckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(buckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
