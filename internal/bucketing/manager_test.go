package bucketing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kisman271128/salesman-dashboard/internal/config"
)

func newTestManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{UserBuckets: 64, EventBuckets: 16},
	})
}

func TestUserBucketStable(t *testing.T) {
	bm := newTestManager()

	first := bm.GetUserBucket("S001")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, bm.GetUserBucket("S001"))
	}
}

func TestBucketsInRange(t *testing.T) {
	bm := newTestManager()

	ids := []string{"S001", "S002", "admin", "", "a-very-long-user-identifier-000123"}
	for _, id := range ids {
		user := bm.GetUserBucket(id)
		assert.GreaterOrEqual(t, user, 0)
		assert.Less(t, user, 64)

		event := bm.GetEventBucket(id)
		assert.GreaterOrEqual(t, event, 0)
		assert.Less(t, event, 16)
	}
}

func TestPartitionKeyMatchesUserBucket(t *testing.T) {
	bm := newTestManager()

	assert.Equal(t, bm.PartitionKey("S001"), bm.PartitionKey("S001"))
}

func TestZeroBucketsDoesNotPanic(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	assert.Equal(t, 0, bm.GetUserBucket("S001"))
}
