// Package sidebar groups a user's conversations into recency buckets for
// the history panel.
package sidebar

import (
	"time"

	"github.com/supportiq/assist/internal/model"
)

// Bucket is a recency band in the sidebar.
type Bucket string

const (
	BucketToday     Bucket = "Today"
	BucketYesterday Bucket = "Yesterday"
	BucketWeek      Bucket = "Previous 7 Days"
	BucketMonth     Bucket = "Previous 30 Days"
	BucketOlder     Bucket = "Older"
)

// order fixes the top-to-bottom presentation order.
var order = []Bucket{BucketToday, BucketYesterday, BucketWeek, BucketMonth, BucketOlder}

// Group is one rendered sidebar section.
type Group struct {
	Bucket        Bucket               `json:"bucket"`
	Conversations []model.Conversation `json:"conversations"`
}

// GroupByRecency splits conversations into recency buckets relative to now.
// Boundaries are local-midnight anchors in now's location, not rolling
// 24-hour windows, so a conversation from 23:50 moves to Yesterday at
// midnight. Input order is preserved within each bucket; empty buckets are
// omitted.
func GroupByRecency(conversations []model.Conversation, now time.Time) []Group {
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfYesterday := startOfToday.AddDate(0, 0, -1)
	startOfWeek := startOfToday.AddDate(0, 0, -7)
	startOfMonth := startOfToday.AddDate(0, 0, -30)

	byBucket := make(map[Bucket][]model.Conversation, len(order))
	for _, c := range conversations {
		t := c.UpdatedAt
		var b Bucket
		switch {
		case !t.Before(startOfToday):
			b = BucketToday
		case !t.Before(startOfYesterday):
			b = BucketYesterday
		case !t.Before(startOfWeek):
			b = BucketWeek
		case !t.Before(startOfMonth):
			b = BucketMonth
		default:
			b = BucketOlder
		}
		byBucket[b] = append(byBucket[b], c)
	}

	groups := make([]Group, 0, len(byBucket))
	for _, b := range order {
		if convs := byBucket[b]; len(convs) > 0 {
			groups = append(groups, Group{Bucket: b, Conversations: convs})
		}
	}
	return groups
}
