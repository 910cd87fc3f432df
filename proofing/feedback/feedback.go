// Package feedback aggregates client feedback on images. All functions are
// pure read-side helpers operating on rows loaded by the caller.
package feedback

import (
	"math"
	"sort"
	"suipic/proofing/schema"
)

// AverageRating returns the mean rating rounded to one decimal place, or nil
// when no ratings exist so the api can distinguish unrated from rated-zero.
func AverageRating(ratings []schema.Rating) *float64 {
	if len(ratings) == 0 {
		return nil
	}

	total := 0
	for _, r := range ratings {
		total += r.Rating
	}

	avg := math.Round(float64(total)/float64(len(ratings))*10) / 10
	return &avg
}

// CountFlags tallies picks and rejects. Rows flagged "none" are cleared
// selections and count toward neither.
func CountFlags(flags []schema.Flag) (picks, rejects int) {
	for _, f := range flags {
		switch f.FlagType {
		case schema.FlagPick:
			picks++
		case schema.FlagReject:
			rejects++
		case schema.FlagNone:
		}
	}
	return picks, rejects
}

// Thread is a top level comment with its direct replies. Only one nesting
// level exists.
type Thread struct {
	Comment schema.Comment
	Replies []schema.Comment
}

// ThreadComments groups a flat comment list into threads. Top level comments
// are ordered newest first, replies within a thread are chronological.
func ThreadComments(comments []schema.Comment) []Thread {
	replies := make(map[string][]schema.Comment)
	topLevel := make([]schema.Comment, 0, len(comments))

	for _, c := range comments {
		if c.ParentId != nil {
			parent := c.ParentId.String()
			replies[parent] = append(replies[parent], c)
		} else {
			topLevel = append(topLevel, c)
		}
	}

	sort.Slice(topLevel, func(i, j int) bool {
		return topLevel[i].CreatedAt.After(topLevel[j].CreatedAt)
	})

	threads := make([]Thread, 0, len(topLevel))
	for _, c := range topLevel {
		thread := Thread{Comment: c, Replies: replies[c.Id.String()]}
		sort.Slice(thread.Replies, func(i, j int) bool {
			return thread.Replies[i].CreatedAt.Before(thread.Replies[j].CreatedAt)
		})
		threads = append(threads, thread)
	}

	return threads
}
