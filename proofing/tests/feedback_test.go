package tests

import (
	"errors"
	"testing"
	"time"
)

type feedbackEnv struct {
	owner   client
	viewer  client
	second  client
	albumId string
	imageId string
}

func setupFeedbackEnv(t *testing.T) *feedbackEnv {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("fbowner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("fbclient")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.newUser("fbsecond")
	if err != nil {
		t.Fatal(err)
	}

	album, err := owner.createAlbum("feedback round")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addClient(album.Id, viewer.userId); err != nil {
		t.Fatal(err)
	}
	if err := owner.addClient(album.Id, second.userId); err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "pick-me.png", "image/png", "", pngBytes(t, 80, 60))
	if err != nil {
		t.Fatal(err)
	}

	return &feedbackEnv{owner: owner, viewer: viewer, second: second, albumId: album.Id, imageId: image.Id}
}

func TestRatingLifecycle(t *testing.T) {
	f := setupFeedbackEnv(t)

	if err := f.viewer.setRating(f.imageId, 0); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if err := f.viewer.setRating(f.imageId, 6); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}

	if err := f.viewer.setRating(f.imageId, 3); err != nil {
		t.Fatal(err)
	}

	rating, err := f.viewer.getRating(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if rating == nil || *rating != 3 {
		t.Fatalf("expected rating 3, got %v", rating)
	}

	// Re-submitting replaces the previous value rather than adding a second row.
	if err := f.viewer.setRating(f.imageId, 5); err != nil {
		t.Fatal(err)
	}
	if err := f.second.setRating(f.imageId, 4); err != nil {
		t.Fatal(err)
	}

	detail, err := f.owner.imageDetail(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if detail.AverageRating == nil || *detail.AverageRating != 4.5 {
		t.Fatalf("expected average 4.5, got %v", detail.AverageRating)
	}
	if detail.OwnRating != nil {
		t.Fatalf("owner has not rated, got %v", detail.OwnRating)
	}

	if err := f.viewer.deleteRating(f.imageId); err != nil {
		t.Fatal(err)
	}
	rating, err = f.viewer.getRating(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if rating != nil {
		t.Fatalf("expected no rating after delete, got %v", rating)
	}

	detail, err = f.owner.imageDetail(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if detail.AverageRating == nil || *detail.AverageRating != 4.0 {
		t.Fatalf("expected average 4 after delete, got %v", detail.AverageRating)
	}
}

func TestAverageRatingRoundsToOneDecimal(t *testing.T) {
	f := setupFeedbackEnv(t)

	if err := f.viewer.setRating(f.imageId, 3); err != nil {
		t.Fatal(err)
	}
	if err := f.second.setRating(f.imageId, 4); err != nil {
		t.Fatal(err)
	}
	if err := f.owner.setRating(f.imageId, 4); err != nil {
		t.Fatal(err)
	}

	detail, err := f.owner.imageDetail(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	// 11/3 rounds to 3.7.
	if detail.AverageRating == nil || *detail.AverageRating != 3.7 {
		t.Fatalf("expected average 3.7, got %v", detail.AverageRating)
	}
}

func TestFlagLifecycle(t *testing.T) {
	f := setupFeedbackEnv(t)

	if err := f.viewer.setFlag(f.imageId, "favorite"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for invalid flag, got %v", err)
	}

	if err := f.viewer.setFlag(f.imageId, "pick"); err != nil {
		t.Fatal(err)
	}
	if err := f.second.setFlag(f.imageId, "reject"); err != nil {
		t.Fatal(err)
	}

	flag, err := f.viewer.getFlag(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if flag == nil || *flag != "pick" {
		t.Fatalf("expected pick, got %v", flag)
	}

	summary, err := f.owner.albumSummary(f.albumId)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Images) != 1 {
		t.Fatalf("expected 1 image in summary, got %d", len(summary.Images))
	}
	entry := summary.Images[0]
	if entry.PickCount != 1 || entry.RejectCount != 1 {
		t.Fatalf("unexpected flag counts %+v", entry)
	}
	if len(entry.Picks) != 1 || len(entry.Rejects) != 1 {
		t.Fatalf("unexpected flag names %+v", entry)
	}

	// Switching sides replaces the selection.
	if err := f.viewer.setFlag(f.imageId, "reject"); err != nil {
		t.Fatal(err)
	}
	detail, err := f.owner.imageDetail(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if detail.PickCount != 0 || detail.RejectCount != 2 {
		t.Fatalf("unexpected counts after switch: picks=%d rejects=%d", detail.PickCount, detail.RejectCount)
	}

	// Clearing leaves a tombstone that reads back as no selection.
	if err := f.viewer.deleteFlag(f.imageId); err != nil {
		t.Fatal(err)
	}
	flag, err = f.viewer.getFlag(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if flag != nil {
		t.Fatalf("expected no flag after clear, got %v", flag)
	}

	detail, err = f.owner.imageDetail(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if detail.PickCount != 0 || detail.RejectCount != 1 {
		t.Fatalf("unexpected counts after clear: picks=%d rejects=%d", detail.PickCount, detail.RejectCount)
	}
	if detail.OwnFlag != nil {
		t.Fatalf("owner has not flagged, got %v", detail.OwnFlag)
	}
}

func TestCommentThreading(t *testing.T) {
	f := setupFeedbackEnv(t)

	if _, err := f.viewer.addComment(f.imageId, "", nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for empty comment, got %v", err)
	}

	first, err := f.viewer.addComment(f.imageId, "love this one", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	second, err := f.second.addComment(f.imageId, "too dark for me", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	replyA, err := f.owner.addComment(f.imageId, "I can brighten it", &second.Id)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	replyB, err := f.second.addComment(f.imageId, "that would help", &second.Id)
	if err != nil {
		t.Fatal(err)
	}

	// Replies only nest one level.
	if _, err := f.viewer.addComment(f.imageId, "nested", &replyA.Id); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for nested reply, got %v", err)
	}

	threads, err := f.owner.listComments(f.imageId)
	if err != nil {
		t.Fatal(err)
	}

	if len(threads) != 2 {
		t.Fatalf("expected 2 top level comments, got %d", len(threads))
	}
	// Newest thread first, replies in the order they were written.
	if threads[0].Id != second.Id || threads[1].Id != first.Id {
		t.Fatalf("unexpected thread order %+v", threads)
	}
	if len(threads[0].Replies) != 2 || threads[0].Replies[0].Id != replyA.Id || threads[0].Replies[1].Id != replyB.Id {
		t.Fatalf("unexpected replies %+v", threads[0].Replies)
	}
	if threads[0].UserName == "" {
		t.Fatalf("expected commenter name, got %+v", threads[0])
	}
}

func TestCommentParentValidation(t *testing.T) {
	f := setupFeedbackEnv(t)

	other, err := f.owner.uploadImage(f.albumId, "other.png", "image/png", "", pngBytes(t, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	onOther, err := f.owner.addComment(other.Id, "different image", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.viewer.addComment(f.imageId, "cross reply", &onOther.Id); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for cross image reply, got %v", err)
	}

	missing := "00000000-0000-0000-0000-000000000000"
	if _, err := f.viewer.addComment(f.imageId, "orphan reply", &missing); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for missing parent, got %v", err)
	}
}

func TestDeleteComment(t *testing.T) {
	f := setupFeedbackEnv(t)

	comment, err := f.viewer.addComment(f.imageId, "delete me", nil)
	if err != nil {
		t.Fatal(err)
	}
	reply, err := f.owner.addComment(f.imageId, "a reply", &comment.Id)
	if err != nil {
		t.Fatal(err)
	}

	// Only the author may delete, even the album owner cannot.
	if err := f.owner.deleteComment(f.imageId, comment.Id); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if err := f.viewer.deleteComment(f.imageId, comment.Id); err != nil {
		t.Fatal(err)
	}

	threads, err := f.owner.listComments(f.imageId)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 0 {
		t.Fatalf("expected replies removed with parent, got %+v", threads)
	}

	if err := f.viewer.deleteComment(f.imageId, reply.Id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for deleted reply, got %v", err)
	}
}
