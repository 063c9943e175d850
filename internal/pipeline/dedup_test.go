package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/dedup"
	"brewfeed/backend/internal/queue"
)

const (
	ipaFirst  = "Join us Saturday for our IPA release, 4-7pm"
	ipaSecond = "IPA release party Saturday 4pm-7pm, come join us!"
)

func dedupJob(t *testing.T, id string) queue.Job {
	t.Helper()
	job, err := queue.NewJob(context.Background(), config.KindCheckDuplicate, DedupPayload{ContentItemID: id})
	require.NoError(t, err)
	return job
}

func newDedupStage(store content.Repository) *DedupStage {
	return NewDedupStage(store, dedup.NewEngine(dedup.DefaultConfig()), nil)
}

func TestDedupStage_Handle(t *testing.T) {
	day := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("MarksRestatementDuplicate", func(t *testing.T) {
		store := newMemStore()
		seedItem(store, "x", ipaFirst, day)
		seedItem(store, "y", ipaSecond, day.Add(24*time.Hour))

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "y")))

		y, _ := store.Get(context.Background(), "y")
		assert.True(t, y.IsDuplicate)
		assert.Equal(t, "x", y.DuplicateOfID)
		det := y.ExtractedData.DuplicateDetection
		require.NotNil(t, det)
		assert.GreaterOrEqual(t, det.Similarity, 0.75)
		assert.Equal(t, 1, det.Candidates)
		assert.NotEqual(t, dedup.MethodNone, det.Method)
	})

	t.Run("UniqueItemRecordsCheck", func(t *testing.T) {
		store := newMemStore()
		seedItem(store, "x", ipaFirst, day)
		seedItem(store, "y", "Our imperial stout returns in bottles next month", day)

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "y")))

		y, _ := store.Get(context.Background(), "y")
		assert.False(t, y.IsDuplicate)
		require.NotNil(t, y.ExtractedData.DuplicateDetection)
		assert.False(t, y.ExtractedData.DuplicateDetection.IsDuplicate)
		assert.Less(t, y.ExtractedData.DuplicateDetection.Similarity, 0.75)
	})

	t.Run("OutsideWindowIsNotACandidate", func(t *testing.T) {
		store := newMemStore()
		seedItem(store, "x", ipaFirst, day)
		seedItem(store, "y", ipaFirst, day.Add(4*24*time.Hour))

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "y")))

		y, _ := store.Get(context.Background(), "y")
		assert.False(t, y.IsDuplicate)
		assert.Equal(t, 0, y.ExtractedData.DuplicateDetection.Candidates)
		assert.Equal(t, dedup.MethodNone, y.ExtractedData.DuplicateDetection.Method)
	})

	t.Run("OtherBreweryIsNotACandidate", func(t *testing.T) {
		store := newMemStore()
		store.put(&content.Item{ID: "x", BreweryID: "other", SourceType: content.SourceRSS, RawContent: ipaFirst, PublicationDate: day})
		seedItem(store, "y", ipaFirst, day)

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "y")))

		y, _ := store.Get(context.Background(), "y")
		assert.False(t, y.IsDuplicate)
	})

	t.Run("DuplicatesAreNeverTargets", func(t *testing.T) {
		store := newMemStore()
		seedItem(store, "a", ipaFirst, day)
		store.put(&content.Item{
			ID: "b", BreweryID: breweryID, SourceType: content.SourceEmail, RawContent: ipaFirst,
			PublicationDate: day.Add(time.Hour), IsDuplicate: true, DuplicateOfID: "a",
		})
		seedItem(store, "c", ipaFirst, day.Add(2*time.Hour))

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "c")))

		c, _ := store.Get(context.Background(), "c")
		assert.True(t, c.IsDuplicate)
		assert.Equal(t, "a", c.DuplicateOfID)
	})

	t.Run("AlreadyDuplicateIsSkipped", func(t *testing.T) {
		store := newMemStore()
		seedItem(store, "a", ipaFirst, day)
		store.put(&content.Item{
			ID: "b", BreweryID: breweryID, SourceType: content.SourceEmail, RawContent: ipaFirst,
			PublicationDate: day, IsDuplicate: true, DuplicateOfID: "a",
		})

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "b")))

		b, _ := store.Get(context.Background(), "b")
		assert.Nil(t, b.ExtractedData)
	})

	t.Run("StaleCandidateIsRetryable", func(t *testing.T) {
		store := &staleStore{memStore: newMemStore()}
		seedItem(store.memStore, "x", ipaFirst, day)
		seedItem(store.memStore, "y", ipaFirst, day)

		err := newDedupStage(store).Handle(context.Background(), dedupJob(t, "y"))
		require.Error(t, err)
		assert.ErrorIs(t, err, content.ErrStaleCandidate)
		assert.False(t, queue.IsPermanent(err))
	})

	t.Run("MissingItemIsPermanent", func(t *testing.T) {
		err := newDedupStage(newMemStore()).Handle(context.Background(), dedupJob(t, "missing"))
		assert.True(t, queue.IsPermanent(err))
	})

	t.Run("UsesSummaryOverRawContent", func(t *testing.T) {
		store := newMemStore()
		seedItem(store, "x", ipaFirst, day)
		store.put(&content.Item{
			ID: "y", BreweryID: breweryID, SourceType: content.SourceInstagram,
			RawContent:      "<div>lots of unrelated markup and hashtags #beer #craft</div>",
			PublicationDate: day,
			ExtractedData: &content.ExtractedData{LLMExtraction: &content.LLMExtraction{
				Success: true, Summary: ipaFirst,
			}},
		})

		require.NoError(t, newDedupStage(store).Handle(context.Background(), dedupJob(t, "y")))

		y, _ := store.Get(context.Background(), "y")
		assert.True(t, y.IsDuplicate)
		assert.NotNil(t, y.ExtractedData.LLMExtraction)
	})
}

// staleStore simulates the chosen target being marked duplicate concurrently.
type staleStore struct {
	*memStore
}

func (s *staleStore) MarkDuplicate(context.Context, string, string, content.DuplicateDetection) error {
	return content.ErrStaleCandidate
}
