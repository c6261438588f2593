package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
)

type fakeSheetSource struct {
	rows     []*platform.SheetRow
	rowsErr  error
	synced   map[int64]int64
	rejected map[int64]string
}

func newFakeSheetSource(rows ...*platform.SheetRow) *fakeSheetSource {
	return &fakeSheetSource{
		rows:     rows,
		synced:   make(map[int64]int64),
		rejected: make(map[int64]string),
	}
}

func (f *fakeSheetSource) Rows(ctx context.Context) ([]*platform.SheetRow, error) {
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	return f.rows, nil
}

func (f *fakeSheetSource) MarkSynced(ctx context.Context, rowIndex, postID int64) error {
	f.synced[rowIndex] = postID
	return nil
}

func (f *fakeSheetSource) MarkFailed(ctx context.Context, rowIndex int64, reason string) error {
	f.rejected[rowIndex] = reason
	return nil
}

func pendingRow(rowIndex int64, message string, channelIDs ...int64) *platform.SheetRow {
	return &platform.SheetRow{
		RowIndex:      rowIndex,
		Message:       message,
		ChannelIDs:    channelIDs,
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		Status:        "pending",
	}
}

func newSheetSyncFixture(source *fakeSheetSource, channels ...*models.Channel) (*SheetSync, *fakePostRepo, *fakeAssocRepo, *fakeMediaRepo) {
	posts := newFakePostRepo()
	assocs := newFakeAssocRepo()
	media := &fakeMediaRepo{}
	sync := NewSheetSync(source, posts, assocs, newFakeChannelRepo(channels...), media)
	return sync, posts, assocs, media
}

func TestSheetSyncCreatesScheduledPost(t *testing.T) {
	row := pendingRow(2, "Big launch announcement for everyone", 1, 2)
	row.Campaign = "Summer Sale"
	row.MediaURLs = []string{"https://drive.google.com/file/d/abc123XYZ/view"}
	source := newFakeSheetSource(row)

	sync, posts, assocs, media := newSheetSyncFixture(source, facebookChannel(1, 7), facebookChannel(2, 7))

	synced, failed, err := sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Zero(t, failed)

	created, err := posts.GetByUserID(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, created, 1)
	post := created[0]
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.True(t, post.ScheduledTime.Valid)
	assert.Contains(t, post.Content, "Big launch announcement for everyone")
	assert.Contains(t, post.Content, "#SummerSale")

	list, err := assocs.ListByPostID(context.Background(), post.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, a := range list {
		assert.Equal(t, models.AssociationStatusPending, a.Status)
	}

	stored, err := media.ListByPostID(context.Background(), post.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "https://drive.google.com/uc?id=abc123XYZ&export=download", stored[0].MediaKey)
	assert.Equal(t, "image", stored[0].MediaType)

	assert.Equal(t, post.ID, source.synced[2])
	assert.Empty(t, source.rejected)
}

func TestSheetSyncSkipsFutureAndNonPendingRows(t *testing.T) {
	future := pendingRow(2, "scheduled for much later today", 1)
	future.ScheduledTime = time.Now().UTC().Add(time.Hour)
	done := pendingRow(3, "this one already went out", 1)
	done.Status = "synced"
	source := newFakeSheetSource(future, done)

	sync, posts, _, _ := newSheetSyncFixture(source, facebookChannel(1, 7))

	synced, failed, err := sync.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, synced)
	assert.Zero(t, failed)

	created, err := posts.GetByUserID(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, source.synced)
	assert.Empty(t, source.rejected)
}

func TestSheetSyncRejectsUnknownChannel(t *testing.T) {
	source := newFakeSheetSource(pendingRow(2, "message bound for a missing page", 99))

	sync, posts, _, _ := newSheetSyncFixture(source, facebookChannel(1, 7))

	synced, failed, err := sync.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, synced)
	assert.Equal(t, 1, failed)
	assert.Contains(t, source.rejected[2], "channel 99")

	created, err := posts.GetByUserID(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestSheetSyncRejectsRowWithoutChannels(t *testing.T) {
	source := newFakeSheetSource(pendingRow(2, "nobody to send this one to"))

	sync, _, _, _ := newSheetSyncFixture(source, facebookChannel(1, 7))

	synced, failed, err := sync.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, synced)
	assert.Equal(t, 1, failed)
	assert.Contains(t, source.rejected[2], "no channel ids")
}

func TestSheetSyncRejectsUnparseableScheduleTime(t *testing.T) {
	row := pendingRow(2, "a message with a broken date cell", 1)
	row.ScheduledTime = time.Time{}
	source := newFakeSheetSource(row)

	sync, _, _, _ := newSheetSyncFixture(source, facebookChannel(1, 7))

	synced, failed, err := sync.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, synced)
	assert.Equal(t, 1, failed)
	assert.Contains(t, source.rejected[2], "scheduled time")
}

func TestSheetSyncPropagatesReadError(t *testing.T) {
	source := newFakeSheetSource()
	source.rowsErr = errors.New("sheets api unavailable")

	sync, _, _, _ := newSheetSyncFixture(source)

	_, _, err := sync.Run(context.Background())
	assert.ErrorContains(t, err, "sheets api unavailable")
}

func TestSpinContentPreservesMessage(t *testing.T) {
	for i := 0; i < 20; i++ {
		out := spinContent("A long enough campaign message", "Summer Sale")
		assert.Contains(t, out, "A long enough campaign message")
		assert.True(t, strings.HasSuffix(out, "#SummerSale"))
	}

	assert.Equal(t, "short", spinContent("short", "Summer Sale"),
		"short messages pass through verbatim")
	out := spinContent("A long enough campaign message", "")
	assert.NotContains(t, out, "#")
}

func TestDriveDownloadURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"file path form", "https://drive.google.com/file/d/abc-123_X/view?usp=sharing", "https://drive.google.com/uc?id=abc-123_X&export=download"},
		{"open id form", "https://drive.google.com/open?id=abc-123_X", "https://drive.google.com/uc?id=abc-123_X&export=download"},
		{"non-drive url untouched", "https://cdn.test/video.mp4", "https://cdn.test/video.mp4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, driveDownloadURL(tc.in))
		})
	}
}

func TestMediaTypeFromURL(t *testing.T) {
	assert.Equal(t, "video", mediaTypeFromURL("https://cdn.test/clip.MP4"))
	assert.Equal(t, "video", mediaTypeFromURL("https://cdn.test/clip.mov?x=1"))
	assert.Equal(t, "image", mediaTypeFromURL("https://cdn.test/photo.jpg"))
}
