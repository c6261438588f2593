package engine

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
)

// fakePostRepo is an in-memory PostRepository with the same claim semantics
// as the SQL implementation: the due predicate is re-checked under the lock.
type fakePostRepo struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*models.Post
	resets int
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: make(map[int64]*models.Post)}
}

func (f *fakePostRepo) add(post *models.Post) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	post.ID = f.nextID
	f.posts[post.ID] = post
	return post
}

func (f *fakePostRepo) snapshot(id int64) models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.posts[id]
}

func postDue(p *models.Post, now, staleBefore time.Time) bool {
	if !p.ScheduledTime.Valid || p.ScheduledTime.Time.After(now) {
		return false
	}
	switch p.Status {
	case models.PostStatusScheduled:
		return true
	case models.PostStatusPublishing:
		return !p.UpdatedAt.After(staleBefore)
	}
	return false
}

func (f *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	cp := *post
	f.add(&cp)
	return cp.ID, nil
}

func (f *fakePostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Post
	for _, p := range f.posts {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	return ok && p.UserID == userID, nil
}

func (f *fakePostRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*models.Post
	for _, p := range f.posts {
		if postDue(p, now, staleBefore) {
			cp := *p
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledTime.Time.Before(due[j].ScheduledTime.Time)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakePostRepo) ClaimForPublishing(ctx context.Context, id int64, now, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || !postDue(p, now, staleBefore) {
		return false, nil
	}
	p.Status = models.PostStatusPublishing
	p.UpdatedAt = now
	return true, nil
}

func (f *fakePostRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	p.Status = models.PostStatusSent
	p.SentTime = sql.NullTime{Time: sentAt, Valid: true}
	p.ScheduledTime = sql.NullTime{}
	p.UpdatedAt = sentAt
	return nil
}

func (f *fakePostRepo) MarkFailed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	p.Status = models.PostStatusFailed
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakePostRepo) ResetToScheduled(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	if p.Status == models.PostStatusPublishing {
		p.Status = models.PostStatusScheduled
		p.UpdatedAt = time.Now().UTC()
		f.resets++
	}
	return nil
}

func (f *fakePostRepo) ScheduleNow(ctx context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	switch p.Status {
	case models.PostStatusDraft, models.PostStatusScheduled, models.PostStatusFailed:
		p.Status = models.PostStatusScheduled
		p.ScheduledTime = sql.NullTime{Time: now, Valid: true}
		p.UpdatedAt = now
	}
	return nil
}

func (f *fakePostRepo) SetApproval(ctx context.Context, id int64, approvalStatus, postStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	p.ApprovalStatus = approvalStatus
	p.Status = postStatus
	return nil
}

func (f *fakePostRepo) Remove(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.posts, id)
	return nil
}

type fakeAssocRepo struct {
	mu     sync.Mutex
	nextID int64
	assocs map[int64]*models.PostChannelAssociation
}

func newFakeAssocRepo() *fakeAssocRepo {
	return &fakeAssocRepo{assocs: make(map[int64]*models.PostChannelAssociation)}
}

func (f *fakeAssocRepo) add(assoc *models.PostChannelAssociation) *models.PostChannelAssociation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	assoc.ID = f.nextID
	f.assocs[assoc.ID] = assoc
	return assoc
}

func (f *fakeAssocRepo) snapshot(id int64) models.PostChannelAssociation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.assocs[id]
}

func (f *fakeAssocRepo) GetByID(ctx context.Context, id int64) (*models.PostChannelAssociation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assocs[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAssocRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostChannelAssociation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PostChannelAssociation
	for _, a := range f.assocs {
		if a.PostID == postID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAssocRepo) Create(ctx context.Context, tx *sql.Tx, assoc *models.PostChannelAssociation) (int64, error) {
	cp := *assoc
	f.add(&cp)
	return cp.ID, nil
}

func (f *fakeAssocRepo) MarkSent(ctx context.Context, id int64, platformPostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.assocs[id]
	a.Status = models.AssociationStatusSent
	a.PlatformPostID = platformPostID
	a.ErrorMessage = ""
	return nil
}

func (f *fakeAssocRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.assocs[id]
	a.Status = models.AssociationStatusFailed
	a.ErrorMessage = errorMessage
	return nil
}

func (f *fakeAssocRepo) ExistsByPlatformPostID(ctx context.Context, channelID int64, platformPostID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assocs {
		if a.ChannelID == channelID && a.PlatformPostID == platformPostID {
			return true, nil
		}
	}
	return false, nil
}

type fakeChannelRepo struct {
	channels map[int64]*models.Channel
}

func newFakeChannelRepo(channels ...*models.Channel) *fakeChannelRepo {
	f := &fakeChannelRepo{channels: make(map[int64]*models.Channel)}
	for _, ch := range channels {
		f.channels[ch.ID] = ch
	}
	return f
}

func (f *fakeChannelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeChannelRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.Channel, error) {
	var out []*models.Channel
	for _, ch := range f.channels {
		if ch.UserID == userID && ch.IsActive {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChannelRepo) ListByUserAndPlatform(ctx context.Context, userID int64, platformName string) ([]*models.Channel, error) {
	all, _ := f.ListByUserID(ctx, userID)
	var out []*models.Channel
	for _, ch := range all {
		if ch.Platform == platformName {
			out = append(out, ch)
		}
	}
	return out, nil
}

type fakeMediaRepo struct {
	mu     sync.Mutex
	nextID int64
	items  []*models.PostMedia
}

func (f *fakeMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PostMedia
	for _, m := range f.items {
		if m.PostID == postID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMediaRepo) Create(ctx context.Context, tx *sql.Tx, media *models.PostMedia) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *media
	cp.ID = f.nextID
	f.items = append(f.items, &cp)
	return cp.ID, nil
}

// fakeAnalyticsRepo mirrors the eligibility rules of the SQL repository:
// a candidate is eligible while it has no snapshot or a stale one, and the
// list comes back stalest first with missing snapshots ahead of everything.
type fakeAnalyticsRepo struct {
	mu            sync.Mutex
	candidates    []*models.RefreshCandidate
	snapshots     map[int64]*models.AnalyticsSnapshot
	listErr       error
	panicOnList   bool
	touchDisabled bool
}

func newFakeAnalyticsRepo() *fakeAnalyticsRepo {
	return &fakeAnalyticsRepo{snapshots: make(map[int64]*models.AnalyticsSnapshot)}
}

func (f *fakeAnalyticsRepo) addCandidate(c *models.RefreshCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
}

func (f *fakeAnalyticsRepo) setSnapshot(s *models.AnalyticsSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.AssociationID] = s
}

func (f *fakeAnalyticsRepo) eligible(c *models.RefreshCandidate, scope models.JobScope, staleBefore time.Time) bool {
	if scope.ChannelID != nil && c.ChannelID != *scope.ChannelID {
		return false
	}
	snap, ok := f.snapshots[c.AssociationID]
	if !ok {
		return true
	}
	return !snap.LastUpdated.After(staleBefore)
}

func (f *fakeAnalyticsRepo) GetByAssociationID(ctx context.Context, associationID int64) (*models.AnalyticsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[associationID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeAnalyticsRepo) Upsert(ctx context.Context, snapshot *models.AnalyticsSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *snapshot
	f.snapshots[snapshot.AssociationID] = &cp
	return nil
}

func (f *fakeAnalyticsRepo) TouchLastUpdated(ctx context.Context, associationID int64, now time.Time) error {
	if f.touchDisabled {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[associationID]
	if !ok {
		f.snapshots[associationID] = &models.AnalyticsSnapshot{AssociationID: associationID, LastUpdated: now}
		return nil
	}
	s.LastUpdated = now
	return nil
}

func (f *fakeAnalyticsRepo) ListEligible(ctx context.Context, scope models.JobScope, staleBefore time.Time, limit int) ([]*models.RefreshCandidate, error) {
	if f.panicOnList {
		panic("analytics store corrupted")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.RefreshCandidate
	for _, c := range f.candidates {
		if !f.eligible(c, scope, staleBefore) {
			continue
		}
		cp := *c
		if snap, ok := f.snapshots[c.AssociationID]; ok {
			cp.LastUpdated = sql.NullTime{Time: snap.LastUpdated, Valid: true}
		}
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastUpdated.Valid != b.LastUpdated.Valid {
			return !a.LastUpdated.Valid
		}
		if a.LastUpdated.Valid && !a.LastUpdated.Time.Equal(b.LastUpdated.Time) {
			return a.LastUpdated.Time.Before(b.LastUpdated.Time)
		}
		return a.AssociationID > b.AssociationID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAnalyticsRepo) CountEligible(ctx context.Context, scope models.JobScope, staleBefore time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.candidates {
		if f.eligible(c, scope, staleBefore) {
			count++
		}
	}
	return count, nil
}

type stubFetcher struct {
	mu      sync.Mutex
	metrics platform.Metrics
	err     error
	calls   int
	fetched []string
}

func (s *stubFetcher) FetchInsights(ctx context.Context, platformPostID, accessToken string) (*platform.Metrics, error) {
	s.mu.Lock()
	s.calls++
	s.fetched = append(s.fetched, platformPostID)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := s.metrics
	return &m, nil
}

// checkingFetcher belongs to the multi-call family: it verifies existence
// before fetching, like the real Facebook client.
type checkingFetcher struct {
	stubFetcher
	exists   bool
	checkErr error
	checks   int
}

func (c *checkingFetcher) CheckExists(ctx context.Context, platformPostID, accessToken string) (bool, error) {
	c.mu.Lock()
	c.checks++
	c.mu.Unlock()
	if c.checkErr != nil {
		return false, c.checkErr
	}
	return c.exists, nil
}

type stubFetcherRegistry map[string]platform.InsightsFetcher

func (r stubFetcherRegistry) FetcherFor(platformName string) (platform.InsightsFetcher, bool) {
	f, ok := r[platformName]
	return f, ok
}

type stubPublisher struct {
	mu    sync.Mutex
	id    string
	err   error
	calls int
}

func (s *stubPublisher) Publish(ctx context.Context, pageID string, content *platform.PostContent, accessToken string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.id, nil
}

func (s *stubPublisher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubPublisherRegistry map[string]platform.Publisher

func (r stubPublisherRegistry) PublisherFor(platformName string) (platform.Publisher, bool) {
	p, ok := r[platformName]
	return p, ok
}

type stubResolver struct {
	err error
}

func (s *stubResolver) ResolveURL(ctx context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://media.test/" + key, nil
}

type stubLister struct {
	posts []*platform.HistoryPost
	err   error
}

func (s *stubLister) ListPagePosts(ctx context.Context, pageID, accessToken string, limit int) ([]*platform.HistoryPost, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.posts) {
		return s.posts[:limit], nil
	}
	return s.posts, nil
}

func sameScope(userID int64, channelID sql.NullInt64, scope models.JobScope) bool {
	if userID != scope.UserID {
		return false
	}
	if scope.ChannelID == nil {
		return !channelID.Valid
	}
	return channelID.Valid && channelID.Int64 == *scope.ChannelID
}

type fakeImportJobs struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*models.ImportJob
}

func newFakeImportJobs() *fakeImportJobs {
	return &fakeImportJobs{jobs: make(map[int64]*models.ImportJob)}
}

func (f *fakeImportJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeImportJobs) Create(ctx context.Context, job *models.ImportJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *job
	cp.ID = f.nextID
	cp.CreatedAt = time.Now().UTC()
	f.jobs[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeImportJobs) GetByID(ctx context.Context, id int64) (*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeImportJobs) GetByPublicID(ctx context.Context, publicID string) (*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.PublicID == publicID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeImportJobs) GetLatest(ctx context.Context, scope models.JobScope) (*models.ImportJob, error) {
	return f.match(scope, false)
}

func (f *fakeImportJobs) GetActive(ctx context.Context, scope models.JobScope) (*models.ImportJob, error) {
	return f.match(scope, true)
}

func (f *fakeImportJobs) match(scope models.JobScope, activeOnly bool) (*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.ImportJob
	for _, j := range f.jobs {
		if !sameScope(j.UserID, j.ChannelID, scope) {
			continue
		}
		if activeOnly && !j.IsActive() {
			continue
		}
		if latest == nil || j.ID > latest.ID {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeImportJobs) MarkRunning(ctx context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = models.JobStatusRunning
	j.StartedAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (f *fakeImportJobs) UpdateCounts(ctx context.Context, id int64, found, added int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.PostsFound = found
	j.PostsAdded = added
	return nil
}

func (f *fakeImportJobs) Finish(ctx context.Context, id int64, status, errorMessage string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = status
	j.ErrorMessage = errorMessage
	j.FinishedAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

type fakeRefreshJobs struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*models.AnalyticsRefreshJob
}

func newFakeRefreshJobs() *fakeRefreshJobs {
	return &fakeRefreshJobs{jobs: make(map[int64]*models.AnalyticsRefreshJob)}
}

func (f *fakeRefreshJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeRefreshJobs) Create(ctx context.Context, job *models.AnalyticsRefreshJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *job
	cp.ID = f.nextID
	cp.CreatedAt = time.Now().UTC()
	f.jobs[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeRefreshJobs) GetByID(ctx context.Context, id int64) (*models.AnalyticsRefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeRefreshJobs) GetByPublicID(ctx context.Context, publicID string) (*models.AnalyticsRefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.PublicID == publicID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRefreshJobs) GetLatest(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error) {
	return f.match(scope, false)
}

func (f *fakeRefreshJobs) GetActive(ctx context.Context, scope models.JobScope) (*models.AnalyticsRefreshJob, error) {
	return f.match(scope, true)
}

func (f *fakeRefreshJobs) match(scope models.JobScope, activeOnly bool) (*models.AnalyticsRefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.AnalyticsRefreshJob
	for _, j := range f.jobs {
		if !sameScope(j.UserID, j.ChannelID, scope) {
			continue
		}
		if activeOnly && !j.IsActive() {
			continue
		}
		if latest == nil || j.ID > latest.ID {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRefreshJobs) MarkRunning(ctx context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = models.JobStatusRunning
	j.StartedAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (f *fakeRefreshJobs) UpdateProgress(ctx context.Context, id int64, total, processed, failed, skipped int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.TotalEligible = total
	j.Processed = processed
	j.Failed = failed
	j.Skipped = skipped
	j.LastProgressAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (f *fakeRefreshJobs) Finish(ctx context.Context, id int64, status, errorMessage string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = status
	j.ErrorMessage = errorMessage
	j.FinishedAt = sql.NullTime{Time: now, Valid: true}
	return nil
}
