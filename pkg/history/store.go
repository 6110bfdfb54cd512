// Package history holds the in-process view of per-job-type policy audit
// trails: paged event lists loaded lazily as panels are opened.
package history

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/tracing"
)

// Service fetches event pages from persistence.
type Service interface {
	ListByJobType(ctx context.Context, jobType models.JobType, page, pageSize int) ([]models.RetryPolicyEvent, int, error)
}

// View is a read snapshot of one job type's history panel.
type View struct {
	Events     []models.RetryPolicyEvent `json:"events"`
	Page       int                       `json:"page"`
	TotalPages int                       `json:"total_pages"`
	TotalCount int                       `json:"total_count"`
	Loading    bool                      `json:"loading"`
	Open       bool                      `json:"open"`
}

type entry struct {
	events     []models.RetryPolicyEvent
	page       int
	totalPages int
	totalCount int
	loading    bool
	open       bool
}

// Store caches history pages per job type. Pages append; a reload replaces.
type Store struct {
	mu       sync.Mutex
	svc      Service
	logger   ectologger.Logger
	pageSize int
	entries  map[models.JobType]*entry
}

// NewStore creates an empty history store.
func NewStore(svc Service, pageSize int, logger ectologger.Logger) *Store {
	if pageSize < 1 {
		pageSize = 20
	}
	return &Store{
		svc:      svc,
		logger:   logger,
		pageSize: pageSize,
		entries:  make(map[models.JobType]*entry),
	}
}

// Toggle opens or closes the history panel for a job type. Opening a panel
// with no loaded events triggers the first page load.
func (s *Store) Toggle(ctx context.Context, jobType models.JobType) (View, error) {
	s.mu.Lock()
	e, ok := s.entries[jobType]
	if !ok {
		e = &entry{}
		s.entries[jobType] = e
	}
	e.open = !e.open
	shouldLoad := e.open && e.page == 0 && !e.loading
	view := e.view()
	s.mu.Unlock()

	if !shouldLoad {
		return view, nil
	}
	return s.Load(ctx, jobType)
}

// Load fetches the first page, replacing anything already cached.
func (s *Store) Load(ctx context.Context, jobType models.JobType) (View, error) {
	return s.fetch(ctx, jobType, 1, true)
}

// LoadMore appends the next page. On the last page it is a no-op: the cached
// view comes back unchanged and nothing is fetched.
func (s *Store) LoadMore(ctx context.Context, jobType models.JobType) (View, error) {
	s.mu.Lock()
	e, ok := s.entries[jobType]
	if !ok || e.loading || (e.page > 0 && e.page >= e.totalPages) {
		var view View
		if ok {
			view = e.view()
		}
		s.mu.Unlock()
		return view, nil
	}
	next := e.page + 1
	s.mu.Unlock()

	return s.fetch(ctx, jobType, next, false)
}

// History returns the cached view for a job type.
func (s *Store) History(jobType models.JobType) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[jobType]; ok {
		return e.view()
	}
	return View{}
}

// Invalidate drops the cached history for a job type so the next open
// refetches. Called after any mutation to that job type's policy.
func (s *Store) Invalidate(jobType models.JobType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[jobType]; ok {
		wasOpen := e.open
		*e = entry{open: wasOpen}
	}
}

func (s *Store) fetch(ctx context.Context, jobType models.JobType, page int, replace bool) (View, error) {
	ctx, span := tracing.StartSpan(ctx, "history.Store.fetch")
	defer span.End()

	s.mu.Lock()
	e, ok := s.entries[jobType]
	if !ok {
		e = &entry{}
		s.entries[jobType] = e
	}
	if e.loading {
		view := e.view()
		s.mu.Unlock()
		return view, nil
	}
	e.loading = true
	s.mu.Unlock()

	events, total, err := s.svc.ListByJobType(ctx, jobType, page, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.loading = false
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to load policy history for %s", jobType)
		return e.view(), err
	}

	if replace {
		e.events = events
	} else {
		e.events = append(e.events, events...)
	}
	e.page = page
	e.totalCount = total
	e.totalPages = (total + s.pageSize - 1) / s.pageSize
	return e.view(), nil
}

func (e *entry) view() View {
	events := make([]models.RetryPolicyEvent, len(e.events))
	copy(events, e.events)
	return View{
		Events:     events,
		Page:       e.page,
		TotalPages: e.totalPages,
		TotalCount: e.totalCount,
		Loading:    e.loading,
		Open:       e.open,
	}
}
