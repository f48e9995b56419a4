package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/overlay"
	"github.com/ucasvieira/locadora/internal/query"
	"github.com/ucasvieira/locadora/internal/storage"
)

// DefaultPageSize is the catalog page size when none is requested.
const DefaultPageSize = 8

// Sort keys accepted by ListOptions.SortBy.
const (
	SortTitle  = "title"
	SortYear   = "year"
	SortRating = "rating"
)

// ListOptions filters, orders and paginates the catalog view.
type ListOptions struct {
	// Search matches title or category, case-insensitively.
	Search string
	// Category keeps only movies of this category (exact match).
	Category string
	// Where holds query conditions such as "year greaterThan 1990", "and", ...
	Where []string
	// SortBy is one of the Sort* keys; empty keeps the view order.
	SortBy string
	Desc   bool
	// Page is 1-based; 0 returns every match.
	Page     int
	PageSize int
}

// MoviePage is one page of a catalog listing.
type MoviePage struct {
	Movies   []model.Movie `json:"movies"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	Pages    int           `json:"pages"`
}

// CatalogService defines operations over the layered movie catalog.
type CatalogService interface {
	// List returns the filtered effective view.
	List(ctx context.Context, opts ListOptions) (MoviePage, error)
	// Categories returns the distinct categories of the view, sorted.
	Categories(ctx context.Context) []string
	// Get returns one visible movie.
	Get(ctx context.Context, id string) (model.Movie, error)
	// Add stores a new movie under the next free ID.
	Add(ctx context.Context, m model.Movie) (model.Movie, error)
	// Update edits a movie.
	Update(ctx context.Context, m model.Movie) (model.Movie, error)
	// Remove deletes a movie and returns what was removed for undo.
	Remove(ctx context.Context, id string) (model.Movie, bool, error)
	// Restore undoes a Remove.
	Restore(ctx context.Context, m model.Movie) error
}

type CatalogServiceImpl struct {
	store *overlay.Store[model.Movie]
	log   *zap.Logger
}

var _ CatalogService = (*CatalogServiceImpl)(nil)

// NewMovieStore builds the overlay store for movies over base.
func NewMovieStore(base []model.Movie, kv storage.KV, bus *notify.Bus, log *zap.Logger) *overlay.Store[model.Movie] {
	return overlay.New(overlay.Config[model.Movie]{
		Base:          base,
		OverridesKey:  storage.KeyMovieOverrides,
		TombstonesKey: storage.KeyMovieTombstones,
		ID:            model.MovieID,
		WithID:        model.WithMovieID,
		Topic:         notify.TopicMovies,
	}, kv, bus, log)
}

// NewCatalogService constructs CatalogService over a movie store.
func NewCatalogService(store *overlay.Store[model.Movie], log *zap.Logger) *CatalogServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogServiceImpl{store: store, log: log}
}

// List applies search, category, where conditions, sorting and pagination,
// in that order.
func (s *CatalogServiceImpl) List(ctx context.Context, opts ListOptions) (MoviePage, error) {
	q, err := query.Parse(opts.Where)
	if err != nil {
		return MoviePage{}, err
	}
	switch opts.SortBy {
	case "", SortTitle, SortYear, SortRating:
	default:
		return MoviePage{}, fmt.Errorf("%w: unknown sort %q", errs.ErrValidation, opts.SortBy)
	}
	if opts.Page < 0 || opts.PageSize < 0 {
		return MoviePage{}, fmt.Errorf("%w: negative page", errs.ErrValidation)
	}

	movies := s.store.View(ctx)
	needle := strings.ToLower(strings.TrimSpace(opts.Search))
	movies = slices.DeleteFunc(movies, func(m model.Movie) bool {
		if opts.Category != "" && m.Category != opts.Category {
			return true
		}
		if needle == "" {
			return false
		}
		return !strings.Contains(strings.ToLower(m.Title), needle) &&
			!strings.Contains(strings.ToLower(m.Category), needle)
	})
	movies, err = query.Filter(movies, q)
	if err != nil {
		return MoviePage{}, err
	}
	sortMovies(movies, opts.SortBy, opts.Desc)

	page := MoviePage{Total: len(movies), Page: opts.Page, PageSize: opts.PageSize}
	if opts.Page == 0 {
		page.Movies, page.PageSize, page.Pages = movies, len(movies), 1
		return page, nil
	}
	if page.PageSize == 0 {
		page.PageSize = DefaultPageSize
	}
	page.Pages = max(1, (len(movies)+page.PageSize-1)/page.PageSize)
	start := min((opts.Page-1)*page.PageSize, len(movies))
	end := min(start+page.PageSize, len(movies))
	page.Movies = movies[start:end]
	return page, nil
}

func sortMovies(movies []model.Movie, by string, desc bool) {
	var less func(a, b model.Movie) int
	switch by {
	case SortTitle:
		less = func(a, b model.Movie) int {
			return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
	case SortYear:
		less = func(a, b model.Movie) int { return cmp.Compare(a.Year, b.Year) }
	case SortRating:
		less = func(a, b model.Movie) int { return cmp.Compare(a.Rating, b.Rating) }
	default:
		return
	}
	slices.SortStableFunc(movies, func(a, b model.Movie) int {
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
}

// Categories derives the category list from the view.
func (s *CatalogServiceImpl) Categories(ctx context.Context) []string {
	var cats []string
	for _, m := range s.store.View(ctx) {
		if m.Category != "" {
			cats = append(cats, m.Category)
		}
	}
	slices.Sort(cats)
	return slices.Compact(cats)
}

// Get returns the visible movie with id.
func (s *CatalogServiceImpl) Get(ctx context.Context, id string) (model.Movie, error) {
	m, ok := s.store.Get(ctx, id)
	if !ok {
		return model.Movie{}, fmt.Errorf("%w: movie %q", errs.ErrNotFound, id)
	}
	return m, nil
}

// Add validates and stores a new movie; any ID on m is replaced.
func (s *CatalogServiceImpl) Add(ctx context.Context, m model.Movie) (model.Movie, error) {
	if err := validateMovie(m); err != nil {
		return model.Movie{}, err
	}
	added, err := s.store.Add(ctx, m)
	if err != nil {
		s.log.Error("add movie", zap.String("title", m.Title), zap.Error(err))
		return model.Movie{}, err
	}
	return added, nil
}

// Update validates and stores m as the current version of its ID.
func (s *CatalogServiceImpl) Update(ctx context.Context, m model.Movie) (model.Movie, error) {
	if m.ID == "" {
		return model.Movie{}, fmt.Errorf("%w: movie id required", errs.ErrValidation)
	}
	if err := validateMovie(m); err != nil {
		return model.Movie{}, err
	}
	return s.store.Update(ctx, m)
}

// Remove deletes the movie with id; ok is false when it was unknown.
func (s *CatalogServiceImpl) Remove(ctx context.Context, id string) (model.Movie, bool, error) {
	return s.store.Remove(ctx, id)
}

// Restore brings back a removed movie.
func (s *CatalogServiceImpl) Restore(ctx context.Context, m model.Movie) error {
	return s.store.Restore(ctx, m)
}

func validateMovie(m model.Movie) error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title required", errs.ErrValidation)
	}
	if m.Year < 0 {
		return fmt.Errorf("%w: negative year", errs.ErrValidation)
	}
	if m.Rating < 0 || m.Rating > 10 {
		return fmt.Errorf("%w: rating out of range", errs.ErrValidation)
	}
	return nil
}
