package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/repository"
)

const dateLayout = time.DateOnly

// RentalService defines CRUD over the flat rental ledger.
type RentalService interface {
	// List returns the ledger in insertion order.
	List(ctx context.Context) ([]model.Rental, error)
	// Create appends a rental with a fresh time-derived ID.
	Create(ctx context.Context, r model.Rental) (model.Rental, error)
	// Update applies patch to the rental with id.
	Update(ctx context.Context, id string, patch model.RentalPatch) (model.Rental, error)
	// Delete removes the rental with id; ok is false when it was unknown.
	Delete(ctx context.Context, id string) (ok bool, err error)
}

type RentalServiceImpl struct {
	repo    repository.RentalRepository
	initial []model.Rental
	bus     *notify.Bus
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	lastID int64
}

var _ RentalService = (*RentalServiceImpl)(nil)

// NewRentalService constructs RentalService. initial seeds the ledger until
// the first save.
func NewRentalService(repo repository.RentalRepository, initial []model.Rental, bus *notify.Bus, log *zap.Logger) *RentalServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &RentalServiceImpl{repo: repo, initial: initial, bus: bus, log: log, now: time.Now}
}

// List loads the ledger, falling back to the seed when none was saved.
func (s *RentalServiceImpl) List(ctx context.Context) ([]model.Rental, error) {
	return s.load(ctx)
}

func (s *RentalServiceImpl) load(ctx context.Context) ([]model.Rental, error) {
	rentals, found, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return slices.Clone(s.initial), nil
	}
	return rentals, nil
}

// Create validates r, fills defaults (status Active, rent date today) and
// appends it.
func (s *RentalServiceImpl) Create(ctx context.Context, r model.Rental) (model.Rental, error) {
	if r.Status == "" {
		r.Status = model.RentalActive
	}
	if r.RentDate == "" {
		r.RentDate = s.now().Format(dateLayout)
	}
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.MovieTitle = strings.TrimSpace(r.MovieTitle)
	if err := validateRental(r); err != nil {
		return model.Rental{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rentals, err := s.load(ctx)
	if err != nil {
		return model.Rental{}, err
	}
	r.ID = s.nextID(rentals)
	if err := s.repo.Save(ctx, append(rentals, r)); err != nil {
		return model.Rental{}, err
	}
	s.publish()
	return r, nil
}

// nextID returns the current time in milliseconds, bumped past the last ID
// issued by this context and past any ID already in the ledger.
func (s *RentalServiceImpl) nextID(rentals []model.Rental) string {
	id := max(s.now().UnixMilli(), s.lastID+1)
	for slices.ContainsFunc(rentals, func(r model.Rental) bool { return r.ID == strconv.FormatInt(id, 10) }) {
		id++
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

// Update applies the non-nil fields of patch.
func (s *RentalServiceImpl) Update(ctx context.Context, id string, patch model.RentalPatch) (model.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rentals, err := s.load(ctx)
	if err != nil {
		return model.Rental{}, err
	}
	i := slices.IndexFunc(rentals, func(r model.Rental) bool { return r.ID == id })
	if i < 0 {
		return model.Rental{}, fmt.Errorf("%w: rental %q", errs.ErrNotFound, id)
	}
	r := rentals[i]
	if patch.CustomerName != nil {
		r.CustomerName = strings.TrimSpace(*patch.CustomerName)
	}
	if patch.MovieTitle != nil {
		r.MovieTitle = strings.TrimSpace(*patch.MovieTitle)
	}
	if patch.RentDate != nil {
		r.RentDate = *patch.RentDate
	}
	if patch.ReturnDate != nil {
		r.ReturnDate = *patch.ReturnDate
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if err := validateRental(r); err != nil {
		return model.Rental{}, err
	}
	rentals[i] = r
	if err := s.repo.Save(ctx, rentals); err != nil {
		return model.Rental{}, err
	}
	s.publish()
	return r, nil
}

// Delete removes the rental with id. Deleting an unknown ID is a no-op.
func (s *RentalServiceImpl) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rentals, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	i := slices.IndexFunc(rentals, func(r model.Rental) bool { return r.ID == id })
	if i < 0 {
		return false, nil
	}
	if err := s.repo.Save(ctx, slices.Delete(rentals, i, i+1)); err != nil {
		return false, err
	}
	s.publish()
	return true, nil
}

func (s *RentalServiceImpl) publish() {
	if s.bus != nil {
		s.bus.Publish(notify.Event{Topic: notify.TopicRentals})
	}
}

func validateRental(r model.Rental) error {
	if r.CustomerName == "" || r.MovieTitle == "" {
		return fmt.Errorf("%w: customer and movie required", errs.ErrValidation)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", errs.ErrValidation, r.Status)
	}
	rent, err := time.Parse(dateLayout, r.RentDate)
	if err != nil {
		return fmt.Errorf("%w: rent date %q", errs.ErrValidation, r.RentDate)
	}
	if r.ReturnDate == "" {
		return nil
	}
	ret, err := time.Parse(dateLayout, r.ReturnDate)
	if err != nil {
		return fmt.Errorf("%w: return date %q", errs.ErrValidation, r.ReturnDate)
	}
	if ret.Before(rent) {
		return fmt.Errorf("%w: return date before rent date", errs.ErrValidation)
	}
	return nil
}
