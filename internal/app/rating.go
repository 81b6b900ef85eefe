package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"liveguess-service/internal/domain"
)

// RatingService is a pure read projection over the externally computed
// ratings. Nothing is calculated here.
type RatingService struct {
	store RatingStore
}

func NewRatingService(store RatingStore) *RatingService {
	return &RatingService{store: store}
}

// Watch streams the user's rating: nil while absent, the current record after
// every remote change. At most one rating per user is expected; if the store
// ever holds more, the first encountered is used and the rest ignored.
func (s *RatingService) Watch(ctx context.Context, userID string) (<-chan *domain.Rating, func(), error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, nil, err
	}
	in, inCancel, err := s.store.WatchRatings(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan *domain.Rating, 8)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
		inCancel()
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case ratings, ok := <-in:
				if !ok {
					return
				}
				var first *domain.Rating
				if len(ratings) > 0 {
					first = &ratings[0]
					if len(ratings) > 1 {
						log.Warn().Str("user_id", userID).Int("count", len(ratings)).
							Msg("multiple ratings for one user, using the first")
					}
				}
				select {
				case out <- first:
				case <-stop:
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
