package records_test

//go:generate mockgen -source=records.go -destination=mocks/mocks.go -package=mocks Store,DistinctLister

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"mdnorm/internal/records"
	"mdnorm/internal/records/mocks"
)

// distinctStore combines both mocks so DistinctValues takes the fast path.
type distinctStore struct {
	*mocks.MockStore
	*mocks.MockDistinctLister
}

func TestDistinctValues(t *testing.T) {
	ctx := context.Background()

	t.Run("scans rows and keeps first occurrence order", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Query(ctx, "influencers", records.Filter(nil)).Return([]records.Row{
			{"state": "UP"},
			{"state": nil},
			{"state": "Orissa"},
			{"state": "UP"},
			{"state": 42},
			{"state": ""},
		}, nil)

		values, err := records.DistinctValues(ctx, store, "influencers", "state")
		require.NoError(t, err)
		assert.Equal(t, []string{"UP", "Orissa"}, values)
	})

	t.Run("uses the store's distinct listing when available", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := distinctStore{mocks.NewMockStore(ctrl), mocks.NewMockDistinctLister(ctrl)}
		store.MockDistinctLister.EXPECT().Distinct(ctx, "influencers", "city").Return([]string{"Bombay", "Bombay", "Pune"}, nil)

		values, err := records.DistinctValues(ctx, store, "influencers", "city")
		require.NoError(t, err)
		assert.Equal(t, []string{"Bombay", "Pune"}, values)
	})

	t.Run("store errors are wrapped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		boom := errors.New("connection reset")
		store.EXPECT().Query(gomock.Any(), "influencers", gomock.Any()).Return(nil, boom)

		_, err := records.DistinctValues(ctx, store, "influencers", "state")
		require.ErrorIs(t, err, boom)
	})
}

func TestMatches(t *testing.T) {
	row := records.Row{"state": "UP", "id": 7}
	assert.True(t, records.Matches(row, nil))
	assert.True(t, records.Matches(row, records.Filter{"state": "UP", "id": 7}))
	assert.False(t, records.Matches(row, records.Filter{"state": "MP"}))
	assert.False(t, records.Matches(row, records.Filter{"city": "Pune"}))
}
