package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mdnorm/internal/normalize/models"
)

func TestNewSet(t *testing.T) {
	s := NewSet("Goa", "Assam", "Goa", "", "Bihar")

	assert.Equal(t, []string{"Goa", "Assam", "Bihar"}, s.Labels())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, "Assam", s.At(1))
	assert.True(t, s.Contains("Goa"))
	assert.False(t, s.Contains("goa"), "membership is exact")
}

func TestLabelsReturnsCopy(t *testing.T) {
	s := NewSet("Goa")
	l := s.Labels()
	l[0] = "Mutated"
	assert.Equal(t, "Goa", s.At(0))
}

func TestForCategory(t *testing.T) {
	assert.Equal(t, 36, ForCategory(models.CategoryState).Len())
	assert.True(t, ForCategory(models.CategoryCity).Contains("Bangalore"))
	assert.Zero(t, ForCategory(models.Category("country")).Len())
}
