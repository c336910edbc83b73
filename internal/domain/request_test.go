package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDifficultyValid(t *testing.T) {
	assert.True(t, DifficultyEasy.Valid())
	assert.True(t, DifficultyMedium.Valid())
	assert.True(t, DifficultyHard.Valid())
	assert.False(t, Difficulty("expert").Valid())
	assert.False(t, Difficulty("").Valid())
	assert.False(t, Difficulty("Easy").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.True(t, StatusMatched.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusTimeout.Terminal())
}

func TestIntersects(t *testing.T) {
	assert.True(t, Intersects([]string{"arrays", "graphs"}, []string{"graphs"}))
	assert.False(t, Intersects([]string{"arrays"}, []string{"graphs"}))
	assert.False(t, Intersects(nil, []string{"graphs"}))
	// matching is exact, no case folding
	assert.False(t, Intersects([]string{"Arrays"}, []string{"arrays"}))
}

func TestUnion(t *testing.T) {
	got := Union([]string{"arrays", "graphs"}, []string{"graphs", "trees"})
	assert.Equal(t, []string{"arrays", "graphs", "trees"}, got)
	assert.Empty(t, Union(nil, nil))
}
