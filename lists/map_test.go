package lists

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, Map([]int{1, 2, 3}, strconv.Itoa))
	assert.Equal(t, []string{}, Map([]int{}, strconv.Itoa))
}

func TestFold(t *testing.T) {
	sum := Fold([]int{1, 2, 3}, 0, func(acc int, x int) int { return acc + x })
	assert.Equal(t, 6, sum)

	assert.Equal(t, "init", Fold(nil, "init", func(acc string, x string) string { return acc + x }))
}

func TestUnique(t *testing.T) {
	type item struct{ id string }
	items := []item{{"washer1"}, {"lamp"}, {"washer1"}, {"dryer"}, {"lamp"}}

	assert.Equal(t, []string{"washer1", "lamp", "dryer"}, Unique(items, func(i item) string { return i.id }))
	assert.Equal(t, []string{}, Unique([]item(nil), func(i item) string { return i.id }))
}
