package generics

import (
	"github.com/stretchr/testify/require"
	"slices"
	"strconv"
	"testing"
)

func TestSliceMap(t *testing.T) {
	require.Equal(t, []string{"1", "2", "3"}, SliceMap([]int{1, 2, 3}, strconv.Itoa))
	require.Empty(t, SliceMap([]int{}, strconv.Itoa))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]float64{"Loss/G/loss": 1, "Balance/scaling": 2, "Loss/D/loss": 3}
	// Map iteration order is random: repeat to make sure the order is stable.
	for range 100 {
		require.Equal(t, []string{"Balance/scaling", "Loss/D/loss", "Loss/G/loss"}, slices.Collect(SortedKeys(m)))
	}
}

func TestSortedKeysAndValues(t *testing.T) {
	m := map[int]string{1: "1", 5: "5", 3: "3"}
	for range 100 {
		var keys []int
		var values []string
		for key, value := range SortedKeysAndValues(m) {
			keys = append(keys, key)
			values = append(values, value)
			if key == 3 {
				break
			}
		}
		require.Equal(t, []int{1, 3}, keys)
		require.Equal(t, []string{"1", "3"}, values)
	}
}
