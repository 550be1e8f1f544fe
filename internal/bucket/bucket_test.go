package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForHour(t *testing.T) {
	w := For(3600, Hour)
	assert.Equal(t, Window{From: 3600, To: 7199}, w)

	w = For(7199, Hour)
	assert.Equal(t, Window{From: 3600, To: 7199}, w)
}

func TestSameHourSameBucket(t *testing.T) {
	base := int64(1_700_000_000)
	first := For(base, Hour)
	for ts := first.From; ts <= first.To; ts += 97 {
		assert.Equal(t, first, For(ts, Hour))
		assert.Equal(t, ID("0xpool", first), ID("0xpool", For(ts, Hour)))
	}
}

func TestAdjacentBucketsAreContiguous(t *testing.T) {
	for _, width := range []int64{Hour, Day} {
		w1 := For(1_700_000_000, width)
		w2 := For(w1.To+1, width)
		assert.NotEqual(t, w1, w2)
		assert.Equal(t, w1.To+1, w2.From)
		assert.Equal(t, width-1, w2.To-w2.From)
	}
}

func TestForNegativeTimestamp(t *testing.T) {
	w := For(-1, Hour)
	assert.Equal(t, Window{From: -3600, To: -1}, w)
	assert.True(t, w.Contains(-1))
}

func TestForDay(t *testing.T) {
	w := For(86400*3+5, Day)
	assert.Equal(t, int64(86400*3), w.From)
	assert.Equal(t, int64(86400*4-1), w.To)
}

func TestID(t *testing.T) {
	assert.Equal(t, "0xabc-36007199", ID("0xabc", Window{From: 3600, To: 7199}))
}
