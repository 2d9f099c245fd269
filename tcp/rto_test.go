package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTOEstimatorFirstSampleSeedsSRTT(t *testing.T) {
	r := newRTOEstimator()
	r.update(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, r.srtt)
	assert.Equal(t, 50*time.Millisecond, r.rttvar)
}

func TestRTOEstimatorClampedToMinimum(t *testing.T) {
	r := newRTOEstimator()
	r.update(time.Millisecond)
	assert.GreaterOrEqual(t, r.get(), minRTO)
}

func TestRTOEstimatorBackoffDoublesAndCaps(t *testing.T) {
	r := newRTOEstimator()
	r.update(time.Second)
	before := r.get()
	after := r.backoff()
	assert.Equal(t, 2*before, after)

	for i := 0; i < 20; i++ {
		r.backoff()
	}
	assert.Equal(t, maxRTO, r.get())
}
