package congestion_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coolheart77/netstack/congestion"
)

func TestNewRenoSlowStartGrowsByAckedBytes(t *testing.T) {
	c := congestion.NewNewReno(1000)
	before := c.CWND()
	c.OnAck(1000, 50*time.Millisecond, true)
	assert.Equal(t, before+1000, c.CWND())
}

func TestNewRenoFastRetransmitSetsRecoveryWindow(t *testing.T) {
	c := congestion.NewNewReno(1000)
	for i := 0; i < 10; i++ {
		c.OnAck(1000, 10*time.Millisecond, true)
	}
	cwndBefore := c.CWND()

	c.OnFastRetransmit()
	assert.Equal(t, max(cwndBefore/2, 2000), c.Ssthresh())
	assert.Equal(t, c.Ssthresh()+3000, c.CWND())

	c.OnDuplicateAck()
	assert.Equal(t, c.Ssthresh()+4000, c.CWND())

	// First new ACK after recovery deflates to ssthresh.
	ss := c.Ssthresh()
	c.OnAck(1000, 0, false)
	assert.Equal(t, ss, c.CWND())
}

func TestNewRenoTimeoutRestartsSlowStart(t *testing.T) {
	c := congestion.NewNewReno(1000)
	for i := 0; i < 20; i++ {
		c.OnAck(1000, 10*time.Millisecond, true)
	}
	c.OnTimeout()
	assert.Equal(t, 1000, c.CWND())
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
