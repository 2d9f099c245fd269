package tcp

import "time"

// Bounds on the retransmit timer, per RFC 6298 §2.4/§2.5 and spec §4.7.
const (
	minRTO = time.Second
	maxRTO = 60 * time.Second
)

// rtoEstimator tracks the smoothed round-trip time and its variance to
// derive a retransmission timeout, per RFC 6298. It folds in every
// positive sample it is given; Karn's algorithm is applied by its caller
// (sender.sampleRTT), which takes samples only from segments that were
// never retransmitted, since an ACK for a retransmitted segment can't be
// attributed to either transmission with certainty.
type rtoEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	hasInit bool
}

func newRTOEstimator() *rtoEstimator {
	return &rtoEstimator{rto: minRTO}
}

// update folds a fresh RTT sample into the estimator, per RFC 6298 §2.3.
func (r *rtoEstimator) update(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	if !r.hasInit {
		r.srtt = rtt
		r.rttvar = rtt / 2
		r.hasInit = true
	} else {
		delta := r.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		r.rttvar = (3*r.rttvar + delta) / 4
		r.srtt = (7*r.srtt + rtt) / 8
	}

	rto := r.srtt + max(4*r.rttvar, time.Millisecond)
	r.rto = clampRTO(rto)
}

// backoff doubles the current RTO (Karn's exponential backoff), capped
// at maxRTO, and returns it. The estimator's SRTT/RTTVAR are left alone:
// per RFC 6298, backoff only affects the timer value used until the next
// good sample arrives.
func (r *rtoEstimator) backoff() time.Duration {
	r.rto = clampRTO(r.rto * 2)
	return r.rto
}

// get returns the current RTO.
func (r *rtoEstimator) get() time.Duration {
	return r.rto
}

func clampRTO(d time.Duration) time.Duration {
	if d < minRTO {
		return minRTO
	}
	if d > maxRTO {
		return maxRTO
	}
	return d
}
