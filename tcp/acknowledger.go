package tcp

import "time"

// runAcknowledger is the delayed-ACK background task described in spec
// §4.4 (bounded by RFC 1122's 500ms ceiling): rather than acking every
// in-order data segment immediately, it waits for either the deadline to
// elapse or a newer deadline to be armed, then asserts ackWaker so the
// protocol loop sends one ACK covering everything received since.
//
// Grounded directly on original_source's acknowledger task: the
// ack_deadline/ack_deadline_changed pair and its select_biased loop map
// onto getAckDeadline's (time.Time, <-chan struct{}) return and this
// goroutine's select.
func (e *endpoint) runAcknowledger() {
	for {
		deadline, changed := e.getAckDeadline()

		var timer *time.Timer
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		}

		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}

		select {
		case <-changed:
		case <-timerCh:
			e.clearAckDeadline()
			e.ackWaker.Assert()
		case <-e.doneCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// armDelayedAck schedules an ACK to go out within AckDelayTimeout if one
// isn't already pending; called when new in-order data is delivered.
func (e *endpoint) armDelayedAck() {
	e.ackMu.Lock()
	if e.ackDeadline.IsZero() {
		timeout := e.cfg.TCP.AckDelayTimeout
		if timeout <= 0 {
			timeout = 200 * time.Millisecond
		}
		e.ackDeadline = time.Now().Add(timeout)
	}
	ch := e.ackDeadlineChangedCh
	e.ackDeadlineChangedCh = make(chan struct{})
	e.ackMu.Unlock()
	close(ch)
}

func (e *endpoint) getAckDeadline() (time.Time, <-chan struct{}) {
	e.ackMu.Lock()
	defer e.ackMu.Unlock()
	return e.ackDeadline, e.ackDeadlineChangedCh
}

func (e *endpoint) clearAckDeadline() {
	e.ackMu.Lock()
	e.ackDeadline = time.Time{}
	e.ackMu.Unlock()
}
