package tcp

import (
	"time"

	"github.com/coolheart77/netstack/internal/scheduler"
	"github.com/coolheart77/netstack/seqnum"
	"github.com/coolheart77/netstack/tcpip"
)

// handleSegments pulls up to maxSegmentsPerWake queued segments and
// processes them against the established-state receive/send paths,
// advancing the close state machine as FINs and FIN-ACKs are observed.
// Grounded on the teacher's endpoint.handleSegments.
func (e *endpoint) handleSegments() bool {
	checkRequeue := true
	for i := 0; i < maxSegmentsPerWake; i++ {
		s := e.segmentQueue.dequeue()
		if s == nil {
			checkRequeue = false
			break
		}

		if s.flagIsSet(flagRst) {
			// Spec §4.4 step 2: only the exact next-expected sequence
			// number honors a RST, not merely any in-window one.
			if s.sequenceNumber == e.rcv.rcvNxt {
				s.decRef()
				e.mu.Lock()
				e.hardError = tcpip.ErrConnectionReset
				e.mu.Unlock()
				e.setState(stateError)
				return false
			}
		} else if s.flagIsSet(flagAck) {
			if e.snd.sndWndScale > 0 {
				s.window <<= uint8(e.snd.sndWndScale)
			}

			wasClosed := e.rcv.closed
			e.rcv.handleRcvdSegment(s)
			if e.rcv.closed && !wasClosed {
				e.advanceOnFIN()
			}

			finWasOutstanding := e.snd.closed && !e.snd.finAcked()
			e.snd.handleRcvdSegment(s)
			if finWasOutstanding && e.snd.finAcked() {
				e.advanceOnFINAck()
			}

			if len(e.rcv.deliverable) > 0 {
				e.notifyReadable()
			}

			// Spec §4.9: any segment arriving during TIME_WAIT re-arms
			// the 2*MSL timer rather than letting it expire on schedule.
			if e.getState() == stateTimeWait {
				e.rearmTimeWait()
			}
		}
		s.decRef()
	}

	if checkRequeue && !e.segmentQueue.empty() {
		e.newSegmentWaker.Assert()
	}

	if e.rcv.rcvNxt != e.snd.maxSentAck {
		e.armDelayedAck()
	}

	return true
}

// finAcked reports whether a queued/sent FIN has been fully acknowledged.
func (s *sender) finAcked() bool {
	return s.closed && !s.finQueued && s.sndUna == s.sndNxt
}

// protocolMainLoop is the per-connection goroutine: it runs the 3-way
// handshake (for active opens), then multiplexes the established-state
// wakers (new data to send, application close, new segments, RTO,
// abort-after-close, and miscellaneous notifications) until both halves
// of the connection have finished. Grounded on the teacher's
// protocolMainLoop.
func (e *endpoint) protocolMainLoop(passive bool, isn *ISNGenerator) error {
	var closeTimer *time.Timer
	var closeWaker scheduler.Waker

	e.mu.Lock()
	e.workerRunning = true
	e.mu.Unlock()

	defer func() {
		e.notifyReadable()
		e.notifyWritable()
		e.completeWorker()
		e.cleanup()
		if e.snd != nil {
			e.snd.resendTimer.Stop()
		}
		if closeTimer != nil {
			closeTimer.Stop()
		}
		if e.timeWaitTimer != nil {
			e.timeWaitTimer.Stop()
		}
	}()

	if !passive {
		e.setState(stateConnecting)
		e.handshakeDeadline = time.Now().Add(e.cfg.TCP.HandshakeTimeout * time.Duration(max(1, e.cfg.TCP.HandshakeRetries)))

		h := newHandshake(e, seqnum.SizeFromLen(int(e.cfg.TCP.ReceiveWindowSize)), isn)
		err := h.execute()
		if err != nil {
			e.mu.Lock()
			e.hardError = err
			e.mu.Unlock()
			e.setState(stateError)
			return err
		}

		e.snd = newSender(e, h.iss, h.ackNum-1, h.sndWnd, h.mss, h.sndWndScale)
		e.rcv = newReceiver(e, h.ackNum-1, h.rcvWnd, h.effectiveRcvWndScale())
	}

	e.setState(stateConnected)
	e.notifyWritable()

	go e.runAcknowledger()

	funcs := []struct {
		w *scheduler.Waker
		f func() bool
	}{
		{&e.sndWaker, e.handleWrite},
		{&e.sndCloseWaker, e.handleClose},
		{&e.newSegmentWaker, e.handleSegments},
		{&closeWaker, func() bool {
			e.resetConnection(tcpip.ErrConnectionAborted)
			return false
		}},
		{&e.snd.resendWaker, func() bool {
			if !e.snd.retransmitTimerExpired() {
				e.resetConnection(tcpip.ErrTimeout)
				return false
			}
			return true
		}},
		{&e.notificationWaker, func() bool {
			n := e.fetchNotifications()
			if n&notifyNonZeroReceiveWindow != 0 {
				e.rcv.nonZeroWindow()
			}
			if n&notifyReceiveWindowChanged != 0 {
				e.rcv.pendingBufSize = e.rcv.rcvWnd
			}
			if n&notifyClose != 0 && closeTimer == nil {
				closeTimer = time.AfterFunc(3*time.Second, func() { closeWaker.Assert() })
			}
			return true
		}},
		{&e.ackWaker, func() bool {
			e.snd.sendAck()
			return true
		}},
	}

	s := scheduler.Sleeper{}
	for i := range funcs {
		s.AddWaker(funcs[i].w, i)
	}
	defer s.Done()

	for !e.done() {
		v, _ := s.Fetch(true)
		if !funcs[v].f() {
			return e.errorIfAny()
		}
	}

	e.setState(stateClosed)
	return nil
}
