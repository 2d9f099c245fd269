package tcp

import "time"

// handleWrite drains the application write queue into the send path,
// grounded on the teacher's endpoint.handleWrite.
func (e *endpoint) handleWrite() bool {
	if e.snd.closed {
		return true
	}
	e.snd.sendData()
	return true
}

// handleClose queues a FIN once the send queue is drained and marks the
// send side closed, per spec §4.9's active-close trigger.
func (e *endpoint) handleClose() bool {
	if e.snd.closed {
		return true
	}
	e.handleWrite()
	e.snd.close()
	e.snd.sendData()

	switch e.getState() {
	case stateConnected:
		e.setState(stateFinWait1)
	case stateCloseWait:
		e.setState(stateLastAck)
	}
	return true
}

// resetConnection sends a RST to the peer and moves the endpoint into
// the error state; only called from the protocol loop goroutine.
func (e *endpoint) resetConnection(err error) {
	e.sendRaw(nil, flagAck|flagRst, e.snd.sndUna, e.rcv.rcvNxt, 0)
	e.mu.Lock()
	e.hardError = err
	e.mu.Unlock()
	e.setState(stateError)
	e.log.WithError(err).Warn("tcp: connection reset")
	e.notifyReadable()
	e.notifyWritable()
}

// cleanup releases the endpoint's resources once the protocol loop has
// exited, per the teacher's completeWorker/cleanup split.
func (e *endpoint) cleanup() {
	close(e.doneCh)
}

// completeWorker marks the worker goroutine as no longer running.
func (e *endpoint) completeWorker() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workerRunning = false
}

// advanceOnFIN processes the peer's FIN against the active-close state
// machine (spec §4.9): CLOSE_WAIT on a passive peer-initiated close,
// or the FIN_WAIT/CLOSING/TIME_WAIT ladder when we'd already sent our
// own FIN.
func (e *endpoint) advanceOnFIN() {
	switch e.getState() {
	case stateConnected:
		e.setState(stateCloseWait)
	case stateFinWait1:
		e.setState(stateClosing)
	case stateFinWait2:
		e.enterTimeWait()
	}
}

// advanceOnFINAck processes the peer's ACK of our FIN.
func (e *endpoint) advanceOnFINAck() {
	switch e.getState() {
	case stateFinWait1:
		e.setState(stateFinWait2)
	case stateClosing:
		e.enterTimeWait()
	case stateLastAck:
		e.setState(stateClosed)
		e.notify(notifyClose)
	}
}

// enterTimeWait moves the connection into TIME_WAIT for 2*MSL (spec
// §4.9, GLOSSARY), after which it's torn down for good unless further
// traffic arrives and re-arms the timer via rearmTimeWait.
func (e *endpoint) enterTimeWait() {
	e.setState(stateTimeWait)
	e.timeWaitTimer = time.AfterFunc(e.cfg.TCP.TimeWait(), func() {
		e.setState(stateClosed)
		e.notify(notifyClose)
	})
}

// rearmTimeWait resets the TIME_WAIT teardown timer, per spec §4.9's
// requirement that inbound segments received during TIME_WAIT push the
// 2*MSL deadline back out instead of leaving it on its original schedule.
func (e *endpoint) rearmTimeWait() {
	if e.timeWaitTimer != nil {
		e.timeWaitTimer.Reset(e.cfg.TCP.TimeWait())
	}
}

// done reports whether both halves of the connection have finished,
// i.e. the protocol main loop may exit, per the teacher's loop
// condition (!rcv.closed || !snd.closed || unacked data remains).
func (e *endpoint) done() bool {
	return e.rcv.closed && e.snd.closed && e.snd.sndUna == e.snd.sndNxt && e.getState() == stateClosed
}

// errorIfAny returns the hard error recorded by resetConnection, if any.
func (e *endpoint) errorIfAny() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hardError != nil {
		return e.hardError
	}
	return nil
}
