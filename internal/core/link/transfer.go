package link

// transfer moves pending output from e into its peer's input. It runs on the
// pair's executor and never blocks: it moves what free space and quota allow
// and leaves e.scheduled set when bytes remain, to be resumed by the next
// tick (quota) or by the peer consuming input (space).
func (e *Endpoint) transfer() {
	p := e.pair
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	d := e.peer
	e.stats.invocations++
	n := min(e.out.Len(), d.capacity-d.in.Len())

	if e.quota.Enabled() {
		allowed := e.quota.Allowed()
		if allowed == 0 && e.out.Len() > 0 {
			e.stats.deferredQuota++
			p.mu.Unlock()
			p.opts.Observer.Deferred(e.side, DeferQuota)
			return
		}
		n = min(n, allowed)
	}

	var readable, writable []func(Event)
	if n > 0 {
		d.in.Write(e.out.Next(n))
		e.quota.Spend(n)
		e.stats.sent += uint64(n)
		d.stats.received += uint64(n)
		d.wakeReadableLocked()
		e.wakeWritableLocked()
		readable = d.handlersLocked()
		writable = e.handlersLocked()
	}

	var reason DeferReason
	switch {
	case e.out.Len() == 0:
		e.scheduled = false
	case d.in.Len() >= d.capacity:
		reason = DeferSpace
		e.stats.deferredSpace++
	default:
		reason = DeferQuota
		e.stats.deferredQuota++
	}
	p.mu.Unlock()

	if n > 0 {
		p.opts.Observer.Transferred(e.side, n)
		emit(readable, Event{Kind: EventReadable, Side: d.side})
		emit(writable, Event{Kind: EventWritable, Side: e.side})
	}
	if reason != "" {
		p.opts.Observer.Deferred(e.side, reason)
	}
}
