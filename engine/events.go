package engine

type Event interface{}

type EventAttemptStarted struct {
	Pool   string
	Flavor string
	Rank   int
	Total  int
}

type EventAttemptFailed struct {
	Pool       string
	Flavor     string
	Rank       int
	Diagnostic string
}

type EventAttemptSucceeded struct {
	Pool    string
	Flavor  string
	Rank    int
	Message string
}

type EventExhausted struct {
	Pool     string
	Attempts int
}

// Subscribe returns a channel receiving the events of subsequent runs, and
// a function to unsubscribe. The channel is buffered; if a subscriber stops
// draining it, further events for that subscriber are dropped rather than
// blocking the run.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	channel := make(chan Event, 64)
	e.subscribers = append(e.subscribers, channel)

	return channel, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, subscriber := range e.subscribers {
			if subscriber == channel {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				close(channel)
				return
			}
		}
	}
}

func (e *Engine) emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subscriber := range e.subscribers {
		select {
		case subscriber <- event:
		default: // Subscriber is not draining, drop the event
		}
	}
}
