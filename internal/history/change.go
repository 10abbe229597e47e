package history

// ChangeKind names the mutation behind a Change.
type ChangeKind int

const (
	ChangeSessionCreated ChangeKind = iota
	ChangeSessionUpdated
	ChangeSessionDeleted
	ChangeMessageAppended
	ChangeMessageUpdated
	ChangeCurrent
	ChangeCleared
	ChangeReloaded
)

// Change notifies subscribers that the store was mutated.
type Change struct {
	Kind      ChangeKind
	SessionID string
	MessageID string
}

const subscriberBuffer = 32

// Subscribe returns a channel of change notifications and a function that
// ends the subscription. Notifications are dropped for subscribers that
// fall behind; readers should re-query the store on each one.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, subscriberBuffer)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
