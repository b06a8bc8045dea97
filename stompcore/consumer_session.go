package stompcore

import (
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

// FrameSink is the outbound sink a ConsumerSession offers MESSAGE frames
// to. ConnectionHandler hands every session the same connection-wide sink
// (connSink), so frames from all subscriptions share one FIFO queue in offer
// order; there is no per-subscription sub-sink and no fair interleaving
// between subscriptions. TryOffer checks fullness and enqueues atomically, since
// deliveries can arrive from the router on a different goroutine than the
// connection's own dispatch loop.
type FrameSink interface {
	TryOffer(f *frame.Frame) bool
}

// CompiledSelector evaluates a parsed message selector against a
// delivery's headers.
type CompiledSelector interface {
	Matches(headers map[string]string) bool
}

// CompileSelector parses a selector into a CompiledSelector. This package
// implements the equality/AND subset of JMS-style selectors
// (`key = 'value' AND key2 = 'value2'`); see DESIGN.md for why the full
// grammar is out of scope.
func CompileSelector(raw string) (CompiledSelector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var clauses []selectorClause
	for _, part := range strings.Split(raw, " AND ") {
		part = strings.TrimSpace(part)
		eq := strings.SplitN(part, "=", 2)
		if len(eq) != 2 {
			return nil, protocolErrorf("invalid selector clause: %q", part)
		}
		key := strings.TrimSpace(eq[0])
		val := strings.Trim(strings.TrimSpace(eq[1]), "'\"")
		if key == "" {
			return nil, protocolErrorf("invalid selector clause: %q", part)
		}
		clauses = append(clauses, selectorClause{key: key, value: val})
	}

	return &andSelector{clauses: clauses}, nil
}

type selectorClause struct {
	key   string
	value string
}

type andSelector struct {
	clauses []selectorClause
}

func (s *andSelector) Matches(headers map[string]string) bool {
	for _, c := range s.clauses {
		if headers[c.key] != c.value {
			return false
		}
	}
	return true
}

// ConsumerSession is C5: the sink from the router to one subscription's
// outbound frames. It ties delivery lifetime to the ack path and applies
// the optional selector filter.
type ConsumerSession struct {
	subscriptionID string
	explicitID     bool
	destination    string
	ackTracker     AckTracker
	selector       CompiledSelector
	binding        *BindingSpec
	sink           FrameSink
}

// NewConsumerSession builds a session for one SUBSCRIBE. explicitID is
// false only for the v1.0 fallback where the destination doubles as the id
// (§4.7): in that case the outbound MESSAGE never carries a `subscription`
// header.
func NewConsumerSession(subscriptionID string, explicitID bool, destination string, ackTracker AckTracker, selector CompiledSelector, binding *BindingSpec, sink FrameSink) *ConsumerSession {
	return &ConsumerSession{
		subscriptionID: subscriptionID,
		explicitID:     explicitID,
		destination:    destination,
		ackTracker:     ackTracker,
		selector:       selector,
		binding:        binding,
		sink:           sink,
	}
}

func (cs *ConsumerSession) SubscriptionID() string { return cs.subscriptionID }
func (cs *ConsumerSession) Destination() string    { return cs.destination }
func (cs *ConsumerSession) Binding() *BindingSpec  { return cs.binding }
func (cs *ConsumerSession) AckTracker() AckTracker { return cs.ackTracker }

// Matches applies the compiled selector, if any, to the delivery's frame
// headers. A session with no selector matches everything.
func (cs *ConsumerSession) Matches(d Delivery) bool {
	if cs.selector == nil {
		return true
	}
	if d.Message == nil {
		return false
	}
	headers := make(map[string]string, d.Message.Header.Len())
	for i := 0; i < d.Message.Header.Len(); i++ {
		k, v := d.Message.Header.GetAt(i)
		headers[k] = v
	}
	return cs.selector.Matches(headers)
}

// Offer converts a broker Delivery into an outbound MESSAGE frame. It
// returns false only when the sink is full, in which case the delivery is
// neither queued nor tracked; it is not retried here. An accepted
// offer on a non-full sink always succeeds, per §4.5's simplifying
// invariant.
func (cs *ConsumerSession) Offer(d Delivery) bool {
	if !cs.Matches(d) {
		// filtered out: not a backpressure signal.
		return true
	}

	messageID, _ := d.Message.Header.Contains(frame.MessageId)
	out := d.Message.Clone()
	out.Command = frame.MESSAGE
	if cs.explicitID {
		out.Header.Set(frame.Subscription, cs.subscriptionID)
	}

	if !cs.sink.TryOffer(out) {
		return false
	}
	cs.ackTracker.Track(messageID, d)
	return true
}
