package stompcore

import "github.com/go-stomp/stomp/v3/frame"

// AckMode is the tri-state variant from spec §4.3 / design notes: modeled
// as a tagged variant rather than a class hierarchy, since the three cases
// share the same two operations.
type AckMode int

const (
	AckAuto AckMode = iota
	AckClient
	AckClientIndividual
)

// ParseAckMode maps the STOMP `ack` header value to a mode. SESSION and
// CLIENT both route to the cumulative tracker: the source this package
// mirrors treats them identically, and the design notes call for
// preserving that rather than guessing intent (see DESIGN.md).
func ParseAckMode(header string) (AckMode, bool) {
	switch header {
	case "", "auto":
		return AckAuto, true
	case "client", "session":
		return AckClient, true
	case "client-individual":
		return AckClientIndividual, true
	default:
		return 0, false
	}
}

// UOW is the store's atomic batch handle (§6). A nil UOW means "no store
// attached"; callbacks still fire, just without durability semantics.
type UOW interface {
	OnComplete(cb func())
	Release()
}

// AckCallback is invoked once a delivery is acknowledged, receiving the
// UOW (if any) the ack should be durable against.
type AckCallback func(uow UOW)

// Delivery is the unit ConsumerSession hands to AckTracker (§3).
type Delivery struct {
	Message *frame.Frame
	Size    int
	UOW     UOW
	Ack     AckCallback
}

// AckTracker tracks unacknowledged deliveries for one subscription and
// implements one of the three policies in §4.3.
type AckTracker interface {
	Mode() AckMode
	// Track records a pending ack for messageID.
	Track(messageID string, d Delivery)
	// PerformAck acknowledges according to the tracker's policy.
	PerformAck(messageID string, uow UOW) error
}

// NewAckTracker builds the tracker for the given mode.
func NewAckTracker(mode AckMode) AckTracker {
	switch mode {
	case AckClient:
		return &cumulativeAckTracker{}
	case AckClientIndividual:
		return &individualAckTracker{pending: make(map[string]Delivery)}
	default:
		return &autoAckTracker{}
	}
}

// --- AUTO ---

type autoAckTracker struct{}

func (t *autoAckTracker) Mode() AckMode { return AckAuto }

func (t *autoAckTracker) Track(messageID string, d Delivery) {
	if d.Ack != nil {
		d.Ack(d.UOW)
	}
}

func (t *autoAckTracker) PerformAck(messageID string, uow UOW) error {
	return errAckNotExpected
}

// --- CLIENT (cumulative) ---

type ackEntry struct {
	messageID string
	delivery  Delivery
}

type cumulativeAckTracker struct {
	pending []ackEntry
}

func (t *cumulativeAckTracker) Mode() AckMode { return AckClient }

func (t *cumulativeAckTracker) Track(messageID string, d Delivery) {
	t.pending = append(t.pending, ackEntry{messageID: messageID, delivery: d})
}

func (t *cumulativeAckTracker) PerformAck(messageID string, uow UOW) error {
	idx := -1
	for i, e := range t.pending {
		if e.messageID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errInvalidAckID
	}

	acked := t.pending[:idx+1]
	remaining := make([]ackEntry, len(t.pending)-idx-1)
	copy(remaining, t.pending[idx+1:])

	for _, e := range acked {
		if e.delivery.Ack != nil {
			e.delivery.Ack(uow)
		}
	}
	t.pending = remaining
	return nil
}

// --- CLIENT-INDIVIDUAL ---

type individualAckTracker struct {
	pending map[string]Delivery
}

func (t *individualAckTracker) Mode() AckMode { return AckClientIndividual }

func (t *individualAckTracker) Track(messageID string, d Delivery) {
	t.pending[messageID] = d
}

func (t *individualAckTracker) PerformAck(messageID string, uow UOW) error {
	d, ok := t.pending[messageID]
	if !ok {
		return errInvalidAckID
	}
	delete(t.pending, messageID)
	if d.Ack != nil {
		d.Ack(uow)
	}
	return nil
}
