package stompcore

import (
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	offered []*frame.Frame
	full    bool
}

func (s *fakeSink) TryOffer(f *frame.Frame) bool {
	if s.full {
		return false
	}
	s.offered = append(s.offered, f)
	return true
}

func TestCompileSelector_EqualityAnd(t *testing.T) {
	sel, err := CompileSelector("type = 'alert' AND region = 'us'")
	require.NoError(t, err)

	assert.True(t, sel.Matches(map[string]string{"type": "alert", "region": "us"}))
	assert.False(t, sel.Matches(map[string]string{"type": "alert", "region": "eu"}))
	assert.False(t, sel.Matches(map[string]string{"type": "alert"}))
}

func TestCompileSelector_Empty(t *testing.T) {
	sel, err := CompileSelector("   ")
	require.NoError(t, err)
	assert.Nil(t, sel)
}

func TestCompileSelector_Malformed(t *testing.T) {
	_, err := CompileSelector("type alert")
	assert.Error(t, err)
}

func TestConsumerSession_OfferAttachesSubscriptionHeaderWhenExplicit(t *testing.T) {
	sink := &fakeSink{}
	cs := NewConsumerSession("sub-1", true, "/topic/news", NewAckTracker(AckAuto), nil, nil, sink)

	f := frame.New(frame.MESSAGE, frame.Destination, "/topic/news", frame.MessageId, "m1")
	ok := cs.Offer(Delivery{Message: f})
	require.True(t, ok)

	require.Len(t, sink.offered, 1)
	sub, present := sink.offered[0].Header.Contains(frame.Subscription)
	assert.True(t, present)
	assert.Equal(t, "sub-1", sub)
}

func TestConsumerSession_OfferOmitsSubscriptionHeaderForV10Fallback(t *testing.T) {
	sink := &fakeSink{}
	cs := NewConsumerSession("/queue/a", false, "/queue/a", NewAckTracker(AckAuto), nil, nil, sink)

	f := frame.New(frame.MESSAGE, frame.Destination, "/queue/a", frame.MessageId, "m1")
	require.True(t, cs.Offer(Delivery{Message: f}))

	_, present := sink.offered[0].Header.Contains(frame.Subscription)
	assert.False(t, present)
}

func TestConsumerSession_OfferFiltersNonMatchingSelector(t *testing.T) {
	sink := &fakeSink{}
	sel, err := CompileSelector("type = 'alert'")
	require.NoError(t, err)
	cs := NewConsumerSession("sub-1", true, "/topic/news", NewAckTracker(AckAuto), sel, nil, sink)

	f := frame.New(frame.MESSAGE, frame.Destination, "/topic/news", frame.MessageId, "m1", "type", "digest")
	ok := cs.Offer(Delivery{Message: f})

	assert.True(t, ok, "a filtered-out delivery is not a backpressure signal")
	assert.Empty(t, sink.offered)
}

func TestConsumerSession_OfferReturnsFalseWhenSinkFullAndDoesNotTrack(t *testing.T) {
	sink := &fakeSink{full: true}
	tracker := NewAckTracker(AckClientIndividual)
	cs := NewConsumerSession("sub-1", true, "/queue/a", tracker, nil, nil, sink)

	f := frame.New(frame.MESSAGE, frame.Destination, "/queue/a", frame.MessageId, "m1")
	ok := cs.Offer(Delivery{Message: f})

	assert.False(t, ok)
	assert.ErrorIs(t, tracker.PerformAck("m1", nil), errInvalidAckID)
}
