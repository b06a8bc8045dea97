package stompcore

import (
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAckMode(t *testing.T) {
	cases := map[string]AckMode{
		"":                  AckAuto,
		"auto":              AckAuto,
		"client":            AckClient,
		"session":           AckClient,
		"client-individual": AckClientIndividual,
	}
	for header, want := range cases {
		mode, ok := ParseAckMode(header)
		require.True(t, ok, "header %q", header)
		assert.Equal(t, want, mode)
	}

	_, ok := ParseAckMode("bogus")
	assert.False(t, ok)
}

func delivery(messageID string) Delivery {
	f := frame.New(frame.MESSAGE, frame.MessageId, messageID)
	return Delivery{Message: f}
}

func TestAutoAckTracker(t *testing.T) {
	tracker := NewAckTracker(AckAuto)
	assert.Equal(t, AckAuto, tracker.Mode())

	acked := false
	d := delivery("m1")
	d.Ack = func(uow UOW) { acked = true }
	tracker.Track("m1", d)
	assert.True(t, acked)

	err := tracker.PerformAck("m1", nil)
	assert.ErrorIs(t, err, errAckNotExpected)
}

func TestCumulativeAckTracker_AcksUpToAndIncluding(t *testing.T) {
	tracker := NewAckTracker(AckClient)

	var acked []string
	for _, id := range []string{"m1", "m2", "m3"} {
		id := id
		d := delivery(id)
		d.Ack = func(uow UOW) { acked = append(acked, id) }
		tracker.Track(id, d)
	}

	err := tracker.PerformAck("m2", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, acked)

	err = tracker.PerformAck("m3", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, acked)
}

func TestCumulativeAckTracker_UnknownID(t *testing.T) {
	tracker := NewAckTracker(AckClient)
	tracker.Track("m1", delivery("m1"))

	err := tracker.PerformAck("does-not-exist", nil)
	assert.ErrorIs(t, err, errInvalidAckID)
}

func TestIndividualAckTracker(t *testing.T) {
	tracker := NewAckTracker(AckClientIndividual)

	var acked []string
	for _, id := range []string{"m1", "m2"} {
		id := id
		d := delivery(id)
		d.Ack = func(uow UOW) { acked = append(acked, id) }
		tracker.Track(id, d)
	}

	require.NoError(t, tracker.PerformAck("m2", nil))
	assert.Equal(t, []string{"m2"}, acked)

	// m1 is still outstanding and unaffected by acking m2 out of order.
	require.NoError(t, tracker.PerformAck("m1", nil))
	assert.Equal(t, []string{"m2", "m1"}, acked)

	assert.ErrorIs(t, tracker.PerformAck("m1", nil), errInvalidAckID)
}

func TestV10FallbackTracker_TracksAndForgets(t *testing.T) {
	index := make(map[string]AckTracker)
	inner := NewAckTracker(AckClientIndividual)
	tracker := &v10FallbackTracker{inner: inner, index: index}

	tracker.Track("m1", delivery("m1"))
	assert.Same(t, inner, index["m1"])

	require.NoError(t, tracker.PerformAck("m1", nil))
	_, stillIndexed := index["m1"]
	assert.False(t, stillIndexed)
}
