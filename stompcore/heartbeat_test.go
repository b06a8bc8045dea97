package stompcore

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateHeartBeat(t *testing.T) {
	cases := []struct {
		name                                                   string
		configuredOutboundMs, configuredInboundMs              int64
		clientCanSendMs, clientWantsMs                         int64
		wantWriteMs, wantReadMs                                int64
	}{
		{"both disabled", 0, 0, 0, 0, 0, 0},
		{"host minimums win", 100, 10000, 0, 0, 100, 15000},
		{"client raises the bar", 100, 1000, 500, 2000, 2000, 2000},
		{"read forgiveness caps at 5s", 0, 20000, 0, 0, 0, 25000},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			write, read := NegotiateHeartBeat(c.configuredOutboundMs, c.configuredInboundMs, c.clientCanSendMs, c.clientWantsMs)
			assert.Equal(t, time.Duration(c.wantWriteMs)*time.Millisecond, write)
			assert.Equal(t, time.Duration(c.wantReadMs)*time.Millisecond, read)
		})
	}
}

type fakeCounters struct {
	read  uint64
	write uint64
}

func (c *fakeCounters) BytesRead() uint64    { return atomic.LoadUint64(&c.read) }
func (c *fakeCounters) BytesWritten() uint64 { return atomic.LoadUint64(&c.write) }
func (c *fakeCounters) bump()                { atomic.AddUint64(&c.read, 1); atomic.AddUint64(&c.write, 1) }

func TestHeartBeatMonitor_DetectsStalledRead(t *testing.T) {
	counters := &fakeCounters{}
	var dead int32

	m := NewHeartBeatMonitor(counters, 0, 20*time.Millisecond,
		func() { atomic.StoreInt32(&dead, 1) },
		func() error { return nil })
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&dead) == 1 }, time.Second, time.Millisecond)
}

func TestHeartBeatMonitor_LiveReadNeverDies(t *testing.T) {
	counters := &fakeCounters{}
	var dead int32

	m := NewHeartBeatMonitor(counters, 0, 15*time.Millisecond,
		func() { atomic.StoreInt32(&dead, 1) },
		func() error { return nil })
	m.Start()
	defer m.Stop()

	stop := time.After(150 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-time.After(5 * time.Millisecond):
			counters.bump()
		}
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&dead))
}

func TestHeartBeatMonitor_SendsKeepAliveOnIdleWrite(t *testing.T) {
	counters := &fakeCounters{}
	var beats int32

	m := NewHeartBeatMonitor(counters, 20*time.Millisecond, 0,
		func() {},
		func() error { atomic.AddInt32(&beats, 1); return nil })
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&beats) >= 2 }, time.Second, time.Millisecond)
}

func TestHeartBeatMonitor_StopSilencesPendingCallback(t *testing.T) {
	counters := &fakeCounters{}
	var dead int32

	m := NewHeartBeatMonitor(counters, 0, 10*time.Millisecond,
		func() { atomic.StoreInt32(&dead, 1) },
		func() error { return nil })
	m.Start()
	m.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&dead))
}
