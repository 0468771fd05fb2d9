package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndAverage(t *testing.T) {
	p := New()
	assert.Zero(t, p.Average(OpDetect))

	p.Record(OpDetect, 10*time.Millisecond)
	p.Record(OpDetect, 30*time.Millisecond)
	p.Record(OpMisc, time.Millisecond)

	assert.Equal(t, 20*time.Millisecond, p.Average(OpDetect))

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, OpDetect, stats[0].Name)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.Equal(t, 10*time.Millisecond, stats[0].Min)
	assert.Equal(t, 30*time.Millisecond, stats[0].Max)
	assert.Equal(t, OpMisc, stats[1].Name)

	assert.Len(t, p.Fields(), 2)
}

func TestStartOperation(t *testing.T) {
	p := New()
	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }

	stop := p.StartOperation(OpMisc)
	clock = clock.Add(5 * time.Second)
	stop()

	assert.Equal(t, 5*time.Second, p.Average(OpMisc))
}

func TestConcurrentRecord(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Record(OpDetect, time.Millisecond)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), p.Stats()[0].Count)
}
