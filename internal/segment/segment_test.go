package segment_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/segment"
	"github.com/NamanBalaji/segdl/internal/status"
)

type memWriterAt struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if need := int(off) + len(p); need > len(m.buf) {
		m.buf = append(m.buf, make([]byte, need-len(m.buf))...)
	}
	copy(m.buf[off:], p)

	return len(p), nil
}

func TestNewTable(t *testing.T) {
	table := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 10}, {Start: 10, End: 25}})

	require.Equal(t, 2, table.Len())

	s := table.At(1)
	assert.Equal(t, 1, s.Index())
	assert.Equal(t, int64(10), s.InitialStart())
	assert.Equal(t, int64(10), s.Current())
	assert.Equal(t, int64(25), s.End())
	assert.Equal(t, status.Idle, s.State())
	assert.Equal(t, int64(15), s.TotalToTransfer())
	assert.Equal(t, int64(15), s.Remaining())
	assert.False(t, s.Exhausted())
}

func TestSegmentWriteClampsToEnd(t *testing.T) {
	table := segment.NewTable([]segment.CalculatedSegment{{Start: 4, End: 10}})
	s := table.At(0)
	out := &memWriterAt{}

	n, done, err := s.Write(out, []byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.False(t, done)

	n, done, err = s.Write(out, []byte("efghij"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, done)
	assert.True(t, s.Exhausted())
	assert.Equal(t, int64(6), s.Transferred())
	assert.Equal(t, 100.0, s.Progress())
	assert.Equal(t, "abcdef", string(out.buf[4:10]))

	n, done, err = s.Write(out, []byte("x"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, done)
}

func TestSegmentWriteUnbounded(t *testing.T) {
	s := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 0}}).At(0)
	out := &memWriterAt{}

	for _, chunk := range []string{"hello ", "world"} {
		_, done, err := s.Write(out, []byte(chunk))
		require.NoError(t, err)
		assert.False(t, done)
	}

	assert.Equal(t, "hello world", string(out.buf))
	assert.Zero(t, s.Remaining())
	assert.False(t, s.Exhausted())
}

func TestSegmentWriteToFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	s := segment.NewTable([]segment.CalculatedSegment{{Start: 3, End: 6}}).At(0)
	_, done, err := s.Write(f, []byte("xyz"))
	require.NoError(t, err)
	assert.True(t, done)

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "\x00\x00\x00xyz", string(data))
}

func TestSegmentRateAndLeft(t *testing.T) {
	s := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 1000}}).At(0)

	assert.Zero(t, s.Rate())
	assert.Zero(t, s.Left(), "no estimate before a rate is measured")

	s.SetState(status.Downloading)
	time.Sleep(20 * time.Millisecond)
	_, _, err := s.Write(&memWriterAt{}, make([]byte, 500))
	require.NoError(t, err)

	assert.Positive(t, s.Rate())
	left := s.Left()
	assert.Positive(t, left)
	assert.Less(t, left, time.Second)
}

func TestSegmentErrorsAndTries(t *testing.T) {
	s := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 10}}).At(0)

	boom := errors.New("boom")
	before := time.Now()
	s.Fail(boom)

	err, at := s.LastError()
	assert.ErrorIs(t, err, boom)
	assert.False(t, at.Before(before))
	assert.Equal(t, status.Error, s.State())

	assert.Equal(t, 1, s.IncrementTries())
	assert.Equal(t, 2, s.IncrementTries())
	s.ResetTries()
	assert.Zero(t, s.Tries())
}

func TestSegmentInputAndURL(t *testing.T) {
	s := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 10}}).At(0)
	assert.Nil(t, s.TakeInput())

	r := io.NopCloser(strings.NewReader("data"))
	s.SetInput(r)
	assert.Equal(t, r, s.TakeInput())
	assert.Nil(t, s.TakeInput())

	loc := protocol.MustLocation("http://mirror.example.com/f")
	s.SetCurrentURL(loc)
	assert.Same(t, loc, s.CurrentURL())
	assert.Equal(t, "http://mirror.example.com/f", s.Snapshot().URL)
}

func TestSplitPreservesOwedBytes(t *testing.T) {
	table := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 100}, {Start: 100, End: 1000}})
	donor := table.At(1)
	donor.SetState(status.Downloading)

	_, _, err := donor.Write(&memWriterAt{}, make([]byte, 100))
	require.NoError(t, err)

	beforeCurrent, beforeEnd := donor.Current(), donor.End()

	added, ok := table.Split(0, 10)
	require.True(t, ok)
	require.Equal(t, 3, table.Len())
	assert.Same(t, added, table.At(2))
	assert.Equal(t, 2, added.Index())
	assert.Equal(t, status.Idle, added.State())

	// donor keeps [current, mid), new segment gets [mid, oldEnd)
	assert.Equal(t, beforeCurrent, donor.Current())
	assert.Equal(t, donor.End(), added.InitialStart())
	assert.Equal(t, beforeEnd, added.End())
	assert.Equal(t, beforeEnd-beforeCurrent, donor.Remaining()+added.Remaining())
	assert.Equal(t, int64(600), donor.End())
}

func TestSplitSkipsIneligible(t *testing.T) {
	table := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 100}, {Start: 100, End: 200}})

	// nothing is Downloading
	_, ok := table.Split(0, 1)
	assert.False(t, ok)

	table.At(0).SetState(status.Downloading)

	// no byte received yet, so no rate to judge by
	_, ok = table.Split(0, 1)
	assert.False(t, ok)

	_, _, err := table.At(0).Write(&memWriterAt{}, make([]byte, 2))
	require.NoError(t, err)

	// halves below the minimum size
	_, ok = table.Split(0, 50)
	assert.False(t, ok)

	// ETA below threshold: a finished range has no time left
	_, _, err = table.At(0).Write(&memWriterAt{}, make([]byte, 98))
	require.NoError(t, err)
	_, ok = table.Split(0, 1)
	assert.False(t, ok)

	assert.Equal(t, 2, table.Len())
}

func TestSplitOneDonorPerCall(t *testing.T) {
	table := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 100}, {Start: 100, End: 200}})
	for _, s := range table.All() {
		s.SetState(status.Downloading)
		_, _, err := s.Write(&memWriterAt{}, make([]byte, 10))
		require.NoError(t, err)
	}
	time.Sleep(time.Millisecond)

	added, ok := table.Split(0, 1)
	require.True(t, ok)
	assert.Equal(t, int64(55), added.InitialStart())
	assert.Equal(t, int64(100), added.End())
	assert.Equal(t, int64(200), table.At(1).End())
	assert.Equal(t, 3, table.Len())
}

func TestConcurrentSplitAndWrite(t *testing.T) {
	table := segment.NewTable([]segment.CalculatedSegment{{Start: 0, End: 1 << 20}})
	donor := table.At(0)
	donor.SetState(status.Downloading)
	out := &memWriterAt{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			_, done, err := donor.Write(out, buf)
			if err != nil || done {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 5 {
			table.Split(0, 1)
		}
	}()
	wg.Wait()

	segs := table.All()
	var owed int64
	for _, s := range segs {
		owed += s.End() - s.InitialStart()
	}
	assert.Equal(t, int64(1<<20), owed, "segments must tile the file exactly")
	assert.LessOrEqual(t, donor.Current(), donor.End())
}
