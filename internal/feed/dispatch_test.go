package feed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtruder struct {
	mu    sync.Mutex
	total float64
	calls int
	print bool
}

func (f *fakeExtruder) NotifyExtrusion(mm float64, printing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total += mm
	f.calls++
	f.print = f.print || printing
}

func TestDispatchExtrusion(t *testing.T) {
	e0, e1 := &fakeExtruder{}, &fakeExtruder{}
	d := NewDispatcher(map[int]Extruder{0: e0, 1: e1}, 4)

	require.NoError(t, d.Dispatch(Message{Kind: KindExtrusion, Channel: 1, Mm: 2.5, Printing: true}))
	require.NoError(t, d.Dispatch(Message{Kind: KindExtrusion, Channel: 1, Mm: 0.5}))

	assert.Equal(t, 0, e0.calls)
	assert.Equal(t, 2, e1.calls)
	assert.Equal(t, 3.0, e1.total)
	assert.True(t, e1.print)

	err := d.Dispatch(Message{Kind: KindExtrusion, Channel: 5, Mm: 1})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestDispatchPrinting(t *testing.T) {
	d := NewDispatcher(nil, 1)
	assert.False(t, d.Printing())

	require.NoError(t, d.Dispatch(Message{Kind: KindPrinting, Printing: true}))
	assert.True(t, d.Printing())

	require.NoError(t, d.Dispatch(Message{Kind: KindPrinting}))
	assert.False(t, d.Printing())
}

func TestDispatchCommandsQueue(t *testing.T) {
	d := NewDispatcher(map[int]Extruder{0: &fakeExtruder{}}, 2)
	msg := Message{Kind: KindCommand, Command: Command{Name: CommandClear}}

	require.NoError(t, d.Dispatch(msg))
	require.NoError(t, d.Dispatch(msg))
	assert.ErrorIs(t, d.Dispatch(msg), ErrCommandQueueFull)

	got := <-d.Commands()
	assert.Equal(t, CommandClear, got.Name)
	require.NoError(t, d.Dispatch(msg))

	err := d.Dispatch(Message{Kind: KindCommand, Command: Command{Name: CommandClear, Channel: 3}})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestDispatchConcurrent(t *testing.T) {
	e := &fakeExtruder{}
	d := NewDispatcher(map[int]Extruder{0: e}, 1)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = d.Dispatch(Message{Kind: KindExtrusion, Mm: 0.5})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, e.calls)
	assert.Equal(t, 200.0, e.total)
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher(nil, 1)
	assert.ErrorIs(t, d.Dispatch(Message{Kind: Kind(9)}), ErrMalformed)
}
