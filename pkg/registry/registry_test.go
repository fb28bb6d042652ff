package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID      string
	Version int
}

func TestCopyOnWrite_Register(t *testing.T) {
	r := NewCopyOnWrite[testItem]()

	tests := []struct {
		name    string
		item    testItem
		wantErr bool
	}{
		{name: "register valid item", item: testItem{ID: "a"}},
		{name: "register item with empty name", item: testItem{ID: ""}, wantErr: true},
		{name: "register duplicate item", item: testItem{ID: "a", Version: 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.item.ID, tt.item)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 0, got.Version)
}

func TestCopyOnWrite_PutRemoveList(t *testing.T) {
	r := NewCopyOnWrite[testItem]()
	r.Put("b", testItem{ID: "b"})
	r.Put("a", testItem{ID: "a"})
	r.Put("a", testItem{ID: "a", Version: 1})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, []testItem{{ID: "a", Version: 1}, {ID: "b"}}, r.List())
	assert.Equal(t, 2, r.Count())

	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))
	assert.Equal(t, 1, r.Count())

	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestCopyOnWrite_UpdateErrorPublishesNothing(t *testing.T) {
	r := NewCopyOnWrite[testItem]()
	r.Put("a", testItem{ID: "a"})

	err := r.Update(func(items map[string]testItem) error {
		delete(items, "a")
		items["b"] = testItem{ID: "b"}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	_, ok := r.Get("a")
	assert.True(t, ok)
	_, ok = r.Get("b")
	assert.False(t, ok)
}

// Readers running alongside writers must see either the old or the new
// version of every key, never a mixture.
func TestCopyOnWrite_ReadersSeeWholeVersions(t *testing.T) {
	r := NewCopyOnWrite[testItem]()
	r.Replace(map[string]testItem{"x": {ID: "x"}, "y": {ID: "y"}})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := 1; v <= 500; v++ {
			r.Replace(map[string]testItem{"x": {ID: "x", Version: v}, "y": {ID: "y", Version: v}})
		}
		close(stop)
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snapshot := r.load()
				assert.Equal(t, snapshot["x"].Version, snapshot["y"].Version)
			}
		}()
	}
	wg.Wait()
}
