package gallery

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"progen-studio/internal/imagegen"
	"progen-studio/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(n int, ts time.Time) []GeneratedImage {
	out := make([]GeneratedImage, 0, n)
	for i := 0; i < n; i++ {
		img := &imagegen.Image{Data: []byte(fmt.Sprintf("img-%d", i)), MIMEType: "image/png"}
		out = append(out, NewGeneratedImage(img, settings.Default(), int32(i), ts))
	}
	return out
}

func ids(images []GeneratedImage) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.ID)
	}
	return out
}

func TestNewGeneratedImage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	img := NewGeneratedImage(&imagegen.Image{Data: []byte("x")}, settings.Default(), 42, ts)

	assert.NotEmpty(t, img.ID)
	assert.EqualValues(t, 42, img.Seed)
	assert.Equal(t, ts.UnixMilli(), img.Timestamp)
	assert.True(t, img.Time().Equal(ts))
}

func TestPrependKeepsNewestBatchFirst(t *testing.T) {
	g := New()
	first := batch(2, time.Now())
	second := batch(3, time.Now())

	g.Prepend(first)
	g.Prepend(second)
	g.Prepend(nil)

	want := append(ids(second), ids(first)...)
	assert.Equal(t, want, ids(g.List()))
	assert.Equal(t, 5, g.Len())
}

func TestListReturnsCopy(t *testing.T) {
	g := New()
	g.Prepend(batch(1, time.Now()))

	list := g.List()
	list[0].ID = "mutated"

	assert.NotEqual(t, "mutated", g.List()[0].ID)
}

func TestGetAndDelete(t *testing.T) {
	g := New()
	items := batch(3, time.Now())
	g.Prepend(items)

	got, err := g.Get(items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, items[1].ID, got.ID)

	require.NoError(t, g.Delete(items[1].ID))
	assert.Equal(t, []string{items[0].ID, items[2].ID}, ids(g.List()))

	_, err = g.Get(items[1].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, g.Delete(items[1].ID), ErrNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Prepend(batch(2, time.Now()))
			_ = g.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, g.Len())
}
