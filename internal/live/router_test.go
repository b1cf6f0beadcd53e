package live

import (
	"testing"
	"time"

	"live_commerce/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, out <-chan model.Comment) []model.Comment {
	t.Helper()
	var got []model.Comment
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-timeout:
			t.Fatal("router did not close its output")
			return nil
		}
	}
}

func TestRouter_MergesByArrival(t *testing.T) {
	base := time.Now()
	fb := make(chan model.Comment, 8)
	yt := make(chan model.Comment, 8)

	fb <- model.Comment{Platform: "facebook", Seq: 1, ArrivedAt: base}
	fb <- model.Comment{Platform: "facebook", Seq: 2, ArrivedAt: base.Add(3 * time.Millisecond)}
	yt <- model.Comment{Platform: "youtube", Seq: 1, ArrivedAt: base.Add(time.Millisecond)}
	yt <- model.Comment{Platform: "youtube", Seq: 2, ArrivedAt: base.Add(3 * time.Millisecond)}
	close(fb)
	close(yt)

	r := NewRouter([]<-chan model.Comment{fb, yt}, time.Hour, 0, time.Now)
	go r.Run()
	got := collect(t, r.Out())

	require.Len(t, got, 4)
	order := make([]string, 0, len(got))
	for _, c := range got {
		order = append(order, c.Platform[:1]+string(rune('0'+c.Seq)))
	}
	assert.Equal(t, []string{"f1", "y1", "f2", "y2"}, order)
}

func TestRouter_ReleasesAfterWindow(t *testing.T) {
	fb := make(chan model.Comment, 1)
	yt := make(chan model.Comment)
	r := NewRouter([]<-chan model.Comment{fb, yt}, 10*time.Millisecond, 1, time.Now)
	go r.Run()

	fb <- model.Comment{Platform: "facebook", Seq: 1, ArrivedAt: time.Now()}
	select {
	case c := <-r.Out():
		assert.Equal(t, int64(1), c.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("quiet platform held back the stream")
	}
	close(fb)
	close(yt)
	assert.Empty(t, collect(t, r.Out()))
}

func TestRouter_NoInputs(t *testing.T) {
	r := NewRouter(nil, time.Millisecond, 0, time.Now)
	go r.Run()
	assert.Empty(t, collect(t, r.Out()))
}
