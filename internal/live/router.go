package live

import (
	"container/heap"
	"time"

	"live_commerce/internal/model"
)

// Router merges the ingesters of one session into a single stream ordered by
// (arrival, platform, seq). Every input is already ordered, so an item can be
// released once each open input has something pending behind it; otherwise
// it waits at most window for slower platforms.
type Router struct {
	inputs []<-chan model.Comment
	out    chan model.Comment
	window time.Duration
	now    func() time.Time
}

func NewRouter(inputs []<-chan model.Comment, window time.Duration, buffer int, now func() time.Time) *Router {
	if buffer < 0 {
		buffer = 0
	}
	return &Router{
		inputs: inputs,
		out:    make(chan model.Comment, buffer),
		window: window,
		now:    now,
	}
}

// Out is closed after every input closed and everything was flushed.
func (r *Router) Out() <-chan model.Comment { return r.out }

type routed struct {
	input int
	c     model.Comment
	ok    bool // false: input closed
}

// Run returns once all inputs are closed and drained.
func (r *Router) Run() {
	defer close(r.out)

	merged := make(chan routed)
	for i, in := range r.inputs {
		go func(i int, in <-chan model.Comment) {
			for c := range in {
				merged <- routed{input: i, c: c, ok: true}
			}
			merged <- routed{input: i}
		}(i, in)
	}

	pending := make([]int, len(r.inputs))
	open := make([]bool, len(r.inputs))
	nOpen := len(r.inputs)
	for i := range open {
		open[i] = true
	}
	h := &commentHeap{}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		// Release whatever is safe.
		for h.Len() > 0 {
			top := (*h)[0]
			if !r.allPending(pending, open) && nOpen > 0 && r.now().Before(top.c.ArrivedAt.Add(r.window)) {
				break
			}
			it := heap.Pop(h).(routedItem)
			pending[it.input]--
			r.out <- it.c
		}
		if nOpen == 0 && h.Len() == 0 {
			return
		}

		var wake <-chan time.Time
		if h.Len() > 0 {
			d := (*h)[0].c.ArrivedAt.Add(r.window).Sub(r.now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			wake = timer.C
		}

		select {
		case it := <-merged:
			if !it.ok {
				open[it.input] = false
				nOpen--
			} else {
				pending[it.input]++
				heap.Push(h, routedItem{input: it.input, c: it.c})
			}
		case <-wake:
		}
		if wake != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func (r *Router) allPending(pending []int, open []bool) bool {
	for i, o := range open {
		if o && pending[i] == 0 {
			return false
		}
	}
	return true
}

type routedItem struct {
	input int
	c     model.Comment
}

type commentHeap []routedItem

func (h commentHeap) Len() int { return len(h) }

func (h commentHeap) Less(i, j int) bool {
	a, b := h[i].c, h[j].c
	if !a.ArrivedAt.Equal(b.ArrivedAt) {
		return a.ArrivedAt.Before(b.ArrivedAt)
	}
	if a.Platform != b.Platform {
		return a.Platform < b.Platform
	}
	return a.Seq < b.Seq
}

func (h commentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commentHeap) Push(x any) { *h = append(*h, x.(routedItem)) }

func (h *commentHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
