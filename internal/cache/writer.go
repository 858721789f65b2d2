package cache

// writerAgent serializes every mutating cache operation through one
// goroutine so put/inc/dec/writeIndex never interleave, regardless of how
// many processor goroutines call in concurrently.
type writerAgent struct {
	jobs chan writerJob
	done chan struct{}
}

type writerJob struct {
	fn   func() error
	resp chan error
}

func newWriterAgent() *writerAgent {
	w := &writerAgent{
		jobs: make(chan writerJob),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writerAgent) run() {
	for job := range w.jobs {
		job.resp <- job.fn()
	}
	close(w.done)
}

func (w *writerAgent) do(fn func() error) error {
	resp := make(chan error, 1)
	w.jobs <- writerJob{fn: fn, resp: resp}
	return <-resp
}

func (w *writerAgent) stop() {
	close(w.jobs)
	<-w.done
}
