package dispatch

import (
	"strings"
	"sync"
	"time"
)

// progressLog keeps the last ProgressLines executor lines and pushes them
// into the job's status message at most once per ProgressInterval.
type progressLog struct {
	c   *Controller
	job *Job

	mu    sync.Mutex
	lines []string
	dirty bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (c *Controller) startProgress(job *Job, first string) *progressLog {
	p := &progressLog{c: c, job: job, stop: make(chan struct{}), done: make(chan struct{})}
	p.add(first)
	p.flush()
	go p.loop()
	return p
}

func (p *progressLog) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.mu.Lock()
	p.lines = append(p.lines, line)
	if n := p.c.cfg.ProgressLines; len(p.lines) > n {
		p.lines = append(p.lines[:0], p.lines[len(p.lines)-n:]...)
	}
	p.dirty = true
	p.mu.Unlock()
}

func (p *progressLog) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

func (p *progressLog) loop() {
	defer close(p.done)
	t := time.NewTicker(p.c.cfg.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.flush()
		}
	}
}

func (p *progressLog) flush() {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	p.dirty = false
	text := p.c.present.Running(p.job, append([]string(nil), p.lines...))
	p.mu.Unlock()

	p.c.edit(p.job.Reply, text)
}

// close stops the ticker and waits for an in-flight edit, so nothing from
// this log can land after the job's final message.
func (p *progressLog) close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}
