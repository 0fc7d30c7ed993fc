package engine

import "sync"

// pauseToken gates the start of background tasks.
type pauseToken struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func (p *pauseToken) pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return false
	}
	p.paused = true
	p.resume = make(chan struct{})
	return true
}

func (p *pauseToken) unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	close(p.resume)
	return true
}

// wait blocks while the token is paused.
func (p *pauseToken) wait() {
	for {
		p.mu.Lock()
		if !p.paused {
			p.mu.Unlock()
			return
		}
		ch := p.resume
		p.mu.Unlock()
		<-ch
	}
}

func (p *pauseToken) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
