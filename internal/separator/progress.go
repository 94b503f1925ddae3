package separator

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

type Progress struct {
	total   int
	current int
	out     io.Writer
	mu      sync.Mutex
}

func NewProgress(total int, out io.Writer) *Progress {
	return &Progress{total: total, out: out}
}

func (p *Progress) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	p.draw()
}

func (p *Progress) draw() {
	if p.total <= 0 {
		return
	}
	width := 30
	percent := float64(p.current) / float64(p.total)
	filled := min(width, int(float64(width)*percent))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Fprintf(p.out, "\r [SPLIT] [%s] %d%% (%d/%d songs)", bar, int(percent*100), p.current, p.total)

	if p.current == p.total {
		fmt.Fprintln(p.out)
	}
}
