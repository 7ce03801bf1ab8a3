package ui

import "github.com/rivo/tview"

// Pages wraps tview.Pages with a stack so overlays return to the page
// beneath them.
type Pages struct {
	*tview.Pages
	stack []string
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// Push shows name on top of the stack.
func (p *Pages) Push(name string) {
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.ShowPage(name)
	p.SendToFront(name)
}

// Pop hides the top page and shows the previous one. The last page is
// never popped; Pop returns "" in that case.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	current := p.Current()
	p.ShowPage(current)
	p.SendToFront(current)
	return top
}

// Current returns the top page name.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}
