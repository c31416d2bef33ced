package notify

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
)

// ID identifies a loading notification so it can be resolved later
type ID string

// Sink receives user-facing progress notifications
type Sink interface {
	// Loading shows an in-progress notification and returns its id
	Loading(text string) ID
	// ResolveSuccess turns a loading notification into a success, with an optional link
	ResolveSuccess(id ID, text, link string)
	// ResolveError turns a loading notification into a failure, with an optional link
	ResolveError(id ID, text, link string)
	// Success shows a standalone success, with an optional link
	Success(text, link string)
	// Error shows a standalone failure
	Error(text string)
	// Dismiss removes a notification; the empty id dismisses all of them
	Dismiss(id ID)
}

// Nop discards every notification
type Nop struct{}

func (Nop) Loading(string) ID                 { return ID(uuid.NewString()) }
func (Nop) ResolveSuccess(ID, string, string) {}
func (Nop) ResolveError(ID, string, string)   {}
func (Nop) Success(string, string)            {}
func (Nop) Error(string)                      {}
func (Nop) Dismiss(ID)                        {}

type pending struct {
	text string
	seq  uint64
}

// Console renders notifications on a terminal
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	spin    *spinner.Spinner
	pending map[ID]pending
	seq     uint64
}

// NewConsole writes notifications to out; animate enables the spinner
// while any notification is loading
func NewConsole(out io.Writer, animate bool) *Console {
	c := &Console{
		out:     out,
		pending: make(map[ID]pending),
	}
	if animate {
		c.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	}
	return c
}

func (c *Console) Loading(text string) ID {
	id := ID(uuid.NewString())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.pending[id] = pending{text: text, seq: c.seq}
	if c.spin != nil {
		c.spin.Suffix = " " + text
		if !c.spin.Active() {
			c.spin.Start()
		}
	} else {
		fmt.Fprintf(c.out, "… %s\n", text)
	}
	return id
}

func (c *Console) ResolveSuccess(id ID, text, link string) {
	c.resolve(id, color.New(color.FgGreen).Sprint("✓ "+text), link)
}

func (c *Console) ResolveError(id ID, text, link string) {
	c.resolve(id, color.New(color.FgRed).Sprint("✗ "+text), link)
}

func (c *Console) Success(text, link string) {
	c.resolve("", color.New(color.FgGreen).Sprint("✓ "+text), link)
}

func (c *Console) Error(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseSpinner()
	fmt.Fprintln(c.out, color.New(color.FgRed).Sprint("✗ "+text))
	c.resumeSpinner()
}

func (c *Console) Dismiss(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.pending = make(map[ID]pending)
	} else {
		delete(c.pending, id)
	}
	c.resumeSpinner()
}

func (c *Console) resolve(id ID, line, link string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	c.pauseSpinner()
	if link != "" {
		line += "  " + color.CyanString(link)
	}
	fmt.Fprintln(c.out, line)
	c.resumeSpinner()
}

// pendingTexts returns the texts of unresolved notifications, oldest first
func (c *Console) pendingTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]pending, 0, len(c.pending))
	for _, p := range c.pending {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	texts := make([]string, len(items))
	for i, p := range items {
		texts[i] = p.text
	}
	return texts
}

func (c *Console) pauseSpinner() {
	if c.spin != nil && c.spin.Active() {
		c.spin.Stop()
	}
}

// resumeSpinner restarts the spinner on the newest pending notification
func (c *Console) resumeSpinner() {
	if c.spin == nil {
		return
	}
	var latest pending
	for _, p := range c.pending {
		if p.seq > latest.seq {
			latest = p
		}
	}
	if latest.text == "" {
		c.pauseSpinner()
		return
	}
	c.spin.Suffix = " " + latest.text
	if !c.spin.Active() {
		c.spin.Start()
	}
}
