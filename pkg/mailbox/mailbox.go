// Package mailbox implements the line-oriented append-only file transport
// used as the inter-process medium between the controller and the node
// agents. It is deliberately the only concern the rest of the simulation
// takes a hard dependency on for message delivery: swap this package out
// for any other FIFO line-delivery channel and nothing upstream changes.
package mailbox

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Reader tracks a line offset into an append-only file and, on each call
// to ReadNew, returns only the lines written since the previous call. A
// file that does not exist yet reads as empty rather than erroring, which
// matches a writer process that has not started up.
type Reader struct {
	path   string
	offset int
}

// NewReader creates a Reader over the file at path. The file need not exist
// yet.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// ReadNew returns the lines appended since the last call.
func (r *Reader) ReadNew() ([]string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailbox: open %s: %w", r.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var fresh []string
	seen := 0
	for sc.Scan() {
		seen++
		if seen <= r.offset {
			continue
		}
		fresh = append(fresh, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mailbox: scan %s: %w", r.path, err)
	}
	r.offset = seen
	return fresh, nil
}

// Appender appends whole lines to a file, creating it on first use.
type Appender struct {
	path string
}

// NewAppender creates an Appender targeting the file at path.
func NewAppender(path string) *Appender {
	return &Appender{path: path}
}

// Append writes line followed by a newline. Appends are independent of any
// concurrent Reader on the same path: each open is scoped to the call.
func (a *Appender) Append(line string) error {
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mailbox: open %s: %w", a.path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("mailbox: write %s: %w", a.path, err)
	}
	return nil
}

// NodeMailbox is the trio of files owned by a single node: its inbox (one
// reader, the node itself; one writer, the controller), its outbox (one
// writer, the node itself; one reader, the controller), and its received
// log (one writer, the node; no protocol-level reader).
type NodeMailbox struct {
	Inbox    *Reader
	Outbox   *Appender
	Received *Appender
}

// OpenNode builds the mailbox paths for node id inside dir, following the
// fromN/toN/receivedN convention.
func OpenNode(dir string, id fmt.Stringer) *NodeMailbox {
	return &NodeMailbox{
		Inbox:    NewReader(filepath.Join(dir, "to"+id.String())),
		Outbox:   NewAppender(filepath.Join(dir, "from"+id.String())),
		Received: NewAppender(filepath.Join(dir, "received"+id.String())),
	}
}

// ControllerMailbox gives the controller lazily-created readers over every
// source's outbox (fromN) and writers into every node's inbox (toN). It
// never opens a receivedN file; that log has no protocol-level reader.
//
// Controller.Tick fans a tick's per-source work out across goroutines, so
// the lazy get-or-create on readers/writers is guarded by mu: two sources
// touching ReadFrom for the first time, or two sources both targeting the
// same neighbor's AppendTo, in the same tick would otherwise race on these
// maps. The Reader/Appender each key names is only ever used by one
// source's (or one destination's) calls, so no lock is needed once the
// get-or-create itself is safe.
type ControllerMailbox struct {
	dir string

	mu      sync.Mutex
	readers map[string]*Reader
	writers map[string]*Appender
}

// NewControllerMailbox roots controller-side mailbox access at dir.
func NewControllerMailbox(dir string) *ControllerMailbox {
	return &ControllerMailbox{
		dir:     dir,
		readers: make(map[string]*Reader),
		writers: make(map[string]*Appender),
	}
}

// ReadFrom returns the new lines appended to source's outbox since the last
// call. A source with no outbox file yet reads as empty.
func (c *ControllerMailbox) ReadFrom(source fmt.Stringer) ([]string, error) {
	key := source.String()
	c.mu.Lock()
	r, ok := c.readers[key]
	if !ok {
		r = NewReader(filepath.Join(c.dir, "from"+key))
		c.readers[key] = r
	}
	c.mu.Unlock()
	return r.ReadNew()
}

// AppendTo appends line to destination's inbox.
func (c *ControllerMailbox) AppendTo(destination fmt.Stringer, line string) error {
	key := destination.String()
	c.mu.Lock()
	w, ok := c.writers[key]
	if !ok {
		w = NewAppender(filepath.Join(c.dir, "to"+key))
		c.writers[key] = w
	}
	c.mu.Unlock()
	return w.Append(line)
}
