package source

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/boorufind/internal/errs"
)

// fetchWorkers bounds concurrent item retrievals within one post.
const fetchWorkers = 4

// FetchState tracks a post's content retrieval.
type FetchState int

const (
	Unfetched FetchState = iota
	Fetching
	Fetched
	Failed
)

func (s FetchState) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Fetched:
		return "fetched"
	case Failed:
		return "failed"
	default:
		return "unfetched"
	}
}

type content struct {
	mu    sync.Mutex
	state FetchState
	data  [][]byte
	sums  []string // hashes computed from fetched bytes

	// slot admits one fetch at a time. gen[i] is the flight that last wrote
	// item i; flights counts completed flights.
	slot    chan struct{}
	gen     []uint64
	flights uint64
}

// FetchData retrieves every content item through the bound retriever. Items
// already held are not fetched again unless force is set. When some items
// fail, the others are kept, the state becomes Failed and a
// *errs.PartialError is returned. Fetches of one post run one at a time, and
// items written by a fetch that finished while a caller waited count as
// fresh for that caller, forced or not.
func (p *Post) FetchData(ctx context.Context, force bool) error {
	return p.fetch(ctx, force, len(p.Images))
}

// FetchMain retrieves only the primary image.
func (p *Post) FetchMain(ctx context.Context, force bool) error {
	return p.fetch(ctx, force, min(1, len(p.Images)))
}

func (p *Post) fetch(ctx context.Context, force bool, n int) error {
	if p.retriever == nil {
		return errs.Configuration("post %s: no retriever bound", p.Key())
	}
	c := &p.content

	c.mu.Lock()
	if c.slot == nil {
		c.slot = make(chan struct{}, 1)
	}
	slot, since := c.slot, c.flights
	c.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot }()

	return p.fetchItems(ctx, force, n, since)
}

func (p *Post) fetchItems(ctx context.Context, force bool, n int, since uint64) error {
	c := &p.content

	c.mu.Lock()
	if len(c.data) < len(p.Images) {
		c.data = grow(c.data, len(p.Images))
		c.gen = grow(c.gen, len(p.Images))
	}
	var pending []int
	for i := range n {
		if c.data[i] == nil || (force && c.gen[i] <= since) {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.state = Fetching
	c.mu.Unlock()

	results := make([][]byte, len(pending))
	failures := make([]error, len(pending))

	// Items fail independently; no derived context.
	var g errgroup.Group
	g.SetLimit(fetchWorkers)
	for j, i := range pending {
		g.Go(func() error {
			results[j], failures[j] = readItem(ctx, p.retriever, p.Images[i])
			return nil
		})
	}
	_ = g.Wait()

	collector := errs.NewCollector("fetch "+p.Key().String(), len(pending))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flights++
	for j, i := range pending {
		if failures[j] != nil {
			collector.Add(fmt.Sprintf("image %d", i), failures[j])
			continue
		}
		c.data[i] = results[j]
		c.gen[i] = c.flights
	}
	p.fillMD5Locked()
	if err := collector.Err(); err != nil {
		c.state = Failed
		return err
	}
	c.state = Fetched
	return nil
}

func grow[T any](s []T, n int) []T {
	grown := make([]T, n)
	copy(grown, s)
	return grown
}

func readItem(ctx context.Context, r Retriever, u string) ([]byte, error) {
	body, err := r.Open(ctx, u)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return data, nil
}

// fillMD5Locked hashes fetched items the source gave no md5 for.
func (p *Post) fillMD5Locked() {
	c := &p.content
	if len(c.sums) < len(p.Images) {
		c.sums = grow(c.sums, len(p.Images))
	}
	for i, data := range c.data {
		if data == nil || (i < len(p.MD5) && p.MD5[i] != "") {
			continue
		}
		sum := md5.Sum(data)
		c.sums[i] = hex.EncodeToString(sum[:])
	}
}

// Hashes returns one md5 per item: the source's value when it gave one,
// otherwise the hash of fetched bytes, otherwise "".
func (p *Post) Hashes() []string {
	p.content.mu.Lock()
	defer p.content.mu.Unlock()
	if len(p.MD5) == 0 && len(p.content.sums) == 0 {
		return nil
	}
	out := make([]string, max(len(p.Images), len(p.MD5)))
	copy(out, p.content.sums)
	for i, sum := range p.MD5 {
		if sum != "" {
			out[i] = sum
		}
	}
	return out
}

// State returns the current fetch state.
func (p *Post) State() FetchState {
	p.content.mu.Lock()
	defer p.content.mu.Unlock()
	return p.content.state
}

// FetchedData reports whether at least one item's bytes are held.
func (p *Post) FetchedData() bool {
	p.content.mu.Lock()
	defer p.content.mu.Unlock()
	for _, d := range p.content.data {
		if d != nil {
			return true
		}
	}
	return false
}

// Data returns the fetched bytes per item; missing items are nil.
func (p *Post) Data() [][]byte {
	p.content.mu.Lock()
	defer p.content.mu.Unlock()
	out := make([][]byte, len(p.content.data))
	copy(out, p.content.data)
	return out
}

// ItemData returns the fetched bytes of item i.
func (p *Post) ItemData(i int) ([]byte, bool) {
	p.content.mu.Lock()
	defer p.content.mu.Unlock()
	if i < 0 || i >= len(p.content.data) || p.content.data[i] == nil {
		return nil, false
	}
	return p.content.data[i], true
}

// DownloadItem writes content item index into dir and returns the file path.
func (p *Post) DownloadItem(ctx context.Context, dir string, index int) (string, error) {
	return WriteItem(ctx, p.retriever, p, dir, index)
}

// DownloadAll writes every content item into dir. Paths of written items are
// returned alongside a *errs.PartialError when some items failed.
func (p *Post) DownloadAll(ctx context.Context, dir string) ([]string, error) {
	return WriteAll(ctx, p.retriever, p, dir)
}

// WriteAll writes every content item of p through r.
func WriteAll(ctx context.Context, r Retriever, p *Post, dir string) ([]string, error) {
	collector := errs.NewCollector("download "+p.Key().String(), len(p.Images))
	var paths []string
	for i := range p.Images {
		path, err := WriteItem(ctx, r, p, dir, i)
		if err != nil {
			collector.Add(fmt.Sprintf("image %d", i), err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, collector.Err()
}

// WriteItem persists item index of p into dir. Bytes already fetched are
// reused; otherwise the item is streamed through r. The post's fetch state
// is left untouched. The file appears under its final name only once fully
// written.
func WriteItem(ctx context.Context, r Retriever, p *Post, dir string, index int) (string, error) {
	if index < 0 || index >= len(p.Images) {
		return "", fmt.Errorf("post %s has no item %d", p.Key(), index)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	var src io.Reader
	if data, ok := p.ItemData(index); ok {
		src = bytes.NewReader(data)
	} else {
		if r == nil {
			return "", errs.Configuration("post %s: no retriever bound", p.Key())
		}
		body, err := r.Open(ctx, p.Images[index])
		if err != nil {
			return "", err
		}
		defer func() { _ = body.Close() }()
		src = body
	}

	tmp, err := os.CreateTemp(dir, ".boorufind-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", p.Images[index], err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	dest := filepath.Join(dir, itemFilename(p, index))
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", dest, err)
	}
	return dest, nil
}

// itemFilename returns the declared filename of item i, or a generated one
// keeping the URL's extension.
func itemFilename(p *Post, i int) string {
	if i < len(p.Filenames) {
		if name := filepath.Base(p.Filenames[i]); name != "" && name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	return uuid.NewString() + urlExt(p.Images[i])
}
