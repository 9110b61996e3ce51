// Package errs defines the error taxonomy shared by adapters, the finder and
// the fetch pipeline.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means a post, comment, note or adapter does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported means an adapter lacks the requested capability.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrTransport covers network, timeout and HTTP status failures.
	ErrTransport = errors.New("transport failure")
	// ErrConfiguration means an adapter or pipeline is misconfigured.
	ErrConfiguration = errors.New("configuration error")
	// ErrPartial matches any *PartialError.
	ErrPartial = errors.New("partial failure")
	// ErrAllFailed matches a *PartialError in which every unit failed.
	ErrAllFailed = errors.New("all units failed")
)

// Unsupported reports that adapter does not implement op.
func Unsupported(adapter, op string) error {
	return fmt.Errorf("%s: %s: %w", adapter, op, ErrUnsupported)
}

// NotFound reports a missing item of the given kind.
func NotFound(adapter, kind string, id int64) error {
	return fmt.Errorf("%s: %s %d: %w", adapter, kind, id, ErrNotFound)
}

// Configuration reports a configuration problem.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfiguration)
}

// TransportError describes a failed request.
type TransportError struct {
	Op     string // "search posts", "fetch image", ...
	URL    string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// UnitError is the failure of one unit (adapter, request or content item)
// inside a fan-out or batch operation.
type UnitError struct {
	Unit string
	Err  error
}

func (u UnitError) Error() string {
	return u.Unit + ": " + u.Err.Error()
}

func (u UnitError) Unwrap() error { return u.Err }

// PartialError collects per-unit failures of a fan-out or batch call.
// Results gathered from the successful units are returned alongside it.
type PartialError struct {
	Op    string
	Total int
	Units []UnitError
}

// AllFailed reports whether no unit succeeded.
func (p *PartialError) AllFailed() bool {
	return p.Total > 0 && len(p.Units) >= p.Total
}

func (p *PartialError) Error() string {
	msgs := make([]string, 0, len(p.Units))
	for _, u := range p.Units {
		msgs = append(msgs, u.Error())
	}
	kind := "partial failure"
	if p.AllFailed() {
		kind = "all units failed"
	}
	return fmt.Sprintf("%s: %s (%d/%d): %s", p.Op, kind, len(p.Units), p.Total, strings.Join(msgs, "; "))
}

func (p *PartialError) Is(target error) bool {
	switch target {
	case ErrPartial:
		return true
	case ErrAllFailed:
		return p.AllFailed()
	}
	return false
}

// Unwrap exposes the unit errors to errors.Is and errors.As.
func (p *PartialError) Unwrap() []error {
	out := make([]error, 0, len(p.Units))
	for _, u := range p.Units {
		out = append(out, u)
	}
	return out
}

// Collector accumulates unit failures. It is not safe for concurrent use.
type Collector struct {
	op    string
	total int
	units []UnitError
}

// NewCollector starts collecting failures for an operation over total units.
func NewCollector(op string, total int) *Collector {
	return &Collector{op: op, total: total}
}

// Add records err for unit. A nil err is ignored.
func (c *Collector) Add(unit string, err error) {
	if err == nil {
		return
	}
	c.units = append(c.units, UnitError{Unit: unit, Err: err})
}

// Err returns nil when no unit failed, otherwise a *PartialError.
func (c *Collector) Err() error {
	if len(c.units) == 0 {
		return nil
	}
	return &PartialError{Op: c.op, Total: c.total, Units: c.units}
}

// AsPartial extracts a *PartialError from err.
func AsPartial(err error) (*PartialError, bool) {
	var p *PartialError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}
