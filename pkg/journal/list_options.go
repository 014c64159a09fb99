package journal

import (
	"strings"
	"time"

	"BReact-SDK/pkg/job"
)

// SortOrder defines how entries are ordered when listing.
type SortOrder int

const (
	// SortByUpdatedDesc orders entries by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders entries by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls which entries List returns.
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []job.Status
	ServiceID    string
	UpdatedSince time.Time
	Order        SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.ServiceID = strings.TrimSpace(opts.ServiceID)
}

func (opts ListOptions) matches(e Entry) bool {
	if opts.ServiceID != "" && e.ServiceID != opts.ServiceID {
		return false
	}
	if !opts.UpdatedSince.IsZero() && e.UpdatedAt.Before(opts.UpdatedSince) {
		return false
	}
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, s := range opts.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// page applies offset and limit to an already ordered, filtered slice.
func (opts ListOptions) page(entries []Entry) []Entry {
	if opts.Offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[opts.Offset:]
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.applyDefaults()
	return o
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of entries returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching entries.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters entries by status.
func WithStatuses(statuses ...job.Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithService filters entries by service id.
func WithService(id string) ListOption {
	return func(opts *ListOptions) {
		opts.ServiceID = id
	}
}

// WithUpdatedSince filters entries updated at or after ts.
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.UpdatedSince = ts
	}
}

// WithOrder sets the sort order.
func WithOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}
