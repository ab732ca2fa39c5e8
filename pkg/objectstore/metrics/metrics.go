// Package metrics instruments an objectstore.Backend with Prometheus
// collectors.
package metrics

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

// Collectors holds the metrics recorded for every backend call
type Collectors struct {
	// Operations counts backend calls by operation and outcome kind
	Operations *prometheus.CounterVec

	// Duration tracks backend call latency
	Duration *prometheus.HistogramVec

	// Bytes counts payload bytes moved by direction
	Bytes *prometheus.CounterVec
}

// NewCollectors creates the collectors and registers them with reg. A nil reg
// skips registration.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectstore_operations_total",
				Help: "Number of backend operations by type and outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "objectstore_operation_duration_seconds",
				Help:    "Duration of backend operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		Bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectstore_transferred_bytes_total",
				Help: "Payload bytes transferred by direction",
			},
			[]string{"backend", "direction"}, // upload or download
		),
	}

	if reg != nil {
		for _, collector := range []prometheus.Collector{c.Operations, c.Duration, c.Bytes} {
			if err := reg.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Backend wraps another backend and records every call
type Backend struct {
	inner      objectstore.Backend
	name       string
	collectors *Collectors
}

// Instrument registers a fresh set of collectors with reg and wraps inner
func Instrument(inner objectstore.Backend, name string, reg prometheus.Registerer) (*Backend, error) {
	c, err := NewCollectors(reg)
	if err != nil {
		return nil, err
	}
	return Wrap(inner, name, c), nil
}

// Wrap wraps inner with existing collectors
func Wrap(inner objectstore.Backend, name string, c *Collectors) *Backend {
	return &Backend{inner: inner, name: name, collectors: c}
}

// Name returns the backend label recorded with every sample
func (b *Backend) Name() string {
	return b.name
}

// Unwrap returns the instrumented backend
func (b *Backend) Unwrap() objectstore.Backend {
	return b.inner
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(objectstore.KindOf(err))
}

func (b *Backend) observe(op string, start time.Time, err error) {
	b.collectors.Operations.WithLabelValues(b.name, op, outcome(err)).Inc()
	b.collectors.Duration.WithLabelValues(b.name, op).Observe(time.Since(start).Seconds())
}

func (b *Backend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	start := time.Now()
	c, err := b.inner.CreateContainer(ctx, name)
	b.observe("create_container", start, err)
	return c, err
}

func (b *Backend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	start := time.Now()
	props, err := b.inner.GetContainerProperties(ctx, name)
	b.observe("get_properties", start, err)
	return props, err
}

func (b *Backend) SetContainerMetadata(ctx context.Context, name string, metadata map[string]string) error {
	start := time.Now()
	err := b.inner.SetContainerMetadata(ctx, name, metadata)
	b.observe("set_metadata", start, err)
	return err
}

func (b *Backend) GetContainerMetadata(ctx context.Context, name string) (map[string]string, error) {
	start := time.Now()
	md, err := b.inner.GetContainerMetadata(ctx, name)
	b.observe("get_metadata", start, err)
	return md, err
}

// SetPublicAccess forwards to the wrapped backend when it controls access
func (b *Backend) SetPublicAccess(ctx context.Context, name string, access objectstore.PublicAccess) error {
	start := time.Now()
	var err error
	if ac, ok := b.inner.(objectstore.AccessController); ok {
		err = ac.SetPublicAccess(ctx, name, access)
	} else {
		err = objectstore.NewError(objectstore.KindValidation, "backend %s does not support public access levels", b.name)
	}
	b.observe("set_public_access", start, err)
	return err
}

func (b *Backend) PutObject(ctx context.Context, container, name string, reader io.Reader) (*objectstore.ObjectEntry, error) {
	start := time.Now()
	entry, err := b.inner.PutObject(ctx, container, name, reader)
	b.observe("upload", start, err)
	if err == nil {
		b.collectors.Bytes.WithLabelValues(b.name, "upload").Add(float64(entry.Size))
	}
	return entry, err
}

func (b *Backend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	start := time.Now()
	page, err := b.inner.ListObjects(ctx, container, opts)
	b.observe("list", start, err)
	return page, err
}

// GetObject records the open; bytes are counted as the caller reads them
func (b *Backend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	start := time.Now()
	rc, entry, err := b.inner.GetObject(ctx, container, name)
	b.observe("download", start, err)
	if err != nil {
		return nil, nil, err
	}
	return &countingReadCloser{rc: rc, counter: b.collectors.Bytes.WithLabelValues(b.name, "download")}, entry, nil
}

func (b *Backend) DeleteObject(ctx context.Context, container, name string) error {
	start := time.Now()
	err := b.inner.DeleteObject(ctx, container, name)
	b.observe("delete_object", start, err)
	return err
}

func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	start := time.Now()
	err := b.inner.DeleteContainer(ctx, name)
	b.observe("delete_container", start, err)
	return err
}

type countingReadCloser struct {
	rc      io.ReadCloser
	counter prometheus.Counter
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.counter.Add(float64(n))
	}
	return n, err
}

func (c *countingReadCloser) Close() error {
	return c.rc.Close()
}

// Collectors returns the collectors the backend records into
func (b *Backend) Collectors() *Collectors {
	return b.collectors
}
