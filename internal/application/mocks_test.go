package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockArchive implements output.Archive over in-memory entries.
type mockArchive struct {
	locator domain.ArchiveLocator
	names   []string
	files   map[string][]byte
	modTime time.Time
	closed  int
}

func newMockArchive(key string, names ...string) *mockArchive {
	return &mockArchive{
		locator: domain.ArchiveLocator{Bucket: "bucket", Key: key},
		names:   names,
		files:   map[string][]byte{},
		modTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *mockArchive) Locator() domain.ArchiveLocator { return m.locator }

func (m *mockArchive) Entries() []output.ArchiveEntry {
	entries := make([]output.ArchiveEntry, len(m.names))
	for i, n := range m.names {
		entries[i] = output.ArchiveEntry{Name: n, UncompressedSize: int64(len(m.files[n]))}
	}
	return entries
}

func (m *mockArchive) ModTime() time.Time { return m.modTime }

func (m *mockArchive) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockArchive) OpenSection(_ context.Context, name string) (output.EntrySection, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return section{bytes.NewReader(data)}, nil
}

func (m *mockArchive) URI(name string) string {
	return "s3://" + m.locator.Bucket + "/" + m.locator.Key + "/" + name
}

func (m *mockArchive) VSIPath(name string) string {
	return "/vsizip/vsis3/" + m.locator.Bucket + "/" + m.locator.Key + "/" + name
}

func (m *mockArchive) Close() error {
	m.closed++
	return nil
}

type section struct{ *bytes.Reader }

func (section) Close() error { return nil }

// mockOpener implements output.ArchiveOpener.
type mockOpener struct {
	archive *mockArchive
	err     error
}

func (m *mockOpener) Open(_ context.Context, locator domain.ArchiveLocator) (output.Archive, error) {
	if m.err != nil {
		return nil, &domain.ArchiveReadError{Archive: locator.String(), Err: m.err}
	}
	return m.archive, nil
}

// mockExtractor implements output.AssetExtractor, output.SizeEstimator and
// output.PointSampler.
type mockExtractor struct {
	kind     domain.AssetKind
	metas    map[string]domain.AssetMetadata
	errs     map[string]error
	block    map[string]bool // wait for the context to end
	delay    map[string]time.Duration
	estimate domain.SizeEstimate
	estErr   error
	points   []domain.Coordinate
	pointErr error

	mu    sync.Mutex
	calls []string
}

func (m *mockExtractor) Kind() domain.AssetKind { return m.kind }

func (m *mockExtractor) Extract(ctx context.Context, _ output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	m.mu.Lock()
	m.calls = append(m.calls, asset.Name)
	m.mu.Unlock()

	if m.block[asset.Name] {
		<-ctx.Done()
		return domain.AssetMetadata{}, ctx.Err()
	}
	if d := m.delay[asset.Name]; d > 0 {
		time.Sleep(d)
	}
	if err := m.errs[asset.Name]; err != nil {
		return domain.AssetMetadata{}, err
	}
	meta, ok := m.metas[asset.Name]
	if !ok {
		return domain.AssetMetadata{}, fmt.Errorf("%s: %w", asset.Name, domain.ErrNoMetadata)
	}
	meta.Kind = m.kind
	meta.Name = asset.Name
	return meta, nil
}

func (m *mockExtractor) EstimateSize(context.Context, output.Archive, domain.AssetRef) (domain.SizeEstimate, error) {
	return m.estimate, m.estErr
}

func (m *mockExtractor) SamplePoints(_ context.Context, _ output.Archive, _ domain.AssetRef, max int) ([]domain.Coordinate, error) {
	if m.pointErr != nil {
		return nil, m.pointErr
	}
	if len(m.points) > max {
		return m.points[:max], nil
	}
	return m.points, nil
}

func (m *mockExtractor) extracted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.calls...)
	sort.Strings(out)
	return out
}

// plainExtractor hides the estimator and sampler of a mockExtractor.
type plainExtractor struct {
	inner *mockExtractor
}

func (p plainExtractor) Kind() domain.AssetKind { return p.inner.Kind() }

func (p plainExtractor) Extract(ctx context.Context, a output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	return p.inner.Extract(ctx, a, asset)
}

// mockLayers implements output.LayerSource.
type mockLayers struct {
	layers []string
	err    error
	calls  int
}

func (m *mockLayers) Layers(context.Context, output.Archive) ([]string, error) {
	m.calls++
	return m.layers, m.err
}

// mockDetector implements output.ModelProjectDetector.
type mockDetector struct {
	projects map[string]bool
	err      error
}

func (m *mockDetector) IsModelProject(_ context.Context, _ output.Archive, name string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.projects[name], nil
}

// mockTransformer implements output.CoordinateTransformer with a function.
type mockTransformer struct {
	fn    func(x, y float64) (float64, float64)
	err   error
	mu    sync.Mutex
	calls int
}

func (m *mockTransformer) Transform(_ context.Context, coords []domain.Coordinate, _ domain.Projection, targetSRID int) ([]domain.Coordinate, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Coordinate, len(coords))
	for i, c := range coords {
		x, y := c.X, c.Y
		if m.fn != nil {
			x, y = m.fn(x, y)
		}
		out[i] = domain.NewCoordinate(x, y, targetSRID)
	}
	return out, nil
}

func (m *mockTransformer) IsSupported(domain.Projection, int) bool {
	return m.err == nil
}

func (m *mockTransformer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// scaleTransformer divides projected metres by 1e5, enough to land in a
// plausible degree range for tests.
func scaleTransformer() *mockTransformer {
	return &mockTransformer{fn: func(x, y float64) (float64, float64) { return x / 1e5, y / 1e5 }}
}

// mockStorage implements output.ObjectStorage over a shared in-memory map.
type mockStorage struct {
	bucket string
	state  *storageState
}

type storageState struct {
	mu        sync.Mutex
	objects   map[string][]byte // bucket/key
	listing   []output.StorageObject
	listErr   error
	putErr    error
	putErrKey string // putErr applies only to this key when set
	existsErr error
	deleted   []string
}

func newMockStorage() *mockStorage {
	return &mockStorage{state: &storageState{objects: map[string][]byte{}}}
}

func (m *mockStorage) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	if m.state.listErr != nil {
		return nil, m.state.listErr
	}
	var out []output.StorageObject
	for _, obj := range m.state.listing {
		if strings.HasPrefix(obj.Key, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (m *mockStorage) Stat(_ context.Context, key string) (output.StorageObject, error) {
	for _, obj := range m.state.listing {
		if obj.Key == key {
			return obj, nil
		}
	}
	return output.StorageObject{}, domain.ErrNotFound
}

func (m *mockStorage) ReadRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	return nil, domain.ErrUnsupported
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.object(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.state.putErr != nil && (m.state.putErrKey == "" || m.state.putErrKey == key) {
		return m.state.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.objects[m.bucket+"/"+key] = data
	return nil
}

func (m *mockStorage) Delete(_ context.Context, key string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	delete(m.state.objects, m.bucket+"/"+key)
	m.state.deleted = append(m.state.deleted, key)
	return nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	if m.state.existsErr != nil {
		return false, m.state.existsErr
	}
	_, ok := m.object(key)
	return ok, nil
}

func (m *mockStorage) URI(key string) string {
	return "mem://" + m.bucket + "/" + key
}

func (m *mockStorage) VSIPath(key string) string {
	return "/vsimem/" + m.bucket + "/" + key
}

func (m *mockStorage) WithBucket(bucket string) output.ObjectStorage {
	return &mockStorage{bucket: bucket, state: m.state}
}

func (m *mockStorage) object(key string) ([]byte, bool) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	data, ok := m.state.objects[m.bucket+"/"+key]
	return data, ok
}

// written returns the bucket/key of every object written, sorted.
func (m *mockStorage) written() []string {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	keys := make([]string, 0, len(m.state.objects))
	for k := range m.state.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mockLedger implements output.ScanLedger.
type mockLedger struct {
	records []output.LedgerRecord
	seenErr error
}

func (m *mockLedger) Seen(_ context.Context, bucket, key, etag string) (bool, error) {
	if m.seenErr != nil {
		return false, m.seenErr
	}
	for _, r := range m.records {
		if r.Bucket == bucket && r.Key == key && r.ETag == etag && output.LedgerStatusFinal(r.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLedger) Record(_ context.Context, rec output.LedgerRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockLedger) Recent(_ context.Context, limit int) ([]output.LedgerRecord, error) {
	out := make([]output.LedgerRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *mockLedger) Close() error { return nil }

// mockCataloger implements input.Cataloger.
type mockCataloger struct {
	fail     map[string]error
	requests []domain.CatalogRequest
}

func (m *mockCataloger) Catalog(_ context.Context, req domain.CatalogRequest) (*domain.CatalogResult, error) {
	m.requests = append(m.requests, req)
	if err := m.fail[req.Key]; err != nil {
		return nil, err
	}
	return &domain.CatalogResult{
		Collection:  "stac/collections/" + req.CollectionID + "/collection.json",
		ItemResults: []string{"stac/collections/" + req.CollectionID + "/a/a.json"},
		Records:     &domain.Collection{ID: req.CollectionID},
	}, nil
}

// recordingMetrics implements output.MetricsCollector and counts calls.
type recordingMetrics struct {
	output.NoOpMetrics

	mu         sync.Mutex
	assets     map[string]int // kind/status
	archives   map[string]int // kind/outcome
	footprints map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		assets:     map[string]int{},
		archives:   map[string]int{},
		footprints: map[string]int{},
	}
}

func (m *recordingMetrics) IncAssets(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[kind+"/"+status]++
}

func (m *recordingMetrics) IncArchives(kind string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[fmt.Sprintf("%s/%t", kind, success)]++
}

func (m *recordingMetrics) IncFootprints(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.footprints[method]++
}

func (m *recordingMetrics) asset(kind domain.AssetKind, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assets[string(kind)+"/"+status]
}
