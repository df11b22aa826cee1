package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagedLister struct {
	total   int
	filters []port.InstanceFilter
}

func (l *pagedLister) ListInstances(_ context.Context, f port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	l.filters = append(l.filters, f)
	var page []*entity.WorkflowInstance
	for i := f.Offset; i < l.total && len(page) < f.Limit; i++ {
		page = append(page, &entity.WorkflowInstance{ID: int64(i + 1)})
	}
	return page, nil
}

type countingExporter struct {
	count int
	err   error
}

func (e *countingExporter) ExportInstances(_ context.Context, w io.Writer, instances []*entity.WorkflowInstance) error {
	e.count = len(instances)
	if e.err != nil {
		return e.err
	}
	_, err := w.Write([]byte("xlsx"))
	return err
}

type memStorage struct {
	files map[string][]byte
}

func (m *memStorage) Save(_ context.Context, path string, content []byte) error {
	m.files[path] = content
	return nil
}

func (m *memStorage) Read(_ context.Context, path string) ([]byte, error) {
	return m.files[path], nil
}

func (m *memStorage) Exists(_ context.Context, path string) bool {
	_, ok := m.files[path]
	return ok
}

func (m *memStorage) Delete(_ context.Context, path string) error {
	delete(m.files, path)
	return nil
}

func (m *memStorage) List(_ context.Context, dir string) ([]string, error) {
	var out []string
	for p := range m.files {
		if strings.HasPrefix(p, dir+"/") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStorage) GetFullPath(p string) string { return "/data/" + p }

func TestReportService_ExportPagesThroughEverything(t *testing.T) {
	lister := &pagedLister{total: 450}
	exporter := &countingExporter{}
	svc := NewReportService(lister, exporter, &memStorage{files: map[string][]byte{}}, nopLogger{})

	var buf bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), &buf, port.InstanceFilter{FlowKey: "BAOXIAO", Limit: 5, Offset: 99}))

	assert.Equal(t, 450, exporter.count)
	require.Len(t, lister.filters, 3)
	assert.Equal(t, 0, lister.filters[0].Offset)
	assert.Equal(t, 400, lister.filters[2].Offset)
	assert.Equal(t, "BAOXIAO", lister.filters[2].FlowKey)
	assert.Equal(t, "xlsx", buf.String())
}

func TestReportService_ArchiveAndRead(t *testing.T) {
	storage := &memStorage{files: map[string][]byte{}}
	svc := NewReportService(&pagedLister{total: 2}, &countingExporter{}, storage, nopLogger{})
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	name, err := svc.Archive(ctx, port.InstanceFilter{FlowKey: "PURCHASE"})
	require.NoError(t, err)
	assert.Equal(t, "instances-PURCHASE-20240301T090000Z.xlsx", name)
	assert.Contains(t, storage.files, "reports/"+name)

	list, err := svc.Archives(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, list)

	data, err := svc.ReadArchive(ctx, "instances-PURCHASE-20240301T090000Z.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), data)

	for _, bad := range []string{"", "missing.xlsx", "../config.yaml", "a/b.xlsx"} {
		_, err := svc.ReadArchive(ctx, bad)
		assert.ErrorIs(t, err, ErrReportNotFound, bad)
	}
}

func TestReportService_ExporterFailure(t *testing.T) {
	storage := &memStorage{files: map[string][]byte{}}
	svc := NewReportService(&pagedLister{total: 1}, &countingExporter{err: errors.New("disk full")}, storage, nopLogger{})

	_, err := svc.Archive(context.Background(), port.InstanceFilter{})
	assert.Error(t, err)
	assert.Empty(t, storage.files)
}
