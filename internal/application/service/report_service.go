package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	pathpkg "path"
	"strings"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

const (
	reportDir      = "reports"
	exportPageSize = 200
	// exportLimit bounds one workbook
	exportLimit = 10000
)

// ErrReportNotFound is returned for unknown or malformed archive names
var ErrReportNotFound = errors.New("report not found")

// InstanceLister pages through instances
type InstanceLister interface {
	ListInstances(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error)
}

// ReportService exports instance listings as spreadsheets, streamed or archived to storage
type ReportService struct {
	instances InstanceLister
	exporter  port.ReportExporter
	storage   port.FileStorage
	logger    Logger
	now       func() time.Time
}

// NewReportService creates a new ReportService
func NewReportService(instances InstanceLister, exporter port.ReportExporter, storage port.FileStorage, logger Logger) *ReportService {
	return &ReportService{
		instances: instances,
		exporter:  exporter,
		storage:   storage,
		logger:    logger,
		now:       time.Now,
	}
}

// Export writes every instance matching filter to w. Limit and Offset of filter are ignored.
func (s *ReportService) Export(ctx context.Context, w io.Writer, filter port.InstanceFilter) error {
	instances, err := s.collect(ctx, filter)
	if err != nil {
		return err
	}
	if err := s.exporter.ExportInstances(ctx, w, instances); err != nil {
		return fmt.Errorf("export instances: %w", err)
	}
	return nil
}

// Archive exports to storage and returns the archive name accepted by ReadArchive
func (s *ReportService) Archive(ctx context.Context, filter port.InstanceFilter) (string, error) {
	var buf bytes.Buffer
	if err := s.Export(ctx, &buf, filter); err != nil {
		return "", err
	}

	name := "instances"
	if filter.FlowKey != "" {
		name += "-" + filter.FlowKey
	}
	name = fmt.Sprintf("%s-%s.xlsx", name, s.now().UTC().Format("20060102T150405Z"))
	path := reportDir + "/" + name

	if err := s.storage.Save(ctx, path, buf.Bytes()); err != nil {
		s.logger.Error("Failed to archive report", "error", err, "path", path)
		return "", fmt.Errorf("save report: %w", err)
	}

	s.logger.Info("Report archived", "path", path, "size", buf.Len())
	return name, nil
}

// Archives lists the names of stored reports
func (s *ReportService) Archives(ctx context.Context) ([]string, error) {
	paths, err := s.storage.List(ctx, reportDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, pathpkg.Base(p))
	}
	return names, nil
}

// ReadArchive returns a stored report; only paths under the report directory are served
func (s *ReportService) ReadArchive(ctx context.Context, name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: %q", ErrReportNotFound, name)
	}
	path := reportDir + "/" + name
	if !s.storage.Exists(ctx, path) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, name)
	}
	return s.storage.Read(ctx, path)
}

func (s *ReportService) collect(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	filter.Limit = exportPageSize
	filter.Offset = 0

	var all []*entity.WorkflowInstance
	for len(all) < exportLimit {
		page, err := s.instances.ListInstances(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
		filter.Offset += len(page)
	}
	return all, nil
}
