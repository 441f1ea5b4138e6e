package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-autopilot/pkg/atomicfile"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/spf13/afero"
)

const reportContentType = "application/json"

// Mirror receives a copy of every report, e.g. a storage bucket.
type Mirror interface {
	Upload(ctx context.Context, object, contentType string, data []byte) error
}

// ReportStoreParams wires a ReportStore.
type ReportStoreParams struct {
	FS           afero.Fs
	Path         string
	Mirror       Mirror
	MirrorObject string
	Logger       *logger.Logger
}

// ReportStore keeps the single current audit report on disk.
type ReportStore struct {
	fs     afero.Fs
	path   string
	mirror Mirror
	object string
	logg   *logger.Logger
}

func NewReportStore(params ReportStoreParams) (*ReportStore, error) {
	if params.FS == nil {
		return nil, fmt.Errorf("filesystem required")
	}
	if strings.TrimSpace(params.Path) == "" {
		return nil, fmt.Errorf("report path required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Mirror != nil && strings.TrimSpace(params.MirrorObject) == "" {
		return nil, fmt.Errorf("mirror object name required")
	}
	return &ReportStore{
		fs:     params.FS,
		path:   params.Path,
		mirror: params.Mirror,
		object: params.MirrorObject,
		logg:   params.Logger,
	}, nil
}

// Save atomically replaces the local report. Mirror failures are logged only.
func (s *ReportStore) Save(ctx context.Context, report *Report) error {
	if report == nil {
		return fmt.Errorf("report required")
	}
	if report.Details == nil {
		report.Details = []Finding{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode audit report: %w", err)
	}
	if err := atomicfile.Write(s.fs, s.path, data); err != nil {
		return fmt.Errorf("write audit report: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, s.object, reportContentType, data); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "object", s.object), "audit report mirror failed: "+err.Error())
		}
	}
	return nil
}

// Load returns the current report, ok=false when none was written yet.
func (s *ReportStore) Load(ctx context.Context) (*Report, bool, error) {
	data, ok, err := atomicfile.ReadIfExists(s.fs, s.path)
	if err != nil || !ok {
		return nil, false, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("decode audit report: %w", err)
	}
	return &report, true, nil
}
