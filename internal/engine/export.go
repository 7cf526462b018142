package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// exportHeader is the column set shared by the tabular formats.
var exportHeader = []string{"number", "carrier", "line_type", "country", "validation"}

// ExportEngineOptions configures an ExportEngine.
type ExportEngineOptions struct {
	Numbers core.NumberRepository
	Store   core.ArtifactStore

	// BatchSize is the number of rows fetched per page.
	BatchSize int

	Logger *slog.Logger
}

// ExportEngine streams a project's numbers into an artifact in the requested
// format. Rows are fetched in pages so a million-row export never holds the
// whole result set from the database at once.
type ExportEngine struct {
	numbers   core.NumberRepository
	store     core.ArtifactStore
	batchSize int
	logger    *slog.Logger
}

// NewExportEngine constructs an ExportEngine.
func NewExportEngine(opts ExportEngineOptions) (*ExportEngine, error) {
	if opts.Numbers == nil {
		return nil, fmt.Errorf("number repository is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 2000
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "export_engine")
	}

	return &ExportEngine{
		numbers:   opts.Numbers,
		store:     opts.Store,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Kind returns the job kind this engine executes.
func (e *ExportEngine) Kind() model.JobKind {
	return model.JobKindExport
}

// Run pages through the filtered number set, encodes it, and stores the
// artifact. The artifact reference lands in the job result.
func (e *ExportEngine) Run(
	ctx context.Context,
	job *model.Job,
	report ProgressFunc,
	cancelled CancelCheck,
) (*model.JobResult, error) {
	params := &model.ExportParams{}
	if err := json.Unmarshal(job.Parameters, params); err != nil {
		return nil, apperrors.SystemicPermanent("decode export parameters", err)
	}

	writer, err := newExportWriter(params.Format)
	if err != nil {
		return nil, apperrors.SystemicPermanent("create export writer", err)
	}

	total, err := e.numbers.CountByProject(ctx, params.ProjectID, params.Filters)
	if err != nil {
		return nil, apperrors.Systemic("count export rows", err)
	}

	var exported int64
	offset := 0
	for {
		if cancelErr := checkCancelled(ctx, cancelled); cancelErr != nil {
			return nil, cancelErr
		}

		page, fetchErr := e.numbers.ListByProject(ctx, model.NumberListOptions{
			ProjectID: params.ProjectID,
			Filter:    params.Filters,
			Limit:     e.batchSize,
			Offset:    offset,
		})
		if fetchErr != nil {
			return nil, apperrors.Systemic("fetch export rows", fetchErr)
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for _, n := range page {
			if addErr := writer.add(n); addErr != nil {
				return nil, apperrors.Systemic("encode export row", addErr)
			}
		}
		exported += int64(len(page))

		update := model.ProgressUpdate{
			JobID:           job.ID,
			ProgressMessage: fmt.Sprintf("exported %d of %d rows", exported, total),
			TotalItems:      total,
			ProcessedItems:  exported,
			SuccessfulItems: exported,
		}
		if reportErr := report(ctx, update); reportErr != nil {
			return nil, apperrors.Systemic("report progress", reportErr)
		}

		if len(page) < e.batchSize {
			break
		}
	}

	body, err := writer.finish()
	if err != nil {
		return nil, apperrors.Systemic("finalize export artifact", err)
	}

	name := fmt.Sprintf("export-%s.%s", uuid.NewString(), params.Format)
	ref, err := e.store.Put(ctx, name, contentTypeFor(params.Format), body)
	if err != nil {
		return nil, apperrors.Systemic("store export artifact", err)
	}

	return &model.JobResult{
		Summary:  fmt.Sprintf("exported %d numbers as %s", exported, params.Format),
		Artifact: ref,
	}, nil
}

// contentTypeFor maps a format to the artifact's MIME type.
func contentTypeFor(format model.ExportFormat) string {
	switch format {
	case model.ExportFormatCSV:
		return "text/csv"
	case model.ExportFormatTXT:
		return "text/plain"
	case model.ExportFormatJSON:
		return "application/json"
	case model.ExportFormatDOC:
		return "application/msword"
	case model.ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// exportWriter accumulates rows and produces the encoded artifact body.
type exportWriter interface {
	add(n *model.PhoneNumber) error
	finish() ([]byte, error)
}

func newExportWriter(format model.ExportFormat) (exportWriter, error) {
	switch format {
	case model.ExportFormatCSV:
		return newCSVWriter(), nil
	case model.ExportFormatTXT:
		return &txtWriter{}, nil
	case model.ExportFormatJSON:
		return &jsonWriter{}, nil
	case model.ExportFormatDOC:
		return newDocWriter(), nil
	case model.ExportFormatXLSX:
		return newXLSXWriter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

type csvWriter struct {
	buf *bytes.Buffer
	w   *csv.Writer
}

func newCSVWriter() *csvWriter {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(exportHeader)
	return &csvWriter{buf: buf, w: w}
}

func (c *csvWriter) add(n *model.PhoneNumber) error {
	return c.w.Write(rowFor(n))
}

func (c *csvWriter) finish() ([]byte, error) {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return nil, err
	}
	return c.buf.Bytes(), nil
}

// txtWriter emits one number per line, nothing else.
type txtWriter struct {
	buf bytes.Buffer
}

func (t *txtWriter) add(n *model.PhoneNumber) error {
	t.buf.WriteString(n.Number)
	t.buf.WriteByte('\n')
	return nil
}

func (t *txtWriter) finish() ([]byte, error) {
	return t.buf.Bytes(), nil
}

type jsonWriter struct {
	rows []*model.PhoneNumber
}

func (j *jsonWriter) add(n *model.PhoneNumber) error {
	j.rows = append(j.rows, n)
	return nil
}

func (j *jsonWriter) finish() ([]byte, error) {
	if j.rows == nil {
		j.rows = []*model.PhoneNumber{}
	}
	return json.MarshalIndent(j.rows, "", "  ")
}

// docWriter emits a plain tab-separated document that word processors open
// without complaint.
type docWriter struct {
	buf bytes.Buffer
}

func newDocWriter() *docWriter {
	d := &docWriter{}
	d.buf.WriteString(strings.Join(exportHeader, "\t"))
	d.buf.WriteByte('\n')
	return d
}

func (d *docWriter) add(n *model.PhoneNumber) error {
	d.buf.WriteString(strings.Join(rowFor(n), "\t"))
	d.buf.WriteByte('\n')
	return nil
}

func (d *docWriter) finish() ([]byte, error) {
	return d.buf.Bytes(), nil
}

type xlsxWriter struct {
	file *excelize.File
	row  int
}

func newXLSXWriter() *xlsxWriter {
	x := &xlsxWriter{file: excelize.NewFile(), row: 1}
	_ = x.writeRow(exportHeader)
	return x
}

func (x *xlsxWriter) add(n *model.PhoneNumber) error {
	return x.writeRow(rowFor(n))
}

func (x *xlsxWriter) writeRow(values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := x.file.SetSheetRow("Sheet1", cell, &row); err != nil {
		return err
	}
	x.row++
	return nil
}

func (x *xlsxWriter) finish() ([]byte, error) {
	defer func() {
		_ = x.file.Close()
	}()
	buf, err := x.file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rowFor(n *model.PhoneNumber) []string {
	return []string{n.Number, n.Carrier, n.LineType, n.Country, string(n.Validation)}
}
