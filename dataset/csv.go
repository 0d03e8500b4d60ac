package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// CSVProvider reads a local CSV file with a header row, such as the PaySim
// export. The name passed to Load is only used for logging.
type CSVProvider struct {
	path   string
	logger log.Logger
}

// NewCSVProvider creates a provider for the file at path.
func NewCSVProvider(path string, logger log.Logger) *CSVProvider {
	if logger == nil {
		logger = log.GetLoggerWithName("dataset")
	}
	return &CSVProvider{path: path, logger: logger}
}

// Load reads up to limit data rows. A limit <= 0 reads the whole file.
func (p *CSVProvider) Load(ctx context.Context, name string, limit int) (*Frame, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p.path)
	}
	defer f.Close()

	p.logger.Info("Loading dataset", log.DatasetKey, name, log.SourceKey, "csv", "path", p.path)
	frame, err := ReadCSV(ctx, f, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p.path)
	}
	p.logger.Info("Dataset loaded", log.DatasetKey, name, log.SamplesKey, frame.Len())
	return frame, nil
}

// ReadCSV parses CSV data with a header row. Known PaySim columns use their
// schema kind; other columns are numeric when the first data row parses as a
// number.
func ReadCSV(ctx context.Context, r io.Reader, limit int) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return NewFrame(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var builder *frameBuilder
	rows := 0
	for limit <= 0 || rows < limit {
		if rows%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", rows+2)
		}

		if builder == nil {
			schema := make([]Column, len(names))
			for i, name := range names {
				schema[i] = Column{Name: name, Kind: kindOf(name, record[i])}
			}
			capacity := limit
			if capacity <= 0 {
				capacity = 1024
			}
			builder = newFrameBuilder(schema, capacity)
		}

		for i, col := range builder.schema {
			if col.Kind == String {
				builder.appendString(i, record[i])
				continue
			}
			v, err := parseDecimal(col.Name, record[i])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", rows+2)
			}
			builder.appendNumeric(i, v)
		}
		rows++
	}

	if builder == nil {
		frame := NewFrame()
		for _, name := range names {
			if err := frame.AddStrings(name, []string{}); err != nil {
				return nil, err
			}
		}
		return frame, nil
	}
	return builder.frame()
}
