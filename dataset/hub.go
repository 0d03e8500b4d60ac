package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// DefaultHubURL is the Hugging Face datasets server.
const DefaultHubURL = "https://datasets-server.huggingface.co"

// hubMaxPage is the largest page the rows endpoint serves.
const hubMaxPage = 100

// HubProvider reads rows from the Hugging Face datasets server
// (GET /rows?dataset=&config=&split=&offset=&length=).
type HubProvider struct {
	baseURL  string
	config   string
	split    string
	pageSize int
	client   *http.Client
	logger   log.Logger
}

// HubOption configures a HubProvider.
type HubOption func(*HubProvider)

// WithHubClient sets the HTTP client.
func WithHubClient(client *http.Client) HubOption {
	return func(h *HubProvider) {
		h.client = client
	}
}

// WithHubSplit sets the dataset config and split (default "default"/"train").
func WithHubSplit(config, split string) HubOption {
	return func(h *HubProvider) {
		h.config = config
		h.split = split
	}
}

// WithHubPageSize sets the rows requested per page, capped at 100.
func WithHubPageSize(n int) HubOption {
	return func(h *HubProvider) {
		h.pageSize = n
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(logger log.Logger) HubOption {
	return func(h *HubProvider) {
		h.logger = logger
	}
}

// NewHubProvider creates a provider for the datasets server at baseURL.
func NewHubProvider(baseURL string, opts ...HubOption) *HubProvider {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	h := &HubProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		config:   "default",
		split:    "train",
		pageSize: hubMaxPage,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   log.GetLoggerWithName("dataset"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.pageSize <= 0 || h.pageSize > hubMaxPage {
		h.pageSize = hubMaxPage
	}
	return h
}

type hubFeature struct {
	Name string `json:"name"`
	Type struct {
		Dtype string `json:"dtype"`
	} `json:"type"`
}

type hubRow struct {
	RowIdx int                    `json:"row_idx"`
	Row    map[string]interface{} `json:"row"`
}

type hubPage struct {
	Features     []hubFeature `json:"features"`
	Rows         []hubRow     `json:"rows"`
	NumRowsTotal int          `json:"num_rows_total"`
}

// Load pages through the rows endpoint until limit rows or the end of the
// split. A limit <= 0 reads the whole split.
func (h *HubProvider) Load(ctx context.Context, name string, limit int) (*Frame, error) {
	logger := h.logger.With(log.DatasetKey, name, log.SourceKey, "hub")
	logger.Info("Loading dataset", "limit", limit)

	var (
		builder *frameBuilder
		total   = -1
		offset  = 0
	)
	for {
		want := h.pageSize
		if limit > 0 && limit-offset < want {
			want = limit - offset
		}
		if want <= 0 || (total >= 0 && offset >= total) {
			break
		}

		page, err := h.fetchPage(ctx, name, offset, want)
		if err != nil {
			return nil, err
		}
		if builder == nil {
			schema := hubSchema(page)
			capacity := limit
			if capacity <= 0 || (page.NumRowsTotal > 0 && page.NumRowsTotal < capacity) {
				capacity = page.NumRowsTotal
			}
			builder = newFrameBuilder(schema, capacity)
		}
		total = page.NumRowsTotal
		if len(page.Rows) == 0 {
			break
		}
		for _, row := range page.Rows {
			if err := appendRow(builder, row.Row); err != nil {
				return nil, errors.Wrapf(err, "row %d", row.RowIdx)
			}
		}
		offset += len(page.Rows)
	}

	if builder == nil {
		return NewFrame(), nil
	}
	frame, err := builder.frame()
	if err != nil {
		return nil, err
	}
	logger.Info("Dataset loaded", log.SamplesKey, frame.Len())
	return frame, nil
}

func (h *HubProvider) fetchPage(ctx context.Context, name string, offset, length int) (*hubPage, error) {
	q := url.Values{}
	q.Set("dataset", name)
	q.Set("config", h.config)
	q.Set("split", h.split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(length))
	endpoint := h.baseURL + "/rows?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build rows request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch rows offset=%d", offset)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, errors.Newf("datasets server returned %d: %s", resp.StatusCode, msg)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var page hubPage
	if err := dec.Decode(&page); err != nil {
		return nil, errors.Wrap(err, "decode rows response")
	}
	return &page, nil
}

// hubSchema derives column order and kinds from the features list, falling
// back to the first row when the server omits it.
func hubSchema(page *hubPage) []Column {
	if len(page.Features) > 0 {
		schema := make([]Column, 0, len(page.Features))
		for _, f := range page.Features {
			kind := Numeric
			if f.Type.Dtype == "string" {
				kind = String
			}
			for _, col := range PaySimSchema {
				if col.Name == f.Name {
					kind = col.Kind
				}
			}
			schema = append(schema, Column{Name: f.Name, Kind: kind})
		}
		return schema
	}
	if len(page.Rows) == 0 {
		return nil
	}
	row := page.Rows[0].Row
	schema := make([]Column, 0, len(row))
	for _, key := range sortedKeys(row) {
		schema = append(schema, Column{Name: key, Kind: kindOf(key, row[key])})
	}
	return schema
}

func appendRow(b *frameBuilder, row map[string]interface{}) error {
	for i, col := range b.schema {
		v, ok := row[col.Name]
		if col.Kind == String {
			b.appendString(i, formatCell(v))
			continue
		}
		if !ok {
			return errors.NewValueError("parse "+col.Name, fmt.Sprintf("column %q missing from row", col.Name))
		}
		f, err := parseNumber(col.Name, v)
		if err != nil {
			return err
		}
		b.appendNumeric(i, f)
	}
	return nil
}
