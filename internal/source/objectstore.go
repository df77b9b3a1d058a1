package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"pipeline-engine/internal/model"
	"pipeline-engine/pkg/utils"
)

// ObjectStoreExtractor reads one object location: an http(s) URL or a local
// path. CSV and JSON objects decode into records; anything else becomes a
// single record carrying the raw content. No pagination.
type ObjectStoreExtractor struct {
	Client *http.Client
}

func (o *ObjectStoreExtractor) Kind() model.SourceKind { return model.SourceObjectStore }

func (o *ObjectStoreExtractor) Extract(ctx context.Context, cfg model.SourceConfig, _ *model.CursorValue) (*RecordStream, error) {
	stream := func(yield func(model.Record, error) bool) {
		reader, err := o.openLocation(ctx, cfg.Location)
		if err != nil {
			yield(nil, err)
			return
		}
		defer reader.Close()

		switch objectFormat(cfg.Location) {
		case "csv":
			readCSV(ctx, reader, cfg.Location, yield)
		case "json":
			readJSON(reader, cfg.Location, yield)
		default:
			content, err := io.ReadAll(reader)
			if err != nil {
				yield(nil, model.NewError(model.ErrConnectivity, err))
				return
			}
			yield(model.Record{
				"content":  string(content),
				"location": cfg.Location,
			}, nil)
		}
	}
	return &RecordStream{Records: stream}, nil
}

func (o *ObjectStoreExtractor) openLocation(ctx context.Context, location string) (io.ReadCloser, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		client := o.Client
		if client == nil {
			client = &http.Client{Timeout: 5 * time.Minute}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, model.NewError(model.ErrConfig, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, model.NewError(model.ErrConnectivity, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, model.Errorf(model.ErrConnectivity, "unexpected status %d fetching %s", resp.StatusCode, location)
		}
		return resp.Body, nil
	}

	file, err := os.Open(location)
	if err != nil {
		return nil, model.NewError(model.ErrConnectivity, err)
	}
	return file, nil
}

func objectFormat(location string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(location), ".")) {
	case "csv":
		return "csv"
	case "json":
		return "json"
	}
	return "raw"
}

func readCSV(ctx context.Context, r io.Reader, location string, yield func(model.Record, error) bool) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	headers, err := csvReader.Read()
	if err != nil {
		yield(nil, model.NewError(model.ErrData, fmt.Errorf("read csv header: %w", err)))
		return
	}
	for i, h := range headers {
		headers[i] = strings.ReplaceAll(strings.TrimSpace(h), `"`, "")
	}

	for {
		select {
		case <-ctx.Done():
			yield(nil, model.NewError(model.ErrCancelled, ctx.Err()))
			return
		default:
		}
		row, err := csvReader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, model.NewError(model.ErrData, fmt.Errorf("read csv row: %w", err)))
			return
		}
		rec := make(model.Record, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = utils.ParseValue(row[i])
			}
		}
		if !yield(rec, nil) {
			return
		}
	}
}

func readJSON(r io.Reader, location string, yield func(model.Record, error) bool) {
	body, err := io.ReadAll(r)
	if err != nil {
		yield(nil, model.NewError(model.ErrConnectivity, err))
		return
	}
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		yield(nil, model.NewError(model.ErrData, fmt.Errorf("decode %s: %w", location, err)))
		return
	}
	switch data := raw.(type) {
	case []interface{}:
		for _, item := range data {
			if m, ok := item.(map[string]interface{}); ok {
				if !yield(model.Record(m), nil) {
					return
				}
			}
		}
	case map[string]interface{}:
		yield(model.Record(data), nil)
	default:
		yield(nil, model.Errorf(model.ErrData, "unexpected JSON structure in %s", location))
	}
}
