package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"pipeline-engine/internal/model"
	"pipeline-engine/pkg/logger"
	"pipeline-engine/pkg/utils"
)

const (
	defaultPageSize = 100
	// maxAttempts is the fixed adapter-level retry budget per request. After
	// the budget is exhausted the error surfaces; there is no automatic retry
	// beyond it.
	maxAttempts = 3
	retryDelay  = 500 * time.Millisecond
)

// APIExtractor pulls records from a REST endpoint, paging per the configured
// strategy and flattening nested cursor fields into a synthetic top-level
// field so the cursor manager treats all sources uniformly.
type APIExtractor struct {
	client *http.Client
	log    zerolog.Logger
}

func NewAPIExtractor() *APIExtractor {
	return &APIExtractor{
		client: &http.Client{Timeout: 60 * time.Second},
		log:    logger.New("source.api"),
	}
}

func (a *APIExtractor) Kind() model.SourceKind { return model.SourceAPI }

func (a *APIExtractor) Extract(ctx context.Context, cfg model.SourceConfig, cursor *model.CursorValue) (*RecordStream, error) {
	pag := cfg.Pagination
	if pag == nil {
		pag = &model.Pagination{Type: model.PaginationNone}
	}
	pageSize := pag.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var cursorPath, flatField string
	if cfg.Mode == model.LoadIncremental && cfg.Incremental != nil {
		cursorPath = cfg.Incremental.CursorField
		flatField = utils.FlattenKey(cursorPath)
	}

	stream := func(yield func(model.Record, error) bool) {
		page := 1
		offset := 0
		nextCursor := ""

		for {
			reqURL, err := buildPageURL(cfg.Location, pag, page, offset, pageSize, nextCursor)
			if err != nil {
				yield(nil, model.NewError(model.ErrConfig, err))
				return
			}

			body, err := a.get(ctx, reqURL, cfg)
			if err != nil {
				yield(nil, err)
				return
			}

			records, next, err := decodePage(body, cfg.DataSelector, pag)
			if err != nil {
				yield(nil, model.NewError(model.ErrData, err))
				return
			}
			nextCursor = next

			now := time.Now().UTC().Format(time.RFC3339)
			for _, rec := range records {
				rec[ExtractedAtField] = now
				if cursorPath != "" {
					if v, ok := utils.LookupPath(rec, cursorPath); ok {
						rec[flatField] = v
						// Skip rows at or below the watermark.
						if cursor != nil && cursor.Before(v) {
							continue
						}
					}
				}
				if !yield(rec, nil) {
					return
				}
			}

			// Adapter-reported end of stream is authoritative: a short or
			// empty page means no more data.
			if pag.Type == model.PaginationNone || len(records) == 0 || len(records) < pageSize {
				return
			}
			if pag.Type == model.PaginationCursor && nextCursor == "" {
				return
			}
			page++
			offset += len(records)
			if pag.MaxPages > 0 && page > pag.MaxPages {
				return
			}
		}
	}

	return &RecordStream{Records: stream, CursorField: flatField}, nil
}

// get issues one request with the fixed retry budget. Non-2xx responses and
// transport errors count against the budget; the last error surfaces.
func (a *APIExtractor) get(ctx context.Context, reqURL string, cfg model.SourceConfig) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, model.NewError(model.ErrCancelled, ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, model.NewError(model.ErrConfig, err)
		}
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}
		if cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, model.NewError(model.ErrCancelled, ctx.Err())
			}
			lastErr = err
			a.log.Warn().Err(err).Int("attempt", attempt).Str("url", reqURL).Msg("request failed")
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("unexpected status %d from %s", resp.StatusCode, reqURL)
			a.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Str("url", reqURL).Msg("non-2xx response")
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		return body, nil
	}
	return nil, model.Errorf(model.ErrConnectivity, "giving up after %d attempts: %v", maxAttempts, lastErr)
}

func buildPageURL(base string, pag *model.Pagination, page, offset, pageSize int, cursor string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", base, err)
	}
	q := u.Query()
	switch pag.Type {
	case model.PaginationPageNumber:
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(pageSize))
	case model.PaginationOffset:
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(pageSize))
	case model.PaginationCursor:
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		q.Set("limit", strconv.Itoa(pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodePage extracts the record slice from a response body, honoring the
// optional data selector (envelope key) and the cursor path for cursor paging.
func decodePage(body []byte, selector string, pag *model.Pagination) ([]model.Record, string, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}

	nextCursor := ""
	if pag.Type == model.PaginationCursor && pag.CursorPath != "" {
		if envelope, ok := raw.(map[string]interface{}); ok {
			if v, found := utils.LookupPath(envelope, pag.CursorPath); found {
				nextCursor = fmt.Sprintf("%v", v)
			}
		}
	}

	payload := raw
	if selector != "" {
		envelope, ok := raw.(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("data selector %q set but response is not an object", selector)
		}
		payload, ok = utils.LookupPath(envelope, selector)
		if !ok {
			return nil, "", fmt.Errorf("data selector %q not found in response", selector)
		}
	}

	switch data := payload.(type) {
	case []interface{}:
		records := make([]model.Record, 0, len(data))
		for _, item := range data {
			if m, ok := item.(map[string]interface{}); ok {
				records = append(records, model.Record(m))
			}
		}
		return records, nextCursor, nil
	case map[string]interface{}:
		return []model.Record{model.Record(data)}, nextCursor, nil
	case nil:
		return nil, nextCursor, nil
	default:
		return nil, "", fmt.Errorf("unexpected response shape %T", payload)
	}
}
