package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pipeline-engine/internal/model"
)

func drain(t *testing.T, stream *RecordStream) []model.Record {
	t.Helper()
	var recs []model.Record
	for rec, err := range stream.Records {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestAPIExtractPageNumber(t *testing.T) {
	// 7 rows served in pages of 3; the short last page ends the stream.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "3", r.URL.Query().Get("per_page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		start := (page - 1) * 3
		var rows []map[string]interface{}
		for i := start; i < start+3 && i < 7; i++ {
			rows = append(rows, map[string]interface{}{"id": i + 1})
		}
		json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:     model.SourceAPI,
		Mode:     model.LoadFull,
		Location: server.URL,
		Pagination: &model.Pagination{
			Type:     model.PaginationPageNumber,
			PageSize: 3,
		},
	}
	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, nil)
	require.NoError(t, err)

	recs := drain(t, stream)
	require.Len(t, recs, 7)
	require.EqualValues(t, 1, recs[0]["id"])
	require.NotEmpty(t, recs[0][ExtractedAtField])
}

func TestAPIExtractAuthAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		require.Equal(t, "v1", r.Header.Get("X-Custom"))
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:      model.SourceAPI,
		Mode:      model.LoadFull,
		Location:  server.URL,
		AuthToken: "sekrit",
		Headers:   map[string]string{"X-Custom": "v1"},
	}
	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, drain(t, stream), 1)
}

func TestAPIExtractDataSelectorAndCursorSkip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [
			{"id": 1, "meta": {"updatedAt": "2026-01-01T00:00:00Z"}},
			{"id": 2, "meta": {"updatedAt": "2026-02-01T00:00:00Z"}},
			{"id": 3, "meta": {"updatedAt": "2026-03-01T00:00:00Z"}}
		]}`)
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:         model.SourceAPI,
		Mode:         model.LoadIncremental,
		Location:     server.URL,
		DataSelector: "data",
		Incremental:  &model.Incremental{CursorField: "meta.updatedAt"},
	}

	bound, err := time.Parse(time.RFC3339, "2026-01-15T00:00:00Z")
	require.NoError(t, err)
	cursor := &model.CursorValue{Field: "meta__updatedAt", Time: &bound, Raw: "2026-01-15T00:00:00Z"}

	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, cursor)
	require.NoError(t, err)
	require.Equal(t, "meta__updatedAt", stream.CursorField)

	recs := drain(t, stream)
	require.Len(t, recs, 2)
	// The nested cursor value is copied to the flattened top-level field.
	require.Equal(t, "2026-02-01T00:00:00Z", recs[0]["meta__updatedAt"])
	require.EqualValues(t, 2, recs[0]["id"])
}

func TestAPIExtractKeepsRowAtInitialCursorValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "updated_at": "1900-01-01T00:00:00Z"},
			{"id": 2, "updated_at": "2026-01-01T00:00:00Z"}
		]`)
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:        model.SourceAPI,
		Mode:        model.LoadIncremental,
		Location:    server.URL,
		Incremental: &model.Incremental{CursorField: "updated_at", InitialValue: "1900-01-01T00:00:00Z"},
	}

	bound, err := time.Parse(time.RFC3339, "1900-01-01T00:00:00Z")
	require.NoError(t, err)
	cursor := &model.CursorValue{Field: "updated_at", Time: &bound, Raw: "1900-01-01T00:00:00Z", Inclusive: true}

	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, cursor)
	require.NoError(t, err)

	// The first run's bound is inclusive: a row dated exactly on the
	// configured initial value has never been loaded and must come through.
	recs := drain(t, stream)
	require.Len(t, recs, 2)
	require.EqualValues(t, 1, recs[0]["id"])
}

func TestAPIExtractCursorPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"items": [{"id": 1}, {"id": 2}], "meta": {"next": "tok-2"}}`)
		case "tok-2":
			fmt.Fprint(w, `{"items": [{"id": 3}, {"id": 4}], "meta": {"next": ""}}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:         model.SourceAPI,
		Mode:         model.LoadFull,
		Location:     server.URL,
		DataSelector: "items",
		Pagination: &model.Pagination{
			Type:       model.PaginationCursor,
			PageSize:   2,
			CursorPath: "meta.next",
		},
	}
	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, nil)
	require.NoError(t, err)

	recs := drain(t, stream)
	require.Len(t, recs, 4)
	require.EqualValues(t, 4, recs[3]["id"])
}

func TestAPIExtractMaxPages(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": 1}, {"id": 2}})
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:     model.SourceAPI,
		Mode:     model.LoadFull,
		Location: server.URL,
		Pagination: &model.Pagination{
			Type:     model.PaginationPageNumber,
			PageSize: 2,
			MaxPages: 3,
		},
	}
	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, nil)
	require.NoError(t, err)

	recs := drain(t, stream)
	require.Len(t, recs, 6)
	require.EqualValues(t, 3, requests.Load())
}

func TestAPIExtractRetryBudget(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := model.SourceConfig{
		Kind:     model.SourceAPI,
		Mode:     model.LoadFull,
		Location: server.URL,
	}
	stream, err := NewAPIExtractor().Extract(context.Background(), cfg, nil)
	require.NoError(t, err)

	var streamErr error
	for _, err := range stream.Records {
		if err != nil {
			streamErr = err
			break
		}
	}
	require.Error(t, streamErr)
	require.Equal(t, model.ErrConnectivity, model.KindOf(streamErr))
	require.EqualValues(t, maxAttempts, requests.Load())
}

func TestResolveUnknownKind(t *testing.T) {
	_, err := Resolve(model.SourceKind("ftp"))
	require.Error(t, err)
	require.Equal(t, model.ErrConfig, model.KindOf(err))
}
