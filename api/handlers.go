// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/fanout"
	"github.com/poiesic/crossfeed/query"
	"github.com/poiesic/crossfeed/reconcile"
	"github.com/poiesic/crossfeed/storage"
	"github.com/poiesic/crossfeed/stores/search"
)

const maxBodySize = 1 << 20 // 1MB

// Deps carries the wired components the handlers operate on.
type Deps struct {
	Pipeline    *fanout.Pipeline
	Pool        *fanout.Pool
	Coordinator *query.Coordinator
	Reconciler  *reconcile.Reconciler
	Logger      *slog.Logger
}

// NewHandler builds the HTTP routing table.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "api")
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/feedback", handleIngest(deps))
	r.Post("/feedback/batch", handleBatch(deps))
	r.Get("/feedback/{id}", handleGetFeedback(deps))
	r.Get("/search", handleSearch(deps))
	r.Get("/semantic-search", handleSemanticSearch(deps))
	r.Get("/hybrid-search", handleHybridSearch(deps))
	r.Get("/students/{studentID}/feedback", handleStudentFeedback(deps))
	r.Get("/students/{studentID}/insights", handleInsights(deps))
	r.Get("/students/{studentID}/graph", handleStudentGraph(deps))
	r.Get("/graph/{kind}/{key}", handleEntityGraph(deps))
	r.Get("/reconcile/report", handleReport(deps))
	r.Get("/repair-report", handleReport(deps))
	r.Post("/reconcile/repair", handleRepair(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var record core.FeedbackRecord
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		added, err := deps.Pipeline.Ingest(r.Context(), &record)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "ingest failed: %v", err)
			return
		}

		tasks, err := deps.Pipeline.TaskStatuses(r.Context(), added.Id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading task statuses: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"record":       added,
			"task_targets": targetNames(tasks),
		})
	}
}

type batchRequest struct {
	Records []*core.FeedbackRecord `json:"records"`
}

func handleBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if len(req.Records) == 0 {
			httpError(w, http.StatusBadRequest, "records is required")
			return
		}

		result, err := deps.Pipeline.ProcessBatch(r.Context(), deps.Pool, req.Records)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "batch failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleGetFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid record id")
			return
		}

		record, err := deps.Pipeline.Record(r.Context(), core.ID(id))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "record %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading record: %v", err)
			return
		}

		tasks, err := deps.Pipeline.TaskStatuses(r.Context(), record.Id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading task statuses: %v", err)
			return
		}

		lanes := make(map[string]string, len(tasks))
		for target, task := range tasks {
			lanes[target.String()] = task.Status.String()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"record": record,
			"lanes":  lanes,
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := search.Query{
			Text:   r.URL.Query().Get("q"),
			Equals: map[string]string{},
		}
		for _, field := range []string{"student_id", "teacher_name", "category", "sentiment"} {
			if v := r.URL.Query().Get(field); v != "" {
				q.Equals[field] = v
			}
		}
		q.MinRating = intParam(r, "min_rating")
		q.MaxRating = intParam(r, "max_rating")
		q.Limit = intParam(r, "limit")

		results, err := deps.Coordinator.Search(r.Context(), q)
		if errors.Is(err, query.ErrEmptyQuery) {
			httpError(w, http.StatusBadRequest, "query must have text or at least one filter")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleSemanticSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text := r.URL.Query().Get("q")
		if text == "" {
			httpError(w, http.StatusBadRequest, "q is required")
			return
		}
		k := intParam(r, "k")
		minSimilarity := floatParam(r, "min_similarity")

		resp, err := deps.Coordinator.SemanticSearch(r.Context(), text, k, minSimilarity)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "semantic search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleHybridSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text := r.URL.Query().Get("q")
		if text == "" {
			httpError(w, http.StatusBadRequest, "q is required")
			return
		}

		q := query.HybridQuery{Text: text, K: intParam(r, "k"), Equals: map[string]string{}}
		for _, field := range []string{"student_id", "teacher_name", "category", "sentiment"} {
			if v := r.URL.Query().Get(field); v != "" {
				q.Equals[field] = v
			}
		}
		q.MinRating = intParam(r, "min_rating")
		q.MaxRating = intParam(r, "max_rating")

		resp, err := deps.Coordinator.Hybrid(r.Context(), q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "hybrid search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStudentFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID := chi.URLParam(r, "studentID")
		records, err := deps.Coordinator.StudentFeedback(r.Context(), studentID, intParam(r, "limit"))
		if errors.Is(err, query.ErrStudentRequired) {
			httpError(w, http.StatusBadRequest, "student id is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading student feedback: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	}
}

func handleInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID := chi.URLParam(r, "studentID")
		facts, summary, err := deps.Coordinator.StudentInsights(r.Context(), studentID, intParam(r, "limit"))
		if errors.Is(err, query.ErrStudentRequired) {
			httpError(w, http.StatusBadRequest, "student id is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading insights: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"facts":   facts,
			"summary": summary,
		})
	}
}

func handleStudentGraph(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeNeighborhood(deps, w, r, core.NodeStudent, chi.URLParam(r, "studentID"))
	}
}

func handleEntityGraph(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := core.ParseNodeKind(chi.URLParam(r, "kind"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "unknown node kind %q", chi.URLParam(r, "kind"))
			return
		}
		writeNeighborhood(deps, w, r, kind, chi.URLParam(r, "key"))
	}
}

func writeNeighborhood(deps Deps, w http.ResponseWriter, r *http.Request, kind core.NodeKind, key string) {
	depth := intParam(r, "depth")
	if depth <= 0 {
		depth = 2
	}

	sub, err := deps.Coordinator.Neighborhood(r.Context(), kind, key, depth)
	if errors.Is(err, query.ErrEntityRequired) {
		httpError(w, http.StatusBadRequest, "entity key is required")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "graph query failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func handleReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Reconciler.Report(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "building report: %v", err)
			return
		}

		failed := make(map[string]map[string]int, len(report.Failed))
		for target, byClass := range report.Failed {
			failed[target.String()] = byClass
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"generated_at": report.GeneratedAt,
			"total":        report.Total,
			"failed":       failed,
		})
	}
}

func handleRepair(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repaired, err := deps.Reconciler.Repair(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "repair failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"repaired": repaired})
	}
}

func targetNames(tasks map[core.TargetStore]*storage.TaskRecord) []string {
	names := make([]string, 0, len(tasks))
	for target := range tasks {
		names = append(names, target.String())
	}
	return names
}

func intParam(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func floatParam(r *http.Request, name string) float32 {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
