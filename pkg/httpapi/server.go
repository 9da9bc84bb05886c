package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

// Persistence is the subset of persistence.Service the API needs.
type Persistence interface {
	Get() model.Deployment
	Save(ctx context.Context, deployment model.Deployment) error
}

// ClusterState is the subset of clusterstate.Service the API needs.
type ClusterState interface {
	AsDeployment() model.Deployment
}

// Server serves the v1 HTTP+JSON API (spec.md §4.4).
type Server struct {
	persistence  Persistence
	clusterState ClusterState
	validator    *validator
	apiVersion   string
	newDatasetID func() string

	router *mux.Router
}

// NewServer builds a Server backed by persistence and clusterState.
// apiVersion is the semver string returned from GET /version.
func NewServer(persistence Persistence, clusterState ClusterState, apiVersion string) (*Server, error) {
	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build httpapi server: %w", err)
	}

	s := &Server{
		persistence:  persistence,
		clusterState: clusterState,
		validator:    v,
		apiVersion:   apiVersion,
		newDatasetID: uuid.NewString,
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metricsMiddleware)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, fmt.Sprintf("No such resource: %s", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s is not supported for %s", r.Method, r.URL.Path))
	})

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	v1.HandleFunc("/configuration/datasets", s.handleCreateDataset).Methods(http.MethodPost)
	v1.HandleFunc("/configuration/datasets", s.handleListConfiguredDatasets).Methods(http.MethodGet)
	v1.HandleFunc("/configuration/datasets/{dataset_id}", s.handleGetConfiguredDataset).Methods(http.MethodGet)
	v1.HandleFunc("/configuration/datasets/{dataset_id}", s.handleDeleteDataset).Methods(http.MethodDelete)
	v1.HandleFunc("/state/datasets", s.handleListStateDatasets).Methods(http.MethodGet)

	metrics.RegisterComponent("httpapi", true, "")
	return router
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(route))
		metrics.APIRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{Flocker: s.apiVersion})
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	if !hasJSONContentType(r) {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json.")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		writeInternalError(w, "read_request_body", err)
		return
	}
	if len(body) > maxRequestBodyBytes {
		writeError(w, http.StatusBadRequest, "Request body too large.")
		return
	}

	// Validation order per spec.md §4.4: schema first, then domain
	// invariants. A schema failure short-circuits before any decode.
	details, err := s.validator.validateDataset(body)
	if err != nil {
		writeInternalError(w, "validate_dataset_schema", err)
		return
	}
	if len(details) > 0 {
		writeSchemaError(w, details)
		return
	}

	var req createDatasetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// The schema already guarantees well-formed JSON; this would
		// only trip on a validator/decoder mismatch.
		writeInternalError(w, "decode_dataset_request", err)
		return
	}

	datasetID := s.newDatasetID()
	if req.DatasetID != nil && *req.DatasetID != "" {
		datasetID = *req.DatasetID
	}

	current := s.persistence.Get()
	if current.HasDatasetIDCaseInsensitive(datasetID) {
		writeConflict(w, "The provided dataset_id is already in use.")
		return
	}

	dataset := model.NewDataset(datasetID, req.MaximumSize, req.Metadata)
	manifestation := model.NewManifestation(dataset, true)

	node, ok := current.Node(req.Primary)
	if !ok {
		node = model.NewNode(req.Primary, nil, nil)
	}
	node = node.WithOtherManifestation(manifestation)
	next := current.UpdateNode(node)

	if err := s.persistence.Save(r.Context(), next); err != nil {
		s.writeSaveError(w, "create_dataset", err)
		return
	}

	log.WithDataset(datasetID).Info().Str("primary", req.Primary).Msg("dataset created")
	writeJSON(w, http.StatusCreated, newDatasetView(req.Primary, manifestation))
}

func (s *Server) handleListConfiguredDatasets(w http.ResponseWriter, r *http.Request) {
	deployment := s.persistence.Get()
	views := make([]datasetView, 0, len(deployment.Nodes))
	for _, n := range deployment.Nodes {
		for _, m := range n.Manifestations() {
			if !m.Primary {
				continue
			}
			views = append(views, newDatasetView(n.Hostname, m))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetConfiguredDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["dataset_id"]
	deployment := s.persistence.Get()
	for _, n := range deployment.Nodes {
		for _, m := range n.Manifestations() {
			if m.Primary && m.Dataset.DatasetID == datasetID {
				writeJSON(w, http.StatusOK, newDatasetView(n.Hostname, m))
				return
			}
		}
	}
	writeNotFound(w, fmt.Sprintf("Dataset not found: %s", datasetID))
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["dataset_id"]
	current := s.persistence.Get()

	var owner model.Node
	found := false
	for _, n := range current.Nodes {
		for _, m := range n.Manifestations() {
			if m.Primary && m.Dataset.DatasetID == datasetID {
				owner = n
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		writeNotFound(w, fmt.Sprintf("Dataset not found: %s", datasetID))
		return
	}

	next := current.UpdateNode(owner.WithoutManifestation(datasetID))
	if err := s.persistence.Save(r.Context(), next); err != nil {
		s.writeSaveError(w, "delete_dataset", err)
		return
	}

	log.WithDataset(datasetID).Info().Msg("dataset deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListStateDatasets(w http.ResponseWriter, r *http.Request) {
	deployment := s.clusterState.AsDeployment()
	views := make([]datasetView, 0, len(deployment.Nodes))
	for _, n := range deployment.Nodes {
		for _, m := range n.Manifestations() {
			if !m.Primary {
				continue
			}
			views = append(views, newDatasetView(n.Hostname, m))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) writeSaveError(w http.ResponseWriter, op string, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var cerr *model.ConflictError
	if errors.As(err, &cerr) {
		writeConflict(w, cerr.Error())
		return
	}
	writeInternalError(w, op, err)
}

func hasJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "application/json")
}
