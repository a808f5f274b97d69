// Package api serves the read-only HTTP view of the escrow registry.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrow-backend/core/escrow"
	_ "escrow-backend/docs"
	"escrow-backend/metadata"
	httpmw "escrow-backend/middleware"
	"escrow-backend/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"github.com/swaggo/swag"
)

// Jobs is the orchestrator surface the API reads through.
type Jobs interface {
	CreationFee(ctx context.Context) (*big.Int, error)
	Reconcile(ctx context.Context, id uint64) (escrow.Job, bool, error)
}

// DataAPI handles the query endpoints.
type DataAPI struct {
	registry *registry.Registry
	jobs     Jobs
	docs     *metadata.Documents
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewDataAPI wires the handlers. A nil gatherer disables /metrics.
func NewDataAPI(reg *registry.Registry, jobs Jobs, docs *metadata.Documents, gatherer prometheus.Gatherer, logger *slog.Logger) *DataAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataAPI{registry: reg, jobs: jobs, docs: docs, gatherer: gatherer, logger: logger}
}

// Router returns the chi router for every endpoint.
func (api *DataAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmw.Logging(api.logger))
	r.Use(httpmw.CORS)
	r.Use(httpmw.SecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if api.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/swagger/doc.json", api.handleSwagger)

	r.Route("/api", func(r chi.Router) {
		r.Use(httpmw.RateLimit(600, time.Minute))
		r.Get("/fee", api.HandleGetFee)
		r.Get("/pending", api.HandleListPending)
		r.Get("/jobs", api.HandleListJobs)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", api.HandleGetJob)
			r.Get("/spec", api.HandleGetJobSpec)
			r.Get("/work", api.HandleGetWork)
			r.Get("/qr.png", api.HandleEscrowQR)
		})
	})
	return r
}

// Mount attaches h under pattern, for transports that share the listener.
func Mount(router http.Handler, pattern string, h http.Handler) http.Handler {
	if r, ok := router.(chi.Router); ok {
		r.Mount(pattern, h)
	}
	return router
}

// HandleGetFee godoc
// @Summary Current job creation fee
// @Tags Jobs
// @Produce json
// @Success 200 {object} FeeResponse
// @Failure 503 {object} ErrorResponse
// @Router /fee [get]
func (api *DataAPI) HandleGetFee(w http.ResponseWriter, r *http.Request) {
	fee, err := api.jobs.CreationFee(r.Context())
	if err != nil {
		api.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeeResponse{Fee: escrow.FormatAmount(fee), FeeWei: fee.String()})
}

// HandleListJobs godoc
// @Summary List observed jobs
// @Description Without an address every observed job is returned.
// @Tags Jobs
// @Produce json
// @Param address query string false "Client or freelancer account"
// @Param role query string false "client or freelancer" Enums(client, freelancer)
// @Param status query string false "Only jobs in this status"
// @Success 200 {object} JobsResponse
// @Failure 400 {object} ErrorResponse
// @Router /jobs [get]
func (api *DataAPI) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var jobs []escrow.Job
	if raw := strings.TrimSpace(q.Get("address")); raw != "" {
		if !common.IsHexAddress(raw) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "address is not a hex address"})
			return
		}
		role := escrow.RoleClient
		if rawRole := q.Get("role"); rawRole != "" {
			var ok bool
			if role, ok = escrow.ParseRole(rawRole); !ok {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "role must be client or freelancer"})
				return
			}
		}
		jobs = api.registry.ForAddress(common.HexToAddress(raw), role)
	} else {
		jobs = api.registry.All()
	}

	if raw := q.Get("status"); raw != "" {
		status := escrow.Status(raw)
		if !status.Valid() {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown status " + raw})
			return
		}
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Status() == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []escrow.Job{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Total: len(jobs)})
}

// HandleGetJob godoc
// @Summary Get one job
// @Description Jobs not yet observed are read from the ledger.
// @Tags Jobs
// @Produce json
// @Param id path int true "Job ID"
// @Success 200 {object} JobResponse
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (api *DataAPI) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleGetJobSpec godoc
// @Summary Get the job specification document
// @Tags Documents
// @Produce json
// @Param id path int true "Job ID"
// @Success 200 {object} metadata.JobSpec
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /jobs/{id}/spec [get]
func (api *DataAPI) HandleGetJobSpec(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	spec, err := api.docs.GetJobSpec(r.Context(), job.MetadataHash)
	if err != nil {
		api.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// HandleGetWork godoc
// @Summary Get the submitted work manifest
// @Tags Documents
// @Produce json
// @Param id path int true "Job ID"
// @Success 200 {object} metadata.WorkManifest
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{id}/work [get]
func (api *DataAPI) HandleGetWork(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	hash, ok := job.WorkHash()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("job %d has no submitted work", job.ID)})
		return
	}
	manifest, err := api.docs.GetWork(r.Context(), hash)
	if err != nil {
		api.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// HandleEscrowQR godoc
// @Summary QR code of the escrow address
// @Tags Jobs
// @Produce png
// @Param id path int true "Job ID"
// @Param size query int false "Edge length in pixels" default(256)
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{id}/qr.png [get]
func (api *DataAPI) HandleEscrowQR(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	size := 256
	if raw := r.URL.Query().Get("size"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 64 && v <= 1024 {
			size = v
		}
	}
	body, err := escrowQR(job, size)
	if err != nil {
		api.logger.Error("qr encode failed", "job_id", job.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to render QR code"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(body)
}

// escrowQR encodes an EIP-681 payment URI for the escrow contract.
func escrowQR(job escrow.Job, size int) ([]byte, error) {
	uri := "ethereum:" + job.Escrow.Hex()
	if job.Amount != nil {
		uri += "?value=" + job.Amount.String()
	}
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(size)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// HandleListPending godoc
// @Summary Writes submitted but not yet confirmed
// @Tags Jobs
// @Produce json
// @Success 200 {object} PendingResponse
// @Router /pending [get]
func (api *DataAPI) HandleListPending(w http.ResponseWriter, _ *http.Request) {
	pending := api.registry.Pending()
	items := make([]PendingItem, 0, len(pending))
	for _, p := range pending {
		item := PendingItem{
			ID:        p.ID,
			Action:    p.Action,
			JobID:     p.JobID,
			Escrow:    p.Escrow.Hex(),
			Signer:    p.Signer.Hex(),
			Target:    p.Target,
			StartedAt: p.StartedAt,
		}
		if p.TxHash != (common.Hash{}) {
			item.TxHash = p.TxHash.Hex()
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, PendingResponse{Pending: items, Total: len(items)})
}

func (api *DataAPI) handleSwagger(w http.ResponseWriter, _ *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}

func (api *DataAPI) loadJob(w http.ResponseWriter, r *http.Request) (escrow.Job, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid job id"})
		return escrow.Job{}, false
	}
	if job, ok := api.registry.ByID(id); ok {
		return job, true
	}
	job, found, err := api.jobs.Reconcile(r.Context(), id)
	if err != nil {
		api.writeErr(w, err)
		return escrow.Job{}, false
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("job %d not found", id)})
		return escrow.Job{}, false
	}
	return job, true
}

func (api *DataAPI) writeErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		api.logger.Warn("request failed", "status", code, "err", err)
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Kind: string(escrow.KindOf(err))})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrInvalidTransition), errors.Is(err, escrow.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, escrow.ErrNetwork), errors.Is(err, escrow.ErrStoreUnavailable), errors.Is(err, escrow.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
