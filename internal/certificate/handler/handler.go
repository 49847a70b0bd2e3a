package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vaxledger/internal/certificate/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/httputil"
	"vaxledger/pkg/platform/middleware/auth"
	"vaxledger/pkg/requestcontext"
)

type Service interface {
	Issue(ctx context.Context, childID id.ChildID, typ models.Type) (*models.IssueResult, error)
	Anchor(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	Verify(ctx context.Context, certID id.CertificateID) (*models.VerifyResult, error)
	Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	ListForChild(ctx context.Context, childID id.ChildID) ([]models.Certificate, error)
	Artifact(ctx context.Context, certID id.CertificateID) ([]byte, error)
}

type Handler struct {
	svc        Service
	logger     *slog.Logger
	writeRoles []string
}

type Option func(*Handler)

// WithWriteRoles restricts issuing, anchoring and verifying to the given roles.
func WithWriteRoles(roles ...string) Option {
	return func(h *Handler) {
		h.writeRoles = roles
	}
}

func New(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	write := r
	if len(h.writeRoles) > 0 {
		write = r.With(auth.RequireRole(h.logger, h.writeRoles...))
	}
	write.Post("/children/{childID}/certificates/{type}", h.HandleIssue)
	write.Post("/certificates/{certID}/anchor", h.HandleAnchor)
	write.Post("/certificates/{certID}/verify", h.HandleVerify)
	r.Get("/children/{childID}/certificates", h.HandleList)
	r.Get("/certificates/{certID}", h.HandleGet)
}

type LedgerRefResponse struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

type CertificateResponse struct {
	ID             string             `json:"id"`
	ChildID        string             `json:"child_id"`
	Type           string             `json:"type"`
	Status         string             `json:"status"`
	ContentHash    string             `json:"content_hash,omitempty"`
	ContentURI     string             `json:"content_uri,omitempty"`
	CompletionRate int                `json:"completion_rate"`
	Verified       bool               `json:"verified"`
	LedgerRef      *LedgerRefResponse `json:"ledger_ref,omitempty"`
	IssuedAt       time.Time          `json:"issued_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type IssueResponse struct {
	Eligible    bool                 `json:"eligible"`
	Reason      string               `json:"reason"`
	Duplicate   bool                 `json:"duplicate"`
	Certificate *CertificateResponse `json:"certificate,omitempty"`
}

type VerifyResponse struct {
	Verified    bool                `json:"verified"`
	Reason      string              `json:"reason"`
	Certificate CertificateResponse `json:"certificate"`
}

func toCertificateResponse(c *models.Certificate) CertificateResponse {
	resp := CertificateResponse{
		ID:             c.ID.String(),
		ChildID:        c.ChildID.String(),
		Type:           string(c.Type),
		Status:         string(c.Status),
		ContentHash:    c.ContentHash,
		ContentURI:     c.ContentURI,
		CompletionRate: c.CompletionRate,
		Verified:       c.Verified,
		IssuedAt:       c.IssuedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.LedgerRef != nil {
		resp.LedgerRef = &LedgerRefResponse{
			TxHash:      c.LedgerRef.TxHash,
			BlockNumber: c.LedgerRef.BlockNumber,
			AnchoredAt:  c.LedgerRef.AnchoredAt,
		}
	}
	return resp
}

func wantsPNG(r *http.Request) bool {
	return r.URL.Query().Get("format") == "png"
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleIssue returns 201 for a new certificate and 200 for a duplicate or an
// ineligible child. With ?format=png a freshly rendered artifact is returned
// as the body.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	typ, err := models.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.svc.Issue(ctx, childID, typ)
	if err != nil {
		h.logger.WarnContext(ctx, "certificate issue failed",
			"request_id", requestcontext.RequestID(ctx),
			"type", string(typ),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if wantsPNG(r) && len(result.Artifact) > 0 {
		writePNG(w, result.Artifact)
		return
	}

	resp := IssueResponse{Eligible: result.Eligible, Reason: result.Reason, Duplicate: result.Duplicate}
	status := http.StatusOK
	if result.Record != nil {
		cert := toCertificateResponse(result.Record)
		resp.Certificate = &cert
		if !result.Duplicate {
			status = http.StatusCreated
		}
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.svc.Anchor(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.svc.Verify(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{
		Verified:    result.Verified,
		Reason:      result.Reason,
		Certificate: toCertificateResponse(result.Record),
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certs, err := h.svc.ListForChild(r.Context(), childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := make([]CertificateResponse, 0, len(certs))
	for i := range certs {
		resp = append(resp, toCertificateResponse(&certs[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if wantsPNG(r) {
		data, err := h.svc.Artifact(ctx, certID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writePNG(w, data)
		return
	}
	cert, err := h.svc.Get(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}
