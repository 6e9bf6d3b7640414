package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/core"
	"github.com/m1guelpf/dollar-auction/journal"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// SnapshotSource exposes the committed auction state.
type SnapshotSource interface {
	Snapshot() core.Snapshot
}

// ReceiptStore loads signed settlement receipts. A missing receipt is
// reported with journal.ErrNoReceipt.
type ReceiptStore interface {
	Receipt(ctx context.Context, auctionID string) (digest string, cose []byte, err error)
}

// EventStore reads journaled auction events.
type EventStore interface {
	Events(ctx context.Context, auctionID string, limit int) ([]core.Event, error)
	Archive(ctx context.Context, auctionID string, w io.Writer) (int, error)
}

// AuctionRoutes serves read-only views of one auction. Receipts and Events
// are optional.
type AuctionRoutes struct {
	Auction  SnapshotSource
	Receipts ReceiptStore
	Events   EventStore
}

// RegisterRoutes implements RouteRegistrar.
func (ar *AuctionRoutes) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/auction", ar.handleAuction)
		if ar.Receipts != nil {
			r.Get("/receipt", ar.handleReceipt)
		}
		if ar.Events != nil {
			r.Get("/events", ar.handleEvents)
			r.Get("/events/archive", ar.handleArchive)
		}
	})
}

func (ar *AuctionRoutes) handleAuction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ar.Auction.Snapshot())
}

func (ar *AuctionRoutes) handleReceipt(w http.ResponseWriter, r *http.Request) {
	auctionID := ar.Auction.Snapshot().AuctionID
	digest, cose, err := ar.Receipts.Receipt(r.Context(), auctionID)
	switch {
	case errors.Is(err, journal.ErrNoReceipt):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, auctionapi.ReceiptResponse{
		Response: auctionapi.Response{
			Type:    "receipt_response",
			Success: true,
			Message: "Settlement receipt",
		},
		Receipt:       auctionapi.ReceiptCOSE(cose).EncodeBase64(),
		ReceiptDigest: digest,
	})
}

func (ar *AuctionRoutes) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := ar.Events.Events(r.Context(), ar.Auction.Snapshot().AuctionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleArchive streams the auction's events as zstd-compressed JSON lines.
func (ar *AuctionRoutes) handleArchive(w http.ResponseWriter, r *http.Request) {
	auctionID := ar.Auction.Snapshot().AuctionID
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+auctionID+".jsonl.zst\"")
	// Headers are already sent, so a failed archive just truncates the body.
	_, _ = ar.Events.Archive(r.Context(), auctionID, w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
