package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/core"
	"github.com/m1guelpf/dollar-auction/custody"
	"github.com/m1guelpf/dollar-auction/journal"
	"github.com/m1guelpf/dollar-auction/metrics"
)

var (
	errRateLimited = errors.New("bid rate limit exceeded")
	errBadRequest  = errors.New("bad request")
)

// errorCode maps err to a wire code. Auction errors take precedence since
// refund failures wrap ledger errors.
func errorCode(err error) string {
	code := core.ErrorCode(err)
	if code != "internal" {
		return code
	}
	switch {
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, custody.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, custody.ErrAccountFrozen):
		return "account_frozen"
	case errors.Is(err, journal.ErrNoReceipt):
		return "no_receipt"
	case errors.Is(err, errBadRequest):
		return "bad_request"
	}
	return code
}

// respond builds the common response part and records the request metric.
func (s *AuctionServer) respond(reqType string, start time.Time, err error, message string) auctionapi.Response {
	elapsed := time.Since(start)
	resp := auctionapi.Response{
		Type:           reqType + "_response",
		Success:        err == nil,
		Message:        message,
		ProcessingTime: elapsed.Milliseconds(),
	}
	if err != nil {
		resp.Message = err.Error()
		resp.ErrorCode = errorCode(err)
		s.log.Warn("request failed", "type", reqType, "code", resp.ErrorCode, "err", err)
	}
	metrics.RecordRequest(reqType, resp.ErrorCode, elapsed)
	return resp
}

func (s *AuctionServer) fail(reqType string, start time.Time, err error) auctionapi.Response {
	return s.respond(reqType, start, err, "")
}

func (s *AuctionServer) handleDeposit(ctx context.Context, req auctionapi.DepositRequest) auctionapi.DepositResponse {
	start := time.Now()
	tx, err := s.ledger.Deposit(ctx, req.Account, req.Amount)
	if err != nil {
		return auctionapi.DepositResponse{Response: s.fail(auctionapi.TypeDeposit, start, err)}
	}
	return auctionapi.DepositResponse{
		Response: s.respond(auctionapi.TypeDeposit, start, nil, fmt.Sprintf("Deposited %s", req.Amount)),
		Balance:  tx.BalanceAfter,
	}
}

// withCharge takes amount from who for the duration of call and returns it
// if call fails.
func (s *AuctionServer) withCharge(ctx context.Context, who core.Identity, amount decimal.Decimal, call func() error) error {
	charge, err := s.ledger.Charge(ctx, who, amount)
	if err != nil {
		return err
	}
	if err := call(); err != nil {
		if _, releaseErr := s.ledger.Release(ctx, charge.ID); releaseErr != nil {
			s.log.Error("failed to release charge", "charge", charge.ID, "account", string(who), "err", releaseErr)
		}
		return err
	}
	s.ledger.Settle(charge.ID)
	return nil
}

func (s *AuctionServer) handleInitialize(ctx context.Context, req auctionapi.InitializeRequest) auctionapi.Response {
	start := time.Now()
	err := s.withCharge(ctx, req.Caller, req.Value, func() error {
		return s.auction.Initialize(ctx, req.Caller, req.Value)
	})
	if err != nil {
		return s.fail(auctionapi.TypeInitialize, start, err)
	}
	return s.respond(auctionapi.TypeInitialize, start, nil,
		fmt.Sprintf("Auction open until %s", s.auction.Deadline().UTC().Format(time.RFC3339)))
}

func (s *AuctionServer) handleBid(ctx context.Context, req auctionapi.BidRequest) auctionapi.BidResponse {
	start := time.Now()
	if !s.limiter.Allow(req.Bidder) {
		metrics.RecordRateLimited()
		return auctionapi.BidResponse{Response: s.fail(auctionapi.TypeBid, start, errRateLimited)}
	}

	var result core.BidResult
	err := s.withCharge(ctx, req.Bidder, req.Amount, func() error {
		var err error
		result, err = s.auction.Bid(ctx, req.Bidder, req.Amount)
		return err
	})
	if err != nil {
		return auctionapi.BidResponse{Response: s.fail(auctionapi.TypeBid, start, err)}
	}
	return auctionapi.BidResponse{
		Response: s.respond(auctionapi.TypeBid, start, nil, fmt.Sprintf("Bid %s accepted", req.Amount)),
		Result:   &result,
	}
}

func (s *AuctionServer) handleSettle(ctx context.Context) auctionapi.SettleResponse {
	start := time.Now()
	settlement, err := s.auction.Settle(ctx)
	if err != nil {
		return auctionapi.SettleResponse{Response: s.fail(auctionapi.TypeSettle, start, err)}
	}

	resp := auctionapi.SettleResponse{Settlement: &settlement}
	message := "Auction settled"

	// The settlement is final even if the receipt cannot be produced.
	issued, err := s.issueReceipt(ctx, settlement)
	if err != nil {
		s.log.Error("failed to issue settlement receipt", "auction", settlement.AuctionID, "err", err)
		message = "Auction settled; receipt unavailable"
	} else {
		resp.Receipt = issued.COSE.EncodeBase64()
		resp.ReceiptDigest = issued.Digest
		if gz, err := issued.COSE.CompressGzip(); err == nil {
			resp.ReceiptCompressed = gz
		}
		if len(issued.Attestation) > 0 {
			resp.Attestation = issued.Attestation.EncodeBase64()
		}
	}

	resp.Response = s.respond(auctionapi.TypeSettle, start, nil, message)
	return resp
}

// issueReceipt signs the settlement, attests it when the NSM is available and
// stores it.
func (s *AuctionServer) issueReceipt(ctx context.Context, settlement core.Settlement) (*issuedReceipt, error) {
	receipt := auctionapi.NewSettlementReceipt(settlement)
	digest, err := receipt.Digest()
	if err != nil {
		return nil, err
	}
	signed, err := SignReceipt(s.keyManager, receipt)
	if err != nil {
		return nil, err
	}

	issued := &issuedReceipt{
		AuctionID: settlement.AuctionID,
		Digest:    digest,
		COSE:      signed,
	}

	if s.attester != nil {
		attester, err := s.attester()
		if err != nil {
			s.log.Info("receipt not attested", "reason", err)
		} else if issued.Attestation, err = GenerateReceiptAttestation(attester, s.keyManager, receipt, digest); err != nil {
			s.log.Error("receipt attestation failed", "err", err)
		}
	}

	s.receipt.Store(issued)
	if s.journal != nil {
		if err := s.journal.RecordReceipt(ctx, issued.AuctionID, issued.Digest, issued.COSE); err != nil {
			s.log.Error("failed to journal receipt", "auction", issued.AuctionID, "err", err)
		}
	}
	return issued, nil
}

func (s *AuctionServer) handleWithdraw(ctx context.Context, req auctionapi.WithdrawRequest) auctionapi.WithdrawResponse {
	start := time.Now()
	amount, err := s.auction.Withdraw(ctx, req.Account)
	if err != nil {
		return auctionapi.WithdrawResponse{Response: s.fail(auctionapi.TypeWithdraw, start, err)}
	}
	return auctionapi.WithdrawResponse{
		Response: s.respond(auctionapi.TypeWithdraw, start, nil, fmt.Sprintf("Withdrew %s", amount)),
		Amount:   amount,
	}
}

func (s *AuctionServer) handleState() auctionapi.StateResponse {
	start := time.Now()
	snap := s.auction.Snapshot()
	return auctionapi.StateResponse{
		Response: s.respond(auctionapi.TypeState, start, nil, snap.Phase.String()),
		Snapshot: &snap,
	}
}

func (s *AuctionServer) handleReceipt(ctx context.Context) auctionapi.ReceiptResponse {
	start := time.Now()
	digest, cose, err := s.Receipt(ctx, s.auction.ID())
	if err != nil {
		return auctionapi.ReceiptResponse{Response: s.fail(auctionapi.TypeReceipt, start, err)}
	}
	return auctionapi.ReceiptResponse{
		Response:      s.respond(auctionapi.TypeReceipt, start, nil, "Settlement receipt"),
		Receipt:       auctionapi.ReceiptCOSE(cose).EncodeBase64(),
		ReceiptDigest: digest,
	}
}
