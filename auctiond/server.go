package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/core"
	"github.com/m1guelpf/dollar-auction/custody"
	"github.com/m1guelpf/dollar-auction/httpapi"
	"github.com/m1guelpf/dollar-auction/journal"
	"github.com/m1guelpf/dollar-auction/metrics"
)

// AuctionServer answers JSON requests for a single auction over vsock or TCP.
type AuctionServer struct {
	cfg        Config
	log        *slog.Logger
	auction    *core.Auction
	ledger     *custody.Ledger
	keyManager *KeyManager
	limiter    *BidLimiter

	// Optional collaborators.
	journal  *journal.Journal
	attester func() (EnclaveAttester, error)

	receipt atomic.Pointer[issuedReceipt]
}

// NewAuctionServer wires a server around an auction and the ledger that funds it.
func NewAuctionServer(cfg Config, log *slog.Logger, auction *core.Auction, ledger *custody.Ledger, keyManager *KeyManager) *AuctionServer {
	return &AuctionServer{
		cfg:        cfg,
		log:        log,
		auction:    auction,
		ledger:     ledger,
		keyManager: keyManager,
		limiter:    NewBidLimiter(cfg.BidRate, cfg.BidBurst),
	}
}

// Listen opens the listener selected by the transport setting.
func (s *AuctionServer) Listen() (net.Listener, error) {
	switch s.cfg.Transport {
	case "tcp":
		listener, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		s.log.Info("auction server listening", "transport", "tcp", "addr", listener.Addr().String())
		return listener, nil
	default:
		listener, err := vsock.Listen(s.cfg.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		s.log.Info("auction server listening", "transport", "vsock", "port", s.cfg.Port)
		return listener, nil
	}
}

// Serve accepts connections until the listener is closed. Each connection is
// handled by one worker; when all workers are busy it is rejected.
func (s *AuctionServer) Serve(listener net.Listener) error {
	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	s.log.Info("worker pool initialized", "max_workers", s.cfg.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("failed to accept connection", "err", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			s.log.Warn("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error("failed to close rejected connection", "err", err)
			}
		}
	}
}

func (s *AuctionServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in handleConnection", "panic", r)
		}
		if err := conn.Close(); err != nil {
			s.log.Debug("failed to close connection", "err", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		s.log.Error("failed to read request", "err", err)
		return
	}

	response := s.dispatch(context.Background(), buf.Bytes())

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.log.Error("failed to encode response", "err", err)
	}
}

// dispatch decodes one request and runs its handler.
func (s *AuctionServer) dispatch(ctx context.Context, raw []byte) any {
	var env auctionapi.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return s.fail("error", time.Now(), fmt.Errorf("%w: %v", errBadRequest, err))
	}
	s.log.Debug("received request", "type", env.Type)

	switch env.Type {
	case auctionapi.TypePing:
		return map[string]any{
			"type":       "pong",
			"message":    "auction server is healthy",
			"auction_id": s.auction.ID(),
			"timestamp":  time.Now().Unix(),
		}
	case auctionapi.TypeDeposit:
		var req auctionapi.DepositRequest
		if err := decodeRequest(raw, &req); err != nil {
			return s.fail(env.Type, time.Now(), err)
		}
		return s.handleDeposit(ctx, req)
	case auctionapi.TypeInitialize:
		var req auctionapi.InitializeRequest
		if err := decodeRequest(raw, &req); err != nil {
			return s.fail(env.Type, time.Now(), err)
		}
		return s.handleInitialize(ctx, req)
	case auctionapi.TypeBid:
		var req auctionapi.BidRequest
		if err := decodeRequest(raw, &req); err != nil {
			return s.fail(env.Type, time.Now(), err)
		}
		return s.handleBid(ctx, req)
	case auctionapi.TypeSettle:
		return s.handleSettle(ctx)
	case auctionapi.TypeWithdraw:
		var req auctionapi.WithdrawRequest
		if err := decodeRequest(raw, &req); err != nil {
			return s.fail(env.Type, time.Now(), err)
		}
		return s.handleWithdraw(ctx, req)
	case auctionapi.TypeState:
		return s.handleState()
	case auctionapi.TypeReceipt:
		return s.handleReceipt(ctx)
	case auctionapi.TypeOperator:
		start := time.Now()
		resp := HandleOperatorKeyRequest(s.keyManager)
		metrics.RecordRequest(env.Type, resp.ErrorCode, time.Since(start))
		return resp
	default:
		return s.fail("error", time.Now(), fmt.Errorf("%w: unknown request type %q", errBadRequest, env.Type))
	}
}

func decodeRequest(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// Receipt returns the signed receipt of auctionID, from memory or the journal.
func (s *AuctionServer) Receipt(ctx context.Context, auctionID string) (string, []byte, error) {
	if r := s.receipt.Load(); r != nil && r.AuctionID == auctionID {
		return r.Digest, r.COSE, nil
	}
	if s.journal != nil {
		return s.journal.Receipt(ctx, auctionID)
	}
	return "", nil, fmt.Errorf("%w for auction %s", journal.ErrNoReceipt, auctionID)
}

func main() {
	if err := run(); err != nil {
		slog.Error("auctiond exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	params, err := LoadParamsFile(cfg.ParamsPath, cfg)
	if err != nil {
		return fmt.Errorf("failed to load auction params: %w", err)
	}

	ledger := custody.NewLedger()
	observers := core.Observers{loggingObserver{log: log}, metrics.Observer{}}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Error("failed to close journal", "err", err)
			}
		}()
		observers = append(observers, j)
	}

	auction, err := core.New(params, ledger,
		core.WithObserver(observers),
		core.WithAuctionID(uuid.NewString()),
	)
	if err != nil {
		return err
	}
	log.Info("auction created",
		"auction", auction.ID(),
		"prize", params.Prize.String(),
		"min_increment", params.MinIncrement.String(),
		"duration", params.AuctionDuration,
		"anti_snipe_window", params.AntiSnipeWindow,
		"refund_policy", params.RefundPolicy.String(),
	)

	keyManager, err := LoadKeyManager(cfg.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}
	log.Info("receipt signing key ready", "key_id", fmt.Sprintf("%x", keyManager.KeyID()))

	server := NewAuctionServer(cfg, log, auction, ledger, keyManager)
	server.journal = j
	server.attester = getEnclaveAttester

	if cfg.AdminAddr != "" {
		routes := &httpapi.AuctionRoutes{Auction: auction, Receipts: server}
		if j != nil {
			routes.Events = j
		}
		admin := httpapi.New(&httpapi.Config{
			ListenAddr:               cfg.AdminAddr,
			Log:                      log,
			GracefulShutdownDuration: 5 * time.Second,
			ReadTimeout:              cfg.ReadTimeout,
			WriteTimeout:             cfg.ReadTimeout,
		}, routes)
		admin.RunInBackground()
		defer admin.Shutdown()
	}

	listener, err := server.Listen()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := listener.Close(); err != nil {
			log.Error("failed to close listener", "err", err)
		}
	}()

	return server.Serve(listener)
}
