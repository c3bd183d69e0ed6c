package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stocksim/internal/bus"
	"stocksim/internal/config"
	"stocksim/internal/db"
	"stocksim/internal/handlers"
	"stocksim/internal/jobs"
	"stocksim/internal/models"
	"stocksim/internal/payments"
	"stocksim/internal/services"
	"stocksim/internal/store"
	"stocksim/internal/websocket"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.AppEnv)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	users := store.NewUserStore(database)
	wallets := store.NewWalletStore(database)
	stocks := store.NewStockStore(database)
	purchases := store.NewPurchaseStore(database)
	paymentsStore := store.NewPaymentStore(database)
	events := store.NewEventStore(database)
	auctions := store.NewAuctionStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	gateway := payments.NewHTTPGateway(cfg.GatewayURL)
	broker := bus.NewClient(bus.Options{
		BrokerURL: cfg.BrokerURL,
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
		GroupID:   cfg.GroupID,
	})

	marketSvc := services.NewMarketService(txRunner, stocks, events, broker, hub)
	purchaseSvc := services.NewPurchaseService(txRunner, stocks, wallets, purchases, paymentsStore, events, gateway, broker, hub, cfg.GroupID, cfg.GatewayReturnURL)
	auctionSvc := services.NewAuctionService(txRunner, stocks, auctions, events, broker, cfg.GroupID)
	dispatcher := jobs.NewDispatcher(rdb, stocks)

	registerBusRoutes(broker, marketSvc, purchaseSvc, auctionSvc)
	if err := broker.Connect(); err != nil {
		logger.Fatal("failed to connect broker", zap.Error(err))
	}
	defer broker.Close()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go dispatcher.Run(workerCtx)

	handler := handlers.New(txRunner, cfg, users, wallets, stocks, purchases, events, marketSvc, purchaseSvc, auctionSvc, dispatcher, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("stock exchange API listening", zap.String("addr", server.Addr), zap.String("group", cfg.GroupID))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("shutdown error", zap.Error(err))
	}
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "development" {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}

// registerBusRoutes binds the four shared topics to their services. Handlers
// decode, skip echoes of our own publishes, and hand off; anything they
// return as an error is logged and dropped by the dispatcher.
func registerBusRoutes(broker *bus.Client, marketSvc *services.MarketService, purchaseSvc *services.PurchaseService, auctionSvc *services.AuctionService) {
	ctx := context.Background()

	broker.Handle(bus.TopicUpdates, func(payload []byte) error {
		var ev bus.MarketEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		err := marketSvc.ApplyMarketEvent(ctx, ev)
		if err == services.ErrDuplicateEvent {
			// Redeliveries inside the dedup window are expected.
			return nil
		}
		return err
	})

	broker.Handle(bus.TopicRequests, func(payload []byte) error {
		var req bus.PurchaseRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		if req.GroupID == broker.GroupID() {
			return nil
		}
		err := purchaseSvc.ExternalPurchase(ctx, req.RequestID, req.GroupID, req.Symbol, req.Quantity)
		switch err {
		case nil, services.ErrDuplicateRequest:
			return nil
		case store.ErrSymbolNotFound, store.ErrInsufficientInventory, services.ErrInvalidQuantity:
			// Not sellable on our side; answer the requester explicitly.
			return broker.Publish(bus.TopicValidation, bus.Validation{
				RequestID: req.RequestID,
				GroupID:   broker.GroupID(),
				Status:    models.PurchaseRejected,
				Reason:    err.Error(),
			})
		default:
			return err
		}
	})

	broker.Handle(bus.TopicValidation, func(payload []byte) error {
		var v bus.Validation
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		if v.GroupID == broker.GroupID() {
			return nil
		}
		_, err := purchaseSvc.ApplyValidation(ctx, v)
		if err == store.ErrPurchaseNotFound {
			// Validation for some other group's request.
			return nil
		}
		return err
	})

	broker.Handle(bus.TopicAuctions, func(payload []byte) error {
		var msg bus.Auction
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		switch msg.Type {
		case bus.AuctionOffer:
			return auctionSvc.HandleOffer(ctx, msg)
		case bus.AuctionProposal:
			return auctionSvc.HandleProposal(ctx, msg)
		case bus.AuctionAcceptance, bus.AuctionRejection:
			return auctionSvc.HandleResponse(ctx, msg)
		default:
			zap.L().Warn("unknown auction operation", zap.String("operation", msg.Type))
			return nil
		}
	})
}
