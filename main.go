package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quest-reward-system/chain"
	"quest-reward-system/handlers"
	"quest-reward-system/middleware"
	"quest-reward-system/models"
	"quest-reward-system/services"
	"quest-reward-system/tracking"
	"quest-reward-system/utils"
	"quest-reward-system/workers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 25 * 1024 * 1024, // 25MB — proof photos only
	})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Quest{},
		&models.QuestCompletion{},
		&models.ChainTransaction{},
		&models.LeaderboardEntry{},
		&models.ProofPhoto{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// --- Chain settlement client ---
	endpointsEnv := os.Getenv("CHAIN_RPC_ENDPOINTS")
	if endpointsEnv == "" {
		log.Fatal("CHAIN_RPC_ENDPOINTS environment variable not set")
	}
	chainIDEnv := os.Getenv("CHAIN_ID")
	chainID, ok := new(big.Int).SetString(chainIDEnv, 10)
	if !ok {
		log.Fatal("CHAIN_ID environment variable not set or invalid")
	}
	treasuryKey := os.Getenv("REWARD_TREASURY_KEY")
	if treasuryKey == "" {
		log.Fatal("REWARD_TREASURY_KEY environment variable not set")
	}

	settlementClient, err := chain.NewSettlementClient(chain.Config{
		Endpoints:      strings.Split(endpointsEnv, ","),
		ChainID:        chainID,
		TreasuryKeyHex: treasuryKey,
		TokenAddress:   common.HexToAddress(os.Getenv("REWARD_TOKEN_ADDRESS")),
		BadgeAddress:   common.HexToAddress(os.Getenv("BADGE_CONTRACT_ADDRESS")),
	})
	if err != nil {
		log.Fatal("failed to initialize settlement client:", err)
	}

	// --- Services ---
	bus := services.NewBus()
	ledgerService := services.NewLedgerService(db, bus)
	questService := services.NewQuestService(db)
	claimService := services.NewClaimService(db, ledgerService, settlementClient, bus)
	leaderboardService := services.NewLeaderboardService(db, ledgerService)
	leaderboardService.AttachBus(bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Receipt reconciliation worker ---
	reconciler := workers.NewReceiptReconciler(db, settlementClient)
	go workers.PollReceipts(ctx, reconciler, 15*time.Second)

	leaderboardService.StartRefreshScheduler(settlementClient.Cache())

	// --- Routes ---
	trackingHandler := &handlers.TrackingHandler{
		BaseCtx:  ctx,
		Registry: tracking.NewRegistry(),
		Quests:   questService,
		Ledger:   ledgerService,
	}
	handlers.SetupQuestRoutes(app, questService, ledgerService)
	handlers.SetupTrackingRoutes(app, trackingHandler)
	handlers.SetupClaimRoutes(app, claimService, settlementClient)
	handlers.SetupLeaderboardRoutes(app, leaderboardService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Receipt reconciliation running (every 15s)")
	log.Println("✅ Leaderboard refresh scheduler running (every 5m)")
	log.Printf("✅ Treasury address: %s", settlementClient.TreasuryAddress().Hex())
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
