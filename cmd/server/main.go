package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	openai "github.com/sashabaranov/go-openai"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/agent"
	"github.com/finops-lab/invoiceflow/internal/config"
	"github.com/finops-lab/invoiceflow/internal/extract"
	httpiface "github.com/finops-lab/invoiceflow/internal/interfaces/http"
	"github.com/finops-lab/invoiceflow/internal/interfaces/ws"
	"github.com/finops-lab/invoiceflow/internal/pipeline"
	"github.com/finops-lab/invoiceflow/internal/report"
	"github.com/finops-lab/invoiceflow/internal/repository"
	"github.com/finops-lab/invoiceflow/internal/store"
	"github.com/finops-lab/invoiceflow/pkg/database"
	"github.com/finops-lab/invoiceflow/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	gotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting invoice processing server",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port),
	)

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Upload.Dir, 0755); err != nil {
		logger.Fatal("failed to create upload directory", zap.Error(err))
	}

	vendorRepo := repository.NewVendorRepository(db.DB, logger)
	inventoryRepo := repository.NewInventoryRepository(db.DB, logger)

	clientConfig := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		clientConfig.BaseURL = cfg.LLM.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	ingestion := agent.NewIngestionAgent(client, cfg.LLM.Model, cfg.LLM.Temperature, logger)
	validation := agent.NewValidationAgent(client, inventoryRepo, cfg.LLM.Model, cfg.LLM.Temperature, logger)
	triage := agent.NewApprovalAgent(client, cfg.LLM.Model, cfg.LLM.Temperature, logger)
	gateway := agent.NewMockGateway(logger)

	invoiceStore := store.New(cfg.ApprovalLadder(), logger)
	pl := pipeline.New(ingestion, validation, triage, gateway, invoiceStore, logger)

	extractor := extract.NewExtractor(logger)
	reports := report.NewPaymentRunWriter(logger)

	handlers := httpiface.NewHandlers(
		invoiceStore,
		pl,
		vendorRepo,
		inventoryRepo,
		extractor,
		reports,
		cfg.Upload.Dir,
		cfg.Upload.MaxSizeMB<<20,
		logger,
	)
	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	ws.NewHandlers(pl, extractor, logger).Register(server.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server exited")
}
