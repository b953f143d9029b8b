package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-tracker/internal/classify"
	"auction-tracker/internal/config"
	"auction-tracker/internal/database"
	"auction-tracker/internal/delivery"
	"auction-tracker/internal/handlers"
	"auction-tracker/internal/pipeline"
	"auction-tracker/internal/ratelimit"
	"auction-tracker/internal/reconcile"
	"auction-tracker/internal/scheduler"
	"auction-tracker/internal/scraper"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	runOnce := flag.Bool("once", false, "run one pipeline cycle and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("[Main] No .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[Main] Failed to load config: %v", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("[Main] Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		log.Fatalf("[Main] Failed to migrate schema: %v", err)
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("[Main] TELEGRAM_BOT_TOKEN is not set")
	}
	publisher, err := delivery.NewTelegram(token, cfg.Operators)
	if err != nil {
		log.Fatalf("[Main] Failed to connect Telegram: %v", err)
	}

	pipe := buildPipeline(cfg, db, publisher)

	runCycle := func() {
		checkDuplicates := true
		notifyOnAmbiguous := true
		if _, err := pipe.Run(checkDuplicates, notifyOnAmbiguous); err != nil {
			log.Printf("[Main] Pipeline run failed: %v", err)
		}
	}

	if *runOnce {
		runCycle()
		return
	}

	sched := scheduler.New(runCycle)
	if cfg.Scraper.DailyRunEnabled {
		if err := sched.Start(cfg.Scraper.DailyRunTime); err != nil {
			log.Fatalf("[Main] Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	if cfg.Admin.Enabled {
		admin := handlers.NewAdminHandler(db, cfg, sched)
		router := handlers.NewRouter(admin)
		go func() {
			log.Printf("[Main] Admin API listening on %s", cfg.Admin.Listen)
			if err := router.Run(cfg.Admin.Listen); err != nil {
				log.Printf("[Main] Admin API stopped: %v", err)
			}
		}()
	}

	sched.TriggerNow()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] Shutting down")
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	switch cfg.Database.Type {
	case "postgres":
		pg := cfg.Database.Postgres
		return database.OpenPostgres(pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode)
	case "mysql", "":
		my := cfg.Database.MySQL
		return database.OpenMySQL(my.Host, my.Port, my.User, my.Password, my.Database)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}

// buildPipeline assembles the adapters, the reconciler and the orchestrator.
// Each source gets its own client so sessions and pacing stay separate; the
// webforms endpoint gets the long timeout it is known to need.
func buildPipeline(cfg *config.Config, db *database.DB, publisher delivery.Publisher) *pipeline.Pipeline {
	classifier := classify.New(
		cfg.Filter.IncludeKeywords,
		cfg.Filter.ExcludeKeywords,
		cfg.Filter.Region,
		db,
		publisher,
	)
	filter := &scraper.Filter{Classifier: classifier, Duplicates: db}

	newClient := func(timeout time.Duration) *scraper.Client {
		return scraper.NewClient(scraper.ClientConfig{
			Timeout:      timeout,
			MaxRetries:   cfg.Scraper.MaxRetries,
			RetryDelay:   cfg.Scraper.GetRetryDelay(),
			RequestDelay: cfg.Scraper.GetRequestDelay(),
		})
	}

	budget := ratelimit.NewHourlyBudget(cfg.Scraper.DetailPagesPerHour)
	enricher := scraper.NewEnricher(newClient(cfg.Scraper.GetDetailTimeout()), budget,
		cfg.Scraper.HeadlessFallback, cfg.Scraper.ChromePath)

	var adapters []scraper.SourceAdapter
	var feedAdapter *scraper.FeedAdapter

	if cfg.Sources.Feed.Enabled {
		feedAdapter = scraper.NewFeedAdapter(cfg.Sources.Feed, newClient(cfg.Scraper.GetDetailTimeout()), filter, enricher)
		adapters = append(adapters, feedAdapter)
	}
	if cfg.Sources.WebForms.Enabled {
		adapters = append(adapters, scraper.NewWebFormsAdapter(cfg.Sources.WebForms,
			newClient(cfg.Scraper.GetWebFormsTimeout()), filter, enricher))
	}
	if cfg.Sources.SearchAPI.Enabled {
		adapters = append(adapters, scraper.NewSearchAPIAdapter(cfg.Sources.SearchAPI,
			newClient(cfg.Scraper.GetDetailTimeout()), filter, enricher))
	}

	var closed reconcile.ClosedSource
	if feedAdapter != nil {
		closed = feedAdapter
	}
	reconciler := reconcile.New(db, publisher, closed)

	return pipeline.New(adapters, db, publisher, reconciler,
		cfg.Telegram.TargetChatID, cfg.Scraper.MaxLotsPerRun)
}
