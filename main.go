package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/visionsuite/backend/api"
	"github.com/visionsuite/backend/config"
	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/services"
	"github.com/visionsuite/backend/storage"
	"github.com/visionsuite/backend/training"
)

func main() {
	fmt.Println("Initializing app...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: Error loading .env file: %v\n", err)
	}
	c := config.New()

	connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		config.GetString(c, "DB_HOST", "localhost"),
		config.GetString(c, "DB_USER", "postgres"),
		config.GetString(c, "DB_PASSWORD", ""),
		config.GetString(c, "DB_NAME", "visionsuite"),
		config.GetString(c, "DB_PORT", "5432"),
		config.GetString(c, "DB_SSLMODE", "disable"),
	)

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             10 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  connStr,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		PrepareStmt: false,
		Logger:      newLogger,
	})
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		fmt.Printf("Error enabling uuid-ossp extension: %v\n", err)
		os.Exit(1)
	}

	if err := database.Migrate(db); err != nil {
		fmt.Printf("Error migrating database: %v\n", err)
		os.Exit(1)
	}

	currentDB := database.New(db)

	blobs, err := newBlobStore(c)
	if err != nil {
		fmt.Printf("Error initializing blob store: %v\n", err)
		os.Exit(1)
	}

	engineURL := config.GetString(c, "ENGINE_URL", "http://localhost:9090")
	engineTimeout := config.GetSeconds(c, "ENGINE_TIMEOUT_SECONDS", 600)
	engine := services.NewHTTPEngine(engineURL, engineTimeout)

	scheduler := training.NewScheduler(currentDB, engine, config.GetInt(c, "TRAINING_WORKERS", 2))
	scheduler.Start(context.Background())

	errChannel := make(chan error)
	defer close(errChannel)

	server, err := api.NewServer(currentDB, blobs, engine, scheduler)
	if err != nil {
		fmt.Printf("Error initializing server: %v\n", err)
		os.Exit(1)
	}

	go server.Start(errChannel)

	// Listen for interrupt signals to gracefully shutdown the server
	go listenToInterrupt(errChannel)

	fatalErr := <-errChannel
	fmt.Printf("Closing server: %v\n", fatalErr)

	server.ShutdownGracefully(30 * time.Second)
	scheduler.Stop()
}

// newBlobStore picks S3 when a bucket is configured, otherwise the
// in-memory store. The in-memory store loses blobs on restart and is only
// meant for local development.
func newBlobStore(c map[string]string) (storage.BlobStore, error) {
	bucket := config.GetString(c, "S3_BUCKET", "")
	if bucket == "" {
		fmt.Println("S3_BUCKET not set, using in-memory blob store")
		return storage.NewMemoryStore(), nil
	}
	region := config.GetString(c, "AWS_REGION", "us-east-1")
	return storage.NewS3Store(context.Background(), bucket, region)
}

// listenToInterrupt waits for SIGINT or SIGTERM and then sends an error to the error channel.
func listenToInterrupt(errChannel chan<- error) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	errChannel <- fmt.Errorf("%s", <-c)
}
