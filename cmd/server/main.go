package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodeflow/internal/config"
	"nodeflow/internal/database"
	"nodeflow/internal/execution"
	"nodeflow/internal/handlers"
	"nodeflow/internal/logging"
	"nodeflow/internal/sandbox"
	"nodeflow/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err == nil {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting NodeFlow Server...")

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabasePath)

	// Initialize SQLite database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Sandbox runner for code nodes
	sandboxRunner := sandbox.NewRunner()
	if sandboxRunner.Available() {
		log.Println("✅ Sandbox runner ready")
	} else {
		log.Println("⚠️ Sandbox runner unavailable; code nodes will fail")
	}

	// Node registry and execution engine
	registry := execution.NewRegistry(sandboxRunner)
	engine := execution.NewEngine(registry)
	log.Printf("✅ Node registry initialized (%d node types)", len(registry.Definitions()))

	// Services
	workflowService := services.NewWorkflowService(db, registry)
	executionService := services.NewExecutionService(engine, workflowService)

	schedulerService, err := services.NewSchedulerService(db)
	if err != nil {
		log.Fatalf("❌ Failed to initialize scheduler: %v", err)
	}
	schedulerService.SetWorkflowExecutor(executionService.ExecuteFunc())
	if err := schedulerService.Start(context.Background()); err != nil {
		log.Fatalf("❌ Failed to start scheduler: %v", err)
	}
	log.Println("✅ Scheduler service started")

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "NodeFlow v1.0",
		ReadTimeout:  900 * time.Second, // long-running workflow executions
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  900 * time.Second,
		BodyLimit:    10 * 1024 * 1024, // 10MB limit for workflow definitions with embedded data
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("nodeflow")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	// Global API rate limiter
	app.Use("/api", limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: time.Minute,
	}))
	log.Println("🛡️  [RATE-LIMIT] Global API rate limiter enabled")

	// Initialize handlers
	workflowHandler := handlers.NewWorkflowHandler(workflowService)
	executionHandler := handlers.NewExecutionHandler(executionService, registry)
	scheduleHandler := handlers.NewScheduleHandler(schedulerService, workflowService)
	wsHandler := handlers.NewExecutionWebSocketHandler(executionService)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"sandbox": sandboxRunner.Available(),
		})
	})

	// Workflow CRUD
	api := app.Group("/api")
	api.Post("/workflows", workflowHandler.Create)
	api.Get("/workflows", workflowHandler.List)
	api.Get("/workflows/:id", workflowHandler.Get)
	api.Put("/workflows/:id", workflowHandler.Update)
	api.Delete("/workflows/:id", workflowHandler.Delete)

	// Graph edits
	api.Post("/workflows/:id/nodes", workflowHandler.AddNode)
	api.Put("/workflows/:id/nodes/:nodeId", workflowHandler.UpdateNode)
	api.Delete("/workflows/:id/nodes/:nodeId", workflowHandler.DeleteNode)
	api.Post("/workflows/:id/edges", workflowHandler.AddEdge)
	api.Delete("/workflows/:id/edges/:edgeId", workflowHandler.DeleteEdge)

	// Execution and debugging
	api.Get("/node-types", executionHandler.NodeTypes)
	api.Post("/workflows/:id/execute", executionHandler.Execute)
	api.Get("/executions/:id", executionHandler.Status)
	api.Post("/executions/:id/step", executionHandler.Step)
	api.Post("/executions/:id/resume", executionHandler.Resume)
	api.Post("/executions/:id/abort", executionHandler.Abort)
	api.Put("/executions/:id/breakpoints", executionHandler.SetBreakpoints)

	// Schedules
	api.Put("/workflows/:id/schedule", scheduleHandler.Set)
	api.Get("/workflows/:id/schedule", scheduleHandler.Get)
	api.Post("/workflows/:id/schedule/toggle", scheduleHandler.Toggle)
	api.Delete("/workflows/:id/schedule", scheduleHandler.Delete)
	api.Get("/schedules", scheduleHandler.List)
	api.Get("/schedules/presets", scheduleHandler.Presets)

	// WebSocket stream of execution updates
	app.Use("/ws/executions/:id", wsHandler.Upgrade)
	app.Get("/ws/executions/:id", websocket.New(wsHandler.Stream))

	log.Printf("⚡ Execution stream: ws://localhost:%s/ws/executions/:id", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := schedulerService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping scheduler: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
