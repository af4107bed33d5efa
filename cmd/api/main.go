package main

import (
	"context"
	"time"

	_ "agentex/api/swagger" // swagger docs
	"agentex/internal/database"
	"agentex/internal/handler"
	"agentex/internal/middleware"
	"agentex/internal/repository"
	"agentex/internal/service"
	"agentex/pkg/config"
	"agentex/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Agentex Authorization API
// @version         1.0
// @description     User, role and permission management with resolved-permission checks.
// @host            localhost:8080
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name X-API-Key
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	if err := logger.Initialize(cfg.Log); err != nil {
		panic("logger: " + err.Error())
	}
	log := logger.Get()

	gin.SetMode(cfg.Server.Mode)

	db, err := database.NewConnection(cfg.Database.DSN())
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}
	log.Info("Connected to PostgreSQL successfully")

	// Permission cache: Redis when configured, in-process noop otherwise
	cache := service.NewNoopPermissionCache()
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisClient(cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, falling back to uncached resolution")
		} else {
			cache = service.NewRedisPermissionCache(rdb, time.Duration(cfg.Redis.PermissionTTL)*time.Second, log)
			log.Info("Connected to Redis successfully")
		}
	}

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	permRepo := repository.NewPermissionRepository(db)
	txm := repository.NewTransactionManager(db)

	authzService := service.NewAuthzService(db, txm, cache)
	assignmentService := service.NewAssignmentService(db, txm, authzService)
	roleService := service.NewRoleService(db, roleRepo, txm, authzService)
	permissionService := service.NewPermissionService(permRepo, txm, authzService)
	userService := service.NewUserService(db, userRepo, txm, authzService)
	authService := service.NewAuthService(db, userRepo, permRepo, txm, authzService, cfg.JWT)
	auditService := service.NewAuditService(db, log)

	if err := roleService.SeedDefaults(context.Background()); err != nil {
		log.WithError(err).Fatal("Seeding default roles and permissions failed")
	}

	authn := middleware.NewAuthenticator(db, cfg.JWT)

	// Initialize Handlers
	authHandler := handler.NewAuthHandler(authService, userService, authn)
	userHandler := handler.NewUserHandler(userService, assignmentService, auditService, authzService, authn)
	roleHandler := handler.NewRoleHandler(roleService, assignmentService, auditService, authzService, authn)
	permissionHandler := handler.NewPermissionHandler(permissionService, auditService, authzService, authn)
	auditHandler := handler.NewAuditHandler(auditService, authzService, authn)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-API-Key"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// Register API Routes
	api := router.Group("/api")
	authHandler.RegisterRoutes(api)
	userHandler.RegisterRoutes(api)
	roleHandler.RegisterRoutes(api)
	permissionHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	log.Infof("Server listening on :%s", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}
