// Package main provides the area map API HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"go.ngs.io/areamap-api/internal/adapter/fetchcache"
	"go.ngs.io/areamap-api/internal/adapter/overpass"
	"go.ngs.io/areamap-api/internal/config"
	httpHandler "go.ngs.io/areamap-api/internal/http"
	"go.ngs.io/areamap-api/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("areamap-api version %s\n", version)
		return
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load(".env")

	// Load configuration from environment.
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdr.SetVerbosity(cfg.LogVerbosity)
	logger := stdr.NewWithOptions(log.New(os.Stderr, "", log.LstdFlags), stdr.Options{LogCaller: stdr.Error}).WithName("areamap")

	sceneCfg, err := config.LoadSceneConfig(cfg.SceneConfigPath)
	if err != nil {
		log.Fatalf("Failed to load scene config: %v", err)
	}

	logger.Info("Starting area map API server", "version", version, "port", cfg.Port)
	logger.Info("Scene", "area", sceneCfg.Area, "boundary_layer", sceneCfg.Boundary.ID, "poi_layers", len(sceneCfg.POILayers))

	// Initialize Overpass client.
	clientOpts := []overpass.Option{overpass.WithLogger(logger.WithName("overpass"))}
	if cfg.OverpassRPS > 0 {
		clientOpts = append(clientOpts, overpass.WithLimiter(rate.NewLimiter(rate.Limit(cfg.OverpassRPS), 1)))
	}
	client := overpass.NewClient(cfg.OverpassEndpoint, clientOpts...)
	logger.Info("Overpass", "endpoint", client.Endpoint(), "region", cfg.OverpassRegion, "timeout", cfg.OverpassTimeout, "rps", cfg.OverpassRPS)

	// Initialize cache store.
	store, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer func() { _ = store.Close() }()

	fetcher := fetchcache.NewFetcher(client, store,
		fetchcache.WithTimeout(cfg.FetchTimeout),
		fetchcache.WithLogger(logger.WithName("fetch")),
	)

	// Initialize use case.
	sceneUC := usecase.NewSceneUseCase(fetcher, usecase.SceneOptions{
		RequestURL: client.URL,
		Query:      cfg.QueryOptions(),
		Scene:      sceneCfg,
		StyleURL:   cfg.MapStyleURL,
		Wait:       cfg.SceneWait,
		Logger:     logger.WithName("scene"),
	})

	// Setup router.
	router := httpHandler.SetupRouter(sceneUC, cfg.CORSAllowedOrigins)

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("Server listening", "addr", addr)
	logger.Info("Viewer", "url", fmt.Sprintf("http://localhost:%s/", cfg.Port))
	logger.Info("API endpoints", "routes", strings.Join([]string{
		"GET /health",
		"GET /metrics",
		"GET /v1/scene",
		"GET /v1/boundary",
		"GET /v1/pois",
		"GET /v1/markers",
		"GET /v1/layers",
	}, ", "))

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// openStore returns the Redis store when REDIS_ADDR is set and reachable,
// otherwise the in-process cache.
func openStore(cfg config.Config, logger logr.Logger) (fetchcache.Store, error) {
	if rc := fetchcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); rc != nil {
		rs := fetchcache.NewRedisStore(rc, cfg.CacheTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := rs.Ping(ctx)
		if err == nil {
			logger.Info("Cache", "store", "redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.CacheTTL.String())
			return rs, nil
		}
		logger.Error(err, "Redis unavailable, falling back to in-process cache", "addr", cfg.RedisAddr)
		_ = rs.Close()
	}

	logger.Info("Cache", "store", "memory", "max_entries", cfg.CacheMaxEntries, "ttl", cfg.CacheTTL.String())
	return fetchcache.NewRistrettoStore(cfg.CacheMaxEntries, cfg.CacheTTL)
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Area Map API Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  areamap-api [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  OVERPASS_ENDPOINT       Overpass interpreter URL (default: https://z.overpass-api.de/api/interpreter)")
	fmt.Println("  OVERPASS_REGION         English name of the enclosing area (default: Tokyo)")
	fmt.Println("  OVERPASS_TIMEOUT        Server-side query timeout setting (default: 30000)")
	fmt.Println("  OVERPASS_RPS            Outbound requests per second, 0 disables pacing (default: 1)")
	fmt.Println("  FETCH_TIMEOUT           Upper bound for one Overpass fetch (default: 60s)")
	fmt.Println("  SCENE_WAIT              How long /v1/scene waits for layers (default: 30s)")
	fmt.Println("  CACHE_TTL               Cached response lifetime, 0s keeps until evicted (default: 10m)")
	fmt.Println("  CACHE_MAX_ENTRIES       In-process cache capacity (default: 1024)")
	fmt.Println("  MAP_STYLE_URL           Base map style (default: OSM Bright JA)")
	fmt.Println("  SCENE_CONFIG            Path to a YAML scene file (optional)")
	fmt.Println("  REDIS_ADDR              Redis address for a shared cache (optional)")
	fmt.Println("  REDIS_PASSWORD          Redis password (optional)")
	fmt.Println("  REDIS_DB                Redis database number (default: 0)")
	fmt.Println("  LOG_VERBOSITY           Log verbosity, 1 logs every Overpass request (default: 0)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with default settings")
	fmt.Println("  areamap-api")
	fmt.Println()
	fmt.Println("  # Show another ward")
	fmt.Println("  SCENE_CONFIG=./scene.yaml areamap-api")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET /                          Map viewer")
	fmt.Println("  GET /health                    Health check")
	fmt.Println("  GET /metrics                   Prometheus metrics")
	fmt.Println("  GET /v1/scene                  Render tree for an area (area, width, height)")
	fmt.Println("  GET /v1/boundary               Area boundary as GeoJSON (area)")
	fmt.Println("  GET /v1/pois                   Points of interest as GeoJSON (area, layer, amenity, cuisine)")
	fmt.Println("  GET /v1/markers                Point markers (area, layer, amenity, cuisine, icon)")
	fmt.Println("  GET /v1/layers                 Configured scene layers")
	fmt.Println()
}
