package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklight/api"
	"tasklight/domain"
	"tasklight/feed"
	"tasklight/lifecycle"
	"tasklight/storage"
	"tasklight/stream"
	"tasklight/taskset"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	imagesContainer := os.Getenv("IMAGES_CONTAINER")
	changeQueueName := os.Getenv("CHANGE_FEED_QUEUE")
	if connStr == "" || tasksTableName == "" || imagesContainer == "" || changeQueueName == "" {
		log.Fatal("missing storage config")
	}

	store, err := storage.New(connStr, tasksTableName, changeQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	artifacts, err := storage.NewArtifacts(connStr, imagesContainer)
	if err != nil {
		log.Fatalf("artifacts: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("TASKS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid TASKS_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(store, rc, cacheTTL)

	testMode := os.Getenv("AUTH_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH_AUDIENCE")
		authDomain := os.Getenv("AUTH_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	logger := log.New()
	mirror := taskset.NewMirror()
	hub := stream.NewHub()
	core := lifecycle.New(cache, artifacts, store, mirror, logger)

	changeChannel := os.Getenv("CHANGE_FEED_CHANNEL")
	if changeChannel == "" {
		changeChannel = "task-changes"
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Relay(ctx, store, rc, changeChannel)
	go feed.Subscribe(ctx, rc, changeChannel, func(ev domain.ChangeEvent) {
		core.ApplyRemote(ev)
		cache.Evict(ctx, ev.Owner)
		hub.Notify(ev.Owner)
	})

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("tasklight"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, core, auth, hub, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions parses either a redis URL or the comma-separated
// "host:port,password=...,ssl=true" form some hosted caches hand out.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
