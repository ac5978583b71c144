package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"queryfed/internal/adapter/provider/llm/openai"
	"queryfed/internal/api"
	mongodb "queryfed/internal/db/mongo"
	"queryfed/internal/db/opensearch"
	"queryfed/internal/db/postgres"
	redisdb "queryfed/internal/db/redis"
	"queryfed/internal/domain/federation"
	"queryfed/internal/platform/config"
	applog "queryfed/internal/platform/log"
	"queryfed/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// ── PostgreSQL（关系后端 + trigram/pgvector 排名源） ─────

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	// ── Redis（schema 快照 + 混合结果缓存） ──────────────────

	redisOpt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Fatalf("❌ Invalid REDIS_URL: %v", err)
	}
	redisClient := goredis.NewClient(redisOpt)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		applog.Fatalf("❌ Redis connection failed: %v", err)
	}
	pingCancel()
	applog.Info("✅ Connected to Redis")

	// ── LLM Provider ─────────────────────────────────────────

	provider.RegisterProvider(openai.New(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	}))

	classifier := federation.NewClassifier(cfg.LLM.Provider, cfg.LLM.ClassifierModel)
	generator := federation.NewGenerator(cfg.LLM.Provider, cfg.LLM.GeneratorModel)

	// ── 执行器与排名源 ───────────────────────────────────────

	executors := federation.NewExecutorSet()
	schemas := make(map[federation.Backend]federation.SchemaProvider)
	schemaCache := redisdb.NewSchemaCache(redisClient, cfg.Federation.SchemaCacheTTL)
	schemaTTL := time.Duration(cfg.Federation.SchemaCacheTTL) * time.Second

	if err := executors.Register(postgres.NewExecutor(db)); err != nil {
		applog.Fatalf("❌ Failed to register postgres executor: %v", err)
	}
	schemas[federation.BackendRelational] = federation.NewCachedSchemaProvider(
		federation.BackendRelational,
		postgres.NewIntrospector(db, "public"),
		schemaCache,
		schemaTTL,
	)

	target := postgres.SearchTarget{
		Table:           cfg.Search.Table,
		IDColumn:        cfg.Search.IDColumn,
		TextColumns:     cfg.Search.TextColumns,
		EmbeddingColumn: cfg.Search.EmbeddingColumn,
	}
	executors.AddRankedSource(postgres.NewTrigramSource(db, target))
	if target.EmbeddingColumn != "" {
		executors.AddRankedSource(postgres.NewVectorSource(db, target))
	}

	// ── MongoDB（文档后端，可选） ────────────────────────────

	if cfg.Mongo.URI != "" {
		mongoCtx, mongoCancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoClient, err := mongo.Connect(mongoCtx, mongoopts.Client().ApplyURI(cfg.Mongo.URI))
		if err == nil {
			err = mongodb.Ping(mongoCtx, mongoClient)
		}
		mongoCancel()
		if err != nil {
			applog.Warnf("⚠️  MongoDB unavailable: %v (document backend disabled)", err)
		} else {
			applog.Info("✅ Connected to MongoDB")
			mdb := mongoClient.Database(cfg.Mongo.Database)
			if err := executors.Register(mongodb.NewExecutor(mdb)); err != nil {
				applog.Fatalf("❌ Failed to register mongo executor: %v", err)
			}
			schemas[federation.BackendDocument] = federation.NewCachedSchemaProvider(
				federation.BackendDocument,
				mongodb.NewIntrospector(mdb),
				schemaCache,
				schemaTTL,
			)
			defer mongoClient.Disconnect(context.Background())
		}
	} else {
		applog.Info("ℹ️  No MONGO_URI set, document backend disabled")
	}

	// ── OpenSearch（BM25 + kNN 排名源，可选） ────────────────

	if cfg.OpenSearch.URL != "" {
		osClient := opensearch.NewClient(opensearch.Config{
			URL:         cfg.OpenSearch.URL,
			Username:    cfg.OpenSearch.Username,
			Password:    cfg.OpenSearch.Password,
			Index:       cfg.OpenSearch.Index,
			TextFields:  cfg.OpenSearch.TextFields,
			VectorField: cfg.OpenSearch.VectorField,
		})
		osCtx, osCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := osClient.Ping(osCtx)
		osCancel()
		if err != nil {
			applog.Warnf("⚠️  OpenSearch ping failed: %v (BM25/kNN sources disabled)", err)
		} else {
			applog.Info("✅ Connected to OpenSearch")
			executors.AddRankedSource(opensearch.NewBM25Source(osClient))
			executors.AddRankedSource(opensearch.NewKNNSource(osClient))
		}
	} else {
		applog.Info("ℹ️  No OPENSEARCH_URL set, BM25/kNN sources disabled")
	}

	// ── 联邦网关 ─────────────────────────────────────────────

	gateway := federation.NewGateway(cfg.Federation.ToFederation(), executors, schemas, generator, classifier)

	embedder := federation.NewOpenAIEmbedder(federation.OpenAIEmbedderConfig{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.Embedding.Model,
		Dims:    cfg.Embedding.Dims,
	})
	gateway.SetEmbedder(embedder)
	applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.Embedding.Model, embedder.Dims())

	gateway.SetCache(redisdb.NewAnswerCache(redisClient, cfg.Federation.AnswerCacheTTL))
	applog.Infof("✅ Answer cache initialized (TTL: %ds)", cfg.Federation.AnswerCacheTTL)

	// ── HTTP 服务 ────────────────────────────────────────────

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	server := api.NewServer(serverConfig, gateway, schemas)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}
