package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/dairyisscary/syn/internal/config"
	"github.com/dairyisscary/syn/internal/store"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.RelayAddr, "listen address")
	archive := flag.Bool("archive", true, "keep a replica of every room so documents outlive their agents")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Connect to Redis ---
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	log.Println("Connected to Redis successfully.")

	var arc *Archive
	if *archive {
		st, err := openArchiveStore(ctx, cfg, rdb)
		if err != nil {
			log.Fatalf("open archive store: %v", err)
		}
		defer st.Close()
		arc = NewArchive(ctx, rdb, st)
		defer arc.Close()
	}

	r := mux.NewRouter()
	NewRelay(rdb, arc).Routes(r)
	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("syn relay starting on %s...", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// openArchiveStore uses Postgres when DATABASE_URL is set and Redis lists
// otherwise.
func openArchiveStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, archiving to Redis")
		return store.NewRedisWithClient(rdb), nil
	}
	st, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Println("Connected to PostgreSQL successfully.")
	return st, nil
}

