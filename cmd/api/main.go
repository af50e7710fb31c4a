package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lingkod.org/internal/auth"
	"lingkod.org/internal/httpapi"
	"lingkod.org/internal/obs"
	"lingkod.org/internal/portal"
	"lingkod.org/internal/session"
	"lingkod.org/internal/store/pg"
	"lingkod.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := stream.New()

	// Backing store: PostgreSQL when a DSN is configured, in-memory otherwise
	// so the portal runs standalone for local development.
	var (
		store    portal.Store
		accounts auth.AccountStore
		probe    httpapi.ReadyProbe
		pgStore  *pg.Store
	)
	if dsn := os.Getenv("LINGKOD_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn, pg.WithEvents(events))
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		accounts = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("LINGKOD_PG_DSN not set; using in-memory store")
		store = portal.NewMemoryStore(portal.WithEvents(events))
		accounts = auth.NewMemoryAccounts()
	}

	data := portal.NewCoordinator(store, events, portal.WithAccountRemover(accounts))
	sessions := session.NewStore()
	provider := auth.NewLocalProvider(accounts,
		auth.WithStateDir(getenv("LINGKOD_STATE_DIR", "")))
	directory := auth.StoreDirectory{Accounts: accounts, Profiles: store}

	authc := auth.NewCoordinator(provider, directory, sessions,
		auth.WithBinder(data), auth.WithRegistrar(data))
	authc.Start(ctx)
	defer authc.Close()

	bootstrapOfficial(ctx, accounts)

	// Load the initial snapshot and keep it fresh from the change feed.
	if err := data.Bind(ctx, "service"); err != nil {
		log.Printf("initial snapshot load failed: %v", err)
	}

	api := httpapi.New(probe, version,
		httpapi.WithAuth(authc, directory),
		httpapi.WithData(data),
		httpapi.WithSessions(sessions),
		httpapi.WithEvents(events),
	)

	burst := getenvInt("LINGKOD_RATE_BURST", 50)
	perSec := getenvInt("LINGKOD_RATE_PER_SEC", 25)

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.CORS(
				httpapi.MaxBodyBytes(
					httpapi.RateLimit(api.Handler(), burst, perSec),
					1<<20))))

	srv := &http.Server{
		Addr:              getenv("LINGKOD_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Long write timeout so /v1/stream SSE connections survive.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting lingkod-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	data.Unbind()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

// bootstrapOfficial creates the first official account from the environment.
// Rerunning against an existing account is a no-op.
func bootstrapOfficial(ctx context.Context, accounts auth.AccountStore) {
	email := os.Getenv("LINGKOD_BOOTSTRAP_EMAIL")
	password := os.Getenv("LINGKOD_BOOTSTRAP_PASSWORD")
	if email == "" || password == "" {
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("bootstrap official: %v", err)
	}
	err = accounts.Create(ctx, &auth.Account{
		Email:        email,
		PasswordHash: hash,
		Role:         portal.RoleOfficial,
		Name:         getenv("LINGKOD_BOOTSTRAP_NAME", "Barangay Official"),
	})
	if err != nil && !errors.Is(err, auth.ErrEmailTaken) {
		log.Fatalf("bootstrap official: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return n
}
