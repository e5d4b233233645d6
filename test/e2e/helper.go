package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/asakaida/relmanager/internal/handlers"
	"github.com/asakaida/relmanager/internal/infrastructure/config"
	"github.com/asakaida/relmanager/internal/infrastructure/database"
	"github.com/asakaida/relmanager/internal/infrastructure/metrics"
	"github.com/asakaida/relmanager/internal/repositories/memory"
	"github.com/asakaida/relmanager/internal/repositories/postgres"
	"github.com/asakaida/relmanager/internal/services"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/asakaida/relmanager/internal/services/view"
	"github.com/asakaida/relmanager/internal/services/widgets"
	"github.com/asakaida/relmanager/pkg/cache/memorycache"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// E2ETestServer represents an E2E test server
type E2ETestServer struct {
	HTTP         *httptest.Server
	GRPC         *grpc.Server
	HealthClient healthpb.HealthClient
	Conn         *grpc.ClientConn
	Listener     *bufconn.Listener
	Repos        relation.Repositories
	Binder       *relation.Binder
	Collector    *metrics.Collector

	cache   *memorycache.Cache
	cleanup func()
}

// SetupE2ETest sets up an E2E test environment. Storage is in memory unless
// E2E_STORAGE=postgres, in which case the test database of .env.test is used.
func SetupE2ETest(t *testing.T) *E2ETestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("failed to find project root: %v", err)
	}

	repos, cleanup := openRepositories(t, projectRoot)

	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 4 << 20, DefaultTTL: time.Hour, EnableMetrics: true})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defs, err := relation.LoadConfigFile(filepath.Join(projectRoot, "config", "relations.yaml"), c)
	if err != nil {
		t.Fatalf("failed to load relation config: %v", err)
	}
	engine, err := view.NewEngine()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	logger := zap.NewNop()
	binder := relation.NewBinder(repos, defs, logger)
	controller := relation.NewController(defs, repos, binder, engine,
		relation.WithLogger(logger),
		relation.WithWidgetState(widgets.NewStateStore(c, 0)),
	)
	recordService := services.NewRecordService(controller, repos, binder, engine, logger)

	collector := metrics.NewCollector()
	collector.SetCache(c)
	router := gin.New()
	router.Use(metrics.GinMiddleware(collector, nil))
	handlers.NewRelationHandler(controller, collector, nil, logger).Register(router)
	handlers.NewRecordHandler(recordService, logger).Register(router)
	httpServer := httptest.NewServer(router)

	// Create in-memory gRPC health server with bufconn
	listener := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, nil)))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	bufDialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}

	return &E2ETestServer{
		HTTP:         httpServer,
		GRPC:         grpcServer,
		HealthClient: healthpb.NewHealthClient(conn),
		Conn:         conn,
		Listener:     listener,
		Repos:        repos,
		Binder:       binder,
		Collector:    collector,
		cache:        c,
		cleanup:      cleanup,
	}
}

func openRepositories(t *testing.T, projectRoot string) (relation.Repositories, func()) {
	t.Helper()

	if os.Getenv("E2E_STORAGE") != config.StorageDriverPostgres {
		store := memory.NewStore()
		return relation.Repositories{
			Records:  store.Records(),
			Pivots:   store.Pivots(),
			Bindings: store.DeferredBindings(),
			Tx:       store,
		}, func() {}
	}

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Skipping PostgreSQL e2e test: %v", err)
	}
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("Skipping PostgreSQL e2e test: %v", err)
	}
	if err := pg.RunMigrations(filepath.Join(projectRoot, "internal/infrastructure/database/migrations/postgres")); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanupDatabase(t, pg)
	return relation.Repositories{
			Records:  postgres.NewPostgresRecordRepository(pg.DB),
			Pivots:   postgres.NewPostgresPivotRepository(pg.DB),
			Bindings: postgres.NewPostgresDeferredBindingRepository(pg.DB),
			Tx:       postgres.NewPostgresTransactor(pg.DB),
		}, func() {
			cleanupDatabase(t, pg)
			_ = pg.Close()
		}
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.GRPC != nil {
		e.GRPC.Stop()
	}
	if e.Listener != nil {
		e.Listener.Close()
	}
	if e.HTTP != nil {
		e.HTTP.Close()
	}
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.cleanup != nil {
		e.cleanup()
	}
}

// cleanupDatabase removes all data from test database
func cleanupDatabase(t *testing.T, pg *database.Postgres) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Delete in correct order due to foreign key constraints
	tables := []string{"deferred_bindings", "pivots", "records"}
	for _, table := range tables {
		query := fmt.Sprintf("DELETE FROM %s", table)
		if _, err := pg.DB.ExecContext(ctx, query); err != nil {
			t.Logf("warning: failed to clean up table %s: %v", table, err)
		}
	}
}

// Result is a decoded Ajax response
type Result struct {
	Status int
	Body   map[string]any
}

// Partial returns the HTML of a replaced element
func (r *Result) Partial(selector string) string {
	s, _ := r.Body[selector].(string)
	return s
}

// Post sends an Ajax form post and decodes the JSON answer
func (e *E2ETestServer) Post(t *testing.T, path string, form url.Values) *Result {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.HTTP.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := e.HTTP.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	result := &Result{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&result.Body); err != nil {
		t.Fatalf("POST %s: failed to decode response: %v", path, err)
	}
	return result
}

// Relation posts one relation handler of a post record
func (e *E2ETestServer) Relation(t *testing.T, parentID int64, field, handler string, form url.Values) *Result {
	t.Helper()
	id := "new"
	if parentID != 0 {
		id = strconv.FormatInt(parentID, 10)
	}
	return e.Post(t, "/backend/post/"+id+"/relation/"+field+"/"+handler, form)
}

var sessionKeyPattern = regexp.MustCompile(`name="_session_key" value="([^"]+)"`)

// OpenPage loads a record page and returns its HTML and session key
func (e *E2ETestServer) OpenPage(t *testing.T, path string) (string, string) {
	t.Helper()

	resp, err := e.HTTP.Client().Get(e.HTTP.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("GET %s: failed to read body: %v", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}

	m := sessionKeyPattern.FindSubmatch(body)
	if m == nil {
		t.Fatalf("GET %s: no session key in page", path)
	}
	return string(body), string(m[1])
}

// RecordIDFromRedirect parses the record id of a save redirect
func RecordIDFromRedirect(t *testing.T, r *Result) int64 {
	t.Helper()
	location, _ := r.Body["X_OCTOBER_REDIRECT"].(string)
	id, err := strconv.ParseInt(location[strings.LastIndex(location, "/")+1:], 10, 64)
	if err != nil {
		t.Fatalf("unexpected redirect %q: %v", location, err)
	}
	return id
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("project root not found")
		}
		dir = parent
	}
}
