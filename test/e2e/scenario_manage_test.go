package e2e

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/services/relation"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TestScenario_SavedPostManagement drives the toolbar of a saved post
func TestScenario_SavedPostManagement(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	post := createRecord(t, ctx, testServer, "post", map[string]any{"title": "Hello", "slug": "hello"})
	ada := createRecord(t, ctx, testServer, "user", map[string]any{"name": "ada", "email": "ada@example.com"})
	c1 := createRecord(t, ctx, testServer, "comment", map[string]any{"body": "golang rocks"})
	createRecord(t, ctx, testServer, "comment", map[string]any{"body": "rust rules"})

	// Step 1: Link an author
	t.Log("Step 1: Linking the author")
	res := testServer.Relation(t, post.ID, "author", relation.HandlerButtonLink, url.Values{})
	if popup, _ := res.Body["result"].(string); res.Status != http.StatusOK || !strings.Contains(popup, "ada") {
		t.Fatalf("ButtonLink = %d: %v", res.Status, res.Body)
	}
	res = testServer.Relation(t, post.ID, "author", relation.HandlerManageAdd, url.Values{
		relation.FieldRecordID: {strconv.FormatInt(ada.ID, 10)},
	})
	if res.Status != http.StatusOK {
		t.Fatalf("ManageAdd status = %d: %v", res.Status, res.Body)
	}
	stored, err := testServer.Repos.Records.Find(ctx, "post", post.ID)
	if err != nil {
		t.Fatalf("failed to reload post: %v", err)
	}
	if id, _ := entities.ToInt64(stored.Get("author_id")); id != ada.ID {
		t.Errorf("author_id = %v, want %d", stored.Get("author_id"), ada.ID)
	}

	// Step 2: Search the manage list, then add the match
	t.Log("Step 2: Searching and adding comments")
	res = testServer.Relation(t, post.ID, "comments", relation.HandlerSearch, url.Values{
		relation.FieldSurface:      {"manage"},
		relation.FieldRelationMode: {"list"},
		relation.FieldSearchTerm:   {"golang"},
	})
	html := res.Partial("#relationCommentsManageList")
	if !strings.Contains(html, "golang rocks") || strings.Contains(html, "rust rules") {
		t.Errorf("search result = %q", html)
	}

	res = testServer.Relation(t, post.ID, "comments", relation.HandlerManageAdd, url.Values{
		relation.FieldRelationMode: {"list"},
		"checked[]":                {strconv.FormatInt(c1.ID, 10), "424242"},
	})
	if res.Status != http.StatusOK {
		t.Fatalf("ManageAdd status = %d: %v", res.Status, res.Body)
	}
	skipped, _ := res.Body["X_RELATION_SKIPPED"].([]any)
	if len(skipped) != 1 {
		t.Errorf("skipped = %v, want the missing id", res.Body["X_RELATION_SKIPPED"])
	}

	// Step 3: Remove it again
	t.Log("Step 3: Removing the comment")
	res = testServer.Relation(t, post.ID, "comments", relation.HandlerButtonRemove, url.Values{
		"checked[]": {strconv.FormatInt(c1.ID, 10)},
	})
	if res.Status != http.StatusOK {
		t.Fatalf("ButtonRemove status = %d: %v", res.Status, res.Body)
	}
	if strings.Contains(res.Partial("#RelationController-comments"), "golang rocks") {
		t.Errorf("removed comment is still listed")
	}
	if _, err := testServer.Repos.Records.Find(ctx, "comment", c1.ID); err != nil {
		t.Errorf("removing must keep the comment: %v", err)
	}

	api := testServer.Collector.GetAPIMetrics()
	if api.SkippedCounts[relation.HandlerManageAdd] != 1 {
		t.Errorf("skipped metric = %d, want 1", api.SkippedCounts[relation.HandlerManageAdd])
	}
}

// TestScenario_ReadOnlyThroughRelation renders a hasManyThrough without buttons
func TestScenario_ReadOnlyThroughRelation(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	country := createRecord(t, ctx, testServer, "country", map[string]any{"name": "Japan"})
	user := createRecord(t, ctx, testServer, "user", map[string]any{"name": "ada", "country_id": country.ID})
	createRecord(t, ctx, testServer, "post", map[string]any{"title": "Travel notes", "author_id": user.ID})

	res := testServer.Post(t, "/backend/country/"+strconv.FormatInt(country.ID, 10)+"/relation/posts/"+relation.HandlerRefresh, url.Values{})
	if res.Status != http.StatusOK {
		t.Fatalf("refresh status = %d: %v", res.Status, res.Body)
	}
	html := res.Partial("#RelationController-posts")
	if !strings.Contains(html, "Travel notes") {
		t.Errorf("through relation is missing the post: %q", html)
	}

	res = testServer.Post(t, "/backend/country/"+strconv.FormatInt(country.ID, 10)+"/relation/posts/"+relation.HandlerManageCreate, url.Values{
		"Post[title]": {"Sneaky"},
		"Post[slug]":  {"sneaky"},
	})
	if res.Status != http.StatusBadRequest {
		t.Errorf("create on a through relation status = %d, want 400", res.Status)
	}
	n, err := testServer.Repos.Records.Count(ctx, "post", nil)
	if err != nil {
		t.Fatalf("failed to count posts: %v", err)
	}
	if n != 1 {
		t.Errorf("posts = %d, want the failed create rolled back", n)
	}
}

// TestScenario_Health checks the gRPC health endpoint
func TestScenario_Health(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := testServer.HealthClient.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}
