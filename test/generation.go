package test

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/RumyantsevMichael/triangular-tiler/internal/testclient"
)

// TestBasicConnection tests that a client can open a WebSocket session
func TestBasicConnection(serverAddr string) TestResult {
	const testName = "Basic Connection"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	return pass(testName, "Connected as %s", client.Name)
}

// TestHealth tests the health endpoint
func TestHealth(serverAddr string) TestResult {
	const testName = "Health"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	var body map[string]any
	status, err := client.GetJSON("/healthz", &body)
	logResult(testName, status == http.StatusOK, fmt.Sprintf("GET /healthz -> %d", status))
	if err != nil || status != http.StatusOK {
		return fail(testName, "GET /healthz = %d: %v", status, err)
	}
	if body["status"] != "ok" {
		return fail(testName, "Unexpected health body: %v", body)
	}
	return pass(testName, "Server healthy")
}

// TestGenerateOverWebSocket tests a full generation round trip
func TestGenerateOverWebSocket(serverAddr string) TestResult {
	const testName = "Generate (WebSocket)"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	logAction(testName, "Requesting a 6x4 map")
	resp, err := client.Generate(testclient.Request{Width: 6, Height: 4, Seed: 31337}, requestTimeout)
	if err != nil {
		return fail(testName, "No response: %v", err)
	}
	if resp.Type != "map" || resp.Map == nil {
		return fail(testName, "Expected a map, got %q: %s", resp.Type, resp.Error)
	}

	want := 2 * 6 * 4
	logResult(testName, len(resp.Map.Tiles) == want, fmt.Sprintf("Received %d tiles", len(resp.Map.Tiles)))
	if len(resp.Map.Tiles) != want {
		return fail(testName, "Got %d tiles, want %d", len(resp.Map.Tiles), want)
	}
	return pass(testName, "Map with %d tiles in %d attempt(s)", want, resp.Map.Attempts)
}

// TestSeedReproducible tests that the same seed gives the same map
func TestSeedReproducible(serverAddr string) TestResult {
	const testName = "Seed Reproducible"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	req := testclient.Request{Width: 5, Height: 5, Seed: 4242}
	a, err := client.Generate(req, requestTimeout)
	if err != nil || a.Map == nil {
		return fail(testName, "First request failed: %v %s", err, a.Error)
	}
	b, err := client.Generate(req, requestTimeout)
	if err != nil || b.Map == nil {
		return fail(testName, "Second request failed: %v %s", err, b.Error)
	}

	for i := range a.Map.Tiles {
		if a.Map.Tiles[i].Tile != b.Map.Tiles[i].Tile {
			return fail(testName, "Tile %d differs: %s vs %s", i, a.Map.Tiles[i].Tile, b.Map.Tiles[i].Tile)
		}
	}
	return pass(testName, "Seed %d reproduced %d tiles", req.Seed, len(a.Map.Tiles))
}

// TestInvalidRequest tests that malformed requests get an error reply and
// leave the session usable
func TestInvalidRequest(serverAddr string) TestResult {
	const testName = "Invalid Request"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	logAction(testName, "Sending malformed JSON")
	if err := client.SendRaw("{not json"); err != nil {
		return fail(testName, "Send failed: %v", err)
	}
	resp, err := client.WaitForResponse(0, requestTimeout)
	if err != nil {
		return fail(testName, "No response: %v", err)
	}
	if resp.Type != "error" {
		return fail(testName, "Expected an error reply, got %q", resp.Type)
	}

	logAction(testName, "Sending a valid request on the same session")
	resp, err = client.Generate(testclient.Request{Width: 2, Height: 2, Seed: 1}, requestTimeout)
	if err != nil || resp.Type != "map" {
		return fail(testName, "Session unusable after error: %v %s", err, resp.Error)
	}
	return pass(testName, "Error reported and session kept")
}

// TestHTTPGenerate tests the JSON endpoint
func TestHTTPGenerate(serverAddr string) TestResult {
	const testName = "Generate (HTTP)"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	var doc struct {
		Width, Height int
		Tiles         []any
	}
	status, err := client.GetJSON("/api/generate?width=4&height=4&seed=9", &doc)
	if err != nil || status != http.StatusOK {
		return fail(testName, "GET /api/generate = %d: %v", status, err)
	}
	if len(doc.Tiles) != 32 {
		return fail(testName, "Got %d tiles, want 32", len(doc.Tiles))
	}

	var errBody struct{ Error string }
	status, _ = client.GetJSON("/api/generate?width=abc", &errBody)
	if status != http.StatusBadRequest || errBody.Error == "" {
		return fail(testName, "Bad width gave %d %q, want 400 with a message", status, errBody.Error)
	}
	return pass(testName, "JSON map and 400 on bad input")
}

// TestRenderPNG tests the image endpoint
func TestRenderPNG(serverAddr string) TestResult {
	const testName = "Render PNG"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	status, contentType, err := client.Get("/api/render.png?width=3&height=3&seed=5&labels=true")
	if err != nil || status != http.StatusOK {
		return fail(testName, "GET /api/render.png = %d: %v", status, err)
	}
	if contentType != "image/png" {
		return fail(testName, "Content-Type = %q", contentType)
	}
	return pass(testName, "PNG served")
}

// TestTilesEndpoint tests the palette listing
func TestTilesEndpoint(serverAddr string) TestResult {
	const testName = "Tiles Endpoint"

	client, failed := connect(testName, serverAddr)
	if failed != nil {
		return *failed
	}
	defer client.Close()

	var palette struct {
		Fingerprint string
		Tiles       []struct{ ID string }
	}
	status, err := client.GetJSON("/api/tiles", &palette)
	if err != nil || status != http.StatusOK {
		return fail(testName, "GET /api/tiles = %d: %v", status, err)
	}
	if palette.Fingerprint == "" || len(palette.Tiles) == 0 {
		return fail(testName, "Empty palette listing")
	}
	return pass(testName, "%d variants, fingerprint %s", len(palette.Tiles), palette.Fingerprint)
}

// TestConcurrentClients tests several sessions generating at once
func TestConcurrentClients(serverAddr string) TestResult {
	const testName = "Concurrent Clients"
	const clients = 3

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			client, err := testclient.NewTestClient(uniqueName("concurrent"), serverAddr)
			if err != nil {
				errs <- err
				return
			}
			defer client.Close()

			resp, err := client.Generate(testclient.Request{Width: 4, Height: 4, Seed: seed}, requestTimeout)
			if err != nil {
				errs <- err
				return
			}
			if resp.Type != "map" {
				errs <- fmt.Errorf("seed %d: %s", seed, resp.Error)
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	if err, ok := <-errs; ok {
		return fail(testName, "Client failed: %v", err)
	}
	return pass(testName, "%d clients generated maps", clients)
}
