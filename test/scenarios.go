// Package test holds integration scenarios run against a live tilerd by
// cmd/testrunner.
package test

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/testclient"
)

// requestTimeout bounds a single generation round trip
const requestTimeout = 30 * time.Second

// uniqueCounter provides unique client names within a single run
var uniqueCounter uint64

func uniqueName(base string) string {
	return fmt.Sprintf("%s-%d", base, atomic.AddUint64(&uniqueCounter, 1))
}

// Verbose controls whether detailed logging is shown during tests
var Verbose = false

// TestResult represents the result of a test
type TestResult struct {
	Name    string
	Passed  bool
	Message string
}

// logAction logs a test action when verbose mode is enabled
func logAction(testName, action string) {
	if Verbose {
		fmt.Printf("  [%s] %s\n", testName, action)
	}
}

// logResult logs an expected vs actual result when verbose mode is enabled
func logResult(testName string, success bool, detail string) {
	if Verbose {
		status := "OK"
		if !success {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %s: %s\n", testName, status, detail)
	}
}

func fail(name, format string, args ...any) TestResult {
	return TestResult{Name: name, Passed: false, Message: fmt.Sprintf(format, args...)}
}

func pass(name, format string, args ...any) TestResult {
	return TestResult{Name: name, Passed: true, Message: fmt.Sprintf(format, args...)}
}

// connect opens a client or returns the failed result
func connect(testName, serverAddr string) (*testclient.TestClient, *TestResult) {
	name := uniqueName("tester")
	logAction(testName, fmt.Sprintf("Connecting as '%s'...", name))
	client, err := testclient.NewTestClient(name, serverAddr)
	if err != nil {
		r := fail(testName, "Failed to connect: %v", err)
		return nil, &r
	}
	return client, nil
}

// RunAllTests runs all integration tests
func RunAllTests(serverAddr string) []TestResult {
	return []TestResult{
		TestBasicConnection(serverAddr),
		TestHealth(serverAddr),
		TestGenerateOverWebSocket(serverAddr),
		TestSeedReproducible(serverAddr),
		TestInvalidRequest(serverAddr),
		TestHTTPGenerate(serverAddr),
		TestRenderPNG(serverAddr),
		TestTilesEndpoint(serverAddr),
		TestConcurrentClients(serverAddr),
	}
}

// PrintResults prints test results summary
func PrintResults(results []TestResult) {
	passed := 0
	for _, r := range results {
		status := "PASS"
		if r.Passed {
			passed++
		} else {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s: %s\n", status, r.Name, r.Message)
	}
	fmt.Printf("\n%d/%d tests passed\n", passed, len(results))
}
