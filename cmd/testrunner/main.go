package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/RumyantsevMichael/triangular-tiler/test"
)

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "tilerd address (host:port)")
	verbose := flag.Bool("v", false, "Verbose output - show detailed actions for each test")
	flag.Parse()

	test.Verbose = *verbose

	fmt.Printf("Running integration tests against %s\n", *serverAddr)
	fmt.Println("Make sure tilerd is running!")
	if *verbose {
		fmt.Println("Verbose mode enabled - showing detailed test actions")
	}
	fmt.Println()

	results := test.RunAllTests(*serverAddr)
	test.PrintResults(results)

	for _, result := range results {
		if !result.Passed {
			os.Exit(1)
		}
	}
}
