// Benchmark tool for load-testing Kestrel with synthetic transactions.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -n 10000
//
// This tool:
//   1. Generates a deterministic stream of transactions, a configurable
//      share of which are shaped like fraud (huge amounts, high-risk
//      countries, burner devices)
//   2. Sends each one to POST /api/v1/analyze
//   3. Reports risk-level distribution, alert/block rates, how well the
//      fraud-shaped traffic was flagged, and latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Transaction is the analyze request format.
type Transaction struct {
	TransactionID string    `json:"transactionId"`
	CustomerID    string    `json:"customerId"`
	AccountID     string    `json:"accountId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Type          string    `json:"type"`
	Location      *Location `json:"location,omitempty"`
	Device        *Device   `json:"device,omitempty"`

	// FraudShaped marks synthetic fraud; never sent on the wire.
	FraudShaped bool `json:"-"`
}

// Location is the optional geographic origin.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Device is the optional device signature.
type Device struct {
	Fingerprint string `json:"fingerprint"`
	IsMobile    bool   `json:"isMobile"`
}

// Assessment is the analyze response format.
type Assessment struct {
	TransactionID string   `json:"transactionId"`
	RiskScore     int      `json:"riskScore"`
	RiskLevel     string   `json:"riskLevel"`
	Reasons       []string `json:"reasons"`
	ShouldBlock   bool     `json:"shouldBlock"`
	AlertID       string   `json:"alertId"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64

	LowCount      int64
	MediumCount   int64
	HighCount     int64
	CriticalCount int64

	AlertCount   int64
	BlockedCount int64

	FraudSent    int64
	FraudFlagged int64
	LegitSent    int64
	LegitFlagged int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	count := flag.Int("n", 1000, "Number of transactions to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.05, "Share of fraud-shaped transactions (0.0-1.0)")
	customers := flag.Int("customers", 200, "Customer pool size")
	seed := flag.Int64("seed", 42, "Random seed for the generated stream")
	seedRules := flag.Bool("seed-rules", false, "Create a high-amount rule before the run")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Synthetic Load Generator         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Transactions: %d\n", *count)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Fraud Rate:   %.2f\n", *fraudRate)
	fmt.Printf("Customers:    %d\n", *customers)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	if *seedRules {
		if err := createHighAmountRule(*baseURL, *tenantID); err != nil {
			fmt.Printf("ERROR: failed to seed rule: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ High-amount rule seeded")
	}

	fmt.Printf("\nGenerating %d transactions...\n", *count)
	transactions := generateTransactions(*count, *fraudRate, *customers, *seed)

	fraudCount := 0
	for _, tx := range transactions {
		if tx.FraudShaped {
			fraudCount++
		}
	}
	fmt.Printf("✓ Generated %d transactions (%d fraud-shaped, %.2f%%)\n",
		len(transactions), fraudCount, 100*float64(fraudCount)/float64(len(transactions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// createHighAmountRule installs a baseline rule so the run exercises the
// rule engine, not just the behavioral checks.
func createHighAmountRule(baseURL, tenantID string) error {
	rule := map[string]any{
		"name":       "Benchmark high amount",
		"ruleType":   "AMOUNT_THRESHOLD",
		"conditions": map[string]any{"maxAmount": 10000},
		"actions":    map[string]any{"riskScore": 30},
		"isActive":   true,
		"priority":   90,
	}

	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/rules", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// generateTransactions builds a deterministic stream. Legit traffic is
// modest amounts with no device or location payload; fraud-shaped traffic
// pairs huge amounts with high-risk countries and one-shot devices.
func generateTransactions(count int, fraudRate float64, customerPool int, seed int64) []Transaction {
	rng := rand.New(rand.NewSource(seed))
	highRisk := []Location{
		{Country: "KP", City: "Pyongyang"},
		{Country: "IR", City: "Tehran"},
		{Country: "MM", City: "Yangon"},
	}
	types := []string{"transfer", "payment", "withdrawal"}

	transactions := make([]Transaction, 0, count)
	for i := 0; i < count; i++ {
		customer := rng.Intn(customerPool)
		tx := Transaction{
			TransactionID: fmt.Sprintf("bench-tx-%06d", i),
			CustomerID:    fmt.Sprintf("bench-cust-%04d", customer),
			AccountID:     fmt.Sprintf("bench-acct-%04d", customer),
			Currency:      "USD",
			Type:          types[rng.Intn(len(types))],
		}

		if rng.Float64() < fraudRate {
			tx.FraudShaped = true
			tx.Amount = 15000 + rng.Float64()*75000
			loc := highRisk[rng.Intn(len(highRisk))]
			tx.Location = &loc
			tx.Device = &Device{
				Fingerprint: fmt.Sprintf("fp-burner-%06d", i),
				IsMobile:    true,
			}
		} else {
			tx.Amount = 10 + rng.Float64()*590
		}

		transactions = append(transactions, tx)
	}

	return transactions
}

func runBenchmark(transactions []Transaction, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{latencies: make([]time.Duration, 0, len(transactions))}

	work := make(chan Transaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := analyzeTransaction(client, baseURL, tenantID, tx)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.TransactionID, err)
					}
					continue
				}

				metrics.recordLatency(elapsed)

				switch result.RiskLevel {
				case "LOW":
					atomic.AddInt64(&metrics.LowCount, 1)
				case "MEDIUM":
					atomic.AddInt64(&metrics.MediumCount, 1)
				case "HIGH":
					atomic.AddInt64(&metrics.HighCount, 1)
				case "CRITICAL":
					atomic.AddInt64(&metrics.CriticalCount, 1)
				}

				flagged := result.AlertID != ""
				if flagged {
					atomic.AddInt64(&metrics.AlertCount, 1)
				}
				if result.ShouldBlock {
					atomic.AddInt64(&metrics.BlockedCount, 1)
				}

				if tx.FraudShaped {
					atomic.AddInt64(&metrics.FraudSent, 1)
					if flagged {
						atomic.AddInt64(&metrics.FraudFlagged, 1)
					}
				} else {
					atomic.AddInt64(&metrics.LegitSent, 1)
					if flagged {
						atomic.AddInt64(&metrics.LegitFlagged, 1)
					}
				}

				if verbose {
					marker := " "
					if tx.FraudShaped {
						marker = "F"
					}
					fmt.Printf("%s %s | $%12.2f | %-8s | score %3d | block %-5v | %v\n",
						marker,
						tx.TransactionID,
						tx.Amount,
						result.RiskLevel,
						result.RiskScore,
						result.ShouldBlock,
						elapsed.Round(time.Millisecond),
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeTransaction(client *http.Client, baseURL, tenantID string, tx Transaction) (*Assessment, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result Assessment
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Fraud-shaped:     %d\n", m.FraudSent)
	fmt.Printf("   Legit:            %d\n", m.LegitSent)

	scored := m.LowCount + m.MediumCount + m.HighCount + m.CriticalCount
	fmt.Printf("\n📈 RISK LEVELS\n")
	if scored > 0 {
		fmt.Printf("   LOW:       %6d (%.2f%%)\n", m.LowCount, 100*float64(m.LowCount)/float64(scored))
		fmt.Printf("   MEDIUM:    %6d (%.2f%%)\n", m.MediumCount, 100*float64(m.MediumCount)/float64(scored))
		fmt.Printf("   HIGH:      %6d (%.2f%%)\n", m.HighCount, 100*float64(m.HighCount)/float64(scored))
		fmt.Printf("   CRITICAL:  %6d (%.2f%%)\n", m.CriticalCount, 100*float64(m.CriticalCount)/float64(scored))
		fmt.Printf("   Alerts:    %6d (%.2f%%)\n", m.AlertCount, 100*float64(m.AlertCount)/float64(scored))
		fmt.Printf("   Blocked:   %6d (%.2f%%)\n", m.BlockedCount, 100*float64(m.BlockedCount)/float64(scored))
	}

	fmt.Printf("\n🎯 DETECTION\n")
	if m.FraudSent > 0 {
		fmt.Printf("   Fraud Flagged:   %d / %d (%.2f%%)\n",
			m.FraudFlagged, m.FraudSent, 100*float64(m.FraudFlagged)/float64(m.FraudSent))
	}
	if m.LegitSent > 0 {
		fmt.Printf("   False Alarms:    %d / %d (%.2f%%)\n",
			m.LegitFlagged, m.LegitSent, 100*float64(m.LegitFlagged)/float64(m.LegitSent))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))

	m.mu.Lock()
	latencies := make([]time.Duration, len(m.latencies))
	copy(latencies, m.latencies)
	m.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var total time.Duration
		for _, d := range latencies {
			total += d
		}

		fmt.Printf("   Avg Latency:      %v\n", (total / time.Duration(len(latencies))).Round(time.Microsecond))
		fmt.Printf("   p50 Latency:      %v\n", percentile(latencies, 0.50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", percentile(latencies, 0.99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(len(latencies))/duration.Seconds())
	}

	fmt.Println()
}
