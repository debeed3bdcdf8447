package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
)

var (
	streamChunks = [][]byte{
		[]byte(`data: {"choices":[{"delta":{"content":"Bench"}}]}` + "\n\n"),
		[]byte(`data: {"choices":[{"delta":{"content":"mark"}}]}` + "\n\n"),
		[]byte(`data: {"choices":[{"delta":{"content":" safe"}}]}` + "\n\n"),
		[]byte(`data: {"choices":[{"delta":{"content":" response"}}]}` + "\n\n"),
	}
	streamDone = []byte("data: [DONE]\n\n")
	unaryResp  = []byte(`{"id":"bench-123","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"}}]}`)
)

type benchOptions struct {
	duration time.Duration
	rate     int
	stream   bool
	mixed    bool
	endpoint string
}

func main() {
	var opts benchOptions
	flag.DurationVar(&opts.duration, "duration", 10*time.Second, "Duration of the test")
	flag.IntVar(&opts.rate, "rate", 50, "Requests per second")
	flag.BoolVar(&opts.stream, "stream", false, "Use streaming requests")
	flag.BoolVar(&opts.mixed, "mixed", false, "Rotate through completion, embedding and untyped requests")
	flag.StringVar(&opts.endpoint, "endpoint", "bench-echo", "Inference endpoint: bench-echo or bench-openai")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	buckets := flag.String("buckets", "[0,5ms,20ms,50ms,100ms,250ms]", "Latency histogram buckets")
	flag.Parse()

	var hist vegeta.Histogram
	if err := hist.Buckets.UnmarshalText([]byte(*buckets)); err != nil {
		log.Fatalf("Invalid buckets: %v", err)
	}

	go startMockServer()

	server, stop := startServer()
	defer stop()

	base := fmt.Sprintf("http://localhost:%d", appPort)
	waitForApp(base + "/health")

	done := make(chan struct{})
	go monitorResources(server.Process.Pid, done)

	mode := "Unary"
	if opts.stream {
		mode = "Streaming"
	}
	fmt.Printf("Running %s benchmark against %s: %s duration, %d req/s\n", mode, opts.endpoint, opts.duration, opts.rate)

	if *chaos {
		concurrency := min(max(opts.rate/10, 5), 50)
		fmt.Println("CHAOS MODE ENABLED: Starting Chaos Monkey sidecar...")
		streamURL := fmt.Sprintf("%s/v1/inference/completion/%s/_stream", base, opts.endpoint)
		go startChaosMonkey(streamURL, concurrency, done)
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics
	for res := range attacker.Attack(newTargeter(base, opts), vegeta.Rate{Freq: opts.rate, Per: time.Second}, opts.duration, "Benchmark") {
		metrics.Add(res)
		hist.Add(res)
	}
	metrics.Close()
	close(done)

	fmt.Println("--------------------------------------------------")
	if err := vegeta.NewTextReporter(&metrics).Report(os.Stdout); err != nil {
		log.Printf("Failed to write report: %v", err)
	}
	fmt.Println("--------------------------------------------------")
	if err := vegeta.NewHistogramReporter(&hist).Report(os.Stdout); err != nil {
		log.Printf("Failed to write histogram: %v", err)
	}

	checkTaskLeaks(base)

	_ = os.Remove("bench.db")
}

// newTargeter returns POST targets for the chosen endpoint. In mixed mode it cycles through the
// task-typed, untyped and embedding routes so the compatibility gate is on the hot path.
func newTargeter(base string, opts benchOptions) vegeta.Targeter {
	suffix := ""
	if opts.stream {
		suffix = "/_stream"
	}
	header := http.Header{"Content-Type": []string{"application/json"}}

	targets := []vegeta.Target{{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/v1/inference/completion/%s%s", base, opts.endpoint, suffix),
		Body:   []byte(`{"input": "Hello from the benchmark"}`),
		Header: header,
	}}
	if opts.mixed {
		targets = append(targets,
			vegeta.Target{
				Method: http.MethodPost,
				URL:    fmt.Sprintf("%s/v1/inference/%s%s", base, opts.endpoint, suffix),
				Body:   []byte(`{"input": ["first", "second"]}`),
				Header: header,
			},
			vegeta.Target{
				Method: http.MethodPost,
				URL:    fmt.Sprintf("%s/v1/inference/text_embedding/bench-embed", base),
				Body:   []byte(`{"input": ["embed me"], "input_type": "search"}`),
				Header: header,
			},
		)
	}
	return vegeta.NewStaticTargeter(targets...)
}

// startServer builds and launches the gateway with the bench configuration.
func startServer() (*exec.Cmd, func()) {
	fmt.Println("Building application...")
	build := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	configFile := "bench_config.yaml"
	if err := os.WriteFile(configFile, []byte(benchConfig), 0o644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}

	fmt.Println("Starting application...")
	cmd := exec.Command("./bin/server")
	cmd.Env = append(os.Environ(),
		"CONFIG_FILE="+configFile,
		fmt.Sprintf("SERVER_PORT=%d", appPort),
		"LOG_LEVEL=error",
	)

	logFile, err := os.Create("bench_server.log")
	if err != nil {
		log.Fatalf("Failed to create server log: %v", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	return cmd, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = logFile.Close()
		_ = os.Remove(configFile)
	}
}

// checkTaskLeaks waits for in-flight streams to settle and reports any task still live.
func checkTaskLeaks(base string) {
	var tasks struct {
		Data []struct {
			ID          string `json:"id"`
			InferenceID string `json:"inference_id"`
			State       string `json:"state"`
		} `json:"data"`
	}

	for range 10 {
		resp, err := http.Get(base + "/v1/tasks")
		if err != nil {
			log.Printf("Task check failed: %v", err)
			return
		}
		err = json.NewDecoder(resp.Body).Decode(&tasks)
		_ = resp.Body.Close()
		if err != nil {
			log.Printf("Task check failed: %v", err)
			return
		}
		if len(tasks.Data) == 0 {
			fmt.Println("Live streaming tasks after run: 0")
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Printf("WARNING: %d streaming tasks still live after run\n", len(tasks.Data))
	for _, t := range tasks.Data {
		fmt.Printf("  %s %s %s\n", t.ID, t.InferenceID, t.State)
	}
}

// startChaosMonkey opens streams and abandons them after 1-200ms to exercise task cancellation.
func startChaosMonkey(url string, concurrency int, done chan struct{}) {
	fmt.Printf("Starting Chaos Monkey with %d concurrent disrupters (random disconnects 1-200ms)\n", concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for range concurrency {
		go func() {
			defer wg.Done()
			client := &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 100,
				},
			}
			payload := `{"input": "Chaos request that will be abandoned half way", "task_settings": {"delay": "20ms"}}`

			for {
				select {
				case <-done:
					return
				default:
				}

				timeout := time.Duration(rand.Intn(200)+1) * time.Millisecond
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
				req.Header.Set("Content-Type", "application/json")

				resp, err := client.Do(req)
				if err == nil {
					_ = resp.Body.Close()
				}
				cancel()

				time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
			}
		}()
	}
	wg.Wait()
}

// startMockServer mimics the OpenAI API for the bench-openai endpoint.
func startMockServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-3.5-turbo","object":"model"}]}`))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "text/event-stream" {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher, _ := w.(http.Flusher)
			for _, chunk := range streamChunks {
				time.Sleep(50 * time.Millisecond)
				_, _ = w.Write(chunk)
				flusher.Flush()
			}
			_, _ = w.Write(streamDone)
			flusher.Flush()
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

// monitorResources samples the server's RSS and CPU through ps once a second.
func monitorResources(pid int, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (ps) ---")
	fmt.Printf("%-10s %-10s %-10s\n", "Time", "RSS(MB)", "CPU(%)")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "rss=,%cpu=").Output()
			if err != nil {
				continue
			}
			fields := strings.Fields(string(out))
			if len(fields) < 2 {
				continue
			}
			rss, _ := strconv.ParseFloat(fields[0], 64)
			cpu, _ := strconv.ParseFloat(fields[1], 64)
			fmt.Printf("%-10s %-10.2f %-10.2f\n", time.Now().Format("15:04:05"), rss/1024, cpu)
		}
	}
}

func waitForApp(url string) {
	for range 20 {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}

var benchConfig = fmt.Sprintf(`
server:
  port: %d
  env: production
rate_limit:
  requests_per_second: 0
log:
  level: error
database:
  dsn: "file:bench.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000"
services:
  - id: local-echo
    type: echo
    enabled: true
  - id: mock-openai
    type: openai
    api_key: mock-key
    base_url: "http://localhost:%d/v1"
    enabled: true
endpoints:
  - inference_id: bench-echo
    service: local-echo
    task_type: completion
  - inference_id: bench-embed
    service: local-echo
    task_type: text_embedding
  - inference_id: bench-openai
    service: mock-openai
    task_type: completion
    service_settings:
      model_id: gpt-3.5-turbo
`, appPort, mockPort)
