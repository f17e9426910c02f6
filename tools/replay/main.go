package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	complianceapp "greenledger/internal/compliance/application"
	compliance "greenledger/internal/compliance/domain"
	"greenledger/internal/outputs"
	"greenledger/internal/streaming"
	"greenledger/internal/streaming/window"
	telemetry "greenledger/internal/telemetry/domain"
)

type config struct {
	input      string
	lateness   time.Duration
	partitions int
	quiet      bool
}

// Replays an NDJSON capture through the full window and rule pipeline
// and writes every emitted record to stdout. Two runs over the same
// capture produce the same records in the same per-plant order.
func main() {
	cfg := parseConfig()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	source := io.Reader(os.Stdin)
	if cfg.input != "" {
		f, err := os.Open(cfg.input)
		if err != nil {
			logger.Fatalf("open capture: %v", err)
		}
		defer f.Close()
		source = f
	}

	specs, err := buildSpecs(cfg.lateness)
	if err != nil {
		logger.Fatalf("window specs error: %v", err)
	}

	busLogger := logger
	if cfg.quiet {
		busLogger = log.New(io.Discard, "", 0)
	}
	bus := outputs.NewBus(busLogger)

	engine, err := streaming.NewEngine(specs, bus, streaming.WithPartitions(cfg.partitions))
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}
	service, err := complianceapp.NewService(compliance.DefaultRules(), specs, bus, complianceapp.WithLogger(busLogger))
	if err != nil {
		logger.Fatalf("compliance service error: %v", err)
	}
	service.Register(bus)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	sink, err := outputs.NewNDJSONSink(out)
	if err != nil {
		logger.Fatalf("ndjson sink error: %v", err)
	}
	bus.Subscribe(outputs.RecordTypeOf[streaming.WindowUpdated](), "replay.updates", sink.Handle)
	bus.Subscribe(outputs.RecordTypeOf[streaming.WindowClosed](), "replay.closes", sink.Handle)
	bus.Subscribe(outputs.RecordTypeOf[compliance.Violation](), "replay.violations", sink.Handle)
	bus.Subscribe(outputs.RecordTypeOf[compliance.Score](), "replay.scores", sink.Handle)

	if err := engine.Start(); err != nil {
		logger.Fatalf("engine start error: %v", err)
	}

	applied, dropped := feed(source, engine, logger)

	// Closes every open window so the capture's tail is accounted for.
	engine.Stop()

	if !cfg.quiet {
		logger.Printf("replay done: %d readings applied, %d dropped", applied, dropped)
	}
}

func feed(source io.Reader, engine *streaming.Engine, logger *log.Logger) (applied, dropped int) {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw telemetry.RawReading
		if err := json.Unmarshal(line, &raw); err != nil {
			logger.Printf("line %d: %v", lineNo, err)
			dropped++
			continue
		}
		reading, err := telemetry.Normalize(raw)
		if err != nil {
			logger.Printf("line %d: %v", lineNo, err)
			dropped++
			continue
		}
		if err := engine.Process(reading); err != nil {
			logger.Printf("line %d: %v", lineNo, err)
			dropped++
			continue
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read capture: %v", err)
	}
	return applied, dropped
}

func buildSpecs(lateness time.Duration) ([]window.Spec, error) {
	rolling := window.Sliding(compliance.WindowRolling, compliance.DefaultRollingWindow, compliance.DefaultRollingHop, lateness)
	score := window.Sliding(compliance.WindowScore, compliance.DefaultScoreWindow, compliance.DefaultScoreHop, lateness)
	hourly := window.Tumbling(compliance.WindowHourly, time.Hour, lateness)
	daily := window.Tumbling(compliance.WindowDaily, 24*time.Hour, lateness)

	specs := []window.Spec{rolling, score, hourly, daily}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

func parseConfig() config {
	var cfg config
	flag.StringVar(&cfg.input, "input", "", "NDJSON capture path (default: stdin)")
	flag.DurationVar(&cfg.lateness, "lateness", 30*time.Second, "allowed event-time lateness")
	flag.IntVar(&cfg.partitions, "partitions", 1, "partition workers; 1 gives a single global order")
	flag.BoolVar(&cfg.quiet, "quiet", false, "suppress progress logging")
	flag.Parse()
	return cfg
}
