package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/game-shelf/internal/adapter/remote"
	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/core/service"
)

const (
	gameID        = 64
	totalEdits    = 50
	serverLatency = 20 * time.Millisecond
	failEvery     = 7
)

var conditions = []string{"loose", "complete", "new", "graded", "boxed"}

func main() {
	ctx := context.Background()

	seed := domain.Game{
		Key:             domain.KeyFromID(gameID),
		PurchasedGameID: domain.Int(gameID * 10),
		Name:            "Super Mario 64",
		Console:         "Nintendo 64",
		Condition:       "complete",
	}
	api := remote.NewMemoryAPI(serverLatency, seed)

	store := service.NewStateStore(nil)
	if err := store.Put(seed); err != nil {
		log.Fatalf("failed to seed store: %v", err)
	}
	engine := service.NewEngine(store, nil,
		service.WithRetryPolicy(service.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}))
	inventory := service.NewInventory(engine, api, nil)

	var events atomic.Int32
	unsubscribe := store.Subscribe(func(domain.StoreEvent) { events.Add(1) })
	defer unsubscribe()

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	var last string
	for i := 0; i < totalEdits; i++ {
		if i > 0 && i%failEvery == 0 {
			api.FailNext(503, 503)
		}
		last = conditions[i%len(conditions)]
		p, err := inventory.UpdateCondition(ctx, seed.Key, last)
		if err != nil {
			failCount.Add(1)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Wait(ctx); err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.Close(shutdownCtx); err != nil {
		log.Printf("engine close: %v", err)
	}

	local, _ := store.Get(seed.Key)
	server, err := api.Get(ctx, seed.Key)
	if err != nil {
		log.Fatalf("failed to read server copy: %v", err)
	}

	fmt.Println("=== Load Test Results ===")
	fmt.Printf("Total edits:       %d\n", totalEdits)
	fmt.Printf("Confirmed:         %d\n", successCount.Load())
	fmt.Printf("Failed:            %d\n", failCount.Load())
	fmt.Printf("Server calls:      %d\n", api.Calls())
	fmt.Printf("Store events:      %d\n", events.Load())
	fmt.Printf("Last requested:    %s\n", last)
	fmt.Printf("Local condition:   %s\n", local.Condition)
	fmt.Printf("Server condition:  %s\n", server.Condition)
	fmt.Printf("Time elapsed:      %v\n", elapsed)

	if local.Condition != server.Condition {
		fmt.Println("FAIL: local and server copies diverged")
	} else if store.HasOperation(seed.Key) {
		fmt.Println("FAIL: operation left in flight")
	} else {
		fmt.Println("PASS: local copy matches the server")
	}
}
