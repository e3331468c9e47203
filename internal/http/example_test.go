package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/excelmind/internal/http"
	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/llm/llmtest"
	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		panic(err)
	}

	// Any llm.Client works; a scripted one keeps the example offline.
	client := llmtest.NewScripted(llmtest.Reply(llm.TextResponse(`{"rows": 3}`)))
	orch, err := orchestrator.New(orchestrator.DefaultConfig(), client, registry)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := &httpserver.Config{
		Host: "localhost",
		Port: 0,
	}

	server, err := httpserver.NewServer(orch, registry, logger, cfg)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
