package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/gringolingo/gringolingo/common/environment"
	"github.com/gringolingo/gringolingo/common/version"
	"github.com/gringolingo/gringolingo/internal/gringo/app"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
)

func main() {
	fmt.Printf("Gringo Lingo\n")
	fmt.Printf("Version: %s\n", version.Info())
	fmt.Println()

	if err := environment.Load(environment.StringOr("ENV_FILE", ".env")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	observability.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "text"))
	gin.SetMode(environment.StringOr("GIN_MODE", gin.ReleaseMode))

	config, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gringo, err := app.New(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Gringo Lingo: %v\n", err)
		os.Exit(1)
	}
	defer gringo.Stop()

	if err := gringo.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Gringo Lingo: %v\n", err)
		os.Exit(1)
	}
}
