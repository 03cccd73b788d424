// Command gringolingo-cli chats with the tutor from a terminal, using the
// same storage and generation settings as the bot.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/gringolingo/gringolingo/common/environment"
	"github.com/gringolingo/gringolingo/common/version"
	"github.com/gringolingo/gringolingo/internal/gringo/app"
	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
)

func main() {
	var (
		envFile     string
		dbPath      string
		databaseURL string
		backend     string
		model       string
		user        string
		resume      bool
		logLevel    string
		showVersion bool
	)

	flags := pflag.NewFlagSet("gringolingo-cli", pflag.ExitOnError)
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&dbPath, "db", "", "SQLite message log path (overrides DATABASE_PATH)")
	flags.StringVar(&databaseURL, "database-url", "", "postgres:// or bolt:// message log (overrides DATABASE_URL)")
	flags.StringVar(&backend, "backend", "", "generation backend: openai or ollama (overrides LLM_BACKEND)")
	flags.StringVar(&model, "model", "", "model name (overrides LLM_MODEL)")
	flags.StringVarP(&user, "user", "u", "", "conversation owner; a random one is used when empty")
	flags.BoolVar(&resume, "resume", false, "continue the user's last conversation instead of starting over")
	flags.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.BoolVar(&showVersion, "version", false, "print the version and exit")
	flags.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version.Info())
		return
	}

	if err := environment.Load(envFile); err != nil {
		fatal(err)
	}
	overrides := map[string]string{
		"DATABASE_PATH": dbPath,
		"DATABASE_URL":  databaseURL,
		"LLM_BACKEND":   backend,
		"LLM_MODEL":     model,
	}
	for name, value := range overrides {
		if value != "" {
			os.Setenv(name, value)
		}
	}
	if dbPath != "" && databaseURL == "" {
		os.Unsetenv("DATABASE_URL")
	}
	observability.Setup(logLevel, "text")

	if user == "" {
		user = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, user, resume); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, user string, resume bool) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Interactive = true
	cfg.HTTPAddr = ""
	cfg.Matrix, cfg.Telegram, cfg.WhatsApp = nil, nil, nil

	gringo, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer gringo.Stop()

	you := color.New(color.FgGreen, color.Bold).SprintFunc()
	tutorName := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Println(you("Gringo Lingo"), dim(version.Version))
	fmt.Println(dim(fmt.Sprintf("user %s; %s starts over, /help lists commands, Ctrl+D quits", user, cfg.ResetCommand)))
	fmt.Println()

	send := func(text string) {
		msg := channel.Message{
			Platform:  channel.PlatformCLI,
			EventID:   uuid.NewString(),
			UserKey:   channel.UserKey(channel.PlatformCLI, user),
			ChatID:    user,
			Text:      text,
			Timestamp: time.Now(),
		}
		resp, err := gringo.Handler().HandleMessage(ctx, msg)
		if err != nil {
			fmt.Println(warn(resp.Text))
			fmt.Println(dim(err.Error()))
			return
		}
		if resp.Text != "" {
			fmt.Printf("%s %s\n\n", tutorName("Tutor:"), resp.Text)
		}
	}

	if !resume {
		send(cfg.ResetCommand)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print(you("You: "))
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				return nil
			}
			send(text)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	os.Exit(1)
}
