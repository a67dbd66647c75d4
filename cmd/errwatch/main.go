package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/errwatch/pkg/client"
	"github.com/splax/errwatch/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "configure":
		err = commandConfigure(args)
	case "token":
		err = commandToken(args)
	case "report":
		err = commandReport(args)
	case "stats":
		err = commandStats(args)
	case "rates":
		err = commandRates(args)
	case "thresholds":
		err = commandThresholds(args)
	case "get":
		err = commandGet(args)
	case "similar":
		err = commandSimilar(args)
	case "clear":
		err = commandClear(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandConfigure(args []string) error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4500)")
	token := fs.String("token", "", "Access token for query endpoints")
	fs.Parse(args)

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	}
	if strings.TrimSpace(*token) != "" {
		cfg.AccessToken = strings.TrimSpace(*token)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("configuration saved")
	return nil
}

func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", "", "Admin JWT secret the server was started with")
	subject := fs.String("subject", "admin", "Token subject")
	role := fs.String("role", "admin", "Token role")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	save := fs.Bool("save", false, "Store the token in the CLI configuration")
	fs.Parse(args)

	if strings.TrimSpace(*secret) == "" {
		return errors.New("--secret is required")
	}
	token, err := jwt.GenerateToken(*subject, *role, *secret, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	if *save {
		cfg, _ := loadConfig()
		cfg.AccessToken = token
		if err := saveConfig(cfg); err != nil {
			return err
		}
	}
	return nil
}

func commandReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	name := fs.String("type", "Error", "Error type name")
	message := fs.String("message", "", "Error message")
	stack := fs.String("stack", "", "Optional stack trace")
	status := fs.Int("status", 0, "HTTP status code associated with the error")
	operational := fs.Bool("operational", false, "Mark the error as operational")
	requestID := fs.String("request-id", "", "Originating request id")
	fs.Parse(args)

	if strings.TrimSpace(*message) == "" {
		return errors.New("--message is required")
	}

	cli, _, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id, err := cli.Report(ctx, client.ErrorReport{
		Name:          *name,
		Message:       *message,
		Stack:         *stack,
		StatusCode:    *status,
		IsOperational: *operational,
	}, client.RequestInfo{RequestID: *requestID})
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Println("accepted (degraded, no id)")
		return nil
	}
	fmt.Println(id)
	return nil
}

func commandStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	window := fs.String("window", "", "Time window (minute|hour|day|week|all)")
	category := fs.String("category", "", "Filter by category")
	errType := fs.String("type", "", "Filter by error type")
	fs.Parse(args)

	cli, token, err := clientFromConfig()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no access token configured, run 'errwatch token' or 'errwatch configure'")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stats, err := cli.Stats(ctx, token, client.StatsQuery{
		Window:   *window,
		Category: *category,
		Type:     *errType,
	})
	if err != nil {
		return err
	}
	fmt.Printf("total=%d window=%s rate=%.2f/min\n", stats.Summary.Total, stats.Summary.TimeWindow, stats.ErrorRate)
	for _, top := range stats.TopErrors {
		fmt.Printf("%d\t%s\t%s\t%s\n", top.Count, top.Type, top.Category, top.Message)
	}
	return nil
}

func commandRates(args []string) error {
	cli, token, err := clientFromConfig()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no access token configured, run 'errwatch token' or 'errwatch configure'")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rates, err := cli.Rates(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("minute=%d hour=%d day=%d perMinute=%.2f perHour=%.2f\n",
		rates.LastMinute, rates.LastHour, rates.LastDay, rates.Rates.PerMinute, rates.Rates.PerHour)
	return nil
}

func commandThresholds(args []string) error {
	cli, token, err := clientFromConfig()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no access token configured, run 'errwatch token' or 'errwatch configure'")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report, err := cli.Thresholds(ctx, token)
	if err != nil {
		return err
	}
	if !report.HasViolations {
		fmt.Println("no threshold violations")
		return nil
	}
	for _, v := range report.Violations {
		fmt.Printf("%s\t%s\t%s\n", v.Level, v.Window, v.Message)
	}
	return nil
}

func commandGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.String("id", "", "Error record id")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	cli, token, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	detail, err := cli.GetError(ctx, token, *id)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func commandSimilar(args []string) error {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	id := fs.String("id", "", "Reference error record id")
	limit := fs.Int("limit", 0, "Maximum number of results")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	cli, token, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	similar, err := cli.Similar(ctx, token, *id, *limit)
	if err != nil {
		return err
	}
	for _, rec := range similar {
		fmt.Printf("%s\t%s\t%s\t%s\n", rec.ID, rec.Timestamp.Format(time.RFC3339), rec.Type, rec.Message)
	}
	return nil
}

func commandClear(args []string) error {
	cli, token, err := clientFromConfig()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no access token configured, run 'errwatch token' or 'errwatch configure'")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := cli.Clear(ctx, token); err != nil {
		return err
	}
	fmt.Println("telemetry cleared")
	return nil
}

func clientFromConfig() (*client.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	cli, err := client.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return cli, strings.TrimSpace(cfg.AccessToken), nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4500"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4500"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "errwatch", "config.json"), nil
}

func printUsage() {
	fmt.Printf("errwatch CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	errwatch configure [--api http://localhost:4500] [--token <jwt>]
	errwatch token --secret <server-secret> [--subject admin] [--ttl 1h] [--save]
	errwatch report --message <text> [--type Error] [--status N] [--stack trace] [--operational]
	errwatch stats [--window minute|hour|day|week|all] [--category name] [--type name]
	errwatch rates
	errwatch thresholds
	errwatch get --id <record-id>
	errwatch similar --id <record-id> [--limit N]
	errwatch clear
	errwatch version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
