// Command pgsession connects to a PostgreSQL server with the connection core
// and reports the resulting session: backend PID, transport encryption, and
// server parameters. It is both a debugging tool and the smallest example of
// using the library.
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/term"

	"github.com/pantapita/postgres/pkg/client"
	"github.com/pantapita/postgres/pkg/config"
)

//go:embed README.md
var readmeMarkdown string

var bannerLines = []string{
	`                                      _            `,
	`   ____   ____ _ _____ ___   _____ _____(_)___  ____  `,
	`  / __ \ / __ '// ___// _ \ / ___// ___// // _ \/ __ \ `,
	` / /_/ // /_/ /(__  )/  __/(__  )(__  )/ / (_) / / / / `,
	`/ .___/ \__, //____/ \___//____//____//_/\___/_/ /_/  `,
	`/_/    /____/                                         `,
}

func printBanner() {
	// Gradient from blue to teal
	blue, _ := colorful.Hex("#336791")
	teal, _ := colorful.Hex("#00CED1")
	bgColor := lipgloss.Color("#1a1a2e")

	maxWidth := 0
	for _, line := range bannerLines {
		if len(line) > maxWidth {
			maxWidth = len(line)
		}
	}

	var lines []string
	for _, line := range bannerLines {
		var result strings.Builder
		for i, r := range line {
			t := float64(i) / float64(maxWidth-1)
			c := blue.BlendLuv(teal, t)
			style := lipgloss.NewStyle().
				Foreground(lipgloss.Color(c.Hex())).
				Background(bgColor).
				Bold(true)
			result.WriteString(style.Render(string(r)))
		}
		lines = append(lines, result.String())
	}

	box := lipgloss.NewStyle().
		Background(bgColor).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))

	fmt.Println(box)
	fmt.Println()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00CED1"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#336791")).
			Bold(true)

	descStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

func printUsage() {
	fmt.Println(titleStyle.Render("Usage:"))
	fmt.Println("  pgsession -config pgsession.json [-exec <sql>]")
	fmt.Println("  pgsession -host <host> -user <user> [flags]")
	fmt.Println()

	fmt.Println(titleStyle.Render("Options:"))
	flag.VisitAll(func(f *flag.Flag) {
		fmt.Printf("  %s\n", keyStyle.Render("-"+f.Name))
		fmt.Printf("      %s\n", descStyle.Render(f.Usage))
	})
	fmt.Println()
	fmt.Println(descStyle.Render("Run 'pgsession -docs' for full documentation."))
}

func printFullDocs() {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		fmt.Println(readmeMarkdown)
		return
	}
	out, err := renderer.Render(readmeMarkdown)
	if err != nil {
		fmt.Println(readmeMarkdown)
		return
	}
	fmt.Print(out)
}

func main() {
	configPath := flag.String("config", "", "path to pgsession.json config file")
	host := flag.String("host", "", "server host (alternative to -config)")
	port := flag.Uint("port", 5432, "server port")
	user := flag.String("user", "", "user name")
	passwordEnv := flag.String("password-env", "PGPASSWORD", "environment variable holding the password")
	database := flag.String("database", "", "database name (defaults to the user name)")
	appName := flag.String("application-name", "pgsession", "application_name startup parameter")
	useTLS := flag.Bool("tls", false, "negotiate TLS before startup")
	enforceTLS := flag.Bool("tls-enforce", false, "fail instead of downgrading when TLS cannot be established")
	attempts := flag.Uint("attempts", 1, "connection attempts for transport failures")
	execSQL := flag.String("exec", "", "statement to run after connecting")
	jsonLogs := flag.Bool("json", false, "output logs in JSON format")
	showDocs := flag.Bool("docs", false, "show full documentation")
	flag.Usage = printUsage
	flag.Parse()

	if *showDocs {
		printFullDocs()
		os.Exit(0)
	}
	if *configPath == "" && *host == "" {
		printBanner()
		printUsage()
		os.Exit(1)
	}

	var handler slog.Handler
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()

	opts, err := resolveOptions(ctx, *configPath, flagOptions{
		host:        *host,
		port:        uint16(*port),
		user:        *user,
		passwordEnv: *passwordEnv,
		database:    *database,
		appName:     *appName,
		useTLS:      *useTLS,
		enforceTLS:  *enforceTLS,
		attempts:    uint32(*attempts),
	})
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	c := client.New(opts, logger)
	if err := c.Connect(ctx); err != nil {
		logger.Error("connection failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = c.Close(ctx)
	}()

	printSession(c.Session())

	if *execSQL != "" {
		res, err := c.Exec(ctx, *execSQL)
		if err != nil {
			logger.Error("statement failed", "error", err)
			os.Exit(1)
		}
		printResult(res)
	}
}

type flagOptions struct {
	host        string
	port        uint16
	user        string
	passwordEnv string
	database    string
	appName     string
	useTLS      bool
	enforceTLS  bool
	attempts    uint32
}

// resolveOptions builds connection options from the config file when given,
// falling back to flags.
func resolveOptions(ctx context.Context, configPath string, f flagOptions) (config.Options, error) {
	if configPath != "" {
		file, err := config.ReadFile(configPath)
		if err != nil {
			return config.Options{}, fmt.Errorf("read config: %w", err)
		}
		secrets, err := config.NewSecretCacheFromEnv(ctx)
		if err != nil {
			return config.Options{}, err
		}
		return file.Resolve(ctx, secrets)
	}

	opts := config.Options{
		Host:            f.host,
		Port:            f.port,
		User:            f.user,
		Password:        os.Getenv(f.passwordEnv),
		Database:        f.database,
		ApplicationName: f.appName,
		TLS: config.TLSOptions{
			Enabled: f.useTLS,
			Enforce: f.enforceTLS,
		},
		Connection: config.ConnectionOptions{Attempts: f.attempts},
	}.Normalized()
	return opts, opts.Validate()
}

func printSession(s *client.Session) {
	fmt.Println(titleStyle.Render("Session"))
	fmt.Printf("  %s %d\n", keyStyle.Render("backend pid:"), s.PID)
	fmt.Printf("  %s %t\n", keyStyle.Render("tls:"), s.TLS)
	fmt.Printf("  %s %s\n", keyStyle.Render("status:"), s.TxStatus)

	names := make([]string, 0, len(s.ServerParams))
	for name := range s.ServerParams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s %s\n", keyStyle.Render(name+":"), s.ServerParams[name])
	}
}

func printResult(res *client.Result) {
	fmt.Println(titleStyle.Render("Result"))
	if len(res.Columns) > 0 {
		fmt.Printf("  %s\n", keyStyle.Render(strings.Join(res.Columns, " | ")))
	}
	for _, row := range res.Rows {
		fmt.Printf("  %s\n", strings.Join(row, " | "))
	}
	fmt.Printf("  %s\n", descStyle.Render(res.CommandTag))
}
