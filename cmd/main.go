package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Load .env failed: %v", err)
	}

	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "livequiz",
		Short:         "Live trivia games for a host and many players.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvl := slog.LevelInfo
			if verbose {
				lvl = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
		},
	}

	fs := root.PersistentFlags()
	fs.StringVarP(&configPath, "config", "c", "", "path to the config file (env: CONFIG_PATH)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	load := func() (server.Config, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(serveCmd(load), quizCmd(load))
	root.CompletionOptions.HiddenDefaultCmd = true

	return root
}

func serveCmd(load func() (server.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

			s, err := server.Init(c)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			go s.Start()

			<-shutdown
			s.Shutdown()
			return nil
		},
	}
}

func quizCmd(load func() (server.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Manage quizzes",
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Validate and save the quizzes of a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var quizzes []domain.Quiz
			if err := json.Unmarshal(b, &quizzes); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			for _, q := range quizzes {
				if err := q.Validate(); err != nil {
					return fmt.Errorf("quiz %s: %w", q.QuizID, err)
				}
			}

			return withQuizzes(load, func(r *quiz.Repository) error {
				for _, q := range quizzes {
					if err := r.Save(cmd.Context(), q); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d questions)\n", q.QuizID, len(q.Questions))
				}
				return nil
			})
		},
	}

	var owner string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the quizzes of an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuizzes(load, func(r *quiz.Repository) error {
				quizzes, err := r.ListByOwner(cmd.Context(), quiz.ListByOwnerRequest{OwnerID: owner})
				if err != nil {
					return err
				}
				for _, q := range quizzes {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d questions\n", q.QuizID, q.Title, len(q.Questions))
				}
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&owner, "owner", "", "user who created the quizzes")
	_ = listCmd.MarkFlagRequired("owner")

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func withQuizzes(load func() (server.Config, error), fn func(*quiz.Repository) error) error {
	c, err := load()
	if err != nil {
		return err
	}

	r, closeDB, err := server.OpenQuizzes(c)
	if err != nil {
		return err
	}
	defer closeDB()

	return fn(r)
}

func loadConfig(p string) (server.Config, error) {
	var c server.Config

	if p == "" {
		p = os.Getenv("CONFIG_PATH")
	}
	if p == "" {
		return c, fmt.Errorf("config path not set, use --config or CONFIG_PATH")
	}

	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
