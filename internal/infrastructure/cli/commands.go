package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/insightx/insightx/internal/app"
	"github.com/insightx/insightx/internal/application/orchestrator"
	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
)

const shutdownGrace = 10 * time.Second

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := app.BuildContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			if addr == "" {
				addr = container.Config.Server.Addr
			}
			return runServer(cmd.Context(), addr, container)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to the configured one)")
	return cmd
}

func runServer(ctx context.Context, addr string, container *app.Container) error {
	logger := log.WithComponent("server")
	server := &http.Server{
		Addr:              addr,
		Handler:           container.Server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newAskCommand() *cobra.Command {
	var file string
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question against a dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && sessionID == "" {
				return fmt.Errorf("either --file or --session is required")
			}

			container, err := app.BuildContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			ctx := cmd.Context()
			var session domain.Session
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				session, err = container.Store.IngestCSV(ctx, f.Name(), f)
				f.Close()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s: %d rows (session %s)\n",
					session.Filename, session.RowCount, session.ID)
			} else {
				session, err = container.Store.Session(ctx, sessionID)
				if err != nil {
					return err
				}
			}

			findings, err := container.Store.Findings(ctx, session.ID)
			if err != nil {
				return err
			}

			question := args[0]
			req := orchestrator.Request{
				Question: question,
				Context: domain.SessionContext{
					SessionID:     session.ID,
					Dataset:       domain.DatasetHandle{Table: session.Table},
					Profile:       session.Profile,
					PriorFindings: findings,
				},
			}
			return renderStream(cmd, container.Orchestrator.Stream(ctx, req))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to ingest before asking")
	cmd.Flags().StringVar(&sessionID, "session", "", "Existing session id")
	return cmd
}

func renderStream(cmd *cobra.Command, events <-chan domain.OrchestrationEvent) error {
	out := cmd.OutOrStdout()
	for event := range events {
		switch event.Type {
		case domain.EventStatus:
			fmt.Fprintf(out, "[%s] %s\n", event.Stage, event.Message)
		case domain.EventClassification:
			fmt.Fprintf(out, "[route] %s: %s\n", event.Classification.Route, event.Classification.Reasoning)
		case domain.EventQueryResult:
			fmt.Fprintf(out, "[query] %s\n        %s\n", event.QueryResult.Query, event.QueryResult.Summary)
		case domain.EventCodeResult:
			fmt.Fprintf(out, "[analysis] %s\n", event.CodeResult.Summary)
		case domain.EventCredentialRotation:
			fmt.Fprintf(out, "[credentials] %s\n", event.Message)
		case domain.EventFinalResponse:
			fmt.Fprintf(out, "\n%s\n", event.Final.Text)
			if event.Final.Confidence > 0 {
				fmt.Fprintf(out, "(confidence: %.0f%%)\n", event.Final.Confidence)
			}
			for _, followUp := range event.Final.FollowUps {
				fmt.Fprintf(out, "  - %s\n", followUp)
			}
		case domain.EventError:
			return fmt.Errorf("%s", event.Message)
		}
	}
	return nil
}

func newKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Show credential pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := app.BuildContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(container.Pool.Stats())
		},
	}
}
