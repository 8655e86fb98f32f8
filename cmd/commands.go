package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pdf-rag/internal/app"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/server"
	"pdf-rag/internal/storage"
)

type loader func(cmd *cobra.Command) (*app.App, error)

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing vector store")
	}
}

func serveCMD(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			cfg := a.Config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			srv := server.New(cfg, server.Deps{
				Ingestor: a.Ingestor,
				Answerer: a.Answerer,
				Files:    a.Files,
				Metrics:  a.Metrics,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			log.Info().Msg("Shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func ingestCMD(load loader) *cobra.Command {
	var scope string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Index documents into the vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := storage.ValidName(scope); err != nil {
				return err
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				name := filepath.Base(path)
				if dryRun {
					content, err := a.Ingestor.Extract(data, name)
					if err != nil {
						return err
					}
					helper.PrettyPrint(map[string]any{"filename": name, "characters": len([]rune(content))})
					continue
				}
				res, err := a.Ingestor.Ingest(cmd.Context(), data, scope, name)
				if err != nil {
					return err
				}
				if err := a.Files.Save(scope, name, data); err != nil {
					return err
				}
				helper.PrettyPrint(res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "default", "scope (class) the documents belong to")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract only, do not store")
	return cmd
}

func queryCMD(load loader) *cobra.Command {
	var scope, filename, prompt string
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			resp, err := a.Answerer.Answer(cmd.Context(), rag.Query{
				Question: args[0],
				Filter: map[string]string{
					models.MetaScope:    scope,
					models.MetaFilename: filename,
				},
				PromptTemplate: prompt,
			})
			if err != nil {
				return err
			}

			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", resp.Query)

			log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			for _, src := range resp.Sources {
				fmt.Printf("- %s\n", src)
			}
			fmt.Println()

			log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", resp.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "restrict retrieval to a scope")
	cmd.Flags().StringVarP(&filename, "file", "f", "", "restrict retrieval to one filename")
	cmd.Flags().StringVar(&prompt, "prompt", "", "custom prompt template with {context} and {question}")
	return cmd
}

func deleteCMD(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <scope> <filename>",
		Short: "Remove a document and its chunks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			n, err := a.Ingestor.Remove(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.Files.Delete(args[0], args[1]); err != nil {
				return err
			}
			helper.PrettyPrint(map[string]any{"document_id": models.DocumentID(args[0], args[1]), "deleted": n})
			return nil
		},
	}
}

func statusCMD(load loader) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "status <filename>",
		Short: "Report whether a document has been indexed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ok, err := a.Ingestor.Processed(cmd.Context(), scope, args[0])
			if err != nil {
				return err
			}
			helper.PrettyPrint(map[string]bool{"is_processed": ok})
			return nil
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "scope to look in")
	return cmd
}
