package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rag-knowledge-platform/internal/app"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/logger"
	"rag-knowledge-platform/services"
)

type opener func(ctx context.Context) (*app.App, error)

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg)
	return app.New(ctx, cfg, logger.L(), app.Options{})
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate the document Q&A platform from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newIngestCmd(open),
		newAskCmd(open),
		newDocumentsCmd(open),
	)
	return root
}

// withApp opens the application for one command and always closes it.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func newIngestCmd(open opener) *cobra.Command {
	var (
		title   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload files and index them before returning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title != "" && len(args) > 1 {
				return fmt.Errorf("--title applies to a single file")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				jobIDs := make([]string, 0, len(args))
				for _, path := range args {
					id, err := uploadFile(ctx, a, path, title)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					jobIDs = append(jobIDs, id)
				}

				drainCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				if err := a.Ingestion.Drain(drainCtx); err != nil {
					return fmt.Errorf("waiting for ingestion: %w", err)
				}

				failed := 0
				out := cmd.OutOrStdout()
				for i, id := range jobIDs {
					job, err := a.Ingestion.Job(ctx, id)
					if err != nil {
						return err
					}
					if job.Error != "" {
						failed++
						fmt.Fprintf(out, "%s\t%s\t%s\n", args[i], job.Status, job.Error)
						continue
					}
					fmt.Fprintf(out, "%s\t%s\tdocument=%s\n", args[i], job.Status, job.DocumentID)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d files failed", failed, len(jobIDs))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (single file only)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "maximum time to wait for indexing")
	return cmd
}

func uploadFile(ctx context.Context, a *app.App, path, title string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	_, job, err := a.Ingestion.Upload(ctx, services.UploadInput{
		Filename:   filepath.Base(path),
		Title:      title,
		Size:       info.Size(),
		Body:       f,
		UploadedBy: "ragctl",
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func newAskCmd(open opener) *cobra.Command {
	var (
		docIDs []string
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				res, err := a.Query.Answer(ctx, services.QueryRequest{
					UserID:      user,
					Question:    strings.Join(args, " "),
					DocumentIDs: docIDs,
				})
				if err != nil {
					return err
				}
				return printAnswer(cmd.OutOrStdout(), res, asJSON)
			})
		},
	}
	cmd.Flags().StringSliceVar(&docIDs, "doc", nil, "restrict retrieval to these document ids")
	cmd.Flags().StringVar(&user, "user", "", "apply this user's provider preference")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result with debug information")
	return cmd
}

func printAnswer(w io.Writer, res *services.QueryResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, res.Answer)
	if len(res.Citations) > 0 {
		fmt.Fprintln(w)
	}
	for _, c := range res.Citations {
		fmt.Fprintf(w, "[%d] %s (%s)\n", c.Index, c.Title, c.PageOrSlide)
	}
	return nil
}

func newDocumentsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List documents with their latest job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				views, err := a.Ingestion.ListDocuments(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tCHUNKS\tJOB")
				for _, v := range views {
					job := "-"
					if v.LatestJob != nil {
						job = fmt.Sprintf("%s %s %d%%", v.LatestJob.Status, v.LatestJob.Stage, v.LatestJob.Progress)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", v.ID, v.Title, v.Status, v.ChunkCount, job)
				}
				return tw.Flush()
			})
		},
	}
}
