// Package main provides tutorctl, an operator CLI for the PDF pipelines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"ai-tutor-platform/internal/auth"
	"ai-tutor-platform/internal/config"
	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/models"
	"ai-tutor-platform/services"
)

var rootCmd = &cobra.Command{
	Use:           "tutorctl",
	Short:         "Operate the PDF ingestion and answering pipelines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one PDF into the vector index",
	Long: `Fetches the PDF, extracts and chunks its text, embeds the chunks and
replaces the document's vectors in the index. The outcome is recorded on
the source document exactly as the HTTP endpoint does.`,
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer a question from one ingested PDF",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ingestion status of a PDF",
	RunE:  runStatus,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the API",
	RunE:  runToken,
}

var (
	pdfID      string
	fileURL    string
	title      string
	userID     string
	role       string
	tokenTTL   time.Duration
	asJSON     bool
	cmdTimeout time.Duration
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 15*time.Minute, "overall command timeout")

	ingestCmd.Flags().StringVar(&pdfID, "pdf-id", "", "source document id")
	ingestCmd.Flags().StringVar(&fileURL, "url", "", "URL of the PDF")
	ingestCmd.Flags().StringVar(&title, "title", "", "document title")
	_ = ingestCmd.MarkFlagRequired("pdf-id")
	_ = ingestCmd.MarkFlagRequired("url")
	_ = ingestCmd.MarkFlagRequired("title")

	askCmd.Flags().StringVar(&pdfID, "pdf-id", "", "source document id")
	askCmd.Flags().StringVar(&title, "title", "", "document title")
	_ = askCmd.MarkFlagRequired("pdf-id")
	_ = askCmd.MarkFlagRequired("title")

	statusCmd.Flags().StringVar(&pdfID, "pdf-id", "", "source document id")
	_ = statusCmd.MarkFlagRequired("pdf-id")

	tokenCmd.Flags().StringVar(&userID, "user", "", "user id placed in the token subject")
	tokenCmd.Flags().StringVar(&role, "role", auth.RoleStudent, "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(ingestCmd, askCmd, statusCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the same dependencies the server uses.
func setup(ctx context.Context) (*services.PipelineDependencies, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.InitLoggerWithWriter(cfg, os.Stderr)

	return services.NewPipelineDependencies(ctx, cfg, nil)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	pipeline, err := services.NewIngestionPipeline(deps)
	if err != nil {
		return err
	}

	result, err := pipeline.Ingest(ctx, services.IngestRequest{PDFID: pdfID, FileURL: fileURL, Title: title})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(result)
	}
	fmt.Println("Ingestion complete!")
	fmt.Printf("  Document: %s\n", result.PDFID)
	fmt.Printf("  Pages: %d\n", result.Pages)
	fmt.Printf("  Chunks: %d\n", result.Chunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	pipeline, err := services.NewRetrievalPipeline(deps)
	if err != nil {
		return err
	}

	result, err := pipeline.Answer(ctx, services.AnswerRequest{
		Question: strings.Join(args, " "),
		PDFID:    pdfID,
		PDFTitle: title,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(result)
	}
	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range result.Sources {
			fmt.Printf("  [%d] page %v: %s\n", i+1, src.Metadata[models.MetaPageNumber], strings.ReplaceAll(src.PageContent, "\n", " "))
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	if deps.StatusStore == nil {
		return services.NewConfigurationError("status", []string{"MONGO_URI"})
	}
	doc, err := deps.StatusStore.Get(ctx, pdfID)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(doc)
	}
	fmt.Printf("Document:  %s (%s)\n", doc.ID, doc.Title)
	fmt.Printf("State:     %s\n", doc.ProcessingState)
	fmt.Printf("Processed: %t\n", doc.ContentProcessed)
	if doc.ProcessedAt != nil {
		fmt.Printf("At:        %s\n", doc.ProcessedAt.Format(time.RFC3339))
	}
	if doc.ProcessingError != nil {
		fmt.Printf("Error:     %s\n", *doc.ProcessingError)
	}
	if doc.ChunkCount > 0 {
		fmt.Printf("Chunks:    %d over %d pages\n", doc.ChunkCount, doc.PageCount)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger.InitLoggerWithWriter(cfg, os.Stderr)
	if cfg.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is not set")
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = config.NewRedisClient(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	validator, err := auth.NewTokenValidator(cfg.AuthJWTSecret, cfg.AuthIssuer, rdb)
	if err != nil {
		return err
	}
	token, err := validator.IssueToken(cmd.Context(), userID, role, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
