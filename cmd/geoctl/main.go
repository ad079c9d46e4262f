package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tocanan.ai/geo/internal/client"
	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/poller"
)

func main() {
	var (
		serverURL   = flag.String("server", "http://localhost:8080", "geo server base URL")
		clientName  = flag.String("client", "", "client name")
		question    = flag.String("question", "", "target question to answer")
		contentFile = flag.String("rewrite", "", "path to content to rewrite instead of generating")
		wordCount   = flag.Int("words", 0, "target word count")
		jobID       = flag.String("job", "", "poll an existing job instead of submitting")
		history     = flag.Bool("history", false, "list recent completed jobs")
		maxAttempts = flag.Int("max-attempts", 300, "polling attempts before giving up")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*serverURL, 30*time.Second)

	switch {
	case *history:
		listHistory(ctx, api)
	case *jobID != "":
		pollJob(ctx, api, *jobID, *maxAttempts)
	case *contentFile != "":
		submitRewrite(ctx, api, *clientName, *question, *contentFile, *wordCount, *maxAttempts)
	default:
		submitGenerate(ctx, api, *clientName, *question, *wordCount, *maxAttempts)
	}
}

func submitGenerate(ctx context.Context, api *client.Client, clientName, question string, wordCount, maxAttempts int) {
	if clientName == "" || question == "" {
		fatal("both -client and -question are required")
	}

	ack, err := api.Submit(ctx, model.GenerationRequest{
		ClientName:      clientName,
		TargetQuestion:  question,
		TargetWordCount: wordCount,
	})
	if err != nil {
		fatal("submit failed: %v", err)
	}
	fmt.Printf("submitted %s (status %s)\n", ack.JobID, ack.Status)
	pollJob(ctx, api, ack.JobID, maxAttempts)
}

func submitRewrite(ctx context.Context, api *client.Client, clientName, question, contentFile string, wordCount, maxAttempts int) {
	if clientName == "" {
		fatal("-client is required")
	}
	content, err := os.ReadFile(contentFile)
	if err != nil {
		fatal("read %s: %v", contentFile, err)
	}

	ack, err := api.SubmitRewrite(ctx, model.RewriteRequest{
		ClientName:      clientName,
		Content:         string(content),
		TargetQuestion:  question,
		TargetWordCount: wordCount,
	})
	if err != nil {
		fatal("submit failed: %v", err)
	}
	fmt.Printf("submitted %s (status %s)\n", ack.JobID, ack.Status)
	pollJob(ctx, api, ack.JobID, maxAttempts)
}

func pollJob(ctx context.Context, api *client.Client, jobID string, maxAttempts int) {
	policy := poller.DefaultPolicy()
	policy.MaxAttempts = maxAttempts

	p := poller.New(jobID, func(ctx context.Context) (*model.Job, error) {
		return api.GetJob(ctx, jobID)
	}, policy)
	outcomes := p.Start(ctx)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Printf("waiting... ~%.0f%%\n", p.Progress())
		case outcome := <-outcomes:
			if outcome.Err != nil {
				p.Stop()
				fatal("polling ended: %v", outcome.Err)
			}
			printTerminal(outcome.Job)
			return
		case <-ctx.Done():
			p.Stop()
			fatal("interrupted")
		}
	}
}

func printTerminal(job *model.Job) {
	if job.Status == model.JobStatusFailed {
		fmt.Printf("job %s failed [%s]: %s\n", job.ID, job.Error.Kind, job.Error.Message)
		os.Exit(1)
	}

	r := job.Result
	fmt.Printf("job %s completed: score %.1f, %d words, draft %s, %d statistics, %d quotations\n\n",
		job.ID, r.EvaluationScore, r.WordCount, r.SelectedDraft,
		r.GeoAnalysis.StatisticsCount, r.GeoAnalysis.QuotationsCount)
	fmt.Println(r.Content)
}

func listHistory(ctx context.Context, api *client.Client) {
	entries, err := api.History(ctx, 0)
	if err != nil {
		fatal("history failed: %v", err)
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		fatal("encode history: %v", err)
	}
	fmt.Println(string(out))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
