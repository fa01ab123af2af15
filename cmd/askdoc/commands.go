package main

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kalambet/askdoc/internal/chunker"
	"github.com/kalambet/askdoc/internal/config"
	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/ingest"
	"github.com/kalambet/askdoc/internal/source"
	"github.com/kalambet/askdoc/internal/storage"
	"github.com/kalambet/askdoc/internal/tui"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.SlogLevel())
	return cfg, nil
}

// documentRef returns the document to read and the arguments after it.
// With --blob the document is that blob in the configured container and no
// argument is consumed.
func documentRef(cmd *cobra.Command, cfg config.Config, args []string) (string, []string, error) {
	blob, _ := cmd.Flags().GetString("blob")
	if blob != "" {
		ref, err := cfg.BlobURL(blob)
		return ref, args, err
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("a file, URL or --blob is required")
	}
	return args[0], args[1:], nil
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [file-or-url]",
	Short: "Open an interactive chat about a document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ref, rest, err := documentRef(cmd, cfg, args)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return fmt.Errorf("--blob and a file or URL cannot be combined")
		}
		ctx, stop := signalContext()
		defer stop()

		persist, _ := cmd.Flags().GetBool("save")
		rt, err := newRuntime(ctx, cfg, persist)
		if err != nil {
			return err
		}
		defer rt.Close()

		st, err := rt.load(ctx, ref)
		if err != nil {
			return err
		}
		printSuccess("Ready: %d chunks", st.Chunks)

		title := "document"
		if st.Document != nil {
			title = cmp.Or(st.Document.Title, st.Document.Source, title)
		}
		p := tea.NewProgram(tui.New(ctx, rt.conv, title), tea.WithAltScreen(), tea.WithContext(ctx))
		_, err = p.Run()
		return err
	},
}

func init() {
	chatCmd.Flags().Bool("save", false, "record the document and messages in the local database")
	chatCmd.Flags().String("blob", "", "read this blob from the container in source.container_sas")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [file-or-url] <question>",
	Short: "Ask a single question about a document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ref, question, err := documentRef(cmd, cfg, args)
		if err != nil {
			return err
		}
		if len(question) == 0 {
			return fmt.Errorf("a question is required")
		}
		ctx, stop := signalContext()
		defer stop()

		rt, err := newRuntime(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if _, err := rt.load(ctx, ref); err != nil {
			return err
		}
		answer, err := rt.conv.Ask(ctx, strings.Join(question, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	askCmd.Flags().String("blob", "", "read this blob from the container in source.container_sas")
}

// --- chunk ---

var chunkCmd = &cobra.Command{
	Use:   "chunk <file-or-url>",
	Short: "Show how a document is split into chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")
		overlap, _ := cmd.Flags().GetInt("overlap")
		if !cmd.Flags().Changed("size") {
			size = cfg.Chunker.Size
		}
		if !cmd.Flags().Changed("overlap") {
			overlap = cfg.Chunker.Overlap
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, stop := signalContext()
		defer stop()

		text, err := source.Load(ctx, args[0], &http.Client{Timeout: 60 * time.Second})
		if err != nil {
			return err
		}
		chunks, err := chunker.Split(text.Content, size, overlap)
		if err != nil {
			return err
		}
		return printChunks(cmd.OutOrStdout(), chunks, asJSON)
	},
}

func init() {
	chunkCmd.Flags().Int("size", chunker.DefaultSize, "chunk size in characters (default: chunker.size)")
	chunkCmd.Flags().Int("overlap", chunker.DefaultOverlap, "overlap in characters (default: chunker.overlap)")
	chunkCmd.Flags().Bool("json", false, "print chunks as JSON")
}

func printChunks(w io.Writer, chunks []chunker.Chunk, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	}
	for _, c := range chunks {
		fmt.Fprintf(w, "%s [%d, %d) %d chars\n", colorize(colorBold, fmt.Sprintf("#%d", c.ID)), c.Start, c.End, c.Len())
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(truncate(c.Text, 160), "\n", " "))
	}
	fmt.Fprintf(w, "%d chunks\n", len(chunks))
	return nil
}

// --- load ---

var loadCmd = &cobra.Command{
	Use:   "load <file-or-url>",
	Short: "Load a document into the running server",
	Long: `Load a document into the running server. The server reads the file or URL
itself and indexes it in the background; use --wait to block until it is ready.

Examples:
  askdoc load ./manuale.pdf --wait
  askdoc load https://example.com/guida.html --title "Guida"
  askdoc load --text "Il canone è mensile."
  askdoc load --blob contratti/2026.pdf --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		title, _ := cmd.Flags().GetString("title")
		blob, _ := cmd.Flags().GetString("blob")
		wait, _ := cmd.Flags().GetBool("wait")

		req := map[string]string{"title": title}
		switch {
		case text != "":
			req["content"] = text
		case blob != "":
			req["blob"] = blob
		case len(args) == 1:
			req["source"] = args[0]
		default:
			return fmt.Errorf("a file, URL, --blob or --text is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		job, err := submitDocument(ctx, client, req)
		if err != nil {
			return err
		}
		printSuccess("Queued job %s (version %s)", job.ID, job.Version)
		if !wait {
			return nil
		}
		job, err = waitForJob(ctx, client, job.ID, 500*time.Millisecond)
		if err != nil {
			return err
		}
		if job.State != ingest.JobCompleted {
			return fmt.Errorf("job %s %s: %s", job.ID, job.State, job.Error)
		}
		printSuccess("Document ready")
		return nil
	},
}

func init() {
	loadCmd.Flags().String("text", "", "inline document text instead of a file or URL")
	loadCmd.Flags().String("title", "", "title for the document")
	loadCmd.Flags().String("blob", "", "blob name the server resolves against its source.container_sas")
	loadCmd.Flags().Bool("wait", false, "wait until the document is indexed")
}

func submitDocument(ctx context.Context, client *apiClient, req map[string]string) (ingest.Job, error) {
	resp, err := client.post(ctx, "/v1/documents", req)
	if err != nil {
		return ingest.Job{}, err
	}
	var job ingest.Job
	if err := decodeJSON(resp, &job); err != nil {
		return ingest.Job{}, err
	}
	return job, nil
}

// waitForJob polls the job until it leaves the pending and running states.
func waitForJob(ctx context.Context, client *apiClient, id string, every time.Duration) (ingest.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		resp, err := client.get(ctx, "/v1/documents/jobs/"+id)
		if err != nil {
			return ingest.Job{}, err
		}
		var job ingest.Job
		if err := decodeJSON(resp, &job); err != nil {
			return ingest.Job{}, err
		}
		if job.State != ingest.JobPending && job.State != ingest.JobRunning {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List documents recorded in the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		docs, err := store.ListDocuments(limit)
		if err != nil {
			return err
		}
		printDocuments(cmd.OutOrStdout(), docs)
		return nil
	},
}

func init() {
	documentsCmd.Flags().Int("limit", 20, "maximum number of documents to list")
}

func printDocuments(w io.Writer, docs []storage.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents found.")
		return
	}
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = d.Source
		}
		fmt.Fprintf(w, "%s  %s  %d chunks  %s\n",
			colorize(colorCyan, truncate(d.ID, 8)),
			d.LoadedAt.Local().Format("2006-01-02 15:04"),
			d.Chunks,
			title,
		)
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the chat history",
	Long: `Show the chat history of the running server, or, with --document, the
transcript of a recorded document from the local database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("document")
		clearHistory, _ := cmd.Flags().GetBool("clear")
		out := cmd.OutOrStdout()

		if docID != "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer store.Close()

			msgs, err := storage.NewRecorder(store).Transcript(docID)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages.")
			}
			for _, m := range msgs {
				printTurn(out, m.Role.String(), m.Content)
			}
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if clearHistory {
			resp, err := client.delete(ctx, "/v1/history")
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, nil); err != nil {
				return err
			}
			printSuccess("History cleared")
			return nil
		}
		return printRemoteHistory(ctx, client, out)
	},
}

func init() {
	historyCmd.Flags().String("document", "", "show the recorded transcript of this document version")
	historyCmd.Flags().Bool("clear", false, "clear the running server's history")
}

func printRemoteHistory(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, "/v1/history")
	if err != nil {
		return err
	}
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}
	if len(body.Messages) == 0 {
		fmt.Fprintln(w, "No messages.")
		return nil
	}
	for _, m := range body.Messages {
		printTurn(w, m.Role, m.Content)
	}
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show askdoc server and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	printStatus("Engine", "%s", cfg.Engine.Backend)
	printStatus("Completion", "%s (%s)", cfg.Completion.Provider, cfg.ChatModel())
	printStatus("Embed model", "%s", cfg.EmbedModel())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	remote, err := newAPIClient()
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	docResp, err := remote.get(ctx, "/v1/documents/current")
	if err != nil {
		return nil
	}
	var st conversation.Status
	if err := decodeJSON(docResp, &st); err != nil {
		printWarning("reading document status: %v", err)
		return nil
	}
	printStatus("Document", "%s", describeStatus(st))
	return nil
}

func describeStatus(st conversation.Status) string {
	state := st.State.String()
	switch {
	case st.LastError != "":
		return fmt.Sprintf("%s (last error: %s)", state, st.LastError)
	case st.Document == nil:
		return state
	}
	title := st.Document.Title
	if title == "" {
		title = st.Document.Version
	}
	return fmt.Sprintf("%s, %s, %d chunks, %d messages", state, title, st.Chunks, st.Messages)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store a secret read from stdin",
	Long: `Store a secret in the platform secret store. The value is read from the
first line of stdin so it never appears in shell history.

Valid keys: ` + strings.Join(config.SecretKeys(), ", "),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := config.SetSecret(args[0], value); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no secret on stdin")
	}
	return line, nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
