package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kothbackend/kothd/pkg/admin"
	"github.com/kothbackend/kothd/pkg/httputil"
	"github.com/kothbackend/kothd/pkg/requestlog"
)

// ErrStreamDropped is returned by follow mode when the server dropped the
// viewer for falling behind.
var ErrStreamDropped = errors.New("live tail dropped by server")

type logsFlags struct {
	server  string
	prefix  string
	limit   int
	filter  string
	json    bool
	verbose bool
	follow  bool
	clear   bool
}

var logsFlagVals logsFlags

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show, follow or clear the request log of a running server",
	Example: `  # Show the 20 most recent entries
  kothd logs

  # Only failed POSTs, with headers and bodies
  kothd logs --filter 'status >= 500 && method == "POST"' --verbose

  # Stream entries as they happen
  kothd logs -f

  # Clear the log
  kothd logs --clear`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runLogs(ctx, cmd.OutOrStdout(), &logsFlagVals)
	},
}

func initLogsCmd() {
	rootCmd.AddCommand(logsCmd)

	f := &logsFlagVals
	logsCmd.Flags().StringVar(&f.server, "server", envOr("KOTHD_SERVER", "http://localhost:8000"), "Base URL of the kothd server")
	logsCmd.Flags().StringVar(&f.prefix, "prefix", admin.DefaultPrefix, "Viewer API prefix on the server")
	logsCmd.Flags().IntVarP(&f.limit, "limit", "n", 20, "Number of entries to show (0 = all)")
	logsCmd.Flags().StringVar(&f.filter, "filter", "", "Filter expression, e.g. 'status >= 500'")
	logsCmd.Flags().BoolVar(&f.json, "json", false, "Output in JSON format")
	logsCmd.Flags().BoolVar(&f.verbose, "verbose", false, "Show headers and bodies")
	logsCmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "Stream entries in real time (like tail -f)")
	logsCmd.Flags().BoolVar(&f.clear, "clear", false, "Clear the request log")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runLogs(ctx context.Context, w io.Writer, f *logsFlags) error {
	client := newViewerClient(f.server, f.prefix)

	if f.clear {
		n, err := client.clear(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "Cleared %d log entries\n", n)
		return err
	}

	if f.follow {
		return client.follow(ctx, f.limit, f.filter, func(e *requestlog.Entry) error {
			return printEntry(w, e, f.json, f.verbose)
		})
	}

	list, err := client.list(ctx, f.limit, f.filter)
	if err != nil {
		return err
	}

	switch {
	case f.json:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list.Entries)
	case len(list.Entries) == 0:
		_, err := fmt.Fprintln(w, "No request logs")
		return err
	case f.verbose:
		for _, e := range list.Entries {
			if err := printVerbose(w, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return printTable(w, list.Entries)
	}
}

// viewerClient talks to the admin API of a running server.
type viewerClient struct {
	base   string
	http   *http.Client
	stream *http.Client
}

func newViewerClient(server, prefix string) *viewerClient {
	return &viewerClient{
		base:   strings.TrimRight(server, "/") + "/" + strings.Trim(prefix, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		stream: &http.Client{},
	}
}

func (c *viewerClient) endpoint(path string, limit int, filter string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if filter != "" {
		q.Set("filter", filter)
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *viewerClient) list(ctx context.Context, limit int, filter string) (*admin.ListResponse, error) {
	var out admin.ListResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("", limit, filter), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *viewerClient) clear(ctx context.Context) (int, error) {
	var out admin.ClearResponse
	if err := c.do(ctx, http.MethodDelete, c.base, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

func (c *viewerClient) do(ctx context.Context, method, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach kothd at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// follow reads the SSE tail until ctx ends. The snapshot is printed oldest
// first so the output reads like tail -f.
func (c *viewerClient) follow(ctx context.Context, limit int, filter string, emit func(*requestlog.Entry) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/stream", limit, filter), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("cannot reach kothd at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return readEvents(ctx, resp.Body, emit)
}

// readEvents parses the stream. The snapshot arrives most recent first and
// ends with a snapshot-end event; it is buffered until then and emitted
// reversed, oldest first. Live entries are emitted as they arrive.
func readEvents(ctx context.Context, body io.Reader, emit func(*requestlog.Entry) error) error {
	events := make(chan sseFrame)
	go scanFrames(ctx, body, events)

	var backlog []*requestlog.Entry
	buffering := true

	flush := func() error {
		buffering = false
		for i := len(backlog) - 1; i >= 0; i-- {
			if err := emit(backlog[i]); err != nil {
				return err
			}
		}
		backlog = nil
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-events:
			if !ok {
				if buffering {
					return flush()
				}
				return nil
			}
			switch frame.event {
			case admin.EventSnapshotEnd:
				if buffering {
					if err := flush(); err != nil {
						return err
					}
				}
				continue
			case admin.EventDropped:
				if buffering {
					_ = flush()
				}
				return ErrStreamDropped
			case "", "message":
			default:
				continue
			}
			if frame.data == "" {
				continue
			}

			var e requestlog.Entry
			if err := json.Unmarshal([]byte(frame.data), &e); err != nil {
				continue
			}
			if buffering {
				backlog = append(backlog, &e)
				continue
			}
			if err := emit(&e); err != nil {
				return err
			}
		}
	}
}

type sseFrame struct {
	event string
	data  string
}

// scanFrames splits an event stream into frames; comments are skipped.
func scanFrames(ctx context.Context, body io.Reader, out chan<- sseFrame) {
	defer close(out)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	var frame sseFrame
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 || frame.event != "" {
				frame.data = strings.Join(data, "\n")
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
			frame, data = sseFrame{}, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			frame.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
	}
}

func apiError(resp *http.Response) error {
	var body httputil.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode, body.Message, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

func printEntry(w io.Writer, e *requestlog.Entry, asJSON, verbose bool) error {
	switch {
	case asJSON:
		return json.NewEncoder(w).Encode(e)
	case verbose:
		return printVerbose(w, e)
	default:
		_, err := fmt.Fprintf(w, "%s  %-6s %-40s %3d  %s\n",
			e.Timestamp.Local().Format("15:04:05.000"), e.Method, truncate(e.Path+e.QueryString, 40), e.ResponseStatusCode, formatDuration(e.DurationMs))
		return err
	}
}

func printTable(w io.Writer, entries []*requestlog.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tMETHOD\tPATH\tSTATUS\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Method, truncate(e.Path+e.QueryString, 40), e.ResponseStatusCode, formatDuration(e.DurationMs))
	}
	return tw.Flush()
}

func printVerbose(w io.Writer, e *requestlog.Entry) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "─── %s %s%s → %d (%s) ───\n", e.Method, e.Path, e.QueryString, e.ResponseStatusCode, formatDuration(e.DurationMs))
	fmt.Fprintf(&sb, "ID:        %s\nTimestamp: %s\n", e.ID, e.Timestamp.Format(time.RFC3339Nano))
	if e.RemoteAddr != "" {
		fmt.Fprintf(&sb, "Remote:    %s\n", e.RemoteAddr)
	}
	if e.Error != "" {
		fmt.Fprintf(&sb, "Error:     %s\n", e.Error)
	}
	writeHeaders(&sb, "Request headers", e.RequestHeaders)
	writeBody(&sb, "Request body", e.RequestBody, e.RequestBodyTruncated)
	writeHeaders(&sb, "Response headers", e.ResponseHeaders)
	writeBody(&sb, "Response body", e.ResponseBody, e.ResponseBodyTruncated)
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeHeaders(sb *strings.Builder, title string, h map[string]string) {
	if len(h) == 0 {
		return
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(sb, "%s:\n", title)
	for _, name := range names {
		fmt.Fprintf(sb, "  %s: %s\n", name, h[name])
	}
}

func writeBody(sb *strings.Builder, title string, body *string, truncated bool) {
	if body == nil {
		return
	}
	suffix := ""
	if truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(sb, "%s%s:\n  %s\n", title, suffix, strings.ReplaceAll(*body, "\n", "\n  "))
}

// truncate shortens s to at most n runes, ending in "..." when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func formatDuration(ms float64) string {
	if ms < 1 {
		return fmt.Sprintf("%.0fµs", ms*1000)
	}
	return fmt.Sprintf("%.1fms", ms)
}
