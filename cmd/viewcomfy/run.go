package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/viewcomfy/client"
	"github.com/richinsley/viewcomfy/generation"
	"github.com/richinsley/viewcomfy/results"
)

func newRunCommand(configFile *string) *cobra.Command {
	var (
		workflowFile string
		title        string
		sets         []string
		outDir       string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a workflow and save its outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			var doc *client.ViewComfyDocument
			if workflowFile != "" {
				doc, err = loadDocument(workflowFile)
			} else {
				doc, err = a.client.GetViewComfy(ctx)
			}
			if err != nil {
				d := generation.DialogFor(err)
				return fmt.Errorf("%s: %s", d.Title, d.Description)
			}
			entry, err := selectWorkflow(doc, title)
			if err != nil {
				return err
			}

			wf := generation.NewWorkflow(entry)
			if wf.ViewComfyJSON.ViewcomfyEndpoint == "" {
				wf.ViewComfyJSON.ViewcomfyEndpoint = a.cfg.API.ViewComfyEndpoint
			}
			closers, err := applySets(wf, sets)
			defer func() {
				for _, c := range closers {
					c.Close()
				}
			}()
			if err != nil {
				return err
			}

			// listen before submitting so a fast socket result is not missed
			if err := a.relay.Mount(ctx); err != nil {
				a.log.Warn().Err(err).Msg("realtime results unavailable")
			}

			changed := make(chan struct{}, 1)
			a.tracker.OnChange(func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

			promptID, err := a.tracker.Submit(ctx, a.client, wf)
			if err != nil {
				d := generation.DialogFor(err)
				return fmt.Errorf("%s: %s", d.Title, d.Description)
			}

			g, err := waitForGeneration(ctx, a.tracker, promptID, changed)
			if err != nil {
				return err
			}
			if g.Status == results.StatusError {
				return fmt.Errorf("prompt %s failed: %s", promptID, g.ErrorMessage)
			}
			return saveOutputs(ctx, a.client.HttpClient(), a.tracker, g, outDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&workflowFile, "workflow", "w", "", "view_comfy.json file (default: fetch from the app)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "workflow title when the document holds several")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "input override key=value; value is JSON or a string, @path uploads a file")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to save outputs to")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	return cmd
}

// loadDocument reads either a full view_comfy document or a single workflow entry.
func loadDocument(path string) (*client.ViewComfyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := &client.ViewComfyDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Workflows) > 0 {
		return doc, nil
	}
	var entry client.WorkflowEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(entry.WorkflowApiJSON) == 0 {
		return nil, fmt.Errorf("%s holds no workflow", path)
	}
	doc.Workflows = []client.WorkflowEntry{entry}
	return doc, nil
}

func selectWorkflow(doc *client.ViewComfyDocument, title string) (client.WorkflowEntry, error) {
	if len(doc.Workflows) == 0 {
		return client.WorkflowEntry{}, errors.New("no workflows available")
	}
	if title == "" {
		return doc.Workflows[0], nil
	}
	for _, w := range doc.Workflows {
		if strings.EqualFold(w.ViewComfyJSON.Title, title) {
			return w, nil
		}
	}
	return client.WorkflowEntry{}, fmt.Errorf("no workflow titled %q", title)
}

// applySets applies key=value overrides. The returned files must be closed after
// the submission.
func applySets(wf *generation.Workflow, sets []string) ([]io.Closer, error) {
	var closers []io.Closer
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return closers, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		if path, isFile := strings.CutPrefix(raw, "@"); isFile {
			input, f, err := client.FileInputFromPath(key, path)
			if err != nil {
				return closers, err
			}
			closers = append(closers, f)
			wf.Files = append(wf.Files, input)
			continue
		}
		if !wf.Set(key, parseValue(raw)) {
			return closers, fmt.Errorf("workflow has no input %q", key)
		}
	}
	return closers, nil
}

func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func waitForGeneration(ctx context.Context, tracker *generation.Tracker, promptID string, changed <-chan struct{}) (generation.Generation, error) {
	if g, ok := tracker.Generation(promptID); ok {
		return g, nil
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("waiting for "+promptID),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return generation.Generation{}, fmt.Errorf("waiting for %s: %w", promptID, ctx.Err())
		case <-tick.C:
			bar.Add(1)
		case <-changed:
		}
		if g, ok := tracker.Generation(promptID); ok {
			return g, nil
		}
	}
}

func saveOutputs(ctx context.Context, hc *http.Client, tracker *generation.Tracker, g generation.Generation, dir string, w io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, d := range g.Outputs {
		name := filepath.Base(d.Output.Name)
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("%s_%d", g.PromptID, i)
		}
		path := filepath.Join(dir, name)

		var err error
		if blob, ok := tracker.ObjectURLs().Resolve(d.URL); ok {
			err = os.WriteFile(path, blob.Data, 0o644)
		} else {
			err = download(ctx, hc, d.URL, path)
		}
		if err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		fmt.Fprintln(w, path)
	}
	return nil
}

func download(ctx context.Context, hc *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error: %d - %s", resp.StatusCode, resp.Status)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
