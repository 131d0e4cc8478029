package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/replay/pkg/blob"
	"github.com/entrhq/replay/pkg/config"
	"github.com/entrhq/replay/pkg/dispatch"
	"github.com/entrhq/replay/pkg/driver"
	"github.com/entrhq/replay/pkg/evidence"
	"github.com/entrhq/replay/pkg/llm"
	"github.com/entrhq/replay/pkg/llm/openai"
	"github.com/entrhq/replay/pkg/logging"
	"github.com/entrhq/replay/pkg/session"
	"github.com/entrhq/replay/pkg/tokenizer"
	"github.com/entrhq/replay/pkg/variables"
)

// timePrecision rounds step durations for display.
const timePrecision = time.Millisecond

// Workflow is a declarative sequence of steps run against one session.
type Workflow struct {
	// Scope names the session; it defaults to the workflow file name.
	Scope string `yaml:"scope,omitempty"`

	// Variables seeds the session's variable scope before the first step.
	Variables map[string]string `yaml:"variables,omitempty"`

	// Steps run in order. The run stops at the first failed step.
	Steps []Step `yaml:"steps"`
}

// Step is one action with its parameters inlined.
type Step struct {
	Action     string              `yaml:"action"`
	Parameters dispatch.Parameters `yaml:",inline"`
}

// loadWorkflow reads and validates a workflow file.
func loadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}
	if wf.Scope == "" {
		wf.Scope = strings.TrimSuffix(strings.TrimSuffix(path, ".yaml"), ".yml")
	}
	return &wf, nil
}

// run executes the workflow end to end.
func run(ctx context.Context, cliConfig *CLIConfig) error {
	cfg := config.Default()
	if cliConfig.ConfigFile != "" {
		loaded, err := config.Load(cliConfig.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	wf, err := loadWorkflow(cliConfig.WorkflowFile)
	if err != nil {
		return err
	}

	log, err := logging.New("replay", cliConfig.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	factory := driver.NewPlaywrightFactory()
	if err := factory.Start(); err != nil {
		return fmt.Errorf("failed to start browser driver: %w", err)
	}
	defer factory.Stop()

	vars := variables.NewResolver(variables.WithMaxDepth(cfg.Variables.MaxDepth))

	storeOpts := []evidence.Option{}
	if cliConfig.BlobDir != "" {
		storeOpts = append(storeOpts, evidence.WithBlobStore(blob.NewFileStore(cliConfig.BlobDir, log)))
	}
	store := evidence.NewStore(cfg.Screenshots, log, storeOpts...)

	sessions := session.NewManager(factory, cfg.Session, log)
	sessions.StartJanitor()
	defer sessions.Close()

	dispatchOpts := []dispatch.Option{}
	// Token counting is a best-effort enrichment: a failed encoding load
	// only disables counts.
	if counter, tokErr := tokenizer.New(); tokErr == nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithTokenCounter(counter))
	} else {
		log.Warnf("token counting disabled: %v", tokErr)
	}
	dispatcher := dispatch.NewDispatcher(sessions, vars, store, cfg, log, dispatchOpts...)

	if _, err := sessions.CreateSession(wf.Scope); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer sessions.DestroySession(wf.Scope)

	if len(wf.Variables) > 0 {
		if err := vars.Import(wf.Scope, wf.Variables); err != nil {
			return fmt.Errorf("failed to seed variables: %w", err)
		}
	}

	var harvested []string
	for i, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("workflow interrupted: %w", err)
		}

		action := dispatch.Action(step.Action)
		resp := dispatcher.ExecuteCommand(dispatch.Command{
			ScopeKey:   wf.Scope,
			Action:     action,
			Parameters: step.Parameters,
			CommandID:  fmt.Sprintf("step-%d", i+1),
		})
		if !resp.Success {
			return fmt.Errorf("step %d (%s) failed: %w", i+1, step.Action, resp.Error)
		}

		fmt.Printf("step %d %s ok (%s)", i+1, step.Action, resp.Duration.Round(timePrecision))
		if resp.EvidenceID != "" {
			fmt.Printf(" evidence=%s", resp.EvidenceID)
		}
		fmt.Println()
		if resp.Content != "" {
			harvested = append(harvested, resp.Content)
			if action != dispatch.ActionGetDOM && action != dispatch.ActionGetSubDOM {
				fmt.Println(indent(resp.Content))
			}
		}
	}

	if report, cleanupErr := store.Cleanup(""); cleanupErr != nil {
		log.Warnf("evidence cleanup failed: %v", cleanupErr)
	} else if report != nil && report.Deleted > 0 {
		log.Infof("evidence cleanup removed %d records (%d bytes)", report.Deleted, report.FreedBytes)
	}

	if cliConfig.Summarize {
		return summarize(ctx, cliConfig, harvested)
	}
	return nil
}

// summarize sends the harvested text through the configured LLM and prints
// the response.
func summarize(ctx context.Context, cliConfig *CLIConfig, harvested []string) error {
	if len(harvested) == 0 {
		fmt.Println("nothing to summarize")
		return nil
	}

	providerOpts := []openai.Option{}
	if cliConfig.Model != "" {
		providerOpts = append(providerOpts, openai.WithModel(cliConfig.Model))
	}
	if cliConfig.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cliConfig.BaseURL))
	}
	provider, err := openai.NewProvider(cliConfig.APIKey, providerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	summary, err := complete(ctx, provider, strings.Join(harvested, "\n\n"))
	if err != nil {
		return fmt.Errorf("summarization failed: %w", err)
	}
	fmt.Println("\nSummary:")
	fmt.Println(indent(summary))
	return nil
}

const summarySystemPrompt = "You summarize text extracted from web pages. " +
	"Be concise and preserve concrete facts, names, and numbers."

func complete(ctx context.Context, provider llm.Provider, text string) (string, error) {
	return provider.Complete(ctx, summarySystemPrompt, text)
}

// indent prefixes each line for step output readability.
func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}
