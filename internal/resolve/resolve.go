// Package resolve suggests resolutions for sync conflicts that the
// three-way merge could not settle.
//
// The assistant never writes anything: it produces a suggestion the
// operator can accept or ignore from the conflicts CLI. Resolution itself
// always goes through the coordinator's explicit Resolve path.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/blackroad/statesync/internal/syncer"
)

// DefaultModel is used when the workspace config does not name one.
const DefaultModel = "claude-sonnet-4-5"

const systemPrompt = `You review state synchronization conflicts between replicas
of the same record. Given the last agreed base, the local pending state, and
the remote backend state, recommend which side to keep. Reply with a single
JSON object: {"resolution": "prefer_local" | "prefer_remote", "rationale": "..."}.
Recommend prefer_local only when the local changes clearly supersede the
remote ones; when in doubt about data loss, explain the risk in the rationale.`

// Suggestion is the assistant's recommendation for one conflict.
type Suggestion struct {
	// Resolution is prefer_local or prefer_remote.
	Resolution syncer.Policy `json:"resolution"`
	// Rationale is a short human-readable explanation.
	Rationale string `json:"rationale"`
}

// Assistant produces conflict resolution suggestions.
type Assistant struct {
	client anthropic.Client
	model  anthropic.Model
	logger *log.Logger
}

// NewAssistant creates an Assistant. The API key comes from the standard
// ANTHROPIC_API_KEY environment variable.
func NewAssistant(model string, logger *log.Logger) *Assistant {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[resolve] ", log.LstdFlags)
	}
	return &Assistant{
		client: anthropic.NewClient(),
		model:  anthropic.Model(model),
		logger: logger,
	}
}

// Suggest asks for a recommendation on one conflict report.
func (a *Assistant) Suggest(ctx context.Context, report *syncer.ConflictReport) (*Suggestion, error) {
	prompt, err := buildPrompt(report)
	if err != nil {
		return nil, err
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request suggestion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	suggestion, err := parseSuggestion(text.String())
	if err != nil {
		return nil, err
	}
	a.logger.Printf("suggested %s for %s/%s", suggestion.Resolution, report.Key, report.Backend)
	return suggestion, nil
}

// buildPrompt lays out the conflict for review.
func buildPrompt(report *syncer.ConflictReport) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Record key: %s\nConflicted backend: %s\nDivergent fields: %s\n\n",
		report.Key, report.Backend, strings.Join(report.Fields(), ", "))

	sections := []struct {
		label   string
		payload map[string]any
	}{
		{"Base (last agreed)", report.Base},
		{"Local (pending)", report.Local},
		{"Remote (backend)", report.Remote},
	}
	for _, s := range sections {
		data, err := json.MarshalIndent(s.payload, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode conflict payload: %w", err)
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", s.label, data)
	}
	return b.String(), nil
}

// parseSuggestion extracts the JSON object from the response text,
// tolerating surrounding prose or code fences.
func parseSuggestion(text string) (*Suggestion, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no suggestion found in response")
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion: %w", err)
	}
	if s.Resolution != syncer.PolicyPreferLocal && s.Resolution != syncer.PolicyPreferRemote {
		return nil, fmt.Errorf("suggestion names unknown resolution %q", s.Resolution)
	}
	return &s, nil
}
