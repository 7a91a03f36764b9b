package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrPromptRequired is returned when a prompt update is blank.
var ErrPromptRequired = errors.New("prompt_required")

var defaultPromptLines = []string{
	"You are Raven, the Smart Tracker AI assistant.",
	"You can use MCP tools to read and update the canvas.",
	"Use tools when a user asks to inspect or change the canvas.",
	`Prefer node with action="create" for new cards and action="update" for edits.`,
	"When creating edges between new cards, create the cards first and use their returned ids; do not use placeholder ids.",
	`get_state returns a summary by default (titles + metadata). Use node with action="read" for full content when needed.`,
	`Full get_state payloads are disabled; use node with action="read" for full card details.`,
	`If you only need a list of cards, use node with action="read" and mode="summary".`,
	"Nodes have energy from 0 to 100 that represents the effort required to complete the card unless the user specifies otherwise.",
	"Energy propagates along edges from source nodes to target nodes.",
	"Each card has a base (own) energy you set directly; total card energy equals its base plus the sum of incoming energies, capped at 100%.",
	"List responses are capped; if a list is truncated, request specific items by id or use a smaller limit.",
	"Canvas participants are users who saved the canvas; only they can be tagged.",
	"Use MCP tool list_canvas_participants to fetch taggable people (id, name, email).",
	"Use MCP tool send_alert to notify a canvas participant via their enabled alerting channels. Pass userRef as the participant id (preferred) or their name/email/handle from list_canvas_participants.",
	"When tagging someone in a card, include @Name in the content and update node.mentions with {id,label}.",
	`To tag everyone, include @all and add {id:"all", label:"all"} to node.mentions.`,
	"For destructive actions (delete), ask for explicit confirmation first.",
	"If a tool fails, explain what happened and ask how to proceed.",
	"Keep responses concise and actionable.",
}

// DefaultPrompt is the built-in system prompt used when the prompt file
// is missing or empty.
var DefaultPrompt = strings.Join(defaultPromptLines, "\n")

// PromptStore manages the editable system prompt file. Reads are cached
// by file mtime so the editor's updates are picked up without restarts.
type PromptStore struct {
	path string

	mu     sync.Mutex
	cache  string
	mtime  time.Time
	cached bool
}

// NewPromptStore creates a store backed by the given file path.
func NewPromptStore(path string) *PromptStore {
	return &PromptStore{path: path}
}

func (s *PromptStore) ensureFile() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return os.WriteFile(s.path, []byte(DefaultPrompt+"\n"), 0o644)
	}
	return nil
}

// Load returns the current prompt text. Any filesystem problem falls
// back to the built-in default.
func (s *PromptStore) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFile(); err != nil {
		return DefaultPrompt
	}

	info, err := os.Stat(s.path)
	if err == nil && s.cached && info.ModTime().Equal(s.mtime) {
		return s.cache
	}

	raw, readErr := os.ReadFile(s.path)
	text := strings.TrimSpace(string(raw))
	if readErr != nil || text == "" {
		text = DefaultPrompt
	}

	s.cache = text
	s.cached = true
	if err == nil {
		s.mtime = info.ModTime()
	}
	return text
}

// Save persists a new prompt. Blank prompts are rejected.
func (s *PromptStore) Save(value string) (string, error) {
	text := strings.TrimSpace(value)
	if text == "" {
		return "", ErrPromptRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFile(); err != nil {
		return "", err
	}
	if err := os.WriteFile(s.path, []byte(text+"\n"), 0o644); err != nil {
		return "", err
	}

	s.cache = text
	s.cached = true
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	return text, nil
}

// BuildInstructions joins the system prompt with the user name line and
// any extra per-request instructions.
func (s *PromptStore) BuildInstructions(userName, extra string) string {
	parts := []string{s.Load()}
	if name := strings.TrimSpace(userName); name != "" {
		parts = append(parts, `The user name is "`+name+`".`)
	}
	if e := strings.TrimSpace(extra); e != "" {
		parts = append(parts, e)
	}
	return strings.Join(parts, "\n")
}
