package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Providers accepted by NewCompleter.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderStatic    = "static"
)

// Prompt is one text generation call.
type Prompt struct {
	System string
	User   string
	// Task and Topic identify the call; the static completer writes from them.
	Task  string
	Topic string
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Config selects and configures a Completer.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	AWSRegion  string
	AWSProfile string
	MaxTokens  int64
}

// NewCompleter builds the completer for cfg.Provider.
func NewCompleter(cfg Config) (Completer, error) {
	cc := ClientConfig{
		Model:     anthropic.Model(cfg.Model),
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}
	switch cfg.Provider {
	case "", ProviderAnthropic:
	case ProviderBedrock:
		cc.UseAWSBedrock = true
		cc.AWSRegion = cfg.AWSRegion
		cc.AWSProfile = cfg.AWSProfile
	case ProviderStatic:
		return StaticCompleter{}, nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
	client, err := NewClient(cc)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// StaticCompleter writes deterministic placeholder prose without any
// network call. It backs offline runs and tests.
type StaticCompleter struct{}

// Complete returns a fixed paragraph naming the task and topic.
func (StaticCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	task := p.Task
	if task == "" {
		task = "section"
	}
	topic := p.Topic
	if topic == "" {
		topic = "the requested subject"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "This %s discusses %s. ", strings.ReplaceAll(task, "_", " "), topic)
	b.WriteString("It restates the request in plain prose and builds on the material produced by earlier steps. ")
	b.WriteString("The text is generated offline and stays identical across runs, so it is suitable for dry runs and tests of a request type.")
	return b.String(), nil
}
