// Package githubsync mirrors scripts into a GitHub repository.
package githubsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
)

type Config struct {
	Token    string `mapstructure:"token" yaml:"-"`
	Owner    string `mapstructure:"owner" yaml:"owner"`
	Repo     string `mapstructure:"repo" yaml:"repo"`
	Branch   string `mapstructure:"branch" yaml:"branch"`
	Dir      string `mapstructure:"dir" yaml:"dir"`
	AutoSync bool   `mapstructure:"auto_sync" yaml:"auto_sync"`
}

type PushResult struct {
	Success bool
	SHA     string
	URL     string
}

type PullResult struct {
	Success bool
	Content string
	SHA     string
}

type Syncer struct {
	client *github.Client
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Syncer, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo must be set")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Dir == "" {
		cfg.Dir = "scripts"
	}
	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient uses an already configured client, e.g. one pointed at a
// GitHub Enterprise host.
func NewWithClient(client *github.Client, cfg Config, logger *zap.Logger) *Syncer {
	return &Syncer{client: client, cfg: cfg, logger: logger.Named("github_sync")}
}

func (s *Syncer) IsAutoSyncEnabled() bool {
	return s.cfg.AutoSync
}

// AutoSyncIfEnabled pushes content only when auto sync is on and the new
// score improves on the original.
func (s *Syncer) AutoSyncIfEnabled(ctx context.Context, scriptName, content string, originalScore, newScore float64) error {
	if !s.cfg.AutoSync || newScore <= originalScore {
		return nil
	}
	msg := fmt.Sprintf("Optimize %s (score %.0f -> %.0f)", scriptName, originalScore, newScore)
	_, err := s.PushScript(ctx, scriptName, content, msg)
	return err
}

// PushScript creates or updates the file for scriptName.
func (s *Syncer) PushScript(ctx context.Context, scriptName, content, message string) (PushResult, error) {
	filePath := s.filePath(scriptName)
	if message == "" {
		message = "Update " + scriptName
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(s.cfg.Branch),
	}

	existing, _, resp, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, filePath,
		&github.RepositoryContentGetOptions{Ref: s.cfg.Branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
	case err == nil:
		return PushResult{}, fmt.Errorf("%s is a directory", filePath)
	case resp != nil && resp.StatusCode == http.StatusNotFound:
	default:
		return PushResult{}, fmt.Errorf("failed to look up %s: %w", filePath, err)
	}

	var out *github.RepositoryContentResponse
	if opts.SHA != nil {
		out, _, err = s.client.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, filePath, opts)
	} else {
		out, _, err = s.client.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, filePath, opts)
	}
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to push %s: %w", filePath, err)
	}

	result := PushResult{Success: true}
	if out != nil && out.Content != nil {
		result.SHA = out.Content.GetSHA()
		result.URL = out.Content.GetHTMLURL()
	}
	s.logger.Info("Script pushed", zap.String("path", filePath), zap.String("sha", result.SHA))
	return result, nil
}

// PullScript fetches a file. Paths without a directory are looked up in the
// configured script directory.
func (s *Syncer) PullScript(ctx context.Context, filePath string) (PullResult, error) {
	if !strings.Contains(filePath, "/") {
		filePath = s.filePath(filePath)
	}
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, filePath,
		&github.RepositoryContentGetOptions{Ref: s.cfg.Branch})
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to fetch %s: %w", filePath, err)
	}
	if file == nil {
		return PullResult{}, fmt.Errorf("%s is a directory", filePath)
	}
	content, err := file.GetContent()
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return PullResult{Success: true, Content: content, SHA: file.GetSHA()}, nil
}

func (s *Syncer) filePath(scriptName string) string {
	name := scriptName
	if path.Ext(name) == "" {
		name += ".js"
	}
	return path.Join(s.cfg.Dir, name)
}
