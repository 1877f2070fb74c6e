package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "analyze")

// userRuleConfig maps the field names our event maps use onto the sigma
// field-mapping contract, mirroring the teacher's createHardcodedConfig
// for its own process-event shape.
func userRuleConfig() sigma.Config {
	return sigma.Config{
		Title: "poe user rules",
		FieldMappings: map[string]sigma.FieldMapping{
			"Path":    {TargetNames: []string{"Path"}},
			"Op":      {TargetNames: []string{"Op"}},
			"DstAddr": {TargetNames: []string{"DstAddr"}},
			"Proto":   {TargetNames: []string{"Proto"}},
			"Result":  {TargetNames: []string{"Result"}},
			"Argv":    {TargetNames: []string{"Argv"}},
		},
	}
}

func evaluatorOptions() []evaluator.Option {
	return []evaluator.Option{
		evaluator.WithConfig(userRuleConfig()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, name string) ([]string, error) { return nil, nil }),
		evaluator.CountImplementation(func(ctx context.Context, key evaluator.GroupedByValues) (float64, error) { return 0, nil }),
		evaluator.SumImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) { return 0, nil }),
		evaluator.AverageImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) { return 0, nil }),
	}
}

// UserRules loads operator-supplied Sigma rules from a directory and
// evaluates them against file/net/process events, hot-reloading on
// filesystem changes exactly as the teacher's sigma.Detector does for its
// own process-event stream.
type UserRules struct {
	dir     string
	mu      sync.RWMutex
	evals   map[string]*evaluator.RuleEvaluator
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadUserRules starts watching dir for .yml/.yaml Sigma rule files. An
// empty dir disables the user-rule layer entirely (returns nil, nil).
func LoadUserRules(dir string) (*UserRules, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("analyze: mkdir rules dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("analyze: create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("analyze: watch rules dir: %w", err)
	}

	ur := &UserRules{dir: dir, watcher: watcher, done: make(chan struct{})}
	if err := ur.reload(); err != nil {
		watcher.Close()
		return nil, err
	}

	go ur.watch()
	return ur, nil
}

func (ur *UserRules) watch() {
	for {
		select {
		case ev, ok := <-ur.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".yml") && !strings.HasSuffix(ev.Name, ".yaml") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := ur.reload(); err != nil {
					log.WithError(err).Warn("rule reload failed")
				}
			}
		case err, ok := <-ur.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("rules watcher error")
		case <-ur.done:
			return
		}
	}
}

func (ur *UserRules) reload() error {
	entries, err := os.ReadDir(ur.dir)
	if err != nil {
		return fmt.Errorf("analyze: read rules dir: %w", err)
	}

	evals := make(map[string]*evaluator.RuleEvaluator)
	for _, entry := range entries {
		if entry.IsDir() || (filepath.Ext(entry.Name()) != ".yml" && filepath.Ext(entry.Name()) != ".yaml") {
			continue
		}
		path := filepath.Join(ur.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("failed to read rule file")
			continue
		}
		if sigma.InferFileType(content) != sigma.RuleFile {
			continue
		}
		rule, err := sigma.ParseRule(content)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("failed to parse rule file")
			continue
		}
		evals[rule.ID] = evaluator.ForRule(rule, evaluatorOptions()...)
	}

	ur.mu.Lock()
	ur.evals = evals
	ur.mu.Unlock()
	return nil
}

// Check evaluates event against every loaded user rule and returns a
// Finding per match.
func (ur *UserRules) Check(event map[string]any) []Finding {
	ur.mu.RLock()
	defer ur.mu.RUnlock()

	var out []Finding
	for _, ev := range ur.evals {
		result, err := ev.Matches(context.Background(), event)
		if err != nil {
			log.WithError(err).WithField("rule", ev.Rule.ID).Warn("rule evaluation failed")
			continue
		}
		if result.Match {
			out = append(out, Finding{Severity: severityOf(ev.Rule), Rule: ev.Rule.Title, Message: fmt.Sprintf("matched user rule %s", ev.Rule.ID)})
		}
	}
	return out
}

func severityOf(rule sigma.Rule) Severity {
	switch strings.ToLower(string(rule.Level)) {
	case "critical", "high":
		return SeverityCritical
	case "medium":
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Close stops the filesystem watcher.
func (ur *UserRules) Close() error {
	close(ur.done)
	return ur.watcher.Close()
}
