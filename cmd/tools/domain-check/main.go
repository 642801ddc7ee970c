// cmd/tools/domain-check/main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"tourism-assistant/internal/common/config"
	"tourism-assistant/internal/common/database"
	"tourism-assistant/internal/common/logger"
	"tourism-assistant/internal/dialog/memory"
	"tourism-assistant/internal/dialog/orchestrator"
	"tourism-assistant/internal/feedback"
	"tourism-assistant/internal/nlu/domain"
	"tourism-assistant/internal/nlu/embedding"
	"tourism-assistant/internal/nlu/entity"
	"tourism-assistant/internal/nlu/intent"
	"tourism-assistant/internal/nlu/language"
	"tourism-assistant/internal/nlu/pipeline"
	"tourism-assistant/internal/nlu/simcache"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validatePath := validateCmd.String("path", "configs/domain.yaml", "Path to the domain model")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	statsPath := statsCmd.String("path", "configs/domain.yaml", "Path to the domain model")

	mergeCmd := flag.NewFlagSet("merge-feedback", flag.ExitOnError)
	mergePath := mergeCmd.String("path", "configs/domain.yaml", "Path to the base domain model")
	mergeConfig := mergeCmd.String("config", "", "Config file with database settings (default: configs lookup)")
	mergeOut := mergeCmd.String("out", "", "Write the merged model here (default: stdout)")
	mergeApply := mergeCmd.Bool("mark-applied", false, "Mark merged corrections as applied")

	tryCmd := flag.NewFlagSet("try", flag.ExitOnError)
	tryPath := tryCmd.String("path", "configs/domain.yaml", "Path to the domain model")
	tryLang := tryCmd.String("lang", "", "Language hint")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		err = validate(*validatePath)
	case "stats":
		statsCmd.Parse(os.Args[2:])
		err = stats(*statsPath)
	case "merge-feedback":
		mergeCmd.Parse(os.Args[2:])
		err = mergeFeedback(*mergePath, *mergeConfig, *mergeOut, *mergeApply)
	case "try":
		tryCmd.Parse(os.Args[2:])
		err = try(*tryPath, *tryLang)
	default:
		help()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func help() {
	fmt.Println("Usage: domain-check <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  validate        Parse and check a domain model")
	fmt.Println("  stats           Print example, value and pattern counts")
	fmt.Println("  merge-feedback  Apply stored corrections to a domain model")
	fmt.Println("  try             Run utterances from stdin through the pipeline with hashing embeddings")
}

func validate(path string) error {
	d, err := domain.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("Domain %s is valid (%d intents, %d entity types, languages %s)\n",
		d.Version, len(d.Intents), len(d.Entities), strings.Join(d.Languages(), ","))
	return nil
}

func stats(path string) error {
	d, err := domain.Load(path)
	if err != nil {
		return err
	}
	return printJSON(d.Stats())
}

func mergeFeedback(path, configPath, out string, markApplied bool) error {
	base, err := domain.Load(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx := context.Background()
	store := feedback.NewStore(pg.DB, cfg.Feedback.Table)
	corrections, err := store.List(ctx)
	if err != nil {
		return err
	}

	merged, report := feedback.Merge(base, corrections)
	fmt.Fprintf(os.Stderr, "Merged %d corrections: %d examples, %d values, %d aliases, %d skipped\n",
		len(corrections), report.Examples, report.Values, report.Aliases, len(report.Skipped))
	for _, s := range report.Skipped {
		fmt.Fprintf(os.Stderr, "  skipped: %s\n", s)
	}

	data, err := merged.Marshal()
	if err != nil {
		return err
	}
	if out == "" {
		_, err = os.Stdout.Write(data)
	} else {
		err = os.WriteFile(out, data, 0o644)
	}
	if err != nil {
		return err
	}

	if markApplied {
		ids := make([]string, 0, len(corrections))
		for _, c := range corrections {
			ids = append(ids, c.ID)
		}
		return store.MarkApplied(ctx, ids)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// try runs one session over stdin lines with in-process dependencies only.
func try(path, lang string) error {
	d, err := domain.Load(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	log := logger.NewNoOpLogger()
	cache, err := simcache.New(embedding.NewHashing(256, 2000), simcache.Config{Capacity: 2000}, nil, log)
	if err != nil {
		return err
	}
	defer cache.Close()

	p, err := pipeline.New(ctx, pipeline.Config{
		Intent: intent.Config{MinConfidence: 0.55, TieEpsilon: 0.01, ContextBonus: 0.05, FallbackLanguage: "en"},
		Entity: entity.Config{
			PatternConfidence: 0.9, FuzzyFloor: 0.8, FuzzyMaxConfidence: 0.9,
			SemanticFloor: 0.78, SemanticMaxConfidence: 0.85, MaxSpanTokens: 3, CorefLookback: 3,
		},
		Dialog: orchestrator.Config{GreetingThreshold: 0.7, FarewellThreshold: 0.7},
	}, d, language.New(language.Config{Supported: d.Languages(), Fallback: "en", MinChars: 4, MinScore: 0.15}),
		cache, memory.NewManager(memory.NewInMemoryStore(), memory.Config{}, log), log)
	if err != nil {
		return err
	}

	session := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		outcome, err := p.ProcessUtterance(ctx, text, session, lang)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", text, err)
			continue
		}
		if err := printJSON(outcome); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
