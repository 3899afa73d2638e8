package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mkarlin/pulse/internal/artifacts"
	"github.com/mkarlin/pulse/internal/cache"
	"github.com/mkarlin/pulse/internal/character"
	"github.com/mkarlin/pulse/internal/config"
	"github.com/mkarlin/pulse/internal/embedding"
	"github.com/mkarlin/pulse/internal/generators"
	"github.com/mkarlin/pulse/internal/journal"
	"github.com/mkarlin/pulse/internal/lifecycle"
	"github.com/mkarlin/pulse/internal/planner"
	"github.com/mkarlin/pulse/internal/relgraph"
	"github.com/mkarlin/pulse/internal/scheduler"
	"github.com/mkarlin/pulse/internal/transport"
)

func main() {
	log.Println("pulse - character daily-life loop")
	log.Println("=================================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	char, err := character.Load(cfg.CharacterPath)
	if err != nil {
		log.Fatalf("Failed to load character sheet: %v", err)
	}
	log.Printf("[main] Character: %s (%s)", char.Name, char.ID)

	os.MkdirAll(cfg.StatePath, 0755)

	jrnl := journal.New(cfg.StatePath)

	cacheStore, err := cache.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("Failed to open cache: %v", err)
	}
	defer cacheStore.Close()

	artifactStore, err := artifacts.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}
	defer artifactStore.Close()

	graph, err := relgraph.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("Failed to open relationship graph: %v", err)
	}
	defer graph.Close()

	discord, err := transport.Connect(cfg.DiscordToken, char.AckEmoji)
	if err != nil {
		log.Fatalf("Failed to connect to Discord: %v", err)
	}
	defer discord.Close()

	embedder := embedding.NewClient(cfg.OllamaURL, cfg.EmbedModel)
	embedder.SetGenerationModel(cfg.PlannerModel)

	planModel := planner.NewClient(cfg.OllamaURL, cfg.PlannerModel, cfg.PlannerTimeout)

	gens := generators.New(embedder, char, discord, artifactStore, jrnl)
	diaryMaterial := &generators.JournalMaterial{Journal: jrnl}
	dreamMaterial := &generators.DreamMaterial{Artifacts: artifactStore, CharacterID: char.ID}

	gatherer := lifecycle.NewGatherer(char, lifecycle.GatherConfig{
		WatchChannels:         cfg.WatchChannels,
		ConvoChannels:         cfg.ConvoChannels,
		PostingChannels:       cfg.PostingChannels,
		Lookback:              cfg.LookbackLimit,
		RelevanceThreshold:    cfg.RelevanceThreshold,
		ChainLimit:            cfg.ChainLimit,
		QuietMinutes:          cfg.QuietMinutes,
		SpontaneityEnabled:    cfg.SpontaneityEnabled,
		SpontaneityChance:     cfg.SpontaneityChance,
		GoalReviewHour:        cfg.GoalReviewHour,
		GoalStalenessDays:     cfg.GoalStalenessDays,
		AbsenceTrustThreshold: cfg.AbsenceTrustThreshold,
		AbsenceDays:           cfg.AbsenceDays,
		AbsenceLimit:          cfg.AbsenceLimit,
	}, discord, embedder, artifactStore, graph, cacheStore, diaryMaterial, dreamMaterial)

	plnr := lifecycle.NewPlanner(planModel, lifecycle.PlanConfig{
		MaxActions: cfg.MaxActions,
		ChainLimit: cfg.ChainLimit,
	})

	executor := lifecycle.NewExecutor(char, lifecycle.ExecConfig{
		MusingCooldown: cfg.MusingCooldown,
	}, discord, cacheStore, gens, gens, gens, gens, gens)

	runner := lifecycle.NewRunner(gatherer, plnr, executor, jrnl)

	sched := scheduler.New(runner, cfg.CycleInterval)
	sched.Start()

	log.Println("[main] Daily-life loop started. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] Shutting down...")
	sched.Stop()
	log.Println("[main] Goodbye!")
}
