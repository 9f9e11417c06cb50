package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/urdimbre/urdimbre-go/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard with OS keychain support",
	Long: `Walks through Urdimbre configuration step by step.

This will configure:
1. LLM provider and API key (stored in the OS keychain when available)
2. Chat and embedding models
3. Backend endpoints (Postgres, Qdrant, Neo4j, Redis)`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("Urdimbre configuration wizard")
	fmt.Println("=============================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		loaded = config.Default()
	}

	// Step 1: provider and API key.
	fmt.Println("Step 1/3: LLM provider")
	fmt.Printf("Current provider: %s\n", loaded.LLM.Provider)
	fmt.Print("Provider (openai/gemini, Enter to keep): ")
	response, _ := reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(response)) {
	case "openai":
		loaded.LLM.Provider = "openai"
	case "gemini":
		loaded.LLM.Provider = "gemini"
	}

	fmt.Printf("Enter %s API key (input hidden, Enter to keep current): ", loaded.LLM.Provider)
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read api key: %w", err)
	}
	if apiKey := strings.TrimSpace(string(keyBytes)); apiKey != "" {
		store := config.StoreOpenAIKey
		if loaded.LLM.Provider == "gemini" {
			store = config.StoreGeminiKey
		}
		if err := store(apiKey); err != nil {
			fmt.Printf("Keychain unavailable (%v); the key goes into the config file instead.\n", err)
			if loaded.LLM.Provider == "gemini" {
				loaded.LLM.GeminiKey = apiKey
			} else {
				loaded.LLM.OpenAIKey = apiKey
			}
			loaded.LLM.UseKeychain = false
		} else {
			fmt.Println("API key stored in the OS keychain.")
			loaded.LLM.OpenAIKey = ""
			loaded.LLM.GeminiKey = ""
			loaded.LLM.UseKeychain = true
		}
	}
	fmt.Println()

	// Step 2: models.
	fmt.Println("Step 2/3: Models")
	loaded.LLM.ChatModel = promptDefault(reader, "Chat model", loaded.LLM.ChatModel)
	loaded.LLM.MiniModel = promptDefault(reader, "Mini model", loaded.LLM.MiniModel)
	loaded.LLM.EmbeddingModel = promptDefault(reader, "Embedding model", loaded.LLM.EmbeddingModel)
	fmt.Println()

	// Step 3: backends.
	fmt.Println("Step 3/3: Backends")
	loaded.Postgres.DSN = promptDefault(reader, "Postgres DSN", loaded.Postgres.DSN)
	loaded.Qdrant.Host = promptDefault(reader, "Qdrant host", loaded.Qdrant.Host)
	loaded.Neo4j.URI = promptDefault(reader, "Neo4j URI", loaded.Neo4j.URI)
	loaded.Redis.Host = promptDefault(reader, "Redis host", loaded.Redis.Host)
	fmt.Println()

	fmt.Printf("Save to %s? (Y/n): ", configPath)
	response, _ = reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	if response != "" && response != "y" {
		fmt.Println("Configuration not saved.")
		return nil
	}
	if err := loaded.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println("Configuration saved.")
	return nil
}

func promptDefault(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(response)
	if response == "" {
		return current
	}
	return response
}
