package config

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "urdimbre"
	keyringOpenAI  = "openai_api_key"
	keyringGemini  = "gemini_api_key"
)

// loadKeychainCredentials fills LLM keys from the OS keychain when the config
// opts in and no environment or file value is present already.
func loadKeychainCredentials(cfg *Config) {
	if !cfg.LLM.UseKeychain {
		return
	}
	if cfg.LLM.OpenAIKey == "" {
		if key, err := keyring.Get(keyringService, keyringOpenAI); err == nil {
			cfg.LLM.OpenAIKey = key
		}
	}
	if cfg.LLM.GeminiKey == "" {
		if key, err := keyring.Get(keyringService, keyringGemini); err == nil {
			cfg.LLM.GeminiKey = key
		}
	}
}

// StoreOpenAIKey persists the OpenAI API key in the OS keychain.
func StoreOpenAIKey(key string) error {
	if err := keyring.Set(keyringService, keyringOpenAI, key); err != nil {
		return fmt.Errorf("failed to store openai key in keychain: %w", err)
	}
	return nil
}

// StoreGeminiKey persists the Gemini API key in the OS keychain.
func StoreGeminiKey(key string) error {
	if err := keyring.Set(keyringService, keyringGemini, key); err != nil {
		return fmt.Errorf("failed to store gemini key in keychain: %w", err)
	}
	return nil
}

// DeleteStoredKeys removes stored LLM credentials from the keychain.
func DeleteStoredKeys() error {
	var firstErr error
	for _, user := range []string{keyringOpenAI, keyringGemini} {
		if err := keyring.Delete(keyringService, user); err != nil && err != keyring.ErrNotFound && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
