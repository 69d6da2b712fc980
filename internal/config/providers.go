package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProvidersSeed is the optional YAML file used to create the provider
// configuration the first time it is read. Later changes go through the API.
//
//	default_chat_provider: local
//	default_embed_provider: local
//	allow_remote: true
//	allow_remote_context: false
//	remote:
//	  kind: huggingface
//	  api_token: hf_xxx
//	  chat_model: mistralai/Mistral-7B-Instruct-v0.2
//	  embed_model: sentence-transformers/all-MiniLM-L6-v2
type ProvidersSeed struct {
	DefaultChatProvider  string      `yaml:"default_chat_provider"`
	DefaultEmbedProvider string      `yaml:"default_embed_provider"`
	AllowRemote          bool        `yaml:"allow_remote"`
	AllowRemoteContext   *bool       `yaml:"allow_remote_context"`
	Remote               *RemoteSeed `yaml:"remote"`
}

type RemoteSeed struct {
	Kind       string `yaml:"kind"`
	APIToken   string `yaml:"api_token"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

// LoadProvidersSeed returns (nil, nil) when path is empty.
func LoadProvidersSeed(path string) (*ProvidersSeed, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var seed ProvidersSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}
	if seed.Remote != nil && seed.Remote.APIToken == "" {
		// allow the token to come from the environment instead of the file
		seed.Remote.APIToken = os.Getenv("REMOTE_API_TOKEN")
	}
	return &seed, nil
}
