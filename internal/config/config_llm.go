package config

// LLMConfig configures the provider chain: which adapter serves as the
// default, which adapters back the fallback chain, and whether the smart
// router fronts the whole stack with a cheap tier.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider fails.
	// Providers are tried in order until one succeeds.
	// Example: ["openai", "venice"] - try OpenAI first, then Venice.
	FallbackChain []string `yaml:"fallback_chain"`

	// Bedrock configures the AWS Bedrock adapter.
	Bedrock BedrockDiscoveryConfig `yaml:"bedrock"`

	// Routing configures the smart router's cheap tier and cascade.
	Routing LLMRoutingConfig `yaml:"routing"`
}

// LLMProviderConfig configures one wire adapter.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}

// LLMRoutingConfig configures the SmartRouter decorator: when enabled,
// Simple/Moderate plain completions are served by CheapProvider's chain and
// only Complex ones (or cascade escalations) reach the default provider;
// CompleteWithTools always goes to the default provider.
type LLMRoutingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CheapProvider   string `yaml:"cheap_provider"`
	CascadeEnabled  bool   `yaml:"cascade_enabled"`
	ComplexMinChars int    `yaml:"complex_min_chars"`
}

// BedrockDiscoveryConfig configures the Bedrock adapter's region.
type BedrockDiscoveryConfig struct {
	Region string `yaml:"region"`
}
