package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileOverlay is the YAML shape of CONFIG_FILE. Only keys present in the
// file override environment values.
type fileOverlay struct {
	Billing     *BillingConfig     `yaml:"billing"`
	JobGateway  *JobGatewayConfig  `yaml:"job_gateway"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit"`
	ServiceKeys []ServiceKeyConfig `yaml:"service_keys"`
}

// ApplyFile overlays a YAML file on c. Environment variables in the
// format ${VAR} are expanded before parsing.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.ApplyYAML(data)
}

// ApplyYAML overlays YAML content on c
func (c *Config) ApplyYAML(data []byte) error {
	expanded := os.ExpandEnv(string(data))

	// Decode into copies of the current sections so absent keys keep
	// their current values.
	billingCfg := c.Billing
	jobCfg := c.JobGateway
	rateCfg := c.RateLimit
	overlay := fileOverlay{
		Billing:    &billingCfg,
		JobGateway: &jobCfg,
		RateLimit:  &rateCfg,
	}
	if err := yaml.Unmarshal([]byte(expanded), &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	c.Billing = billingCfg
	c.JobGateway = jobCfg
	c.RateLimit = rateCfg
	if len(overlay.ServiceKeys) > 0 {
		c.ServiceKeys = append(c.ServiceKeys, overlay.ServiceKeys...)
	}
	return nil
}
