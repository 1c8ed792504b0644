package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const masked = "********"

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	out.Cache.Persistent.Redis.Password = mask(out.Cache.Persistent.Redis.Password)

	out.Clients = make(map[string]ClientConfig, len(c.Clients))
	for name, client := range c.Clients {
		client.APIKey = mask(client.APIKey)
		// headers often carry credentials, so none are shown
		headers := make(map[string]string, len(client.Headers))
		for key, value := range client.Headers {
			headers[key] = mask(value)
		}
		client.Headers = headers
		out.Clients[name] = client
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encoding config YAML: %w", err)
	}
	return data, nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return masked
}
