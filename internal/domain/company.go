package domain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Company is the profile of the business the agent researches on behalf of.
// It is sent with every turn as the company_information parameter.
type Company struct {
	Name             string   `yaml:"name" json:"name"`
	URL              string   `yaml:"url,omitempty" json:"url,omitempty"`
	Description      string   `yaml:"description,omitempty" json:"description,omitempty"`
	ValueProposition string   `yaml:"value_proposition,omitempty" json:"value_proposition,omitempty"`
	Stage            string   `yaml:"stage,omitempty" json:"stage,omitempty"`
	Products         []string `yaml:"products,omitempty" json:"products,omitempty"`
	PricingModel     string   `yaml:"pricing_model,omitempty" json:"pricing_model,omitempty"`
	Employees        int      `yaml:"employees,omitempty" json:"employees,omitempty"`
	Customers        []string `yaml:"customers,omitempty" json:"customers,omitempty"`
}

// LoadCompany reads a company profile from a YAML file.
func LoadCompany(path string) (*Company, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read company profile %s: %w", path, err)
	}
	return ParseCompany(data)
}

func ParseCompany(data []byte) (*Company, error) {
	var c Company
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse company profile: %w", err)
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("company profile: name is required")
	}
	return &c, nil
}

// String renders the profile as the markdown block the system prompt embeds.
func (c *Company) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", c.Name)
	field := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&sb, "%s: %s\n", label, v)
		}
	}
	field("Website", c.URL)
	field("Description", c.Description)
	field("Value proposition", c.ValueProposition)
	field("Stage", c.Stage)
	field("Pricing model", c.PricingModel)
	if c.Employees > 0 {
		fmt.Fprintf(&sb, "Employees: %d\n", c.Employees)
	}
	field("Products", strings.Join(c.Products, ", "))
	field("Customers", strings.Join(c.Customers, ", "))
	return strings.TrimRight(sb.String(), "\n")
}
