// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/prompts.yaml
var defaultPromptsYAML string

// promptTemplate holds the static text fields of one agent instruction.
type promptTemplate struct {
	Role         string `yaml:"role"`
	Task         string `yaml:"task"`
	Constraints  string `yaml:"constraints"`
	OutputFormat string `yaml:"output_format,omitempty"`
}

// render joins the non-empty fields with blank lines.
func (t promptTemplate) render() string {
	var parts []string
	for _, s := range []string{t.Role, t.Task, t.Constraints, t.OutputFormat} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// promptSet is the document shape of prompts/prompts.yaml.
type promptSet struct {
	Summarize     promptTemplate `yaml:"summarize"`
	Patch         promptTemplate `yaml:"patch"`
	CommitMessage promptTemplate `yaml:"commit_message"`
}

// Prompts holds the rendered instruction for each generation step.
type Prompts struct {
	Summarize     string
	Patch         string
	CommitMessage string
}

// parsePromptTemplate parses a YAML mapping into a promptTemplate.
func parsePromptTemplate(yamlContent string) (promptTemplate, error) {
	var tmpl promptTemplate
	if err := yaml.Unmarshal([]byte(yamlContent), &tmpl); err != nil {
		return promptTemplate{}, err
	}
	return tmpl, nil
}

// renderOverride turns override file content into an instruction. A
// YAML template with a task is rendered; anything else is used verbatim.
func renderOverride(content string) string {
	if tmpl, err := parsePromptTemplate(content); err == nil && tmpl.Task != "" {
		return tmpl.render()
	}
	return strings.TrimSpace(content)
}

// LoadPrompts renders the embedded prompts and applies the overrides in
// cfg. Override fields hold file content, as loaded by LoadConfig.
func LoadPrompts(cfg LLMConfig) (Prompts, error) {
	var set promptSet
	if err := yaml.Unmarshal([]byte(defaultPromptsYAML), &set); err != nil {
		return Prompts{}, fmt.Errorf("parsing embedded prompts: %w", err)
	}
	p := Prompts{
		Summarize:     set.Summarize.render(),
		Patch:         set.Patch.render(),
		CommitMessage: set.CommitMessage.render(),
	}
	for _, o := range []struct {
		override string
		dst      *string
	}{
		{cfg.SummarizePrompt, &p.Summarize},
		{cfg.PatchPrompt, &p.Patch},
		{cfg.CommitPrompt, &p.CommitMessage},
	} {
		if strings.TrimSpace(o.override) != "" {
			*o.dst = renderOverride(o.override)
		}
	}
	return p, nil
}
