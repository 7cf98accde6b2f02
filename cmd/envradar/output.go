/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/carverauto/envradar/pkg/models"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaComment    = "#6272A4"
)

type outputStyles struct {
	header, cell, dim, created, updated, deleted, error lipgloss.Style
}

func styles() outputStyles {
	return outputStyles{
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPurple)).
			Bold(true).
			Padding(0, 1),
		cell: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)).
			Padding(0, 1),
		dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		created: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		updated: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		deleted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// sortEnvs orders environments by kind, then version (newest first), then path.
func sortEnvs(envs []models.ResolvedEnv) {
	sort.SliceStable(envs, func(i, j int) bool {
		a, b := envs[i], envs[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}

		if a.Version.Major != b.Version.Major {
			return a.Version.Major > b.Version.Major
		}

		if a.Version.Minor != b.Version.Minor {
			return a.Version.Minor > b.Version.Minor
		}

		return a.Executable < b.Executable
	})
}

func renderTable(envs []models.ResolvedEnv) string {
	s := styles()

	rows := make([][]string, 0, len(envs))

	for _, env := range envs {
		version := env.Version.String()
		if version == "" {
			version = "?"
		}

		rows = append(rows, []string{env.DisplayName, string(env.Kind), version, env.Executable, env.SearchLocation})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan))).
		Headers("NAME", "KIND", "VERSION", "EXECUTABLE", "ROOT").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}

			return s.cell
		})

	return t.String()
}

func writeEnvs(w io.Writer, envs []models.ResolvedEnv, asJSON bool) error {
	sortEnvs(envs)

	if asJSON {
		if envs == nil {
			envs = []models.ResolvedEnv{}
		}

		return writeJSON(w, envs)
	}

	if len(envs) == 0 {
		_, err := fmt.Fprintln(w, styles().dim.Render("No environments found."))

		return err
	}

	_, err := fmt.Fprintln(w, renderTable(envs))

	return err
}

func formatChange(e models.ChangeEvent) string {
	s := styles()

	var label string

	switch e.Type {
	case models.ChangeCreated:
		label = s.created.Render("+ created")
	case models.ChangeDeleted:
		label = s.deleted.Render("- deleted")
	default:
		label = s.updated.Render("~ updated")
	}

	parts := []string{label, e.Path}

	if e.New != nil && e.New.Version.String() != "" {
		parts = append(parts, s.dim.Render(string(e.New.Kind)+" "+e.New.Version.String()))
	}

	return strings.Join(parts, " ")
}
